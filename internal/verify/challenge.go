package verify

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the verification variant requested by the protocol layer.
type Kind string

const (
	KindPicture      Kind = "picture"
	KindSlider       Kind = "slider"
	KindUnsafeDevice Kind = "unsafe_device"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPicture, KindSlider, KindUnsafeDevice:
		return true
	}
	return false
}

// Challenge is one human-verification request. Picture challenges carry Image,
// the link-based kinds carry URL.
type Challenge struct {
	ID      string
	Kind    Kind
	Image   []byte
	URL     string
	Created time.Time
}

// PictureCaptcha builds a picture challenge from raw image bytes.
func PictureCaptcha(img []byte) Challenge {
	return Challenge{Kind: KindPicture, Image: img}
}

// SliderCaptcha builds a slider challenge that must be solved at url.
func SliderCaptcha(url string) Challenge {
	return Challenge{Kind: KindSlider, URL: url}
}

// UnsafeDeviceVerify builds a device-trust challenge that must be confirmed at url.
func UnsafeDeviceVerify(url string) Challenge {
	return Challenge{Kind: KindUnsafeDevice, URL: url}
}

func (c Challenge) stamp(now time.Time) Challenge {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Created.IsZero() {
		c.Created = now
	}
	if len(c.Image) > 0 {
		c.Image = append([]byte(nil), c.Image...)
	}
	return c
}
