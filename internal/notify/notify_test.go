package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matst80/botwarden/internal/verify"
)

func TestBoardShowAndCancel(t *testing.T) {
	b := NewBoard()
	b.ShowPersistent(Service, "running", "3/min", []byte{1})
	b.ShowOneShot(Offline, "offline", "check network", "")

	list := b.List()
	require.Len(t, list, 2)
	assert.Equal(t, Service, list[0].ID)
	assert.True(t, list[0].Persistent)
	assert.True(t, list[0].HasIcon)

	b.Cancel(Offline)
	_, ok := b.Get(Offline)
	assert.False(t, ok)
	b.Cancel(Offline) // cancelling an empty slot is harmless
}

func TestChallengeNotifierUsesCaptchaSlot(t *testing.T) {
	b := NewBoard()
	n := NewChallengeNotifier(b)

	pic := verify.Challenge{ID: "abc", Kind: verify.KindPicture}
	n.ChallengeIssued(pic)
	got, ok := b.Get(Captcha)
	require.True(t, ok)
	assert.Equal(t, "botwarden://verify/captcha?id=abc", got.Link)

	n.ChallengeIssued(verify.Challenge{ID: "def", Kind: verify.KindSlider})
	got, _ = b.Get(Captcha)
	assert.Equal(t, "Login needs verification", got.Title)
	assert.Equal(t, "botwarden://verify/link?id=def", got.Link)

	n.ChallengeCleared(pic)
	_, ok = b.Get(Captcha)
	assert.False(t, ok)
}

// answeringNotifier resolves the challenge before the captcha notification is shown.
type answeringNotifier struct {
	*ChallengeNotifier
	coord *verify.Coordinator
}

func (a *answeringNotifier) ChallengeIssued(c verify.Challenge) {
	a.coord.SubmitAnswer("early")
	a.ChallengeNotifier.ChallengeIssued(c)
}

func TestAnswerBeforeShowLeavesNoCaptcha(t *testing.T) {
	b := NewBoard()
	n := &answeringNotifier{ChallengeNotifier: NewChallengeNotifier(b)}
	n.coord = verify.NewCoordinator(n)

	answer, err := n.coord.SolvePicture(context.Background(), []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "early", answer)

	_, pending := n.coord.Current()
	assert.False(t, pending)
	_, shown := b.Get(Captcha)
	assert.False(t, shown, "captcha notification must not outlive its challenge")
}
