package notify

import (
	"github.com/matst80/botwarden/internal/verify"
)

// ChallengeNotifier renders verification challenges into the Captcha slot with a
// deep link the UI resolves to its answer screen.
type ChallengeNotifier struct {
	r Renderer
}

func NewChallengeNotifier(r Renderer) *ChallengeNotifier {
	return &ChallengeNotifier{r: r}
}

var _ verify.Notifier = (*ChallengeNotifier)(nil)

// DeepLink is the UI route for answering c.
func DeepLink(c verify.Challenge) string {
	switch c.Kind {
	case verify.KindPicture:
		return "botwarden://verify/captcha?id=" + c.ID
	default:
		return "botwarden://verify/link?id=" + c.ID
	}
}

func (n *ChallengeNotifier) ChallengeIssued(c verify.Challenge) {
	title, text := "Login needs a captcha", "Tap here to enter the captcha"
	if c.Kind != verify.KindPicture {
		title, text = "Login needs verification", "Tap here to start verification"
	}
	n.r.ShowOneShot(Captcha, title, text, DeepLink(c))
}

func (n *ChallengeNotifier) ChallengeCleared(verify.Challenge) {
	n.r.Cancel(Captcha)
}
