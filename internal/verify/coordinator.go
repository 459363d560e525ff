package verify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matst80/botwarden/internal/obs"
)

var (
	// ErrSuperseded is returned to a waiter whose challenge was replaced by a newer one.
	ErrSuperseded = errors.New("verify: challenge superseded")
	// ErrTimeout is returned when a configured solve timeout elapses.
	ErrTimeout = errors.New("verify: timed out waiting for answer")
)

// Notifier alerts the out-of-process UI that a challenge needs (or no longer needs) a human.
type Notifier interface {
	ChallengeIssued(c Challenge)
	ChallengeCleared(c Challenge)
}

type nopNotifier struct{}

func (nopNotifier) ChallengeIssued(Challenge)  {}
func (nopNotifier) ChallengeCleared(Challenge) {}

type outcome struct {
	answer string
	err    error
}

// pending is the single-resolution slot for one challenge. result has capacity 1
// and is written exactly once, always while the coordinator lock is held and the
// slot is being detached.
type pending struct {
	challenge Challenge
	result    chan outcome
}

// note is a queued notifier call; issued false means cleared.
type note struct {
	issued    bool
	challenge Challenge
}

// Coordinator holds at most one in-flight challenge and hands the first answer
// submitted for it to the goroutine blocked in RequestSolve.
//
// Notifier calls are queued under mu in the order the slot changes and
// delivered outside the lock by one goroutine at a time, so the UI never sees
// a clear before the matching issue.
type Coordinator struct {
	mu       sync.Mutex
	slot     *pending
	notes    []note
	draining bool
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Coordinator)

// WithTimeout bounds each RequestSolve; zero (the default) waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

func NewCoordinator(n Notifier, opts ...Option) *Coordinator {
	if n == nil {
		n = nopNotifier{}
	}
	c := &Coordinator{notifier: n, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestSolve publishes ch and blocks until an answer is submitted, ctx is
// cancelled, the optional timeout elapses or a newer challenge supersedes it.
func (c *Coordinator) RequestSolve(ctx context.Context, ch Challenge) (string, error) {
	ch = ch.stamp(c.now())
	p := &pending{challenge: ch, result: make(chan outcome, 1)}

	c.mu.Lock()
	if old := c.slot; old != nil {
		old.result <- outcome{err: ErrSuperseded}
		obs.ChallengeOutcomes.WithLabelValues("superseded").Inc()
		obs.Warn("verify.superseded", obs.Fields{"old": old.challenge.ID, "new": ch.ID})
	}
	c.slot = p
	c.notes = append(c.notes, note{issued: true, challenge: ch})
	c.mu.Unlock()

	obs.ChallengePending.Set(1)
	obs.ChallengesTotal.WithLabelValues(string(ch.Kind)).Inc()
	obs.Info("verify.challenge", obs.Fields{"id": ch.ID, "kind": ch.Kind})
	c.flush()

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case out := <-p.result:
		return out.answer, out.err
	case <-ctx.Done():
		return c.abandon(p, ctx.Err(), "cancelled")
	case <-timeout:
		return c.abandon(p, ErrTimeout, "timeout")
	}
}

// abandon detaches p if it is still the pending slot. If an answer (or a
// supersede) won the race it is already buffered in p.result and is returned
// instead, so no completion is ever dropped.
func (c *Coordinator) abandon(p *pending, cause error, label string) (string, error) {
	c.mu.Lock()
	if c.slot != p {
		c.mu.Unlock()
		out := <-p.result
		return out.answer, out.err
	}
	c.slot = nil
	c.notes = append(c.notes, note{challenge: p.challenge})
	c.mu.Unlock()

	obs.ChallengePending.Set(0)
	obs.ChallengeOutcomes.WithLabelValues(label).Inc()
	obs.Info("verify.abandoned", obs.Fields{"id": p.challenge.ID, "reason": label})
	c.flush()
	return "", cause
}

// flush delivers queued notes. If another goroutine is already delivering,
// including a notifier calling back into the coordinator, it picks up the
// new notes before it finishes.
func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.notes) > 0 {
		n := c.notes[0]
		c.notes = c.notes[1:]
		c.mu.Unlock()
		if n.issued {
			c.notifier.ChallengeIssued(n.challenge)
		} else {
			c.notifier.ChallengeCleared(n.challenge)
		}
		c.mu.Lock()
	}
	c.notes = nil
	c.draining = false
	c.mu.Unlock()
}

// SubmitAnswer resolves the pending challenge with text. It reports false and
// changes nothing when no challenge is pending.
func (c *Coordinator) SubmitAnswer(text string) bool {
	c.mu.Lock()
	p := c.slot
	if p == nil {
		c.mu.Unlock()
		obs.Debug("verify.answer.idle", nil)
		return false
	}
	c.slot = nil
	p.result <- outcome{answer: text}
	c.notes = append(c.notes, note{challenge: p.challenge})
	c.mu.Unlock()

	obs.ChallengePending.Set(0)
	obs.ChallengeOutcomes.WithLabelValues("answered").Inc()
	obs.Info("verify.answered", obs.Fields{"id": p.challenge.ID, "kind": p.challenge.Kind})
	c.flush()
	return true
}

// Current returns a copy of the pending challenge, if any.
func (c *Coordinator) Current() (Challenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return Challenge{}, false
	}
	ch := c.slot.challenge
	ch.Image = append([]byte(nil), ch.Image...)
	return ch, true
}

// SolvePicture asks a human to read the captcha in img.
func (c *Coordinator) SolvePicture(ctx context.Context, img []byte) (string, error) {
	return c.RequestSolve(ctx, PictureCaptcha(img))
}

// SolveSlider asks a human to complete the slider captcha at url and paste the ticket.
func (c *Coordinator) SolveSlider(ctx context.Context, url string) (string, error) {
	return c.RequestSolve(ctx, SliderCaptcha(url))
}

// SolveUnsafeDevice asks a human to confirm the new-device login at url.
func (c *Coordinator) SolveUnsafeDevice(ctx context.Context, url string) (string, error) {
	return c.RequestSolve(ctx, UnsafeDeviceVerify(url))
}
