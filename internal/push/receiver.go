package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matst80/botwarden/internal/obs"
	"github.com/matst80/botwarden/internal/rate"
	"github.com/matst80/botwarden/internal/supervisor"
)

// ErrEmpty is returned by a Source when no request arrived before its wait expired.
var ErrEmpty = errors.New("push: no request")

// Request kinds.
const (
	KindFriend  = "friend"
	KindGroup   = "group"
	KindGroupAt = "group_at"
)

// Request asks the daemon to send Text to a friend or group. For group_at the
// message mentions User.
type Request struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	User string `json:"user,omitempty"`
	Text string `json:"text"`
}

// Target maps the request to a session target and message text.
func (r Request) Target() (target, text string, err error) {
	if strings.TrimSpace(r.ID) == "" {
		return "", "", fmt.Errorf("push request without id")
	}
	switch r.Kind {
	case KindFriend:
		return "friend:" + r.ID, r.Text, nil
	case KindGroup:
		return "group:" + r.ID, r.Text, nil
	case KindGroupAt:
		if r.User == "" {
			return "", "", fmt.Errorf("group_at request without user")
		}
		return "group:" + r.ID, "@" + r.User + " " + r.Text, nil
	default:
		return "", "", fmt.Errorf("unknown push kind %q", r.Kind)
	}
}

// Source yields push requests. Pop blocks for at most its configured wait and
// returns ErrEmpty when nothing arrived.
type Source interface {
	Pop(ctx context.Context) (Request, error)
}

// Receiver forwards push requests to the running session. It implements
// supervisor.Receiver.
type Receiver struct {
	src     Source
	limiter *rate.Limiter
	backoff time.Duration
	sweep   time.Duration // how often idle targets are dropped from the limiter
	idle    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ supervisor.Receiver = (*Receiver)(nil)

// NewReceiver paces forwarded requests to perTarget per second with the given
// burst. Requests over the limit are delayed, never dropped. perTarget <= 0
// disables pacing.
func NewReceiver(src Source, perTarget, burst int) *Receiver {
	return &Receiver{
		src:     src,
		limiter: rate.NewLimiter(perTarget, burst),
		backoff: time.Second,
		sweep:   time.Minute,
		idle:    10 * time.Minute,
	}
}

func (r *Receiver) Name() string { return "push" }

func (r *Receiver) Register(ctx context.Context, out supervisor.Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("push receiver already registered")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(2)
	go func() { defer r.wg.Done(); r.loop(ctx, out) }()
	go func() { defer r.wg.Done(); r.cleanupLoop(ctx) }()
	obs.Info("push.registered", nil)
	return nil
}

// Unregister stops forwarding and waits for the loop to exit.
func (r *Receiver) Unregister() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	r.wg.Wait()
	obs.Info("push.unregistered", nil)
}

// cleanupLoop drops limiter state for targets that went quiet.
func (r *Receiver) cleanupLoop(ctx context.Context) {
	t := time.NewTicker(r.sweep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := r.limiter.Forget(r.idle)
			obs.PushTargets.Set(float64(n))
			obs.Debug("push.sweep", obs.Fields{"targets": n})
		}
	}
}

func (r *Receiver) loop(ctx context.Context, out supervisor.Sender) {
	for ctx.Err() == nil {
		req, err := r.src.Pop(ctx)
		switch {
		case err == nil:
			r.forward(ctx, out, req)
		case errors.Is(err, ErrEmpty):
		case ctx.Err() != nil:
			return
		default:
			obs.Error("push.pop", obs.Fields{"err": err})
			obs.ErrorsTotal.WithLabelValues("push_pop").Inc()
			select {
			case <-time.After(r.backoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Receiver) forward(ctx context.Context, out supervisor.Sender, req Request) {
	target, text, err := req.Target()
	if err != nil {
		obs.Warn("push.invalid", obs.Fields{"err": err})
		return
	}
	delayed, err := r.limiter.Wait(ctx, target)
	if err != nil {
		obs.Warn("push.dropped", obs.Fields{"target": target, "err": err})
		return
	}
	if delayed {
		obs.PushDelayed.Inc()
		obs.Debug("push.delayed", obs.Fields{"target": target})
	}
	if err := out.Send(ctx, target, text); err != nil {
		obs.Error("push.send", obs.Fields{"target": target, "err": err})
		return
	}
	obs.PushForwarded.Inc()
	obs.Debug("push.forwarded", obs.Fields{"target": target})
}
