package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matst80/botwarden/internal/notify"
	"github.com/matst80/botwarden/internal/obs"
	"github.com/matst80/botwarden/internal/rate"
	"github.com/matst80/botwarden/internal/status"
	"github.com/matst80/botwarden/internal/verify"
)

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Config holds the supervisor tunables.
type Config struct {
	Version     string
	Span        time.Duration // rate window length
	Ticks       int           // buckets per window
	Grace       time.Duration // offline debounce
	AvatarRetry time.Duration
}

func (c Config) withDefaults() Config {
	if c.Span <= 0 {
		c.Span = time.Minute
	}
	if c.Ticks < 1 {
		c.Ticks = 15
	}
	if c.Grace <= 0 {
		c.Grace = 200 * time.Millisecond
	}
	if c.AvatarRetry <= 0 {
		c.AvatarRetry = time.Second
	}
	return c
}

// ScriptHost is the part of the script manager the supervisor needs.
type ScriptHost interface {
	DisableAll()
	Count() int
}

// Deps are the collaborators owned or consulted by the supervisor.
type Deps struct {
	Dial      Dialer
	KeepAlive KeepAlive
	Receivers []Receiver
	Renderer  notify.Renderer
	Verifier  *verify.Coordinator
	Scripts   ScriptHost
	Fetch     func(ctx context.Context, url string) ([]byte, error)
	// Exit ends the process once Stop has released everything.
	Exit func()
}

// run is the scope of one Starting/Running period.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// goSafe runs fn as a background task of r; a panic is logged and contained.
func (r *run) goSafe(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				obs.Error("supervisor.task.panic", obs.Fields{"task": name, "panic": fmt.Sprint(p)})
				obs.ErrorsTotal.WithLabelValues("task_panic").Inc()
			}
		}()
		fn(r.ctx)
	}()
}

// Supervisor owns the session lifecycle, the keep-alive resource and the
// notification refresh loop.
type Supervisor struct {
	cfg    Config
	deps   Deps
	window *rate.Window

	mu        sync.Mutex
	state     State
	run       *run
	sess      Session
	account   string
	startedAt time.Time
	avatar    []byte

	messages   atomic.Int64
	offlineSeq atomic.Uint64
}

func New(cfg Config, deps Deps) *Supervisor {
	cfg = cfg.withDefaults()
	if deps.Renderer == nil {
		deps.Renderer = notify.NewBoard()
	}
	if deps.Fetch == nil {
		deps.Fetch = fetchURL
	}
	if deps.Exit == nil {
		deps.Exit = func() {}
	}
	return &Supervisor{cfg: cfg, deps: deps, window: rate.NewWindow(cfg.Ticks)}
}

func (s *Supervisor) setState(st State) {
	s.state = st
	obs.SessionState.Set(float64(st))
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Rate is the message count over the trailing window as of the last tick.
func (s *Supervisor) Rate() int64 { return s.window.Rate() }

// Start brings the supervisor to Running. It is a no-op unless Stopped. When
// p carries an account, login runs in the background; a failed login drops
// the session and leaves the supervisor Running so Login can retry.
func (s *Supervisor) Start(p Params) error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		obs.Debug("supervisor.start.noop", obs.Fields{"state": s.state.String()})
		return nil
	}
	s.setState(Starting)
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{ctx: ctx, cancel: cancel}
	s.run = r
	s.startedAt = time.Now()
	s.avatar = nil
	s.mu.Unlock()

	obs.Info("supervisor.start", obs.Fields{"version": s.cfg.Version, "ticks": s.cfg.Ticks, "span": s.cfg.Span.String()})
	if s.deps.KeepAlive != nil {
		if err := s.deps.KeepAlive.Acquire(); err != nil {
			obs.Error("supervisor.keepalive", obs.Fields{"err": err})
		}
	}
	s.window.Reset()
	s.offlineSeq.Add(1)

	for _, rc := range s.deps.Receivers {
		if err := rc.Register(ctx, s); err != nil {
			obs.Error("supervisor.receiver.register", obs.Fields{"receiver": rc.Name(), "err": err})
			continue
		}
		obs.Info("supervisor.receiver.registered", obs.Fields{"receiver": rc.Name()})
	}

	s.deps.Renderer.ShowPersistent(notify.Service, "botwarden is not logged in",
		"Log in to start processing messages", nil)
	r.goSafe("refresh", s.refreshLoop)

	s.mu.Lock()
	if s.run == r {
		s.setState(Running)
	}
	s.mu.Unlock()
	obs.Info("supervisor.running", obs.Fields{})

	if p.Account != "" {
		return s.Login(p)
	}
	return nil
}

// Login establishes a session for p within the current run.
func (s *Supervisor) Login(p Params) error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if s.sess != nil {
		s.mu.Unlock()
		return ErrLoggedIn
	}
	r := s.run
	s.account = p.Account
	s.mu.Unlock()

	go s.establish(r, p)
	return nil
}

func (s *Supervisor) establish(r *run, p Params) {
	obs.Info("session.login.start", obs.Fields{"account": p.Account})
	if s.deps.Dial == nil {
		s.loginFailed(r, nil, p, fmt.Errorf("no session dialer configured"))
		return
	}
	sess, err := s.deps.Dial(r.ctx, p)
	if err != nil {
		s.loginFailed(r, nil, p, fmt.Errorf("dial: %w", err))
		return
	}

	s.mu.Lock()
	if s.run != r || s.state != Running {
		s.mu.Unlock()
		_ = sess.Close()
		return
	}
	s.sess = sess
	// registered under the lock so it cannot race shutdown's wg.Wait
	r.goSafe("events", func(ctx context.Context) { s.eventLoop(ctx, r, sess) })
	s.mu.Unlock()

	start := time.Now()
	err = sess.Login(r.ctx)
	obs.LoginDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.loginFailed(r, sess, p, fmt.Errorf("login: %w", err))
		return
	}
	obs.Info("session.login.ok", obs.Fields{"account": p.Account, "elapsed": time.Since(start).String()})
	s.mu.Lock()
	if s.run == r && s.state == Running {
		r.goSafe("avatar", func(ctx context.Context) { s.loadAvatar(ctx, sess.AvatarURL()) })
	}
	s.mu.Unlock()
}

// loginFailed discards sess (nil when dialing failed) and keeps the run alive,
// so the account can log in again without a restart.
func (s *Supervisor) loginFailed(r *run, sess Session, p Params, err error) {
	if r.ctx.Err() != nil {
		return
	}
	obs.Error("session.login", obs.Fields{"account": p.Account, "err": err})
	obs.ErrorsTotal.WithLabelValues("login").Inc()
	if sess != nil {
		s.mu.Lock()
		if s.sess == sess {
			s.sess = nil
		}
		s.mu.Unlock()
		if cerr := sess.Close(); cerr != nil {
			obs.Error("session.close", obs.Fields{"err": cerr})
		}
	}
	s.deps.Renderer.ShowPersistent(notify.Service, "botwarden is not logged in",
		"Login failed, log in again", nil)
}

// Send forwards text to target through the active session.
func (s *Supervisor) Send(ctx context.Context, target, text string) error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	return sess.Send(ctx, target, text)
}

// Stop tears down the running session and then exits the process. It is a
// no-op when the supervisor is not running.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil || !s.shutdown(r, "stop requested") {
		return false
	}
	obs.Info("supervisor.exit", obs.Fields{})
	s.deps.Exit()
	return true
}

// shutdown releases everything acquired for r and returns to Stopped.
func (s *Supervisor) shutdown(r *run, reason string) bool {
	s.mu.Lock()
	if s.run != r || (s.state != Running && s.state != Starting) {
		s.mu.Unlock()
		return false
	}
	s.setState(Stopping)
	sess := s.sess
	s.mu.Unlock()

	obs.Info("supervisor.stopping", obs.Fields{"reason": reason})
	r.cancel()
	if sess != nil {
		// closing first unblocks a session stuck mid-login
		if err := sess.Close(); err != nil {
			obs.Error("session.close", obs.Fields{"err": err})
		}
	}
	r.wg.Wait()

	for _, rc := range s.deps.Receivers {
		rc.Unregister()
	}
	if s.deps.Scripts != nil {
		s.deps.Scripts.DisableAll()
	}
	if s.deps.KeepAlive != nil && s.deps.KeepAlive.Held() {
		if err := s.deps.KeepAlive.Release(); err != nil {
			obs.Error("supervisor.keepalive.release", obs.Fields{"err": err})
		}
	}
	s.deps.Renderer.Cancel(notify.Service)
	s.deps.Renderer.Cancel(notify.Offline)

	s.mu.Lock()
	s.sess = nil
	s.run = nil
	s.setState(Stopped)
	s.mu.Unlock()
	obs.Info("supervisor.stopped", obs.Fields{"reason": reason})
	return true
}

func (s *Supervisor) eventLoop(ctx context.Context, r *run, sess Session) {
	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.sessionEnded(ctx, sess)
				return
			}
			switch e := ev.(type) {
			case MessageEvent:
				s.window.Record()
				s.messages.Add(1)
				obs.MessagesTotal.Inc()
			case OfflineEvent:
				seq := s.offlineSeq.Add(1)
				r.goSafe("offline", func(ctx context.Context) { s.debounceOffline(ctx, sess, e, seq) })
			case ReloginEvent:
				s.offlineSeq.Add(1)
				obs.Info("session.relogin", obs.Fields{})
				s.deps.Renderer.Cancel(notify.Offline)
			}
		}
	}
}

// sessionEnded drops a session whose event stream closed outside of shutdown
// so that Login can establish a new one.
func (s *Supervisor) sessionEnded(ctx context.Context, sess Session) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	current := s.sess == sess
	if current {
		s.sess = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}
	_ = sess.Close()
	obs.Warn("session.ended", obs.Fields{})
	obs.OfflineNotices.WithLabelValues("ended").Inc()
	s.deps.Renderer.ShowOneShot(notify.Offline, "botwarden is offline", "Session ended, log in again", "")
	s.deps.Renderer.ShowPersistent(notify.Service, "botwarden is not logged in",
		"Log in to start processing messages", nil)
}

// debounceOffline waits out the grace period and only then surfaces the
// disconnect, unless the session came back or a relogin superseded seq.
func (s *Supervisor) debounceOffline(ctx context.Context, sess Session, e OfflineEvent, seq uint64) {
	t := time.NewTimer(s.cfg.Grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	if s.offlineSeq.Load() != seq || sess.Online() {
		obs.Debug("session.offline.flap", obs.Fields{"kind": e.Kind.String()})
		return
	}
	var text string
	switch e.Kind {
	case OfflineDropped:
		text = "Connection dropped, check the network"
	case OfflineForced:
		text = e.Reason
		if text == "" {
			text = "Kicked by the server"
		}
	default:
		obs.Info("session.offline.suppressed", obs.Fields{"kind": e.Kind.String()})
		return
	}
	obs.Info("session.offline", obs.Fields{"kind": e.Kind.String(), "reason": e.Reason})
	obs.OfflineNotices.WithLabelValues(e.Kind.String()).Inc()
	s.deps.Renderer.ShowOneShot(notify.Offline, "botwarden is offline", text, "")
}

func (s *Supervisor) refreshLoop(ctx context.Context) {
	t := time.NewTicker(rate.Interval(s.cfg.Span, s.cfg.Ticks))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := s.window.Tick()
			obs.MessageRate.Set(float64(n))
			s.renderService(n)
		}
	}
}

func (s *Supervisor) renderService(n int64) {
	s.mu.Lock()
	sess, icon := s.sess, s.avatar
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.deps.Renderer.ShowPersistent(notify.Service, "botwarden is running", s.rateText(n), icon)
}

func (s *Supervisor) rateText(n int64) string {
	if s.cfg.Span == time.Minute {
		return fmt.Sprintf("Message rate %d/min", n)
	}
	return fmt.Sprintf("Message rate %d per %s", n, s.cfg.Span)
}

// loadAvatar fetches the decorative avatar, retrying with a fixed delay until
// it succeeds or the run ends.
func (s *Supervisor) loadAvatar(ctx context.Context, url string) {
	if url == "" {
		return
	}
	obs.Info("avatar.load", obs.Fields{"url": url})
	for attempt := 1; ; attempt++ {
		img, err := s.deps.Fetch(ctx, url)
		if err == nil {
			s.mu.Lock()
			s.avatar = img
			s.mu.Unlock()
			obs.Debug("avatar.loaded", obs.Fields{"bytes": len(img), "attempts": attempt})
			return
		}
		obs.Debug("avatar.retry", obs.Fields{"err": err, "attempt": attempt})
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.AvatarRetry):
		}
	}
}

// Report snapshots the supervisor for the status formatter.
func (s *Supervisor) Report() status.Report {
	s.mu.Lock()
	r := status.Report{
		Version: s.cfg.Version,
		State:   s.state.String(),
		Account: s.account,
	}
	if s.state != Stopped {
		r.StartedAt = s.startedAt
	}
	sess := s.sess
	s.mu.Unlock()

	if sess != nil {
		r.Online = sess.Online()
	}
	r.Rate = s.window.Rate()
	r.Messages = s.messages.Load()
	if s.deps.Scripts != nil {
		r.Scripts = s.deps.Scripts.Count()
	}
	if s.deps.Verifier != nil {
		if ch, ok := s.deps.Verifier.Current(); ok {
			r.Challenge = string(ch.Kind)
		}
	}
	return r.WithRuntime(time.Now())
}

// StatusText renders Report for the status command and control surface.
func (s *Supervisor) StatusText() string { return s.Report().Format() }
