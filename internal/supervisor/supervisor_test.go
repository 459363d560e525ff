package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matst80/botwarden/internal/notify"
)

type fakeSession struct {
	events   chan Event
	online   atomic.Bool
	loginErr error
	closed   atomic.Bool
	avatar   string

	mu   sync.Mutex
	sent []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan Event, 64), avatar: "https://avatar.example/1.png"}
}

func (f *fakeSession) Login(ctx context.Context) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.online.Store(true)
	return nil
}

func (f *fakeSession) Send(_ context.Context, target, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, target+":"+text)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Events() <-chan Event { return f.events }
func (f *fakeSession) Online() bool         { return f.online.Load() }
func (f *fakeSession) AvatarURL() string    { return f.avatar }
func (f *fakeSession) Close() error         { f.closed.Store(true); return nil }

type fakeKeepAlive struct {
	held       atomic.Bool
	acquireErr error
}

func (k *fakeKeepAlive) Acquire() error {
	if k.acquireErr != nil {
		return k.acquireErr
	}
	k.held.Store(true)
	return nil
}
func (k *fakeKeepAlive) Release() error { k.held.Store(false); return nil }
func (k *fakeKeepAlive) Held() bool     { return k.held.Load() }

type fakeReceiver struct {
	registered atomic.Int32
	out        Sender
}

func (r *fakeReceiver) Name() string { return "fake" }
func (r *fakeReceiver) Register(_ context.Context, out Sender) error {
	r.registered.Add(1)
	r.out = out
	return nil
}
func (r *fakeReceiver) Unregister() { r.registered.Add(-1) }

type fakeScripts struct{ disabled atomic.Bool }

func (s *fakeScripts) DisableAll() { s.disabled.Store(true) }
func (s *fakeScripts) Count() int  { return 2 }

type harness struct {
	sup      *Supervisor
	sess     *fakeSession
	board    *notify.Board
	keep     *fakeKeepAlive
	recv     *fakeReceiver
	scripts  *fakeScripts
	exited   atomic.Bool
	fetchHit atomic.Int32
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sess:    newFakeSession(),
		board:   notify.NewBoard(),
		keep:    &fakeKeepAlive{},
		recv:    &fakeReceiver{},
		scripts: &fakeScripts{},
	}
	h.sup = New(cfg, Deps{
		Dial:      func(context.Context, Params) (Session, error) { return h.sess, nil },
		KeepAlive: h.keep,
		Receivers: []Receiver{h.recv},
		Renderer:  h.board,
		Scripts:   h.scripts,
		Fetch: func(context.Context, string) ([]byte, error) {
			h.fetchHit.Add(1)
			return []byte("png"), nil
		},
		Exit: func() { h.exited.Store(true) },
	})
	t.Cleanup(func() { h.sup.Stop() })
	return h
}

func (h *harness) startOnline(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sup.Start(Params{Account: "10001"}))
	require.Eventually(t, h.sess.online.Load, time.Second, 5*time.Millisecond)
}

func TestStartIsIdempotentAndStopReleases(t *testing.T) {
	h := newHarness(t, Config{})
	h.startOnline(t)
	require.NoError(t, h.sup.Start(Params{Account: "10001"}))

	assert.Equal(t, Running, h.sup.State())
	assert.True(t, h.keep.Held())
	assert.Equal(t, int32(1), h.recv.registered.Load())
	assert.False(t, h.sup.StartedAt().IsZero())

	require.NoError(t, h.recv.out.Send(context.Background(), "group:1", "hello"))
	assert.Equal(t, []string{"group:1:hello"}, h.sess.sent)

	assert.True(t, h.sup.Stop())
	assert.True(t, h.exited.Load())
	assert.Equal(t, Stopped, h.sup.State())
	assert.False(t, h.keep.Held())
	assert.Equal(t, int32(0), h.recv.registered.Load())
	assert.True(t, h.scripts.disabled.Load())
	assert.True(t, h.sess.closed.Load())
	_, shown := h.board.Get(notify.Service)
	assert.False(t, shown)

	assert.False(t, h.sup.Stop(), "second stop is a no-op")
}

func TestKeepAliveFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, Config{})
	h.keep.acquireErr = errors.New("denied")
	h.startOnline(t)
	assert.Equal(t, Running, h.sup.State())
	assert.False(t, h.keep.Held())
}

func TestLoginFailureCanBeRetried(t *testing.T) {
	h := newHarness(t, Config{})
	failing := h.sess
	failing.loginErr = errors.New("bad password")

	require.NoError(t, h.sup.Start(Params{Account: "10001"}))
	require.Eventually(t, failing.closed.Load, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		n, ok := h.board.Get(notify.Service)
		return ok && n.Text == "Login failed, log in again"
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.exited.Load(), "login failure must not end the process")
	assert.Equal(t, Running, h.sup.State())
	assert.True(t, h.keep.Held())
	assert.Equal(t, int32(1), h.recv.registered.Load())
	assert.ErrorIs(t, h.sup.Send(context.Background(), "friend:1", "x"), ErrNoSession)

	h.sess = newFakeSession()
	require.NoError(t, h.sup.Login(Params{Account: "10001"}))
	require.Eventually(t, h.sess.online.Load, time.Second, 5*time.Millisecond)
	require.NoError(t, h.sup.Send(context.Background(), "friend:1", "x"))
}

func TestDialFailureCanBeRetried(t *testing.T) {
	h := newHarness(t, Config{})
	var fail atomic.Bool
	fail.Store(true)
	sess := h.sess
	h.sup.deps.Dial = func(context.Context, Params) (Session, error) {
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		return sess, nil
	}

	require.NoError(t, h.sup.Start(Params{Account: "10001"}))
	require.Eventually(t, func() bool {
		n, ok := h.board.Get(notify.Service)
		return ok && n.Text == "Login failed, log in again"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Running, h.sup.State())

	fail.Store(false)
	require.NoError(t, h.sup.Login(Params{Account: "10001"}))
	require.Eventually(t, sess.online.Load, time.Second, 5*time.Millisecond)
}

func TestLoginWithoutRunning(t *testing.T) {
	h := newHarness(t, Config{})
	assert.ErrorIs(t, h.sup.Login(Params{Account: "1"}), ErrNotRunning)
	assert.ErrorIs(t, h.sup.Send(context.Background(), "a", "b"), ErrNoSession)

	h.startOnline(t)
	assert.ErrorIs(t, h.sup.Login(Params{Account: "1"}), ErrLoggedIn)
}

func TestMessagesFeedRateAndServiceNotification(t *testing.T) {
	h := newHarness(t, Config{Span: 40 * time.Millisecond, Ticks: 4})
	h.startOnline(t)

	for i := 0; i < 5; i++ {
		h.sess.events <- MessageEvent{From: "friend:2"}
	}
	require.Eventually(t, func() bool { return h.sup.Report().Messages == 5 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		n, ok := h.board.Get(notify.Service)
		return ok && n.Title == "botwarden is running" && n.HasIcon
	}, time.Second, 5*time.Millisecond)
	// the burst ages out of the short window
	require.Eventually(t, func() bool { return h.sup.Rate() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.fetchHit.Load())

	r := h.sup.Report()
	assert.Equal(t, "running", r.State)
	assert.Equal(t, "10001", r.Account)
	assert.True(t, r.Online)
	assert.Equal(t, 2, r.Scripts)
}

func TestDroppedThenReconnectWithinGraceIsSuppressed(t *testing.T) {
	h := newHarness(t, Config{Grace: 200 * time.Millisecond})
	h.startOnline(t)

	h.sess.online.Store(false)
	h.sess.events <- OfflineEvent{Kind: OfflineDropped}
	time.Sleep(50 * time.Millisecond)
	h.sess.online.Store(true)
	h.sess.events <- ReloginEvent{}

	time.Sleep(350 * time.Millisecond)
	_, shown := h.board.Get(notify.Offline)
	assert.False(t, shown)
}

func TestOfflineNotifications(t *testing.T) {
	cases := []struct {
		name  string
		event OfflineEvent
		text  string
		shown bool
	}{
		{"dropped", OfflineEvent{Kind: OfflineDropped}, "Connection dropped, check the network", true},
		{"forced", OfflineEvent{Kind: OfflineForced, Reason: "logged in elsewhere"}, "logged in elsewhere", true},
		{"other", OfflineEvent{Kind: OfflineOther}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Config{Grace: 20 * time.Millisecond})
			h.startOnline(t)

			h.sess.online.Store(false)
			h.sess.events <- tc.event
			time.Sleep(150 * time.Millisecond)

			n, shown := h.board.Get(notify.Offline)
			require.Equal(t, tc.shown, shown)
			if shown {
				assert.Equal(t, tc.text, n.Text)
			}
		})
	}
}

func TestReloginClearsOfflineNotification(t *testing.T) {
	h := newHarness(t, Config{Grace: 10 * time.Millisecond})
	h.startOnline(t)

	h.sess.online.Store(false)
	h.sess.events <- OfflineEvent{Kind: OfflineDropped}
	require.Eventually(t, func() bool {
		_, ok := h.board.Get(notify.Offline)
		return ok
	}, time.Second, 5*time.Millisecond)

	h.sess.online.Store(true)
	h.sess.events <- ReloginEvent{}
	require.Eventually(t, func() bool {
		_, ok := h.board.Get(notify.Offline)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestAvatarRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, Config{AvatarRetry: 5 * time.Millisecond, Span: 20 * time.Millisecond, Ticks: 2})
	h.sup.deps.Fetch = func(context.Context, string) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("timeout")
		}
		return []byte("png"), nil
	}
	h.startOnline(t)
	require.Eventually(t, func() bool {
		n, ok := h.board.Get(notify.Service)
		return ok && n.HasIcon
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBackgroundPanicIsContained(t *testing.T) {
	h := newHarness(t, Config{})
	h.sup.deps.Fetch = func(context.Context, string) ([]byte, error) { panic("decoder blew up") }
	h.startOnline(t)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Running, h.sup.State())
}

func TestLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botd.lock")
	a, b := NewLockFile(path), NewLockFile(path)

	require.NoError(t, a.Acquire())
	assert.True(t, a.Held())
	assert.Error(t, b.Acquire(), "second holder must be refused")

	require.NoError(t, a.Release())
	assert.False(t, a.Held())
	require.NoError(t, b.Acquire())
	require.NoError(t, b.Release())
}

func TestParseOfflineKind(t *testing.T) {
	assert.Equal(t, OfflineDropped, ParseOfflineKind("dropped"))
	assert.Equal(t, OfflineForced, ParseOfflineKind("force"))
	assert.Equal(t, OfflineOther, ParseOfflineKind("active"))
}

func TestParamsFromHex(t *testing.T) {
	p, err := ParamsFromHex(" 10001 ", "cafe01")
	require.NoError(t, err)
	assert.Equal(t, Params{Account: "10001", Password: []byte{0xca, 0xfe, 0x01}}, p)

	_, err = ParamsFromHex("10001", "xyz")
	assert.Error(t, err)
	_, err = ParamsFromHex("", "00")
	assert.Error(t, err)
}

func TestClosedEventStreamAllowsNewLogin(t *testing.T) {
	h := newHarness(t, Config{})
	h.startOnline(t)

	close(h.sess.events)
	require.Eventually(t, func() bool {
		n, ok := h.board.Get(notify.Offline)
		return ok && n.Text == "Session ended, log in again"
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.sess.closed.Load())
	assert.Equal(t, Running, h.sup.State())
	assert.ErrorIs(t, h.sup.Send(context.Background(), "friend:1", "x"), ErrNoSession)

	h.sess = newFakeSession()
	require.NoError(t, h.sup.Login(Params{Account: "10001"}))
	require.Eventually(t, h.sess.online.Load, time.Second, 5*time.Millisecond)
}
