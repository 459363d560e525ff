package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	ch   chan Request
	errs chan error
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan Request, 16), errs: make(chan error, 4)}
}

func (s *chanSource) Pop(ctx context.Context) (Request, error) {
	select {
	case r := <-s.ch:
		return r, nil
	case err := <-s.errs:
		return Request{}, err
	case <-time.After(10 * time.Millisecond):
		return Request{}, ErrEmpty
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) Send(_ context.Context, target, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, target+"|"+text)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestRequestTarget(t *testing.T) {
	cases := []struct {
		req    Request
		target string
		text   string
		ok     bool
	}{
		{Request{Kind: KindFriend, ID: "42", Text: "hi"}, "friend:42", "hi", true},
		{Request{Kind: KindGroup, ID: "7", Text: "hello"}, "group:7", "hello", true},
		{Request{Kind: KindGroupAt, ID: "7", User: "99", Text: "ping"}, "group:7", "@99 ping", true},
		{Request{Kind: KindGroupAt, ID: "7", Text: "ping"}, "", "", false},
		{Request{Kind: "temp", ID: "1"}, "", "", false},
		{Request{Kind: KindFriend}, "", "", false},
	}
	for _, tc := range cases {
		target, text, err := tc.req.Target()
		if !tc.ok {
			assert.Error(t, err, "%+v", tc.req)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.target, target)
		assert.Equal(t, tc.text, text)
	}
}

func TestReceiverForwardsUntilUnregistered(t *testing.T) {
	src := newChanSource()
	out := &recorder{}
	r := NewReceiver(src, 0, 1)

	require.NoError(t, r.Register(context.Background(), out))
	assert.Error(t, r.Register(context.Background(), out), "double register")

	src.ch <- Request{Kind: KindFriend, ID: "1", Text: "a"}
	src.ch <- Request{Kind: "bogus", ID: "1"}
	src.ch <- Request{Kind: KindGroupAt, ID: "2", User: "3", Text: "b"}
	require.Eventually(t, func() bool { return len(out.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"friend:1|a", "group:2|@3 b"}, out.all())

	r.Unregister()
	src.ch <- Request{Kind: KindFriend, ID: "1", Text: "late"}
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, out.all(), 2)

	r.Unregister()
}

func TestReceiverPacesPerTargetWithoutDropping(t *testing.T) {
	src := newChanSource()
	out := &recorder{}
	r := NewReceiver(src, 20, 2)
	require.NoError(t, r.Register(context.Background(), out))
	defer r.Unregister()

	start := time.Now()
	for i := 0; i < 5; i++ {
		src.ch <- Request{Kind: KindGroup, ID: "1", Text: fmt.Sprint(i)}
	}
	src.ch <- Request{Kind: KindGroup, ID: "2", Text: "other"}
	require.Eventually(t, func() bool { return len(out.all()) == 6 }, 2*time.Second, 5*time.Millisecond)

	// three requests beyond the burst of two, one token every 50ms
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, []string{
		"group:1|0", "group:1|1", "group:1|2", "group:1|3", "group:1|4", "group:2|other",
	}, out.all())
}

func TestReceiverSweepsIdleTargets(t *testing.T) {
	src := newChanSource()
	out := &recorder{}
	r := NewReceiver(src, 100, 1)
	r.sweep = 5 * time.Millisecond
	r.idle = 10 * time.Millisecond
	require.NoError(t, r.Register(context.Background(), out))
	defer r.Unregister()

	src.ch <- Request{Kind: KindFriend, ID: "1", Text: "a"}
	src.ch <- Request{Kind: KindFriend, ID: "2", Text: "b"}
	require.Eventually(t, func() bool { return len(out.all()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.limiter.Forget(r.idle) == 0 }, time.Second, 5*time.Millisecond)
}

func TestReceiverSurvivesSourceErrors(t *testing.T) {
	src := newChanSource()
	out := &recorder{}
	r := NewReceiver(src, 0, 1)
	r.backoff = time.Millisecond
	require.NoError(t, r.Register(context.Background(), out))
	defer r.Unregister()

	src.errs <- errors.New("connection reset")
	src.ch <- Request{Kind: KindFriend, ID: "5", Text: "after"}
	require.Eventually(t, func() bool { return len(out.all()) == 1 }, time.Second, 5*time.Millisecond)
}
