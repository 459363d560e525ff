package gateway

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/matst80/botwarden/internal/obs"
	"github.com/matst80/botwarden/internal/proto"
	"github.com/matst80/botwarden/internal/supervisor"
	"github.com/matst80/botwarden/internal/verify"
)

var ErrClosed = errors.New("gateway: connection closed")

// Solver hands a challenge to a human and waits for the answer.
type Solver interface {
	RequestSolve(ctx context.Context, c verify.Challenge) (string, error)
}

// Conn is a supervisor.Session speaking JSON lines to a protocol gateway.
type Conn struct {
	conn    net.Conn
	params  supervisor.Params
	solver  Solver
	events  chan supervisor.Event
	loginCh chan error
	online  atomic.Bool

	wmu    sync.Mutex
	amu    sync.Mutex
	avatar string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

var _ supervisor.Session = (*Conn)(nil)

// Dial connects to the gateway at addr. Login must be called before traffic flows.
func Dial(ctx context.Context, addr string, p supervisor.Params, solver Solver) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", addr, err)
	}
	return newConn(c, p, solver), nil
}

func newConn(c net.Conn, p supervisor.Params, solver Solver) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Conn{
		conn:    c,
		params:  p,
		solver:  solver,
		events:  make(chan supervisor.Event, 256),
		loginCh: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go g.readLoop()
	return g
}

func (g *Conn) write(v any) error {
	g.wmu.Lock()
	defer g.wmu.Unlock()
	return proto.WriteLine(g.conn, v)
}

// Login authenticates and blocks until the gateway accepts or rejects the
// credentials. Solve frames arriving meanwhile are routed to the solver.
func (g *Conn) Login(ctx context.Context) error {
	select {
	case <-g.done:
		return ErrClosed
	default:
	}
	auth := proto.Auth{Account: g.params.Account, Password: hex.EncodeToString(g.params.Password)}
	if err := g.write(auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	select {
	case err := <-g.loginCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrClosed
	}
}

func (g *Conn) Send(_ context.Context, target, text string) error {
	select {
	case <-g.done:
		return ErrClosed
	default:
	}
	return g.write(proto.Send{Type: proto.TypeSend, Target: target, Text: text})
}

func (g *Conn) Events() <-chan supervisor.Event { return g.events }
func (g *Conn) Online() bool                    { return g.online.Load() }

func (g *Conn) AvatarURL() string {
	g.amu.Lock()
	defer g.amu.Unlock()
	return g.avatar
}

func (g *Conn) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.cancel()
		err = g.conn.Close()
	})
	return err
}

func (g *Conn) emit(ev supervisor.Event) {
	select {
	case g.events <- ev:
	case <-g.ctx.Done():
	}
}

func (g *Conn) readLoop() {
	defer func() {
		g.online.Store(false)
		g.cancel()
		close(g.done)
		close(g.events)
	}()
	rd := bufio.NewReader(g.conn)
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				obs.Error("gateway.read", obs.Fields{"err": err})
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" { // keepalive
			continue
		}
		var f proto.Frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			obs.Error("gateway.json", obs.Fields{"err": err})
			obs.ErrorsTotal.WithLabelValues("gateway_json").Inc()
			continue
		}
		g.dispatch(f)
	}
}

func (g *Conn) dispatch(f proto.Frame) {
	switch f.Type {
	case proto.TypeLoginOK:
		g.amu.Lock()
		g.avatar = f.Avatar
		g.amu.Unlock()
		g.online.Store(true)
		g.resolveLogin(nil)
	case proto.TypeLoginFailed:
		g.resolveLogin(fmt.Errorf("gateway rejected login: %s", f.Error))
	case proto.TypeMessage:
		g.emit(supervisor.MessageEvent{From: f.From})
	case proto.TypeOffline:
		g.online.Store(false)
		g.emit(supervisor.OfflineEvent{Kind: supervisor.ParseOfflineKind(f.Kind), Reason: f.Reason})
	case proto.TypeRelogin:
		g.online.Store(true)
		g.emit(supervisor.ReloginEvent{})
	case proto.TypeSolve:
		go g.solve(f)
	default:
		obs.Debug("gateway.frame.unknown", obs.Fields{"type": f.Type})
	}
}

func (g *Conn) resolveLogin(err error) {
	select {
	case g.loginCh <- err:
	default:
	}
}

func (g *Conn) solve(f proto.Frame) {
	ch := verify.Challenge{ID: f.ID, Kind: verify.Kind(f.Kind), Image: f.Image, URL: f.URL}
	if !ch.Kind.Valid() {
		obs.Error("gateway.solve.kind", obs.Fields{"id": f.ID, "kind": f.Kind})
		_ = g.write(proto.Answer{Type: proto.TypeAnswer, ID: f.ID, Error: "unsupported challenge kind"})
		return
	}
	answer, err := g.solver.RequestSolve(g.ctx, ch)
	reply := proto.Answer{Type: proto.TypeAnswer, ID: f.ID, Text: answer}
	if err != nil {
		if g.ctx.Err() != nil {
			return
		}
		reply.Error = err.Error()
	}
	if err := g.write(reply); err != nil {
		obs.Error("gateway.answer.write", obs.Fields{"id": f.ID, "err": err})
	}
}
