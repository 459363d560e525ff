package supervisor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotRunning = errors.New("supervisor: not running")
	ErrNoSession  = errors.New("supervisor: no active session")
	ErrLoggedIn   = errors.New("supervisor: session already established")
)

// Params carries the optional credentials used for automatic login.
type Params struct {
	Account  string
	Password []byte
}

// ParamsFromHex builds login params from an account and a hex encoded password.
func ParamsFromHex(account, hexPassword string) (Params, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return Params{}, errors.New("account is required")
	}
	pwd, err := hex.DecodeString(strings.TrimSpace(hexPassword))
	if err != nil {
		return Params{}, fmt.Errorf("decode password: %w", err)
	}
	return Params{Account: account, Password: pwd}, nil
}

// Session is the chat-protocol client. Events is closed when the session ends.
type Session interface {
	Login(ctx context.Context) error
	Send(ctx context.Context, target, text string) error
	Events() <-chan Event
	Online() bool
	AvatarURL() string
	Close() error
}

// Dialer creates a session for the given credentials.
type Dialer func(ctx context.Context, p Params) (Session, error)

// Sender is the outbound half of a session, handed to receivers.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// Receiver is an inbound channel (e.g. push requests) registered for the
// lifetime of a running session.
type Receiver interface {
	Name() string
	Register(ctx context.Context, out Sender) error
	Unregister()
}

// KeepAlive is the process-level resource that keeps the daemon from being
// suspended or duplicated while a session is active.
type KeepAlive interface {
	Acquire() error
	Release() error
	Held() bool
}

// Event is one of MessageEvent, OfflineEvent or ReloginEvent.
type Event interface{ event() }

// MessageEvent reports one inbound chat message.
type MessageEvent struct {
	From string
}

// OfflineKind classifies a disconnect.
type OfflineKind int

const (
	OfflineOther OfflineKind = iota
	// OfflineDropped is a transient network loss.
	OfflineDropped
	// OfflineForced is a server-initiated kick carrying a reason.
	OfflineForced
)

func (k OfflineKind) String() string {
	switch k {
	case OfflineDropped:
		return "dropped"
	case OfflineForced:
		return "forced"
	default:
		return "other"
	}
}

// ParseOfflineKind maps a wire name to its kind; unknown names are OfflineOther.
func ParseOfflineKind(s string) OfflineKind {
	switch s {
	case "dropped":
		return OfflineDropped
	case "forced", "force":
		return OfflineForced
	default:
		return OfflineOther
	}
}

type OfflineEvent struct {
	Kind   OfflineKind
	Reason string
}

type ReloginEvent struct{}

func (MessageEvent) event() {}
func (OfflineEvent) event() {}
func (ReloginEvent) event() {}
