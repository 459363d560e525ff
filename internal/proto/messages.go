package proto

import (
	"encoding/json"
	"io"
)

// Frame types sent by the gateway.
const (
	TypeLoginOK     = "login_ok"
	TypeLoginFailed = "login_failed"
	TypeMessage     = "message"
	TypeOffline     = "offline"
	TypeRelogin     = "relogin"
	TypeSolve       = "solve"
)

// Frame types sent by the daemon.
const (
	TypeAnswer = "answer"
	TypeSend   = "send"
)

// Auth is sent by the daemon to the gateway as first line on the connection.
type Auth struct {
	Account  string `json:"account"`
	Password string `json:"password"` // hex encoded
}

// Frame is one gateway -> daemon line. Fields are populated per Type.
type Frame struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	From   string `json:"from,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
	Image  []byte `json:"image,omitempty"`
	URL    string `json:"url,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Answer resolves a solve frame with the same ID. Error is set when the
// daemon gave up on the challenge.
type Answer struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Send asks the gateway to deliver Text to Target ("friend:<id>", "group:<id>").
type Send struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Text   string `json:"text"`
}

// WriteLine writes v as a single JSON line.
func WriteLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}
