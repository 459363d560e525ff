package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matst80/botwarden/internal/obs"
	"github.com/matst80/botwarden/internal/scripts"
	"github.com/matst80/botwarden/internal/status"
	"github.com/matst80/botwarden/internal/verify"
)

type CommandRunner interface {
	Run(ctx context.Context, line string) (string, error)
}

type LogStore interface {
	Snapshot() []string
	Append(line string)
	Clear()
}

type Verifier interface {
	SubmitAnswer(text string) bool
	Current() (verify.Challenge, bool)
}

type ScriptManager interface {
	Create(name string, kind scripts.Kind) (bool, error)
	Reload(i int) error
	Enable(i int) error
	Disable(i int) error
	Delete(i int) error
	Path(i int) (string, error)
	Count() int
	Infos() []string
}

type StatusSource interface {
	Report() status.Report
}

// Deps wires the surface to the daemon. Stop asks the supervisor to shut down
// and reports whether it was running.
type Deps struct {
	Commands CommandRunner
	Logs     LogStore
	Verifier Verifier
	Scripts  ScriptManager
	Status   StatusSource
	Stop     func() bool
}

// ChallengeView is the public shape of the pending challenge.
type ChallengeView struct {
	ID       string      `json:"id"`
	Kind     verify.Kind `json:"kind"`
	URL      string      `json:"url,omitempty"`
	HasImage bool        `json:"has_image"`
	Created  time.Time   `json:"created"`
}

// Surface is the operator-facing API. Every call is guarded: a failing or
// panicking collaborator is logged and the caller gets an empty result.
type Surface struct {
	d          Deps
	cmdTimeout time.Duration
}

func NewSurface(d Deps) *Surface {
	return &Surface{d: d, cmdTimeout: 30 * time.Second}
}

func (s *Surface) guard(op string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			obs.Error("control.panic", obs.Fields{"op": op, "panic": fmt.Sprint(p)})
			obs.RPCFaults.WithLabelValues(op).Inc()
		}
	}()
	if err := fn(); err != nil {
		obs.Error("control.fault", obs.Fields{"op": op, "err": err})
		obs.RPCFaults.WithLabelValues(op).Inc()
	}
}

// RunCommand executes line and mirrors its output into the log. The output is
// also returned for callers that display it directly.
func (s *Surface) RunCommand(ctx context.Context, line string) string {
	var out string
	s.guard("run_command", func() error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, s.cmdTimeout)
		defer cancel()
		res, err := s.d.Commands.Run(ctx, line)
		out = res
		if err != nil {
			out = strings.TrimSpace(res + "\n" + err.Error())
		}
		for _, l := range strings.Split(out, "\n") {
			if l != "" {
				s.d.Logs.Append(l)
			}
		}
		return err
	})
	return out
}

func (s *Surface) LogLines() []string {
	lines := []string{}
	s.guard("log_lines", func() error {
		if snap := s.d.Logs.Snapshot(); snap != nil {
			lines = snap
		}
		return nil
	})
	return lines
}

func (s *Surface) ClearLog() {
	s.guard("clear_log", func() error {
		s.d.Logs.Clear()
		return nil
	})
}

func (s *Surface) AppendLog(line string) {
	s.guard("append_log", func() error {
		s.d.Logs.Append(line)
		return nil
	})
}

// SubmitVerificationResult hands text to the pending challenge. Blank input
// is ignored. It reports whether a challenge was resolved.
func (s *Surface) SubmitVerificationResult(text string) bool {
	var ok bool
	s.guard("submit_verification", func() error {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		ok = s.d.Verifier.SubmitAnswer(text)
		return nil
	})
	return ok
}

func (s *Surface) Challenge() (ChallengeView, bool) {
	var (
		v  ChallengeView
		ok bool
	)
	s.guard("challenge", func() error {
		c, pending := s.d.Verifier.Current()
		if !pending {
			return nil
		}
		v = ChallengeView{ID: c.ID, Kind: c.Kind, URL: c.URL, HasImage: len(c.Image) > 0, Created: c.Created}
		ok = true
		return nil
	})
	return v, ok
}

// ChallengeURL is the pending challenge's URL or "".
func (s *Surface) ChallengeURL() string {
	var url string
	s.guard("challenge_url", func() error {
		if c, ok := s.d.Verifier.Current(); ok {
			url = c.URL
		}
		return nil
	})
	return url
}

// ChallengeImage is the pending challenge's image or nil.
func (s *Surface) ChallengeImage() []byte {
	var img []byte
	s.guard("challenge_image", func() error {
		if c, ok := s.d.Verifier.Current(); ok {
			img = c.Image
		}
		return nil
	})
	return img
}

func (s *Surface) CreateScript(name string, kind scripts.Kind) bool {
	var ok bool
	s.guard("create_script", func() error {
		created, err := s.d.Scripts.Create(name, kind)
		ok = created
		return err
	})
	return ok
}

func (s *Surface) scriptOp(op string, i int, fn func(ScriptManager, int) error) bool {
	ok := false
	s.guard(op, func() error {
		if err := fn(s.d.Scripts, i); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok
}

func (s *Surface) ReloadScript(i int) bool {
	return s.scriptOp("reload_script", i, ScriptManager.Reload)
}

func (s *Surface) EnableScript(i int) bool {
	return s.scriptOp("enable_script", i, ScriptManager.Enable)
}

func (s *Surface) DisableScript(i int) bool {
	return s.scriptOp("disable_script", i, ScriptManager.Disable)
}

func (s *Surface) DeleteScript(i int) bool {
	return s.scriptOp("delete_script", i, ScriptManager.Delete)
}

// OpenScript returns the script's file path for an editor, or "".
func (s *Surface) OpenScript(i int) string {
	var path string
	s.guard("open_script", func() error {
		p, err := s.d.Scripts.Path(i)
		path = p
		return err
	})
	return path
}

func (s *Surface) ScriptCount() int {
	var n int
	s.guard("script_count", func() error {
		n = s.d.Scripts.Count()
		return nil
	})
	return n
}

func (s *Surface) ScriptList() []string {
	infos := []string{}
	s.guard("script_list", func() error {
		if l := s.d.Scripts.Infos(); l != nil {
			infos = l
		}
		return nil
	})
	return infos
}

func (s *Surface) Status() status.Report {
	var r status.Report
	s.guard("status", func() error {
		r = s.d.Status.Report()
		return nil
	})
	return r
}

func (s *Surface) StatusText() string {
	var text string
	s.guard("status_text", func() error {
		text = s.d.Status.Report().Format()
		return nil
	})
	return text
}

// Stop asks the daemon to shut down; it reports whether a session was running.
func (s *Surface) Stop() bool {
	var stopped bool
	s.guard("stop", func() error {
		stopped = s.d.Stop()
		return nil
	})
	return stopped
}
