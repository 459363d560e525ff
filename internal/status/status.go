package status

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Report represents current daemon stats for the status command, API and dashboard.
type Report struct {
	Version    string        `json:"version"`
	State      string        `json:"state"`
	Account    string        `json:"account,omitempty"`
	Online     bool          `json:"online"`
	StartedAt  time.Time     `json:"started_at"`
	Uptime     time.Duration `json:"uptime"`
	Rate       int64         `json:"rate"`
	Messages   int64         `json:"messages"`
	Scripts    int           `json:"scripts"`
	Challenge  string        `json:"challenge,omitempty"`
	Goroutines int           `json:"goroutines"`
	HeapBytes  uint64        `json:"heap_bytes"`
	Now        string        `json:"now"`
}

// WithRuntime fills in process counters and the report timestamp.
func (r Report) WithRuntime(now time.Time) Report {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.Goroutines = runtime.NumGoroutine()
	r.HeapBytes = ms.HeapAlloc
	r.Now = now.UTC().Format(time.RFC3339)
	if !r.StartedAt.IsZero() {
		r.Uptime = now.Sub(r.StartedAt).Truncate(time.Second)
	}
	return r
}

// Format renders the multi-line report shown by the status command.
func (r Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "botwarden %s\n", r.Version)
	fmt.Fprintf(&b, "state: %s", r.State)
	if r.Account != "" {
		fmt.Fprintf(&b, " (%s, online=%t)", r.Account, r.Online)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "uptime: %s\n", r.Uptime)
	fmt.Fprintf(&b, "message rate: %d/min (total %d)\n", r.Rate, r.Messages)
	fmt.Fprintf(&b, "scripts: %d\n", r.Scripts)
	if r.Challenge != "" {
		fmt.Fprintf(&b, "pending verification: %s\n", r.Challenge)
	}
	fmt.Fprintf(&b, "goroutines: %d heap: %.1f MiB", r.Goroutines, float64(r.HeapBytes)/(1<<20))
	return b.String()
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (r Report) ToTemplateMap() map[string]any {
	return map[string]any{
		"Version":   r.Version,
		"State":     r.State,
		"Account":   r.Account,
		"Online":    r.Online,
		"Uptime":    r.Uptime.String(),
		"Rate":      r.Rate,
		"Messages":  r.Messages,
		"Scripts":   r.Scripts,
		"Challenge": r.Challenge,
	}
}
