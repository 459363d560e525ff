package logring

import "sync"

const DefaultSize = 300

// Ring keeps the most recent log lines up to a fixed capacity.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// New returns a ring holding size lines (DefaultSize when size < 1).
func New(size int) *Ring {
	if size < 1 {
		size = DefaultSize
	}
	return &Ring{lines: make([]string, size)}
}

// Append stores line, overwriting the oldest entry when full.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	r.lines[r.next] = line
	r.next++
	if r.next == len(r.lines) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Snapshot returns the stored lines, oldest first.
func (r *Ring) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

func (r *Ring) Clear() {
	r.mu.Lock()
	clear(r.lines)
	r.next = 0
	r.full = false
	r.mu.Unlock()
}

func (r *Ring) Cap() int { return len(r.lines) }
