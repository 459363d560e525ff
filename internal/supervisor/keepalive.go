package supervisor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// LockFile is a KeepAlive backed by an exclusive pid file; holding it marks the
// daemon as the single active session owner on this host.
type LockFile struct {
	mu   sync.Mutex
	path string
	held bool
}

func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

var _ KeepAlive = (*LockFile)(nil)

func (l *LockFile) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("keep-alive lock %s held by another process", l.path)
		}
		return fmt.Errorf("keep-alive lock: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("keep-alive lock write: %w", err)
	}
	l.held = true
	return nil
}

func (l *LockFile) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("keep-alive unlock: %w", err)
	}
	return nil
}

func (l *LockFile) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
