package scripts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matst80/botwarden/internal/obs"
)

// ErrIndex is returned for a script index outside the loaded list.
var ErrIndex = errors.New("scripts: index out of range")

// Kind selects the script flavour; the value is the integer used on the wire.
type Kind int

const (
	KindLua Kind = iota
	KindJS
	KindPython
)

func (k Kind) Ext() string {
	switch k {
	case KindJS:
		return ".js"
	case KindPython:
		return ".py"
	default:
		return ".lua"
	}
}

func kindFromExt(ext string) (Kind, bool) {
	switch strings.ToLower(ext) {
	case ".lua":
		return KindLua, true
	case ".js":
		return KindJS, true
	case ".py":
		return KindPython, true
	}
	return 0, false
}

// Script is one file tracked by the manager. Loading and executing the
// script is left to the plugin host; the manager only tracks registry state.
type Script struct {
	Name    string
	Path    string
	Kind    Kind
	Enabled bool
	Loaded  time.Time
	Size    int64
}

func (s Script) Info() string {
	state := "disabled"
	if s.Enabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s%s %s (%d bytes)", s.Name, s.Kind.Ext(), state, s.Size)
}

// Manager is a directory-backed script registry.
type Manager struct {
	mu    sync.Mutex
	dir   string
	hosts []*Script
}

// Open scans dir (creating it if needed) and registers every known script file.
func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create script dir: %w", err)
	}
	m := &Manager{dir: dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read script dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if s, ok := m.describe(filepath.Join(dir, e.Name())); ok {
			m.hosts = append(m.hosts, s)
		}
	}
	sort.Slice(m.hosts, func(i, j int) bool { return m.hosts[i].Name < m.hosts[j].Name })
	return m, nil
}

func (m *Manager) describe(path string) (*Script, bool) {
	ext := filepath.Ext(path)
	kind, ok := kindFromExt(ext)
	if !ok {
		return nil, false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	return &Script{
		Name:    strings.TrimSuffix(filepath.Base(path), ext),
		Path:    path,
		Kind:    kind,
		Enabled: true,
		Loaded:  time.Now(),
		Size:    fi.Size(),
	}, true
}

// Create adds an empty script called name. It reports false if the name is
// invalid or already taken.
func (m *Manager) Create(name string, kind Kind) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return false, nil
	}
	path := filepath.Join(m.dir, name+kind.Ext())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create script: %w", err)
	}
	_ = f.Close()
	s, ok := m.describe(path)
	if !ok {
		return false, nil
	}
	m.mu.Lock()
	m.hosts = append(m.hosts, s)
	m.mu.Unlock()
	obs.Info("scripts.create", obs.Fields{"name": s.Name, "path": path})
	return true, nil
}

func (m *Manager) at(i int) (*Script, error) {
	if i < 0 || i >= len(m.hosts) {
		return nil, fmt.Errorf("%w: %d", ErrIndex, i)
	}
	return m.hosts[i], nil
}

// Reload re-reads the script file metadata.
func (m *Manager) Reload(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.at(i)
	if err != nil {
		return err
	}
	fi, err := os.Stat(s.Path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", s.Name, err)
	}
	s.Size = fi.Size()
	s.Loaded = time.Now()
	return nil
}

func (m *Manager) setEnabled(i int, v bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.at(i)
	if err != nil {
		return err
	}
	s.Enabled = v
	return nil
}

func (m *Manager) Enable(i int) error  { return m.setEnabled(i, true) }
func (m *Manager) Disable(i int) error { return m.setEnabled(i, false) }

// DisableAll disables every script, used when the daemon stops.
func (m *Manager) DisableAll() {
	m.mu.Lock()
	for _, s := range m.hosts {
		s.Enabled = false
	}
	m.mu.Unlock()
}

// Delete removes the script file and its registry entry.
func (m *Manager) Delete(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.at(i)
	if err != nil {
		return err
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", s.Name, err)
	}
	m.hosts = append(m.hosts[:i], m.hosts[i+1:]...)
	obs.Info("scripts.delete", obs.Fields{"name": s.Name})
	return nil
}

// Path returns the file backing script i so the UI can open it in an editor.
func (m *Manager) Path(i int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.at(i)
	if err != nil {
		return "", err
	}
	return s.Path, nil
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hosts)
}

// Infos returns a human readable line per script.
func (m *Manager) Infos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.hosts))
	for i, s := range m.hosts {
		out[i] = s.Info()
	}
	return out
}
