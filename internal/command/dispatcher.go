package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/matst80/botwarden/internal/obs"
)

var ErrUnknown = errors.New("unknown command")

// Handler runs a command with its whitespace separated arguments and returns
// the text shown to the operator.
type Handler func(ctx context.Context, args []string) (string, error)

type Command struct {
	Name    string
	Usage   string
	Help    string
	Handler Handler
}

// Dispatcher routes command lines to registered handlers.
type Dispatcher struct {
	mu   sync.RWMutex
	cmds map[string]Command
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{cmds: make(map[string]Command)}
}

func (d *Dispatcher) Register(c Command) error {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name == "" || c.Handler == nil {
		return fmt.Errorf("command needs a name and a handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.cmds[name]; dup {
		return fmt.Errorf("command %q already registered", name)
	}
	c.Name = name
	d.cmds[name] = c
	return nil
}

// Commands lists registered commands sorted by name.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Command, 0, len(d.cmds))
	for _, c := range d.cmds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run executes one command line. A leading slash is accepted. Blank lines
// produce no output.
func (d *Dispatcher) Run(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	d.mu.RLock()
	c, ok := d.cmds[name]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	obs.Debug("command.run", obs.Fields{"cmd": name, "args": len(fields) - 1})
	out, err := c.Handler(ctx, fields[1:])
	if err != nil {
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
