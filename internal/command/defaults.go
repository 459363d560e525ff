package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ScriptLister is the read side of the script manager.
type ScriptLister interface {
	Infos() []string
	Count() int
}

// Defaults are the collaborators behind the built-in commands. Nil fields
// leave the corresponding command unregistered.
type Defaults struct {
	Status  func() string
	Scripts ScriptLister
	Send    func(ctx context.Context, target, text string) error
	Login   func(account, hexPassword string) error
}

var errUsage = errors.New("wrong arguments")

// RegisterDefaults installs help plus every built-in whose collaborator is set.
func RegisterDefaults(d *Dispatcher, deps Defaults) error {
	cmds := []Command{{
		Name: "help", Usage: "help", Help: "list commands",
		Handler: func(context.Context, []string) (string, error) {
			var b strings.Builder
			for _, c := range d.Commands() {
				fmt.Fprintf(&b, "%-32s %s\n", c.Usage, c.Help)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}}
	if deps.Status != nil {
		cmds = append(cmds, Command{
			Name: "status", Usage: "status", Help: "show the daemon status",
			Handler: func(context.Context, []string) (string, error) { return deps.Status(), nil },
		})
	}
	if deps.Scripts != nil {
		cmds = append(cmds, Command{
			Name: "scripts", Usage: "scripts", Help: "list loaded scripts",
			Handler: func(context.Context, []string) (string, error) {
				lines := append([]string{fmt.Sprintf("%d scripts loaded", deps.Scripts.Count())}, deps.Scripts.Infos()...)
				return strings.Join(lines, "\n"), nil
			},
		})
	}
	if deps.Send != nil {
		cmds = append(cmds, Command{
			Name: "send", Usage: "send <friend:id|group:id> <text>", Help: "send a message",
			Handler: func(ctx context.Context, args []string) (string, error) {
				if len(args) < 2 || !strings.Contains(args[0], ":") {
					return "", errUsage
				}
				if err := deps.Send(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
					return "", err
				}
				return "sent to " + args[0], nil
			},
		})
	}
	if deps.Login != nil {
		cmds = append(cmds, Command{
			Name: "login", Usage: "login <account> <hex password>", Help: "log in the running session",
			Handler: func(_ context.Context, args []string) (string, error) {
				if len(args) != 2 {
					return "", errUsage
				}
				if err := deps.Login(args[0], args[1]); err != nil {
					return "", err
				}
				return "logging in " + args[0], nil
			},
		})
	}
	for _, c := range cmds {
		if err := d.Register(c); err != nil {
			return err
		}
	}
	return nil
}
