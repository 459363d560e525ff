package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: botctl [flags] <command> [args]

commands:
  status                          show the daemon status
  logs [clear]                    print or clear the daemon log
  cmd <text>                      run a console command
  solve                           answer the pending login verification
  scripts                         list scripts
  scripts create <name> <lua|js|py>
  scripts <reload|enable|disable|delete|open> <index>
  stop                            stop the session and the daemon

flags:
`)
	flag.PrintDefaults()
}

func main() {
	loadConfig()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	c := newClient(cfg.Addr, cfg.Token, cfg.Timeout)
	if err := run(context.Background(), c, os.Stdout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "botctl: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("wrong arguments, see botctl -h")

func run(ctx context.Context, c *client, out io.Writer, args []string) error {
	switch args[0] {
	case "status":
		var st struct {
			Text string `json:"text"`
		}
		if _, err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st); err != nil {
			return err
		}
		fmt.Fprintln(out, titleStyle.Render("botwarden"))
		fmt.Fprintln(out, st.Text)
	case "logs":
		if len(args) > 1 && args[1] == "clear" {
			_, err := c.do(ctx, http.MethodDelete, "/v1/logs", nil, nil)
			return err
		}
		var logs struct {
			Lines []string `json:"lines"`
		}
		if _, err := c.do(ctx, http.MethodGet, "/v1/logs", nil, &logs); err != nil {
			return err
		}
		for _, l := range logs.Lines {
			fmt.Fprintln(out, l)
		}
	case "cmd":
		if len(args) < 2 {
			return errUsage
		}
		var res struct {
			Output string `json:"output"`
		}
		if _, err := c.do(ctx, http.MethodPost, "/v1/commands", map[string]string{"text": strings.Join(args[1:], " ")}, &res); err != nil {
			return err
		}
		if res.Output != "" {
			fmt.Fprintln(out, res.Output)
		}
	case "solve":
		return solve(ctx, c, out)
	case "scripts":
		return scriptsCmd(ctx, c, out, args[1:])
	case "stop":
		if _, err := c.do(ctx, http.MethodPost, "/v1/shutdown", nil, nil); err != nil {
			return err
		}
		fmt.Fprintln(out, "stopping")
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

type challengeView struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	URL      string    `json:"url"`
	HasImage bool      `json:"has_image"`
	Created  time.Time `json:"created"`
}

func solve(ctx context.Context, c *client, out io.Writer) error {
	var ch challengeView
	status, err := c.do(ctx, http.MethodGet, "/v1/verification/challenge", nil, &ch)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent {
		fmt.Fprintln(out, "no pending verification")
		return nil
	}
	details := []string{label("kind", ch.Kind), label("since", ch.Created.Local().Format(time.Kitchen))}
	if ch.URL != "" {
		details = append(details, label("open", ch.URL))
	}
	if ch.HasImage {
		path, err := saveCaptcha(ctx, c)
		if err != nil {
			return err
		}
		details = append(details, label("image", path))
	}
	answer, ok, err := promptAnswer("Login verification", details)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out, "cancelled")
		return nil
	}
	var res struct {
		Accepted bool `json:"accepted"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/v1/verification", map[string]string{"answer": answer}, &res); err != nil {
		return err
	}
	if !res.Accepted {
		fmt.Fprintln(out, "verification no longer pending")
		return nil
	}
	fmt.Fprintln(out, "submitted")
	return nil
}

func saveCaptcha(ctx context.Context, c *client) (string, error) {
	_, img, err := c.raw(ctx, http.MethodGet, "/v1/verification/image", nil)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "botwarden-captcha-*.png")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(img); err != nil {
		return "", fmt.Errorf("write captcha: %w", err)
	}
	return f.Name(), nil
}

var scriptKinds = map[string]int{"lua": 0, "js": 1, "py": 2}

func scriptsCmd(ctx context.Context, c *client, out io.Writer, args []string) error {
	if len(args) == 0 {
		var list struct {
			Count   int      `json:"count"`
			Scripts []string `json:"scripts"`
		}
		if _, err := c.do(ctx, http.MethodGet, "/v1/scripts", nil, &list); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d scripts\n", list.Count)
		for i, s := range list.Scripts {
			fmt.Fprintf(out, "%3d  %s\n", i, s)
		}
		return nil
	}
	if args[0] == "create" {
		if len(args) != 3 {
			return errUsage
		}
		kind, ok := scriptKinds[args[2]]
		if !ok {
			return fmt.Errorf("unknown script kind %q", args[2])
		}
		var res struct {
			Created bool `json:"created"`
		}
		if _, err := c.do(ctx, http.MethodPost, "/v1/scripts", map[string]any{"name": args[1], "kind": kind}, &res); err != nil {
			return err
		}
		if !res.Created {
			return fmt.Errorf("script %q not created (invalid or taken name)", args[1])
		}
		fmt.Fprintln(out, "created", args[1])
		return nil
	}
	if len(args) != 2 {
		return errUsage
	}
	i, err := strconv.Atoi(args[1])
	if err != nil {
		return errUsage
	}
	path := "/v1/scripts/" + strconv.Itoa(i)
	switch args[0] {
	case "delete":
		_, err = c.do(ctx, http.MethodDelete, path, nil, nil)
	case "reload", "enable", "disable":
		_, err = c.do(ctx, http.MethodPost, path+"/"+args[0], nil, nil)
	case "open":
		var res struct {
			Path string `json:"path"`
		}
		if _, err = c.do(ctx, http.MethodPost, path+"/open", nil, &res); err == nil {
			fmt.Fprintln(out, res.Path)
		}
		return err
	default:
		return errUsage
	}
	if err == nil {
		fmt.Fprintln(out, "ok")
	}
	return err
}
