package main

import (
	"flag"
	"time"

	"github.com/matst80/botwarden/internal/config"
)

// Config holds all runtime configuration derived from flags and the optional TOML file.
type Config struct {
	ConfigPath       string
	ControlAddr      string
	MetricsAddr      string
	Token            string
	Window           time.Duration
	Ticks            int
	LogBuffer        int
	Debug            bool
	Gateway          string
	Account          string
	Password         string // hex
	Grace            time.Duration
	AvatarRetry      time.Duration
	ChallengeTimeout time.Duration
	Push             bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	PushKey          string
	PushRate         int
	ScriptsDir       string
	DataDir          string
}

var cfg Config

// init registers flags into the global flag set; loadConfig parses them.
func init() {
	flag.StringVar(&cfg.ConfigPath, "config", "", "optional TOML config file; flags given on the command line win")
	flag.StringVar(&cfg.ControlAddr, "control", "127.0.0.1:7777", "control API listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics and health listen address")
	flag.StringVar(&cfg.Token, "token", "", "shared secret token; if set control API clients must send it as a bearer token")
	flag.DurationVar(&cfg.Window, "window", time.Minute, "message rate window")
	flag.IntVar(&cfg.Ticks, "ticks", 15, "refresh ticks per rate window")
	flag.IntVar(&cfg.LogBuffer, "log-buffer", 300, "log lines kept for the control API")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	flag.StringVar(&cfg.Gateway, "gateway", "127.0.0.1:7070", "chat protocol gateway address")
	flag.StringVar(&cfg.Account, "account", "", "account to log in automatically at start")
	flag.StringVar(&cfg.Password, "password", "", "hex encoded password for -account")
	flag.DurationVar(&cfg.Grace, "grace", 200*time.Millisecond, "wait before reporting a dropped connection")
	flag.DurationVar(&cfg.AvatarRetry, "avatar-retry", time.Second, "delay between avatar download attempts")
	flag.DurationVar(&cfg.ChallengeTimeout, "challenge-timeout", 0, "give up on an unanswered verification after this long (0 = wait)")
	flag.BoolVar(&cfg.Push, "push", false, "forward push requests from the redis list")
	flag.StringVar(&cfg.RedisAddr, "redis", "127.0.0.1:6379", "redis address for push requests")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
	flag.StringVar(&cfg.PushKey, "push-key", "botwarden:push", "redis list holding push requests")
	flag.IntVar(&cfg.PushRate, "push-rate", 1, "push messages per second per target (0 = unlimited)")
	flag.StringVar(&cfg.ScriptsDir, "scripts", "scripts", "script directory")
	flag.StringVar(&cfg.DataDir, "data-dir", ".", "directory for the lock file")
}

// loadConfig parses flags, then overlays the -config file for flags that were
// not given explicitly.
func loadConfig() error {
	flag.Parse()
	if cfg.ConfigPath == "" {
		return nil
	}
	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	file, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}
	return file.Apply(flag.CommandLine, explicit)
}
