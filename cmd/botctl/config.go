package main

import (
	"flag"
	"os"
	"time"
)

// Config holds botctl runtime configuration.
type Config struct {
	Addr    string
	Token   string
	Timeout time.Duration
}

var cfg Config

func init() {
	flag.StringVar(&cfg.Addr, "addr", "http://127.0.0.1:7777", "botd control API base URL")
	flag.StringVar(&cfg.Token, "token", "", "shared secret token (default $BOTWARDEN_TOKEN)")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "request timeout")
	flag.Usage = usage
}

func loadConfig() {
	flag.Parse()
	var tokenSet bool
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "token" {
			tokenSet = true
		}
	})
	if !tokenSet {
		cfg.Token = os.Getenv("BOTWARDEN_TOKEN")
	}
}
