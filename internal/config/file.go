package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// File is the optional botd.toml. Unset keys leave the flag defaults alone.
// Durations are written as Go duration strings ("1m", "200ms").
type File struct {
	Control ControlSection `toml:"control"`
	Metrics MetricsSection `toml:"metrics"`
	Window  WindowSection  `toml:"window"`
	Log     LogSection     `toml:"log"`
	Session SessionSection `toml:"session"`
	Push    PushSection    `toml:"push"`
	Paths   PathsSection   `toml:"paths"`
}

type ControlSection struct {
	Address *string `toml:"address"`
	Token   *string `toml:"token"`
}

type MetricsSection struct {
	Address *string `toml:"address"`
}

type WindowSection struct {
	Span  *string `toml:"span"`
	Ticks *int    `toml:"ticks"`
}

type LogSection struct {
	Buffer *int  `toml:"buffer"`
	Debug  *bool `toml:"debug"`
}

type SessionSection struct {
	Gateway          *string `toml:"gateway"`
	Account          *string `toml:"account"`
	Password         *string `toml:"password"` // hex
	Grace            *string `toml:"grace"`
	AvatarRetry      *string `toml:"avatar_retry"`
	ChallengeTimeout *string `toml:"challenge_timeout"`
}

type PushSection struct {
	Enabled       *bool   `toml:"enabled"`
	RedisAddr     *string `toml:"redis_addr"`
	RedisPassword *string `toml:"redis_password"`
	RedisDB       *int    `toml:"redis_db"`
	Key           *string `toml:"key"`
	Rate          *int    `toml:"rate"`
}

type PathsSection struct {
	Scripts *string `toml:"scripts"`
	Data    *string `toml:"data"`
}

// Load reads path. A missing or empty file yields an empty File.
func Load(path string) (File, error) {
	var f File
	path = strings.TrimSpace(path)
	if path == "" {
		return f, errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return f, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return f, nil
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Values maps botd flag names to the string form of every key set in the file.
func (f File) Values() map[string]string {
	out := map[string]string{}
	str := func(name string, v *string) {
		if v != nil {
			out[name] = *v
		}
	}
	num := func(name string, v *int) {
		if v != nil {
			out[name] = strconv.Itoa(*v)
		}
	}
	flg := func(name string, v *bool) {
		if v != nil {
			out[name] = strconv.FormatBool(*v)
		}
	}
	str("control", f.Control.Address)
	str("token", f.Control.Token)
	str("metrics", f.Metrics.Address)
	str("window", f.Window.Span)
	num("ticks", f.Window.Ticks)
	num("log-buffer", f.Log.Buffer)
	flg("debug", f.Log.Debug)
	str("gateway", f.Session.Gateway)
	str("account", f.Session.Account)
	str("password", f.Session.Password)
	str("grace", f.Session.Grace)
	str("avatar-retry", f.Session.AvatarRetry)
	str("challenge-timeout", f.Session.ChallengeTimeout)
	flg("push", f.Push.Enabled)
	str("redis", f.Push.RedisAddr)
	str("redis-password", f.Push.RedisPassword)
	num("redis-db", f.Push.RedisDB)
	str("push-key", f.Push.Key)
	num("push-rate", f.Push.Rate)
	str("scripts", f.Paths.Scripts)
	str("data-dir", f.Paths.Data)
	return out
}

// FlagSetter is satisfied by *flag.FlagSet.
type FlagSetter interface {
	Set(name, value string) error
}

// Apply sets every file value on fs unless the flag was given explicitly.
func (f File) Apply(fs FlagSetter, explicit map[string]bool) error {
	for name, v := range f.Values() {
		if explicit[name] {
			continue
		}
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("config %s=%q: %w", name, v, err)
		}
	}
	return nil
}
