package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/matst80/botwarden/internal/command"
	"github.com/matst80/botwarden/internal/control"
	"github.com/matst80/botwarden/internal/gateway"
	"github.com/matst80/botwarden/internal/logring"
	"github.com/matst80/botwarden/internal/notify"
	"github.com/matst80/botwarden/internal/obs"
	"github.com/matst80/botwarden/internal/scripts"
	"github.com/matst80/botwarden/internal/supervisor"
	"github.com/matst80/botwarden/internal/verify"
)

var version = "dev"

func main() {
	if err := loadConfig(); err != nil {
		obs.Error("config.load", obs.Fields{"err": err, "path": cfg.ConfigPath})
		os.Exit(2)
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	ring := logring.New(cfg.LogBuffer)
	obs.SetMirror(ring.Append)
	obs.Info("botd.start", obs.Fields{
		"version": version, "go": runtime.Version(), "control": cfg.ControlAddr,
		"metrics": cfg.MetricsAddr, "gateway": cfg.Gateway, "window": cfg.Window.String(), "ticks": cfg.Ticks,
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	state := &daemonState{}
	go startMetricsServer(cfg.MetricsAddr, state)

	board := notify.NewBoard()
	coord := verify.NewCoordinator(notify.NewChallengeNotifier(board), verify.WithTimeout(cfg.ChallengeTimeout))

	mgr, err := scripts.Open(cfg.ScriptsDir)
	if err != nil {
		obs.Error("scripts.open", obs.Fields{"err": err, "dir": cfg.ScriptsDir})
		os.Exit(1)
	}

	src := newPushSource()
	if src != nil {
		defer src.Close()
	}

	sup := supervisor.New(supervisor.Config{
		Version:     version,
		Span:        cfg.Window,
		Ticks:       cfg.Ticks,
		Grace:       cfg.Grace,
		AvatarRetry: cfg.AvatarRetry,
	}, supervisor.Deps{
		Dial: func(ctx context.Context, p supervisor.Params) (supervisor.Session, error) {
			return gateway.Dial(ctx, cfg.Gateway, p, coord)
		},
		KeepAlive: supervisor.NewLockFile(filepath.Join(cfg.DataDir, "botd.lock")),
		Receivers: pushReceivers(src),
		Renderer:  board,
		Verifier:  coord,
		Scripts:   mgr,
		Exit:      cancel,
	})

	dispatcher := command.NewDispatcher()
	if err := command.RegisterDefaults(dispatcher, command.Defaults{
		Status:  sup.StatusText,
		Scripts: mgr,
		Send:    sup.Send,
		Login: func(account, hexPassword string) error {
			p, err := supervisor.ParamsFromHex(account, hexPassword)
			if err != nil {
				return err
			}
			return sup.Login(p)
		},
	}); err != nil {
		obs.Error("command.register", obs.Fields{"err": err})
		os.Exit(1)
	}

	api := &control.API{
		Surface: control.NewSurface(control.Deps{
			Commands: dispatcher,
			Logs:     ring,
			Verifier: coord,
			Scripts:  mgr,
			Status:   sup,
			Stop:     sup.Stop,
		}),
		Version:       version,
		Notifications: board.List,
		Shutdown: func(context.Context) error {
			cancel()
			return nil
		},
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           control.TokenAuthMiddleware(cfg.Token, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("control.listen", obs.Fields{"err": err, "addr": cfg.ControlAddr})
			cancel()
		}
	}()

	var params supervisor.Params
	if cfg.Account != "" {
		p, err := supervisor.ParamsFromHex(cfg.Account, cfg.Password)
		if err != nil {
			obs.Error("botd.autologin", obs.Fields{"err": err, "account": cfg.Account})
		} else {
			params = p
		}
	}
	if err := sup.Start(params); err != nil {
		obs.Error("supervisor.start", obs.Fields{"err": err})
	}
	if src != nil {
		go runStatusPublisher(ctx, src, sup.Report, cfg.Window/time.Duration(max(cfg.Ticks, 1)))
	}

	state.setReady(true)
	obs.Info("botd.ready", obs.Fields{})

	<-ctx.Done()
	obs.Info("botd.shutdown.signal", obs.Fields{})
	state.setClosing(true)
	sup.Stop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Error("control.shutdown", obs.Fields{"err": err})
	}
	obs.SetMirror(nil)
	obs.Info("botd.shutdown.complete", obs.Fields{})
}
