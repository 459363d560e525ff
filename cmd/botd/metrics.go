package main

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matst80/botwarden/internal/obs"
)

// daemonState tracks readiness for /readyz.
type daemonState struct {
	ready   atomic.Bool
	closing atomic.Bool
}

func (s *daemonState) setReady(v bool)   { s.ready.Store(v) }
func (s *daemonState) setClosing(v bool) { s.closing.Store(v) }
func (s *daemonState) isReady() bool     { return s.ready.Load() }
func (s *daemonState) isClosing() bool   { return s.closing.Load() }

// startMetricsServer serves Prometheus metrics and simple health endpoints.
func startMetricsServer(addr string, state *daemonState) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if state.isClosing() || !state.isReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
	}
}
