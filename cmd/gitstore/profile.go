package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"
)

// profiler serves pprof endpoints for the lifetime of one command.
type profiler struct {
	srv *http.Server
	log *slog.Logger
}

func startProfiler(addr string, log *slog.Logger) *profiler {
	mux := http.NewServeMux()
	// Registered explicitly so nothing depends on the default mux.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	p := &profiler{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
	go func() {
		if err := p.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("profiling server stopped", slog.String("addr", addr), slog.Any("err", err))
		}
	}()
	log.Info("profiling server started", slog.String("addr", addr))
	return p
}

// stop shuts the server down. It is safe on a nil profiler.
func (p *profiler) stop() {
	if p == nil || p.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.srv.Shutdown(ctx); err != nil {
		p.log.Warn("profiling server shutdown", slog.Any("err", err))
	}
	p.srv = nil
}
