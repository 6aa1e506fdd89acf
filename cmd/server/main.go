package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainfetch/internal/app"
	"chainfetch/internal/config"
	"chainfetch/internal/logx"
	"chainfetch/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Config
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		return 1
	}

	log, flush, err := logx.New(cfg.Log.Backend, cfg.Log.Level)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		return 1
	}
	defer flush()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, metrics.New(reg))
	if err != nil {
		log.Error("startup failed", logx.Fields{"error": err})
		return 1
	}

	s := &server{
		co:      a.Coordinator,
		log:     log,
		maxWait: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
	}
	router := s.routes()
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(log, logRequests(log, limitBody(cfg.Server.MaxBodyBytes, router))))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.maxWait + 20*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", logx.Fields{"port": cfg.Server.Port, "chains": a.Coordinator.Chains()})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server stopped", logx.Fields{"error": err})
		code = 1
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := a.Close(shutdownCtx); err != nil {
		log.Warn("coordinator close", logx.Fields{"error": err})
	}
	log.Info("server stopped", nil)
	return code
}
