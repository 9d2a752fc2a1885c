package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencdms/opencdms-process/internal/core/health"
	middleware "github.com/opencdms/opencdms-process/internal/core/middleware"
	"github.com/opencdms/opencdms-process/internal/core/router"
)

type Options struct {
	Addr    string
	Host    *router.Host
	Ready   health.Checks
	Metrics http.Handler
	// WriteTimeout must exceed the host's process timeout.
	WriteTimeout time.Duration
}

// Handler builds the chi router with health, metrics and host routes.
func Handler(logger *slog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Ready))
	if opts.Metrics != nil {
		r.Get("/metrics", opts.Metrics.ServeHTTP)
	}
	opts.Host.Mount(r)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, logger *slog.Logger, opts Options) error {
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = 60 * time.Second
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           Handler(logger, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      wt,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", opts.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
