package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"permwatch/internal/platform/httpserver"
	"permwatch/internal/platform/metrics"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller, renewal scheduler and ops HTTP server until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	metrics.SetVersion(version)

	srv := httpserver.New(a.cfg.Server.Addr, httpserver.NewRouter(httpserver.Deps{
		Health:  a.kv,
		Stats:   a.events,
		Errors:  a.dispatcher,
		Metrics: metrics.Handler(),
		Logger:  a.logger,
	}))

	a.poller.Start()
	a.scheduler.Start()
	a.refresher.Start()
	a.logger.Info("permwatch started", "addr", a.cfg.Server.Addr, "version", version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		a.poller.Stop()
		a.scheduler.Stop()
		a.refresher.Stop()
		return err
	})
	return g.Wait()
}
