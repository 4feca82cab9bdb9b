package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"landscaper/internal/handler"
	"landscaper/internal/metrics"
	"landscaper/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Populate the landscape, follow events and serve the query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "query API listen address (overrides http.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	st, repo, err := a.openStore(ctx, m)
	if err != nil {
		return err
	}
	defer repo.Close()

	mgr, err := service.NewManager(a.cfg, st, a.logger, service.WithMetrics(m))
	if err != nil {
		return err
	}
	start := time.Now()
	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("initialise landscape: %w", err)
	}
	a.logger.Info("landscape initialised", zap.Duration("elapsed", time.Since(start)))

	graphSvc := service.NewGraphService(st, a.logger.Named("query"))
	h := handler.NewGraphHandler(graphSvc, repo, a.logger.Named("api"))
	server := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler.NewRouter(h, m, a.logger.Named("http")),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("query API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("query API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.logger.Info("stopped")
	return err
}
