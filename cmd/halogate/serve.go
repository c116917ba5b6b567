package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/halogate/halogate"
	"github.com/halogate/halogate/internal/admin"
	"github.com/halogate/halogate/internal/logger"
	"github.com/halogate/halogate/internal/metric"
	"github.com/halogate/halogate/internal/tracing"
)

const gracefulShutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway's data-plane listener and admin surface",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := halogate.LoadConfig(resolveConfigPath())
	if err != nil {
		return err
	}

	log := logger.New(cfg.Debug)
	defer log.Sync() //nolint:errcheck

	tracer, err := tracing.New(context.Background(), tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Name,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Error("tracing shutdown failed", zap.Error(err))
		}
	}()

	var metrics metric.Metrics = metric.NewNop()
	if cfg.Admin.Enabled && cfg.Admin.Metrics {
		metrics = metric.NewPrometheus()
	}

	resolver := halogate.NewInMemoryResolver(cfg.Services)

	var dispatcherOpts []halogate.HTTPDispatcherOption
	dispatcherOpts = append(dispatcherOpts, halogate.WithDispatcherMetrics(metrics))

	if cfg.Breaker.Enabled {
		dispatcherOpts = append(dispatcherOpts,
			halogate.WithCircuitBreaker(cfg.Breaker.Threshold, cfg.Breaker.ResetTimeout, cfg.Breaker.IdleTTL))
	}

	dispatcher := halogate.NewHTTPDispatcher(resolver, log, dispatcherOpts...)
	defer dispatcher.Close()

	listener := halogate.NewListener(cfg.Listen.Addr, dispatcher, cfg.Listen.RequestTimeout, log, metrics)

	ln, err := net.Listen("tcp", cfg.Listen.Addr)
	if err != nil {
		return err
	}

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.New(cfg.Admin.Addr, cfg.Admin.Metrics, log)
		log.Info("admin server started", zap.String("addr", cfg.Admin.Addr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := listener.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}

		return nil
	})

	if adminSrv != nil {
		g.Go(func() error {
			if err := adminSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		log.Info("shutdown signal received")

		_ = ln.Close()

		if adminSrv == nil {
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		return adminSrv.Stop(shutdownCtx)
	})

	log.Info("gateway started", zap.String("addr", cfg.Listen.Addr))

	if err := g.Wait(); err != nil {
		log.Error("gateway exited with error", zap.Error(err))
	}

	log.Info("gateway stopped")

	return nil
}
