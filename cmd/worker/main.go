// Package main provides the entrypoint for the weatherdash refresh worker. It
// refreshes the shared snapshot on schedule and on Pub/Sub triggers, and
// serves health and metrics endpoints.
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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/weatherdash/weatherdash/internal/api/handler"
	"github.com/weatherdash/weatherdash/internal/api/middleware"
	"github.com/weatherdash/weatherdash/internal/app"
	"github.com/weatherdash/weatherdash/internal/config"
	"github.com/weatherdash/weatherdash/internal/scheduler"
	"github.com/weatherdash/weatherdash/internal/telemetry"
	"github.com/weatherdash/weatherdash/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "weatherdash-worker"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped with an error")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		log = log.Level(level)
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("store", cfg.Store.Backend).
		Msg("starting weatherdash worker")

	if cfg.Store.Backend == config.StoreMemory {
		log.Warn().Msg("worker uses the in-memory store, refreshed snapshots are not shared")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Insecure:       cfg.Telemetry.Insecure,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	container, err := app.New(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer container.Close()

	zone, err := cfg.TimeLocation()
	if err != nil {
		return fmt.Errorf("resolve timezone: %w", err)
	}
	sched, err := scheduler.New(scheduler.Config{
		TickSpec:    cfg.Schedule.TickSpec,
		RefreshSpec: cfg.Schedule.RefreshSpec,
		Location:    zone,
		Logger:      log,
	}, container.Dashboard, container.RefreshJob)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      healthRouter(log, container),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return sched.Start(gctx)
	})

	if cfg.PubSub.Enabled() {
		pubsubHandler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			MaxOutstanding:   cfg.PubSub.MaxOutstanding,
			MaxExtension:     cfg.PubSub.MaxExtension,
			RefreshJob:       container.RefreshJob,
			Logger:           log,
		})
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("initialize pubsub: %w", err)
		}
		defer func() {
			if err := pubsubHandler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		g.Go(func() error {
			if err := pubsubHandler.Start(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("pubsub receive: %w", err)
			}
			return nil
		})
	} else {
		log.Info().Msg("PUBSUB_PROJECT_ID not set, refreshing on schedule only")
	}

	err = g.Wait()
	log.Info().Msg("worker stopped")
	return err
}

func healthRouter(log zerolog.Logger, c *app.Container) http.Handler {
	ops := handler.NewOpsHandler(handler.OpsConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Dashboard:    c.Dashboard,
		Providers:    c.Providers,
		Caches:       c.Caches,
		Refresh:      c.RefreshJob,
		Dependencies: c.Dependencies,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.Get("/health", ops.HealthCheck)
	r.Get("/ready", ops.ReadinessCheck)
	r.Get("/status", ops.SystemStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
