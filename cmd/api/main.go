// Package main provides the entrypoint for the weatherdash server.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/api"
	"github.com/weatherdash/weatherdash/internal/api/middleware"
	"github.com/weatherdash/weatherdash/internal/app"
	"github.com/weatherdash/weatherdash/internal/config"
	"github.com/weatherdash/weatherdash/internal/scheduler"
	"github.com/weatherdash/weatherdash/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "weatherdash"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("weatherdash stopped with an error")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.App.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	log = log.Level(level)

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.App.Env).
		Msg("starting weatherdash")

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

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

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

	router := api.NewRouter(api.RouterConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Logger:       log,
		Metrics:      metrics,
		Dashboard:    container.Dashboard,
		Refresher:    container.RefreshJob,
		Providers:    container.Providers,
		Caches:       container.Caches,
		RefreshStats: container.RefreshJob,
		Dependencies: container.Dependencies,
		RefreshRate:  cfg.Server.RefreshRate,
		RequireTLS:   cfg.Server.RequireTLS,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Start(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped with an error")
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		<-schedDone
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	<-schedDone

	log.Info().Msg("server stopped")
	return nil
}
