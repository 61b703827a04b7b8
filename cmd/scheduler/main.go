package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	contentplanPg "github.com/referkit/referkit/internal/contentplan/repository/postgres"
	"github.com/referkit/referkit/internal/platform/config"
	"github.com/referkit/referkit/internal/platform/database"
	"github.com/referkit/referkit/internal/platform/logger"
	"github.com/referkit/referkit/internal/platform/messagebroker"
	referralPg "github.com/referkit/referkit/internal/referral/repository/postgres"
	"github.com/referkit/referkit/internal/scheduler/app"
)

func main() {
	cfg, err := config.Load("scheduler")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New("scheduler", cfg.LogLevel)
	appLogger.Info("Scheduler service starting", "tick_interval", cfg.SchedulerTickInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := database.EnsureSchema(ctx, dbPool); err != nil {
		appLogger.Error("Failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "scheduler", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	entryRepo := contentplanPg.NewPgEntryRepository(dbPool, appLogger)
	userRepo := referralPg.NewPgUserRepository(dbPool, appLogger)

	scheduler := app.NewScheduler(entryRepo, userRepo, natsClient, appLogger, app.Config{
		TickInterval:   cfg.SchedulerTickInterval,
		BatchSize:      cfg.SchedulerBatchSize,
		MaxAttempts:    cfg.DeliveryMaxAttempts,
		RepublishAfter: cfg.SchedulerRepublishAfter,
	})

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gCtx)
	})

	g.Go(func() error {
		appLogger.Info("Metrics server listening", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Scheduler service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Scheduler service shut down")
}
