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
	"github.com/referkit/referkit/internal/dispatcher/app"
	"github.com/referkit/referkit/internal/platform/config"
	"github.com/referkit/referkit/internal/platform/database"
	"github.com/referkit/referkit/internal/platform/logger"
	"github.com/referkit/referkit/internal/platform/messagebroker"
	referralPg "github.com/referkit/referkit/internal/referral/repository/postgres"
	"github.com/referkit/referkit/internal/transport"
)

func main() {
	cfg, err := config.Load("dispatcher")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New("dispatcher", cfg.LogLevel)
	appLogger.Info("Dispatcher service starting",
		"workers", cfg.DispatcherWorkers, "transport", cfg.TransportDriver)

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

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, "dispatcher", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	sender, err := buildSender(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to configure transport", "error", err)
		os.Exit(1)
	}

	entryRepo := contentplanPg.NewPgEntryRepository(dbPool, appLogger)
	userRepo := referralPg.NewPgUserRepository(dbPool, appLogger)

	dispatcherCfg := app.Config{
		Workers:         cfg.DispatcherWorkers,
		QueueGroup:      cfg.DispatcherQueueGroup,
		DispatchTimeout: cfg.DispatchTimeout,
		MaxAttempts:     cfg.DeliveryMaxAttempts,
	}
	dispatcher := app.NewDispatcher(entryRepo, userRepo, sender, appLogger, dispatcherCfg)
	consumer := app.NewConsumer(dispatcher, natsClient, appLogger, dispatcherCfg)

	if err := consumer.Start(ctx); err != nil {
		appLogger.Error("Failed to start delivery job consumer", "error", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Metrics server listening", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		consumer.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Dispatcher service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Dispatcher service shut down")
}

func buildSender(cfg *config.Config, appLogger *slog.Logger) (transport.Sender, error) {
	switch cfg.TransportDriver {
	case "telegram":
		if cfg.TelegramBotToken == "" {
			return nil, errors.New("APP_TELEGRAM_BOT_TOKEN is required for the telegram transport")
		}
		return transport.NewTelegramSender(appLogger, cfg.TelegramBotToken, "", nil), nil
	case "mock":
		return transport.NewMockSender(appLogger, cfg.MockTransportFailRate, 5, 50), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", cfg.TransportDriver)
	}
}
