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

	apihttp "github.com/referkit/referkit/internal/api/http"
	contentplanPg "github.com/referkit/referkit/internal/contentplan/repository/postgres"
	"github.com/referkit/referkit/internal/platform/config"
	"github.com/referkit/referkit/internal/platform/database"
	"github.com/referkit/referkit/internal/platform/logger"
	referralPg "github.com/referkit/referkit/internal/referral/repository/postgres"
)

func main() {
	cfg, err := config.Load("api")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New("api", cfg.LogLevel)
	appLogger.Info("API service starting", "port", cfg.APIPort)

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

	userRepo := referralPg.NewPgUserRepository(dbPool, appLogger)
	entryRepo := contentplanPg.NewPgEntryRepository(dbPool, appLogger)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      apihttp.NewRouter(userRepo, entryRepo, appLogger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("API server listening", "port", cfg.APIPort)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("API server shutdown failed", "error", err)
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("API service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("API service shut down")
}
