package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halverson/custodian/internal/api"
	"github.com/halverson/custodian/internal/api/handler"
	"github.com/halverson/custodian/internal/config"
	"github.com/halverson/custodian/internal/index"
	"github.com/halverson/custodian/internal/jobs"
	"github.com/halverson/custodian/internal/locks"
	"github.com/halverson/custodian/internal/logger"
	"github.com/halverson/custodian/internal/maintenance"
	"github.com/halverson/custodian/internal/repository"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	tracker := jobs.NewTracker(jobRepo, appLogger)

	// Jobs left active in the store belong to a dead process. Reconcile
	// them before the API can accept registrations.
	ctx := context.Background()
	reconciled, err := tracker.CleanupOrphanedJobsOnStartup(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to reconcile orphaned jobs")
	}
	if reconciled > 0 {
		appLogger.WithField(logger.FieldCount, reconciled).Warn("Marked orphaned jobs as failed")
	}

	lockManager := locks.NewWriteLockManager(appLogger)
	coordinator := maintenance.NewCoordinator(tracker, cfg.Jobs, appLogger)

	// Index degradation shows up in /health; an unreachable index at boot
	// is reported, not fatal.
	var indexChecker handler.IndexChecker
	if cfg.Index.Enabled {
		checker, err := index.NewChecker(&index.ConnectionConfig{
			Host:       cfg.Index.Host,
			Port:       cfg.Index.Port,
			Collection: cfg.Index.Collection,
			APIKey:     cfg.Index.APIKey,
			UseTLS:     cfg.Index.UseTLS,
		})
		if err != nil {
			appLogger.WithError(err).Warn("Index checker unavailable; health will report it disabled")
		} else {
			defer checker.Close()
			indexChecker = checker
		}
	}

	router := api.SetupRouter(tracker, lockManager, coordinator, indexChecker, cfg, appLogger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithField("port", cfg.Server.Port).Info("Starting custodian server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Forced shutdown")
	}
}
