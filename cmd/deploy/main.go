package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/halverson/custodian/internal/auth"
	"github.com/halverson/custodian/internal/config"
	"github.com/halverson/custodian/internal/deploy"
	"github.com/halverson/custodian/internal/gitsync"
	"github.com/halverson/custodian/internal/index"
	"github.com/halverson/custodian/internal/logger"
	"github.com/halverson/custodian/internal/maintenance"
)

// The deployment executor is a single-shot invocation, typically driven by
// a systemd timer. The exit code feeds the process manager: 0 for
// up-to-date or deployed, non-zero for lock contention or a failed attempt.
func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	lock, err := deploy.NewFileLock(cfg.Deploy.LockFile)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to prepare deployment lock")
	}
	if err := lock.TryAcquire(); err != nil {
		if errors.Is(err, deploy.ErrLockHeld) {
			appLogger.Warn("Another deployment is in progress; exiting")
		} else {
			appLogger.WithError(err).Error("Could not acquire deployment lock")
		}
		os.Exit(1)
	}
	defer lock.Release()

	issuer, err := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		appLogger.WithError(err).Fatal("Control-channel auth not configured")
	}
	control := deploy.NewControlClient(cfg.Deploy.ControlBaseURL, issuer)

	syncer := gitsync.NewSyncer(gitsync.Options{
		RepoPath:           cfg.Deploy.RepoPath,
		Remote:             cfg.Deploy.Remote,
		RemoteURL:          cfg.Deploy.RemoteURL,
		TransientThreshold: cfg.Deploy.TransientFailureThreshold,
		StateFile:          cfg.Deploy.SyncStateFile,
	}, appLogger)

	var checker deploy.IntegrityChecker
	if cfg.Index.Enabled {
		c, err := index.NewChecker(&index.ConnectionConfig{
			Host:       cfg.Index.Host,
			Port:       cfg.Index.Port,
			Collection: cfg.Index.Collection,
			APIKey:     cfg.Index.APIKey,
			UseTLS:     cfg.Index.UseTLS,
		})
		if err != nil {
			appLogger.WithError(err).Warn("Index checker unavailable; skipping integrity verification")
		} else {
			defer c.Close()
			checker = c
		}
	}

	executor := deploy.NewExecutor(
		cfg.Deploy,
		control,
		syncer,
		deploy.NewStatusFile(cfg.Deploy.StatusFile),
		checker,
		maintenance.RecommendedDrainTimeout(cfg.Jobs),
		appLogger,
	)

	if err := executor.Run(context.Background()); err != nil {
		appLogger.WithError(err).Error("Deployment run failed")
		os.Exit(1)
	}
}
