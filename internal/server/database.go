package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	repo "github.com/joseph-ayodele/menu-allergens/internal/repository"
)

// ConnectDB opens the SQL record store described by cfg. An empty DSN means
// no SQL store and returns nil without error.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.DB, error) {
	if cfg.DSN == "" {
		logger.Info("no database configured")
		return nil, nil
	}
	logger.Info("connecting to database")
	db, err := repo.Open(ctx, repo.ConfigFrom(cfg), logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	logger.Info("successfully connected to database", "dialect", db.Dialect)
	return db, nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repo.DB, logger *slog.Logger, timeout time.Duration) error {
	logger.Debug("pinging database")
	if err := db.HealthCheck(ctx, timeout); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

// CloseDB closes the database connections gracefully
func CloseDB(db *repo.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	db.Close(logger)
	logger.Info("database connections closed")
}
