package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crucial707/resource-scheduler/internal/config"
	"github.com/crucial707/resource-scheduler/internal/retry"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect opens the Postgres pool described by cfg and pings it, retrying with backoff
// so the API can start before the database is ready.
func Connect(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBUser, cfg.DBPass, cfg.DBSSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	policy := retry.DefaultPolicy
	policy.AttemptTimeout = 5 * time.Second
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("database not reachable", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database %s:%s/%s: %w", cfg.DBHost, cfg.DBPort, cfg.DBName, err)
	}
	return db, nil
}
