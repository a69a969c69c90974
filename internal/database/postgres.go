package database

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"newsletter-go/internal/config"
)

const DriverName = "pgx"

// Open builds the shared connection pool and verifies connectivity before
// returning it. Callers own the pool and must Close it.
func Open(ctx context.Context, settings config.DatabaseSettings) (*sqlx.DB, error) {
	return OpenDSN(ctx, settings.ConnectionString(), settings)
}

// OpenDSN is Open with an explicit connection string; pool sizing still comes
// from settings.
func OpenDSN(ctx context.Context, dsn string, settings config.DatabaseSettings) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("database connection string is empty")
	}

	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection pool: %w", err)
	}

	db.SetMaxOpenConns(settings.MaxOpenConns)
	db.SetMaxIdleConns(settings.MaxIdleConns)
	db.SetConnMaxLifetime(settings.ConnMaxLifetime)

	pingCtx := ctx
	if settings.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, settings.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}
