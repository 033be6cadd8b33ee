// Package storage is the one place that chooses a repository adapter.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"warden/internal/config"
	"warden/internal/database"
	"warden/internal/migrations"
	"warden/internal/repository"
	"warden/internal/repository/postgres"
	"warden/internal/repository/sqlite"
)

// Backend is a migrated, connected store ready to hand to services.
type Backend struct {
	repository.Set

	Driver string
	pool   *pgxpool.Pool
	db     *sql.DB
}

// Open connects to the configured driver and applies pending migrations.
func Open(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		db := stdlib.OpenDBFromPool(pool)
		if err := migrations.Up(ctx, db, migrations.Postgres, log); err != nil {
			db.Close()
			pool.Close()
			return nil, err
		}
		return &Backend{Set: postgres.New(pool), Driver: cfg.Driver, pool: pool, db: db}, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		if err := migrations.Up(ctx, db, migrations.SQLite, log); err != nil {
			db.Close()
			return nil, err
		}
		return &Backend{Set: sqlite.New(db), Driver: cfg.Driver, db: db}, nil

	default:
		return nil, fmt.Errorf("storage driver %q is not supported", cfg.Driver)
	}
}

func (b *Backend) Ping(ctx context.Context) error {
	if b.pool != nil {
		return b.pool.Ping(ctx)
	}
	return b.db.PingContext(ctx)
}

func (b *Backend) Close() {
	if b.db != nil {
		b.db.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
