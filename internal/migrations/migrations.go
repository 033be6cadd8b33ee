package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Up applies every pending migration for the dialect. A provider is built
// per call, so tests can migrate many databases in parallel.
func Up(ctx context.Context, db *sql.DB, dialect Dialect, log zerolog.Logger) error {
	var gooseDialect goose.Dialect
	switch dialect {
	case Postgres:
		gooseDialect = goose.DialectPostgres
	case SQLite:
		gooseDialect = goose.DialectSQLite3
	default:
		return fmt.Errorf("migrations: unknown dialect %q", dialect)
	}

	fsys, err := fs.Sub(files, string(dialect))
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: new provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}

	for _, result := range results {
		log.Info().
			Str("dialect", string(dialect)).
			Int64("version", result.Source.Version).
			Dur("took", result.Duration).
			Msg("migration applied")
	}
	return nil
}
