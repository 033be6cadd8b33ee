// Package sqlite implements the repository contract over database/sql and
// mattn/go-sqlite3. Timestamps are stored as fixed-width UTC text so that
// SQL comparisons order them correctly.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"warden/internal/repository"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// New returns the stores backed by db. The schema must already be migrated.
func New(db *sql.DB) repository.Set {
	return repository.Set{
		Users:  NewUserRepository(db),
		Roles:  NewRoleRepository(db),
		Tokens: NewTokenRepository(db),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable[T any](value *T) any {
	if value == nil {
		return nil
	}
	return *value
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

func isUniqueViolation(err error) bool {
	return isConstraint(err, sqlite3.ErrConstraintUnique) || isConstraint(err, sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyViolation(err error) bool {
	return isConstraint(err, sqlite3.ErrConstraintForeignKey)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}
