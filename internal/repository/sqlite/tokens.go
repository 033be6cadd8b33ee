package sqlite

import (
	"context"
	"database/sql"
	"time"

	"warden/internal/models"
	"warden/internal/repository"
)

const tokenColumns = `id, owner_id, kind, value_hash, issued_at, expires_at, revoked, last_used_at`

type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, token models.Token) error {
	const query = `
		INSERT INTO tokens (` + tokenColumns + `)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.OwnerID,
		string(token.Kind),
		token.ValueHash,
		formatTime(token.IssuedAt),
		formatTime(token.ExpiresAt),
		token.Revoked,
		formatTimePtr(token.LastUsedAt),
	)
	switch {
	case isUniqueViolation(err):
		return repository.ErrConflict
	case isForeignKeyViolation(err):
		return repository.ErrNotFound
	}
	return err
}

func (r *TokenRepository) FindValid(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error) {
	const query = `
		SELECT ` + tokenColumns + ` FROM tokens
		WHERE value_hash = ?1 AND kind = ?2 AND revoked = 0 AND expires_at > ?3
	`
	return scanToken(r.db.QueryRowContext(ctx, query, valueHash, string(kind), formatTime(now)))
}

func (r *TokenRepository) Touch(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error) {
	const query = `
		UPDATE tokens SET last_used_at = ?3
		WHERE value_hash = ?1 AND kind = ?2 AND revoked = 0 AND expires_at > ?3
		RETURNING ` + tokenColumns
	return scanToken(r.db.QueryRowContext(ctx, query, valueHash, string(kind), formatTime(now)))
}

func (r *TokenRepository) Consume(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error) {
	const query = `
		UPDATE tokens SET revoked = 1, last_used_at = ?3
		WHERE value_hash = ?1 AND kind = ?2 AND revoked = 0 AND expires_at > ?3
		RETURNING ` + tokenColumns
	return scanToken(r.db.QueryRowContext(ctx, query, valueHash, string(kind), formatTime(now)))
}

func (r *TokenRepository) Revoke(ctx context.Context, valueHash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE value_hash = ?1 AND revoked = 0`, valueHash)
	return err
}

// RevokeAllForOwner revokes every live token of kind, or of every kind when
// kind is empty.
func (r *TokenRepository) RevokeAllForOwner(ctx context.Context, ownerID string, kind models.TokenKind) (int64, error) {
	const query = `
		UPDATE tokens SET revoked = 1
		WHERE owner_id = ?1 AND revoked = 0 AND (?2 = '' OR kind = ?2)
	`
	result, err := r.db.ExecContext(ctx, query, ownerID, string(kind))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE revoked = 1 OR expires_at <= ?1`, formatTime(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanToken(row scanner) (models.Token, error) {
	var (
		token               models.Token
		kind                string
		issuedAt, expiresAt string
		lastUsedAt          sql.NullString
	)
	if err := row.Scan(
		&token.ID,
		&token.OwnerID,
		&kind,
		&token.ValueHash,
		&issuedAt,
		&expiresAt,
		&token.Revoked,
		&lastUsedAt,
	); err != nil {
		return models.Token{}, notFound(err)
	}
	token.Kind = models.TokenKind(kind)

	var err error
	if token.IssuedAt, err = parseTime(issuedAt); err != nil {
		return models.Token{}, err
	}
	if token.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return models.Token{}, err
	}
	if token.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return models.Token{}, err
	}
	return token, nil
}
