package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"warden/internal/models"
	"warden/internal/repository"
)

const tokenColumns = `id, owner_id, kind, value_hash, issued_at, expires_at, revoked, last_used_at`

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Create(ctx context.Context, token models.Token) error {
	const query = `
		INSERT INTO tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		token.ID,
		token.OwnerID,
		string(token.Kind),
		token.ValueHash,
		token.IssuedAt,
		token.ExpiresAt,
		token.Revoked,
		token.LastUsedAt,
	)
	switch pgCode(err) {
	case uniqueViolation:
		return repository.ErrConflict
	case foreignKeyViolation:
		return repository.ErrNotFound
	}
	return err
}

func (r *TokenRepository) FindValid(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error) {
	const query = `
		SELECT ` + tokenColumns + ` FROM tokens
		WHERE value_hash = $1 AND kind = $2 AND NOT revoked AND expires_at > $3
	`
	return scanToken(r.pool.QueryRow(ctx, query, valueHash, string(kind), now))
}

func (r *TokenRepository) Touch(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error) {
	const query = `
		UPDATE tokens SET last_used_at = $3
		WHERE value_hash = $1 AND kind = $2 AND NOT revoked AND expires_at > $3
		RETURNING ` + tokenColumns
	return scanToken(r.pool.QueryRow(ctx, query, valueHash, string(kind), now))
}

// Consume relies on UPDATE re-checking its WHERE clause after waiting on a
// concurrent writer, so only the first caller sees revoked = FALSE.
func (r *TokenRepository) Consume(ctx context.Context, valueHash string, kind models.TokenKind, now time.Time) (models.Token, error) {
	const query = `
		UPDATE tokens SET revoked = TRUE, last_used_at = $3
		WHERE value_hash = $1 AND kind = $2 AND NOT revoked AND expires_at > $3
		RETURNING ` + tokenColumns
	return scanToken(r.pool.QueryRow(ctx, query, valueHash, string(kind), now))
}

func (r *TokenRepository) Revoke(ctx context.Context, valueHash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE tokens SET revoked = TRUE WHERE value_hash = $1 AND NOT revoked`, valueHash)
	return err
}

func (r *TokenRepository) RevokeAllForOwner(ctx context.Context, ownerID string, kind models.TokenKind) (int64, error) {
	const query = `
		UPDATE tokens SET revoked = TRUE
		WHERE owner_id = $1 AND NOT revoked AND ($2 = '' OR kind = $2)
	`
	cmd, err := r.pool.Exec(ctx, query, ownerID, string(kind))
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *TokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tokens WHERE revoked OR expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanToken(row pgx.Row) (models.Token, error) {
	var (
		token models.Token
		kind  string
	)
	if err := row.Scan(
		&token.ID,
		&token.OwnerID,
		&kind,
		&token.ValueHash,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.Revoked,
		&token.LastUsedAt,
	); err != nil {
		return models.Token{}, notFound(err)
	}
	token.Kind = models.TokenKind(kind)
	return token, nil
}
