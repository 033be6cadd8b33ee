package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"warden/internal/ids"
	"warden/internal/mail"
	"warden/internal/models"
	"warden/internal/repository"
	"warden/internal/security"
)

const opaqueTokenBytes = 32

// EphemeralTokens issues and redeems the single-use password reset and email
// verification tokens. Only a hash of each token is stored.
type EphemeralTokens struct {
	users    repository.UserStore
	tokens   repository.TokenStore
	hasher   *security.PasswordHasher
	mailer   mail.Dispatcher
	lockout  *LockoutGuard
	resetTTL time.Duration
	verifTTL time.Duration
	now      Clock
	log      zerolog.Logger
}

func NewEphemeralTokens(deps Dependencies, lockout *LockoutGuard) *EphemeralTokens {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = mail.NewLogDispatcher(deps.Log)
	}
	return &EphemeralTokens{
		users:    deps.Store.Users,
		tokens:   deps.Store.Tokens,
		hasher:   deps.Hasher,
		mailer:   mailer,
		lockout:  lockout,
		resetTTL: deps.Security.PasswordResetTTL,
		verifTTL: deps.Security.EmailVerificationTTL,
		now:      now,
		log:      deps.Log,
	}
}

// RequestReset sends a password reset link. The result is nil whether or not
// the email belongs to an account.
func (e *EphemeralTokens) RequestReset(ctx context.Context, email string) error {
	return e.request(ctx, email, models.TokenKindPasswordReset, e.resetTTL, e.mailer.SendPasswordResetEmail)
}

// RequestVerification sends an email verification link. Already verified and
// unknown addresses get the same nil result.
func (e *EphemeralTokens) RequestVerification(ctx context.Context, email string) error {
	return e.request(ctx, email, models.TokenKindEmailVerification, e.verifTTL, e.mailer.SendVerificationEmail)
}

type sendFunc func(ctx context.Context, email, token string) error

func (e *EphemeralTokens) request(ctx context.Context, email string, kind models.TokenKind, ttl time.Duration, send sendFunc) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: email required", ErrInvalidInput)
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		return nil
	}
	if kind == models.TokenKindEmailVerification && user.EmailVerified {
		return nil
	}

	if _, err := e.tokens.RevokeAllForOwner(ctx, user.ID, kind); err != nil {
		return fmt.Errorf("revoke outstanding %s tokens: %w", kind, err)
	}

	raw, err := security.GenerateOpaque(opaqueTokenBytes)
	if err != nil {
		return err
	}
	now := e.now()
	record := models.Token{
		ID:        ids.New(),
		OwnerID:   user.ID,
		Kind:      kind,
		ValueHash: security.HashToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := e.tokens.Create(ctx, record); err != nil {
		return fmt.Errorf("persist %s token: %w", kind, err)
	}

	if err := send(ctx, user.Email, raw); err != nil {
		e.log.Error().Err(err).Str("user_id", user.ID).Str("kind", string(kind)).Msg("email dispatch failed")
		return nil
	}
	e.log.Info().Str("user_id", user.ID).Str("kind", string(kind)).Msg("ephemeral token issued")
	return nil
}

// Consume redeems a token of the given kind and returns its owner. A token
// can be redeemed once; every other attempt gets ErrTokenRevokedOrUnknown.
func (e *EphemeralTokens) Consume(ctx context.Context, token string, kind models.TokenKind) (string, error) {
	if !kind.Ephemeral() {
		return "", fmt.Errorf("%w: %s is not a single-use kind", ErrInvalidInput, kind)
	}
	if token == "" {
		return "", ErrTokenRevokedOrUnknown
	}
	record, err := e.tokens.Consume(ctx, security.HashToken(token), kind, e.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrTokenRevokedOrUnknown
		}
		return "", fmt.Errorf("consume %s token: %w", kind, err)
	}
	return record.OwnerID, nil
}

// ResetPassword sets a new password from a reset token, clears any lockout
// and ends every session of the account.
func (e *EphemeralTokens) ResetPassword(ctx context.Context, token, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password required", ErrInvalidInput)
	}
	// Hash before consuming so a hashing failure does not burn the token.
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return err
	}

	userID, err := e.Consume(ctx, token, models.TokenKindPasswordReset)
	if err != nil {
		return err
	}

	if err := e.users.UpdatePassword(ctx, userID, hash, e.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenRevokedOrUnknown
		}
		return fmt.Errorf("update password: %w", err)
	}
	if err := e.lockout.RecordSuccess(ctx, userID); err != nil {
		return err
	}
	n, err := e.tokens.RevokeAllForOwner(ctx, userID, models.TokenKindRefresh)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	e.log.Info().Str("user_id", userID).Int64("sessions_revoked", n).Msg("password reset")
	return nil
}

func (e *EphemeralTokens) VerifyEmail(ctx context.Context, token string) error {
	userID, err := e.Consume(ctx, token, models.TokenKindEmailVerification)
	if err != nil {
		return err
	}
	if err := e.users.MarkEmailVerified(ctx, userID, e.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenRevokedOrUnknown
		}
		return fmt.Errorf("mark email verified: %w", err)
	}
	e.log.Info().Str("user_id", userID).Msg("email verified")
	return nil
}
