package models

import "time"

type TokenKind string

const (
	TokenKindAccess            TokenKind = "access"
	TokenKindRefresh           TokenKind = "refresh"
	TokenKindPasswordReset     TokenKind = "password_reset"
	TokenKindEmailVerification TokenKind = "email_verification"
)

func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindAccess, TokenKindRefresh, TokenKindPasswordReset, TokenKindEmailVerification:
		return true
	}
	return false
}

// Ephemeral kinds are opaque, single-use values rather than signed tokens.
func (k TokenKind) Ephemeral() bool {
	return k == TokenKindPasswordReset || k == TokenKindEmailVerification
}

// Token is a persisted refresh or ephemeral token. Only the SHA-256 of the
// bearer value is stored.
type Token struct {
	ID         string
	OwnerID    string
	Kind       TokenKind
	ValueHash  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	LastUsedAt *time.Time
}

func (t Token) ValidAt(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
