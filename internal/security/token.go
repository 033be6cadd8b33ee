package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"warden/internal/ids"
	"warden/internal/models"
)

var (
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenWrongKind        = errors.New("token kind mismatch")
	ErrUnsupportedKind       = errors.New("token kind not signable")
)

// Claims is the signed payload of access and refresh tokens. Subject is the
// user id.
type Claims struct {
	Kind        models.TokenKind `json:"knd"`
	Email       string           `json:"email,omitempty"`
	RoleID      string           `json:"rid,omitempty"`
	Role        string           `json:"role,omitempty"`
	Permissions []string         `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

// TokenIssuer signs access and refresh tokens with HS512, one secret per
// kind.
type TokenIssuer struct {
	secrets map[models.TokenKind][]byte
	issuer  string
	now     func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret, issuer string, now func() time.Time) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token issuer: signing secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token issuer: access and refresh secrets must differ")
	}
	if now == nil {
		now = time.Now
	}

	return &TokenIssuer{
		secrets: map[models.TokenKind][]byte{
			models.TokenKindAccess:  []byte(accessSecret),
			models.TokenKindRefresh: []byte(refreshSecret),
		},
		issuer: issuer,
		now:    now,
	}, nil
}

// Issue signs claims as a token of the given kind. Kind, IssuedAt, ExpiresAt,
// Issuer and ID are always overwritten.
func (i *TokenIssuer) Issue(kind models.TokenKind, claims Claims, ttl time.Duration) (string, time.Time, error) {
	secret, ok := i.secrets[kind]
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	now := i.now()
	expiresAt := now.Add(ttl)

	claims.Kind = kind
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	claims.Issuer = i.issuer
	claims.ID = ids.New()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}

	// The numeric date drops sub-second precision; report what was signed.
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, expiry and kind. A token that is validly signed
// for a different kind fails with ErrTokenWrongKind.
func (i *TokenIssuer) Verify(raw string, expected models.TokenKind) (*Claims, error) {
	secret, ok := i.secrets[expected]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, expected)
	}

	claims, err := i.parse(raw, secret, true)
	switch {
	case err == nil:
		if claims.Kind != expected {
			return nil, ErrTokenWrongKind
		}
		return claims, nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if i.signedForOtherKind(raw, expected) {
			return nil, ErrTokenWrongKind
		}
		return nil, ErrTokenInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalidSignature, err)
	}
}

func (i *TokenIssuer) signedForOtherKind(raw string, expected models.TokenKind) bool {
	for kind, secret := range i.secrets {
		if kind == expected {
			continue
		}
		if _, err := i.parse(raw, secret, false); err == nil {
			return true
		}
	}
	return false
}

func (i *TokenIssuer) parse(raw string, secret []byte, validateClaims bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// DecodeUnsafe reads claims without checking the signature. Diagnostics only;
// never authorize on its result.
func DecodeUnsafe(raw string) (*Claims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("decode jwt: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("decode jwt: unexpected claims type")
	}
	return claims, nil
}

// GenerateOpaque returns n random bytes, base64url encoded.
func GenerateOpaque(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate opaque token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the lookup key stored in place of a bearer value.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
