package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"warden/internal/security"
)

const (
	// ClaimsKey holds the *security.Claims of an authenticated request.
	ClaimsKey = "access_claims"

	AccessTokenCookie = "access_token"
	accessTokenQuery  = "access_token"
)

type Authenticator interface {
	Authenticate(accessToken string) (*security.Claims, error)
}

// Auth requires a valid access token from the Authorization header, the
// access_token cookie or the access_token query parameter, in that order.
func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		claims, err := auth.Authenticate(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": tokenErrorCode(err)})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the claims stored by Auth.
func Claims(c *gin.Context) (*security.Claims, bool) {
	val, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := val.(*security.Claims)
	return claims, ok && claims != nil
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.Query(accessTokenQuery)
}

func tokenErrorCode(err error) string {
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, security.ErrTokenWrongKind):
		return "wrong_token_kind"
	default:
		return "invalid_token"
	}
}
