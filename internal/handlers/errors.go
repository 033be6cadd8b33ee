package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"warden/internal/security"
	"warden/internal/service"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrAccountInactive, http.StatusForbidden, "account_inactive"},
	{service.ErrTokenRevokedOrUnknown, http.StatusUnauthorized, "token_revoked"},
	{security.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{security.ErrTokenWrongKind, http.StatusUnauthorized, "wrong_token_kind"},
	{security.ErrTokenInvalidSignature, http.StatusUnauthorized, "invalid_token"},
	{service.ErrImmutableRole, http.StatusConflict, "immutable_role"},
	{service.ErrRoleInUse, http.StatusConflict, "role_in_use"},
	{service.ErrRoleInactive, http.StatusConflict, "role_inactive"},
	{service.ErrConflict, http.StatusConflict, "conflict"},
	{service.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{service.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_request"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrNoDefaultRole, http.StatusServiceUnavailable, "registration_unavailable"},
}

// writeError maps a service error to its status. Anything unrecognised is a
// 500 whose detail stays in the log.
func (h HandlerSet) writeError(c *gin.Context, err error) {
	var locked *service.LockedError
	if errors.As(err, &locked) {
		wait := locked.Until.Sub(h.now()).Seconds()
		c.Header("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait)))))
		c.AbortWithStatusJSON(http.StatusLocked, errorResponse{Error: "account_locked"})
		return
	}

	for _, mapping := range errorStatuses {
		if errors.Is(err, mapping.err) {
			resp := errorResponse{Error: mapping.code}
			if mapping.status == http.StatusBadRequest || mapping.status == http.StatusConflict {
				resp.Message = err.Error()
			}
			c.AbortWithStatusJSON(mapping.status, resp)
			return
		}
	}

	h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()})
}
