package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"warden/internal/middleware"
	"warden/internal/models"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	RoleID        string    `json:"roleId"`
	EmailVerified bool      `json:"emailVerified"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:            user.ID,
		Email:         user.Email,
		RoleID:        user.RoleID,
		EmailVerified: user.EmailVerified,
		IsActive:      user.IsActive,
		CreatedAt:     user.CreatedAt,
	}
}

func (h HandlerSet) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.sessions.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := h.tokens.RequestVerification(c.Request.Context(), user.Email); err != nil {
		h.log.Warn().Err(err).Str("user_id", user.ID).Msg("verification request after register failed")
	}

	c.JSON(http.StatusCreated, gin.H{"user": newUserResponse(user)})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	AccessToken      string       `json:"accessToken"`
	AccessExpiresAt  time.Time    `json:"accessExpiresAt"`
	RefreshToken     string       `json:"refreshToken"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	Role             string       `json:"role"`
	Permissions      []string     `json:"permissions"`
	User             userResponse `json:"user"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setAccessCookie(c, result.AccessToken, result.AccessExpiresAt)
	c.JSON(http.StatusOK, loginResponse{
		AccessToken:      result.AccessToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshToken:     result.RefreshToken,
		RefreshExpiresAt: result.RefreshExpiresAt,
		Role:             result.Role,
		Permissions:      nonNil(result.Permissions),
		User:             newUserResponse(result.User),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setAccessCookie(c, result.AccessToken, result.AccessExpiresAt)
	c.JSON(http.StatusOK, gin.H{
		"accessToken":     result.AccessToken,
		"accessExpiresAt": result.AccessExpiresAt,
		"permissions":     nonNil(result.Permissions),
	})
}

func (h HandlerSet) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.sessions.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.writeError(c, err)
		return
	}

	h.clearAccessCookie(c)
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) LogoutAll(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	n, err := h.sessions.LogoutAll(c.Request.Context(), claims.UserID())
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.clearAccessCookie(c)
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h HandlerSet) Me(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	user, role, err := h.sessions.Profile(c.Request.Context(), claims.UserID())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":        newUserResponse(user),
		"role":        role.Name,
		"permissions": nonNil(claims.Permissions),
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8"`
}

func (h HandlerSet) ChangePassword(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.sessions.ChangePassword(c.Request.Context(), claims.UserID(), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) DeleteAccount(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	if err := h.sessions.DeleteAccount(c.Request.Context(), claims.UserID()); err != nil {
		h.writeError(c, err)
		return
	}

	h.clearAccessCookie(c)
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) setAccessCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(h.now()).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, token, maxAge, "/", "", h.cfg.Environment == "production", true)
}

func (h HandlerSet) clearAccessCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", "", h.cfg.Environment == "production", true)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
