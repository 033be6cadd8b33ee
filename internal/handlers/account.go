package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// ForgotPassword always answers 202 so callers cannot probe for accounts.
func (h HandlerSet) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.tokens.RequestReset(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.tokens.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) RequestEmailVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.tokens.RequestVerification(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h HandlerSet) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.tokens.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
