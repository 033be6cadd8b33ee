package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"warden/internal/models"
	"warden/internal/service"
)

type roleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	IsSystem    bool      `json:"isSystem"`
	IsDefault   bool      `json:"isDefault"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newRoleResponse(role models.Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Permissions: nonNil(role.Permissions),
		IsSystem:    role.IsSystem,
		IsDefault:   role.IsDefault,
		IsActive:    role.IsActive,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

type createRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	Default     bool     `json:"default"`
}

func (h HandlerSet) CreateRole(c *gin.Context) {
	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	role, err := h.roles.Create(c.Request.Context(), service.RoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Default:     req.Default,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"role": newRoleResponse(role)})
}

func (h HandlerSet) GetRole(c *gin.Context) {
	role, err := h.roles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": newRoleResponse(role)})
}

// updateRoleRequest lists every mutable field; anything else in the body is
// rejected by the decoder.
type updateRoleRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Permissions *[]string `json:"permissions"`
	IsActive    *bool     `json:"isActive"`
}

func (h HandlerSet) UpdateRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	role, err := h.roles.Mutate(c.Request.Context(), c.Param("id"), models.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": newRoleResponse(role)})
}

func (h HandlerSet) DeleteRole(c *gin.Context) {
	if err := h.roles.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) SetDefaultRole(c *gin.Context) {
	if err := h.roles.SetDefault(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignRoleRequest struct {
	RoleID string `json:"roleId" binding:"required"`
}

func (h HandlerSet) AssignRole(c *gin.Context) {
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.sessions.AssignRole(c.Request.Context(), c.Param("id"), req.RoleID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type userStatusRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h HandlerSet) SetUserStatus(c *gin.Context) {
	var req userStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.sessions.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) UnlockUser(c *gin.Context) {
	if err := h.lockout.Unlock(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
