package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"warden/internal/config"
	"warden/internal/middleware"
	"warden/internal/models"
	"warden/internal/service"
)

// Request bodies name every field they may set; unknown ones are errors.
func init() {
	binding.EnableDecoderDisallowUnknownFields = true
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	sessions *service.SessionManager
	roles    *service.RoleService
	lockout  *service.LockoutGuard
	tokens   *service.EphemeralTokens
	db       Pinger
	cache    *redis.Client
	now      func() time.Time
}

// NewHandlerSet wires the HTTP surface to the services. cache may be nil when
// Redis is not configured.
func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, svc *service.Services, db Pinger, cache *redis.Client) HandlerSet {
	return HandlerSet{
		log:      log,
		cfg:      cfg,
		sessions: svc.Sessions,
		roles:    svc.Roles,
		lockout:  svc.Lockout,
		tokens:   svc.Ephemeral,
		db:       db,
		cache:    cache,
		now:      time.Now,
	}
}

func (h HandlerSet) Routes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
		auth.POST("/password/forgot", h.ForgotPassword)
		auth.POST("/password/reset", h.ResetPassword)
		auth.POST("/email/request", h.RequestEmailVerification)
		auth.POST("/email/verify", h.VerifyEmail)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.sessions))
		protected.GET("/me", middleware.RequirePermission(models.PermissionProfileRead), h.Me)
		protected.POST("/logout-all", h.LogoutAll)
		protected.PUT("/password", middleware.RequirePermission(models.PermissionProfileUpdate), h.ChangePassword)
		protected.DELETE("/account", h.DeleteAccount)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.Auth(h.sessions))
	{
		roles := admin.Group("/roles", middleware.RequirePermission(models.PermissionRolesManage))
		roles.POST("", h.CreateRole)
		roles.GET("/:id", h.GetRole)
		roles.PATCH("/:id", h.UpdateRole)
		roles.DELETE("/:id", h.DeleteRole)
		roles.POST("/:id/default", h.SetDefaultRole)

		users := admin.Group("/users", middleware.RequirePermission(models.PermissionUsersManage))
		users.PUT("/:id/role", h.AssignRole)
		users.PUT("/:id/status", h.SetUserStatus)
		users.POST("/:id/unlock", h.UnlockUser)
	}
}
