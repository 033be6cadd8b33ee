package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Cache       string `json:"cache"`
	Environment string `json:"environment"`
}

// Health reports 503 when the store is unreachable. Redis only backs mail
// delivery and the purge lease, so its failure degrades but does not fail.
func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Database:    "ok",
		Cache:       "disabled",
		Environment: h.cfg.Environment,
	}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "error"
		resp.Database = "error"
		status = http.StatusServiceUnavailable
		h.log.Error().Err(err).Msg("database ping failed")
	}

	if h.cache != nil {
		resp.Cache = "ok"
		if err := h.cache.Ping(ctx).Err(); err != nil {
			resp.Cache = "error"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			h.log.Error().Err(err).Msg("redis ping failed")
		}
	}

	c.JSON(status, resp)
}
