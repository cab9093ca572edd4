package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ccwatch/internal/config"
	"ccwatch/internal/middleware"
)

func registerRoutes(engine *gin.Engine, cfg *config.Config, h *handler) {
	engine.GET("/healthz", h.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gate := middleware.ManagementAuth(config.ManagementConfigured(cfg), config.ManagementKeyValidator(cfg))

	v0 := engine.Group("/v0")
	{
		v0.GET("/status", h.status)
		v0.GET("/usage", h.usage)
		v0.GET("/history", h.history)
		v0.GET("/events", h.events)

		// The refresh button works without a management key; it cannot
		// leak or destroy anything.
		v0.POST("/refresh", h.refresh)

		v0.GET("/agents", h.agents)
		v0.POST("/agents/cleanup", gate, h.cleanupAgents)
	}

	auth := v0.Group("/auth")
	auth.Use(gate)
	{
		auth.POST("/retry", h.retryUpstreamAccess)
		auth.POST("/reset", h.resetAuthentication)
		auth.PUT("/manual-key", h.putManualKey)
		auth.DELETE("/manual-key", h.deleteManualKey)
	}
}
