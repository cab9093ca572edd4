// Package server exposes the daemon's HTTP surface: status and usage
// reads, the event stream, and the management operations that drive the
// credential store and refresh orchestrator.
package server

import (
	"net"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"ccwatch/internal/agentproc"
	"ccwatch/internal/config"
	"ccwatch/internal/credential"
	"ccwatch/internal/events"
	"ccwatch/internal/history"
	"ccwatch/internal/middleware"
	"ccwatch/internal/refresh"
	"ccwatch/internal/runtime"
)

// Dependencies are the runtime services the HTTP surface drives.
type Dependencies struct {
	Credentials  *credential.Store
	Orchestrator *refresh.Orchestrator
	History      *history.Store // nil when history is disabled
	Hub          *events.Hub
	Tasks        *runtime.TaskManager
	Agents       agentproc.Service
}

// Build constructs the Gin engine with the standard middleware stack and
// all routes registered.
func Build(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	_ = engine.SetTrustedProxies([]string{})

	engine.Use(middleware.Recovery(), middleware.RequestID(), middleware.Metrics())
	engine.Use(middleware.CORS())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))

	if !config.ManagementConfigured(cfg) && !listenIsLoopback(cfg.Listen) {
		log.Warn("listening on a non-loopback address with no management key configured")
	}

	h := newHandler(cfg, deps)
	registerRoutes(engine, cfg, h)
	return engine
}

func listenIsLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
