package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"ccwatch/internal/agentproc"
	"ccwatch/internal/events"
)

// agents reports running agent processes and which ones lost their
// session.
func (h *handler) agents(c *gin.Context) {
	if h.deps.Agents == nil {
		respondError(c, http.StatusNotFound, "not_found", "agent discovery is unavailable")
		return
	}
	ctx := c.Request.Context()

	counts, err := h.deps.Agents.CountAgents(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "server_error", "agent scan failed")
		return
	}
	orphans, err := h.deps.Agents.DetectOrphans(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "server_error", "orphan scan failed")
		return
	}
	if orphans == nil {
		orphans = []agentproc.ProcessRef{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":  counts.Sessions,
		"subagents": counts.Subagents,
		"orphans":   orphans,
	})
}

// cleanupAgents terminates every orphaned agent process found right now.
func (h *handler) cleanupAgents(c *gin.Context) {
	if h.deps.Agents == nil {
		respondError(c, http.StatusNotFound, "not_found", "agent discovery is unavailable")
		return
	}
	ctx := c.Request.Context()

	orphans, err := h.deps.Agents.DetectOrphans(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "server_error", "orphan scan failed")
		return
	}
	if len(orphans) == 0 {
		c.JSON(http.StatusOK, gin.H{"killed": 0})
		return
	}

	killed, err := h.deps.Agents.KillProcesses(ctx, orphans)
	if err != nil {
		log.WithError(err).Warn("agent cleanup failed")
		respondError(c, http.StatusInternalServerError, "server_error", "agent cleanup failed")
		return
	}
	h.deps.Hub.Publish(ctx, events.TopicCleanupRequested, orphans, map[string]string{
		"killed": strconv.Itoa(killed),
	})
	c.JSON(http.StatusOK, gin.H{"killed": killed})
}
