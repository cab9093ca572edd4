package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ccwatch/internal/config"
	"ccwatch/internal/constants"
	apperrors "ccwatch/internal/errors"
	"ccwatch/internal/version"
)

type handler struct {
	cfg       *config.Config
	deps      Dependencies
	startedAt time.Time
}

func newHandler(cfg *config.Config, deps Dependencies) *handler {
	return &handler{cfg: cfg, deps: deps, startedAt: time.Now()}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusResponse is the full daemon state a dashboard needs in one call.
type statusResponse struct {
	Version        string `json:"version"`
	UptimeSec      int64  `json:"uptime_sec"`
	State          string `json:"state"`
	ResumeAt       any    `json:"resume_at,omitempty"`
	Snapshot       any    `json:"snapshot,omitempty"`
	Staleness      string `json:"staleness,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	LastErrorKind  string `json:"last_error_kind,omitempty"`
	LastErrorAt    any    `json:"last_error_at,omitempty"`
	AccessDenied   bool   `json:"access_denied"`
	AccessSince    any    `json:"access_denied_since,omitempty"`
	EnvOverride    bool   `json:"env_override"`
	ManualKey      bool   `json:"manual_key"`
	HistoryEnabled bool   `json:"history_enabled"`
	Tasks          any    `json:"tasks,omitempty"`
}

func (h *handler) status(c *gin.Context) {
	st := h.deps.Orchestrator.Status()

	resp := statusResponse{
		Version:        version.Version,
		UptimeSec:      int64(time.Since(h.startedAt).Seconds()),
		State:          st.State,
		Staleness:      st.Staleness,
		LastError:      st.LastError,
		LastErrorKind:  st.LastErrorKind,
		AccessDenied:   st.AccessDenied,
		EnvOverride:    h.deps.Credentials.HasEnvOverride(),
		ManualKey:      h.deps.Credentials.HasManualKey(c.Request.Context()),
		HistoryEnabled: h.deps.History != nil,
	}
	if st.ResumeAt != nil {
		resp.ResumeAt = st.ResumeAt
	}
	if st.Snapshot != nil {
		resp.Snapshot = st.Snapshot
	}
	if st.LastErrorAt != nil {
		resp.LastErrorAt = st.LastErrorAt
	}
	if since, ok := h.deps.Credentials.AccessDeniedSince(); ok {
		resp.AccessSince = since
	}
	if h.deps.Tasks != nil {
		resp.Tasks = h.deps.Tasks.List()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) usage(c *gin.Context) {
	snap := h.deps.Orchestrator.Snapshot()
	if snap == nil {
		respondError(c, http.StatusNotFound, "not_found", "no usage snapshot yet")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshot":  snap,
		"staleness": snap.Staleness(time.Now()),
		"age_sec":   int64(snap.Age(time.Now()).Seconds()),
	})
}

// history serves recorded snapshots. since accepts a Go duration ("24h",
// "30m") measured back from now; limit caps the row count.
func (h *handler) history(c *gin.Context) {
	if h.deps.History == nil {
		respondError(c, http.StatusNotFound, "not_found", "history is disabled")
		return
	}

	lookback := 24 * time.Hour
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "invalid_format", "since must be a positive duration like 24h")
			return
		}
		lookback = parsed
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, http.StatusBadRequest, "invalid_format", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	points, err := h.deps.History.Query(c.Request.Context(), time.Now().Add(-lookback), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "server_error", "history query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"since_sec": int64(lookback.Seconds()),
		"count":     len(points),
		"points":    points,
	})
}

func (h *handler) refresh(c *gin.Context) {
	h.deps.Orchestrator.RefreshUser(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"state": h.deps.Orchestrator.CurrentState().String()})
}

func (h *handler) retryUpstreamAccess(c *gin.Context) {
	h.deps.Orchestrator.RetryUpstreamAccess(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"state":         h.deps.Orchestrator.CurrentState().String(),
		"access_denied": h.deps.Credentials.AccessDenied(),
	})
}

func (h *handler) resetAuthentication(c *gin.Context) {
	h.deps.Orchestrator.ResetAuthentication(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"state":         h.deps.Orchestrator.CurrentState().String(),
		"access_denied": h.deps.Credentials.AccessDenied(),
	})
}

type manualKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

func (h *handler) putManualKey(c *gin.Context) {
	var req manualKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_format", "body must be a JSON object with a key field")
		return
	}
	if err := h.deps.Credentials.SaveManualKey(c.Request.Context(), req.Key); err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindInvalidFormat:
			respondError(c, http.StatusBadRequest, "invalid_format",
				"manual keys start with "+constants.ManualKeyPrefix)
		default:
			respondError(c, http.StatusInternalServerError, "store_error", "failed to save manual key")
		}
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) deleteManualKey(c *gin.Context) {
	if err := h.deps.Credentials.ClearManualKey(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, "store_error", "failed to clear manual key")
		return
	}
	c.Status(http.StatusNoContent)
}

func respondError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"kind":    kind,
		},
	})
}
