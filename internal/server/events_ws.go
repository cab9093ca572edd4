package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"ccwatch/internal/events"
	"ccwatch/internal/monitoring"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 90 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 32
)

// wsTopics are the hub topics forwarded to stream clients.
var wsTopics = []string{
	events.TopicStateChanged,
	events.TopicRefreshFailed,
	events.TopicSnapshotUpdated,
	events.TopicCredentialResolved,
	events.TopicCredentialInvalidated,
	events.TopicAccessDenied,
	events.TopicUpdateAvailable,
	events.TopicConfigReloaded,
}

var wsUpgrader = ws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		// Same-host browsers only; other dashboards poll the JSON API.
		return strings.Contains(origin, r.Host)
	},
}

// events upgrades to a websocket and forwards hub events until the client
// goes away. The first frame is a synthetic stream.connected event carrying
// the current status so clients render without waiting for a change.
func (h *handler) events(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	monitoring.WebsocketClients.Inc()
	defer monitoring.WebsocketClients.Dec()

	out := make(chan events.Event, wsSendBuffer)
	unsubscribes := make([]func(), 0, len(wsTopics))
	for _, topic := range wsTopics {
		unsubscribes = append(unsubscribes, h.deps.Hub.Subscribe(topic, func(_ context.Context, ev events.Event) {
			select {
			case out <- ev:
			default:
				// Slow client; dropping is better than stalling the hub.
			}
		}))
	}
	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}()

	hello := events.Event{
		ID:        "0",
		Topic:     "stream.connected",
		Timestamp: time.Now().UTC(),
		Payload:   h.deps.Orchestrator.Status(),
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	// Reader detects the close handshake and keeps the pong handler fed.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-out:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("event stream write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
