package agentproc

import (
	"context"
	"strconv"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/events"
)

// Sweeper periodically looks for orphaned agent processes and announces
// them on the hub. Killing them stays a user decision made over the API.
type Sweeper struct {
	svc Service
	hub *events.Hub
}

func NewSweeper(svc Service, hub *events.Hub) *Sweeper {
	return &Sweeper{svc: svc, hub: hub}
}

// Sweep publishes an orphans_detected event when any are found.
func (s *Sweeper) Sweep(ctx context.Context) error {
	orphans, err := s.svc.DetectOrphans(ctx)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}
	log.WithField("count", len(orphans)).Info("orphaned agent processes detected")
	s.hub.Publish(ctx, events.TopicOrphansDetected, orphans, map[string]string{
		"count": strconv.Itoa(len(orphans)),
	})
	return nil
}
