// Package notify fans domain events out to a user-facing notifier. The
// delivery transport is pluggable; the daemon ships a log-backed one and
// the desktop shell can inject its own.
package notify

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/events"
	"ccwatch/internal/update"
)

// Notification is one user-visible message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Topic string `json:"topic"`
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.WithFields(log.Fields{
		"topic": n.Topic,
		"title": n.Title,
	}).Info(n.Body)
	return nil
}

// Dispatcher subscribes to the hub and translates events into
// notifications. It is constructed once and injected; there is no shared
// global dispatcher.
type Dispatcher struct {
	notifier Notifier
}

func NewDispatcher(notifier Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier}
}

// Attach subscribes to the notification-worthy topics and returns a
// function that detaches them all.
func (d *Dispatcher) Attach(hub *events.Hub) func() {
	unsubscribes := []func(){
		hub.Subscribe(events.TopicAccessDenied, d.handle),
		hub.Subscribe(events.TopicRefreshFailed, d.handle),
		hub.Subscribe(events.TopicUpdateAvailable, d.handle),
		hub.Subscribe(events.TopicOrphansDetected, d.handle),
	}
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev events.Event) {
	n, ok := render(ev)
	if !ok {
		return
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		log.WithError(err).WithField("topic", ev.Topic).Warn("notification delivery failed")
	}
}

// render maps an event to its user-visible message. Events without a
// mapping are dropped silently.
func render(ev events.Event) (Notification, bool) {
	switch ev.Topic {
	case events.TopicAccessDenied:
		return Notification{
			Topic: ev.Topic,
			Title: "Keychain access needed",
			Body:  "Access to the stored credential was denied. Open the app and retry keychain access.",
		}, true
	case events.TopicRefreshFailed:
		failure, ok := ev.Payload.(events.RefreshFailure)
		if !ok {
			return Notification{}, false
		}
		return Notification{
			Topic: ev.Topic,
			Title: "Usage refresh failed",
			Body:  fmt.Sprintf("Could not fetch usage after %d attempts: %s", failure.Attempts, failure.Kind),
		}, true
	case events.TopicUpdateAvailable:
		release, ok := ev.Payload.(*update.Release)
		if !ok {
			return Notification{}, false
		}
		return Notification{
			Topic: ev.Topic,
			Title: "Update available",
			Body:  fmt.Sprintf("Version %s has been released.", release.Version),
		}, true
	case events.TopicOrphansDetected:
		return Notification{
			Topic: ev.Topic,
			Title: "Orphaned agent processes",
			Body:  fmt.Sprintf("%s agent processes lost their session and can be cleaned up.", ev.Metadata["count"]),
		}, true
	}
	return Notification{}, false
}
