package credential

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"ccwatch/internal/events"
)

const watchDebounce = 100 * time.Millisecond

// WatchUpstreamFile drops the in-process bearer cache whenever the upstream
// tool rewrites its credentials file, so the next resolution picks up the
// new token. The directory is watched so atomic rewrites are caught.
// Returns after ctx is done.
func (s *Store) WatchUpstreamFile(ctx context.Context) {
	path := s.upstreamCredentialsPath()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create upstream credentials watcher")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.WithError(err).WithField("path", path).Warn("failed to watch upstream credentials directory")
		return
	}
	log.WithField("path", path).Info("upstream credentials watcher started")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				s.bearer.clear()
				log.Info("upstream credentials changed, dropped bearer cache")
				s.publish(context.Background(), events.TopicCredentialInvalidated, nil,
					map[string]string{"reason": "upstream_file_changed"})
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("upstream credentials watcher error")

		case <-ctx.Done():
			return
		}
	}
}
