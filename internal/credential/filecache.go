package credential

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/constants"
)

// fileCacheEntry is the on-disk shape of the app-owned file cache. It exists
// for configurations where the secure store's access-control list has been
// invalidated, e.g. by a code-signing change.
type fileCacheEntry struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

func readFileCache(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithField("path", path).WithError(err).Debug("credential file cache unreadable")
		}
		return "", false
	}
	var entry fileCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.WithField("path", path).WithError(err).Warn("credential file cache corrupt, ignoring")
		return "", false
	}
	token := strings.TrimSpace(entry.Token)
	if token == "" {
		return "", false
	}
	return token, true
}

func writeFileCache(path, token string, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), constants.SecretDirMode); err != nil {
		return err
	}
	data, err := json.Marshal(fileCacheEntry{Token: token, SavedAt: now})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, constants.SecretFileMode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func removeFileCache(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithField("path", path).WithError(err).Warn("could not remove credential file cache")
	}
}
