// Package state persists the session state document: a small JSON file that
// several independent writers patch key by key (the access-denied flag, the
// setup-complete marker, update-check bookkeeping). Patches are surgical so
// one writer never clobbers another writer's keys, and unknown keys written
// by newer builds survive round trips.
package state

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Document keys. Dotted keys nest inside the JSON document.
const (
	KeyAccessDenied    = "auth.access_denied"
	KeyAccessDeniedAt  = "auth.access_denied_at"
	KeySetupComplete   = "setup_complete"
	KeyLastSeenVersion = "update.last_seen_version"
	KeyLastUpdateCheck = "update.last_check"
)

// Store reads and patches the session state document.
type Store interface {
	GetBool(key string) bool
	GetString(key string) string
	GetTime(key string) (time.Time, bool)
	Patch(key string, value any) error
	Delete(key string) error
}

// FileStore is the on-disk implementation. The document is rewritten
// atomically (temp file + rename) with owner-only permissions.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore constructs a store at path. The file is created lazily on the
// first patch.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) read() []byte {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return []byte("{}")
	}
	if !gjson.ValidBytes(data) {
		return []byte("{}")
	}
	return data
}

// GetBool returns the boolean at key, false when absent.
func (s *FileStore) GetBool(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gjson.GetBytes(s.read(), key).Bool()
}

// GetString returns the string at key, empty when absent.
func (s *FileStore) GetString(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gjson.GetBytes(s.read(), key).String()
}

// GetTime returns the RFC3339 timestamp at key.
func (s *FileStore) GetTime(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := gjson.GetBytes(s.read(), key).String()
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Patch sets key to value, preserving every other key in the document.
// time.Time values are stored as RFC3339Nano strings.
func (s *FileStore) Patch(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := value.(time.Time); ok {
		value = t.UTC().Format(time.RFC3339Nano)
	}
	updated, err := sjson.SetBytes(s.read(), key, value)
	if err != nil {
		return err
	}
	return s.writeAtomic(updated)
}

// Delete removes key from the document.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := sjson.DeleteBytes(s.read(), key)
	if err != nil {
		return err
	}
	return s.writeAtomic(updated)
}

func (s *FileStore) writeAtomic(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
