package keyring

import (
	"context"
	"sync"
)

// MemStore is an in-memory SecretStore used in tests and as a scriptable
// stand-in for platform stores.
type MemStore struct {
	mu    sync.Mutex
	items map[string]string

	// Errs injects a per-service error for Get, Set and Delete.
	Errs map[string]error
	// Err, when set, is returned by every Get, Set and Delete.
	Err error
	// PreflightFn overrides Preflight; by default presence maps to allowed.
	PreflightFn func(service string) PreflightResult

	// Gets counts Get calls per service.
	Gets map[string]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		items: make(map[string]string),
		Errs:  make(map[string]error),
		Gets:  make(map[string]int),
	}
}

func (m *MemStore) injected(service string) error {
	if err, ok := m.Errs[service]; ok && err != nil {
		return err
	}
	return m.Err
}

func (m *MemStore) Get(ctx context.Context, service string, allowPrompt bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets[service]++
	if err := m.injected(service); err != nil {
		return "", err
	}
	value, ok := m.items[service]
	if !ok {
		return "", notFoundErr(service)
	}
	return value, nil
}

func (m *MemStore) Set(ctx context.Context, service, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(service); err != nil {
		return err
	}
	m.items[service] = value
	return nil
}

func (m *MemStore) Delete(ctx context.Context, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(service); err != nil {
		return err
	}
	delete(m.items, service)
	return nil
}

func (m *MemStore) Preflight(ctx context.Context, service string) PreflightResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PreflightFn != nil {
		return m.PreflightFn(service)
	}
	if _, ok := m.items[service]; ok {
		return PreflightAllowed
	}
	return PreflightNotFound
}

// Seed stores a value without error injection, for test setup.
func (m *MemStore) Seed(service, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[service] = value
}

// Has reports whether a value is stored for service.
func (m *MemStore) Has(service string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[service]
	return ok
}
