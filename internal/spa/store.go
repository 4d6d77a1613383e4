package spa

import (
	"context"
	"sync"
)

// Store is the session-scoped key-value slot shared by the two handlers.
// Get reports ok=false for a missing key; errors are reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MapStore is an in-memory Store
type MapStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMapStore creates an empty MapStore
func NewMapStore() *MapStore {
	return &MapStore{values: make(map[string]string)}
}

func (m *MapStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MapStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of keys held
func (m *MapStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// Snapshot returns a copy of the stored values
func (m *MapStore) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
