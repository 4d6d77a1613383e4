package session

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps sessions in process memory with sliding expiry
type MemoryBackend struct {
	sessions map[string]*entry
	ttl      time.Duration
	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	values    map[string]string
	expiresAt time.Time
}

// NewMemoryBackend creates a backend and starts its cleanup goroutine
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b := &MemoryBackend{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}

	go b.cleanup()

	return b
}

// Get returns a value from a live session
func (b *MemoryBackend) Get(_ context.Context, id, key string) (string, bool, error) {
	if id == "" {
		return "", false, ErrNoSession
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live(id)
	if !ok {
		return "", false, nil
	}
	e.expiresAt = time.Now().Add(b.ttl)

	v, ok := e.values[key]
	return v, ok, nil
}

// Set stores a value, creating the session if needed
func (b *MemoryBackend) Set(_ context.Context, id, key, value string) error {
	if id == "" {
		return ErrNoSession
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live(id)
	if !ok {
		e = &entry{values: make(map[string]string)}
		b.sessions[id] = e
	}
	e.values[key] = value
	e.expiresAt = time.Now().Add(b.ttl)
	return nil
}

// Delete removes a key. Deleting from a missing session is not an error.
func (b *MemoryBackend) Delete(_ context.Context, id, key string) error {
	if id == "" {
		return ErrNoSession
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.live(id); ok {
		delete(e.values, key)
		if len(e.values) == 0 {
			delete(b.sessions, id)
		}
	}
	return nil
}

// Destroy removes a whole session
func (b *MemoryBackend) Destroy(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
	return nil
}

// Count returns the number of live sessions
func (b *MemoryBackend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, e := range b.sessions {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Close stops the cleanup goroutine
func (b *MemoryBackend) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	return nil
}

// live returns the session if it has not expired. Caller holds the lock.
func (b *MemoryBackend) live(id string) (*entry, bool) {
	e, ok := b.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(b.sessions, id)
		return nil, false
	}
	return e, true
}

// cleanup removes expired sessions periodically
func (b *MemoryBackend) cleanup() {
	interval := b.ttl / 2
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for id, e := range b.sessions {
				if now.After(e.expiresAt) {
					delete(b.sessions, id)
				}
			}
			b.mu.Unlock()
		}
	}
}
