// Package session keeps small per-visitor key-value state on the server,
// addressed by a browser-session cookie.
//
// It plays the role of the browser's sessionStorage for the server-side
// rendition of the SPA redirect protocol, and carries the admin login.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/jikku/portfolio/internal/spa"
)

const (
	// DefaultTTL is how long an idle session is kept
	DefaultTTL = 30 * time.Minute

	// UserKey holds the logged-in admin username
	UserKey = "user"
)

// ErrNoSession is returned for an empty session id
var ErrNoSession = errors.New("session id cannot be empty")

// Backend stores session values
type Backend interface {
	Get(ctx context.Context, id, key string) (string, bool, error)
	Set(ctx context.Context, id, key, value string) error
	Delete(ctx context.Context, id, key string) error
	Destroy(ctx context.Context, id string) error
	Close() error
}

// Scoped is the view of a single session
type Scoped struct {
	backend Backend
	id      string
}

var _ spa.Store = (*Scoped)(nil)

// Scope returns the store for session id
func Scope(b Backend, id string) *Scoped {
	return &Scoped{backend: b, id: id}
}

// ID returns the session id
func (s *Scoped) ID() string {
	return s.id
}

func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.backend.Get(ctx, s.id, key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.backend.Set(ctx, s.id, key, value)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.id, key)
}
