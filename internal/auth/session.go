package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jikku/portfolio/internal/session"
)

// Sessions ties admin logins to the visitor session store
type Sessions struct {
	backend session.Backend
	cookie  session.CookieOptions
}

// NewSessions creates the admin login helper
func NewSessions(backend session.Backend, cookie session.CookieOptions) *Sessions {
	return &Sessions{backend: backend, cookie: cookie}
}

// Login starts an authenticated session for username. The session id is
// rotated so an id issued before login cannot be reused.
func (s *Sessions) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, username string) error {
	if id, ok := session.ReadID(r); ok {
		if err := s.backend.Destroy(ctx, id); err != nil {
			return fmt.Errorf("failed to drop old session: %w", err)
		}
	}

	id, err := session.Rotate(w, s.cookie)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, id, session.UserKey, username); err != nil {
		return fmt.Errorf("failed to store login: %w", err)
	}
	return nil
}

// Logout ends the request's session
func (s *Sessions) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	session.Clear(w, s.cookie)
	id, ok := session.ReadID(r)
	if !ok {
		return nil
	}
	return s.backend.Destroy(ctx, id)
}

// User returns the logged-in username for the request, if any
func (s *Sessions) User(ctx context.Context, r *http.Request) (string, bool, error) {
	id, ok := session.ReadID(r)
	if !ok {
		return "", false, nil
	}
	user, found, err := s.backend.Get(ctx, id, session.UserKey)
	if err != nil {
		return "", false, err
	}
	return user, found && user != "", nil
}
