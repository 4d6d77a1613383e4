package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
)

// CookieName is the session cookie
const CookieName = "portfolio_session"

// CookieOptions controls how the session cookie is issued
type CookieOptions struct {
	Secure bool
}

// ReadID returns the session id carried by the request, if any
func ReadID(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Rotate issues a fresh session id, replacing any existing cookie.
//
// The cookie has no Max-Age so it lives as long as the browser session,
// which is the closest a server gets to tab-scoped storage.
func Rotate(w http.ResponseWriter, opts CookieOptions) (string, error) {
	id, err := generateSessionID()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}

// Clear expires the session cookie
func Clear(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateSessionID creates a random URL-safe id from 32 bytes
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
