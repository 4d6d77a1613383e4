// Package spa implements the fallback-routing handshake that lets a statically
// exported single-page application resolve deep links on a host without
// server-side routing.
//
// A not-found handler records where the visitor wanted to go and hands off to
// the application root; the root's redirect handler restores that location.
// The two sides share a session-scoped Store used as a one-shot message slot.
package spa

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// MarkerParam is the query parameter appended to the root URL on handoff
	MarkerParam = "spa-redirect"
	// MarkerValue is the value carried by MarkerParam
	MarkerValue = "true"

	// IntentKey holds the JSON-encoded Intent
	IntentKey = "spa-redirect"
	// AttemptedKey is the loop-breaker flag
	AttemptedKey = "spa-redirect-attempted"

	// RestoredKey remembers the last restored path when the restore guard is on
	RestoredKey = "spa-redirect-restored"

	attemptedSentinel = "true"

	// HandoffURL is where the not-found handler sends the visitor
	HandoffURL = "/?" + MarkerParam + "=" + MarkerValue
)

// ErrCorruptIntent is returned when a stored intent cannot be decoded
var ErrCorruptIntent = errors.New("corrupt redirect intent")

// Intent is the location a visitor originally asked for
type Intent struct {
	Path   string `json:"path"`
	Search string `json:"search"`
	Hash   string `json:"hash"`
}

// Location is the part of a URL the protocol looks at
type Location struct {
	Path   string
	Search string
	Hash   string
}

// LocationFromURL splits u into path, query and fragment, keeping the leading
// "?" and "#" the way a browser's location object does.
func LocationFromURL(u *url.URL) Location {
	loc := Location{Path: u.EscapedPath()}
	if u.RawQuery != "" {
		loc.Search = "?" + u.RawQuery
	}
	if frag := u.EscapedFragment(); frag != "" {
		loc.Hash = "#" + frag
	}
	return loc
}

// IsRoot reports whether the location is the application root
func (l Location) IsRoot() bool {
	return l.Path == "" || l.Path == "/"
}

// HasMarker reports whether the query string carries the handoff marker
func (l Location) HasMarker() bool {
	// ParseQuery keeps the pairs it could read even when it reports an error
	q, _ := url.ParseQuery(strings.TrimPrefix(l.Search, "?"))
	return q.Has(MarkerParam)
}

// Encode returns the JSON form stored under IntentKey
func (i Intent) Encode() (string, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return "", fmt.Errorf("failed to encode intent: %w", err)
	}
	return string(data), nil
}

// DecodeIntent parses a stored intent. Field names match exactly; a missing or
// null field is empty and any other non-string value is corrupt.
func DecodeIntent(raw string) (Intent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrCorruptIntent, err)
	}
	if fields == nil {
		return Intent{}, fmt.Errorf("%w: null", ErrCorruptIntent)
	}

	var i Intent
	for name, dst := range map[string]*string{"path": &i.Path, "search": &i.Search, "hash": &i.Hash} {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return Intent{}, fmt.Errorf("%w: %s must be a string", ErrCorruptIntent, name)
		}
	}
	return i, nil
}

// leadingSlash makes p start with exactly one "/". Browsers read a leading
// "//" or "/\" as another host, so runs of either collapse.
func leadingSlash(p string) string {
	return "/" + strings.TrimLeft(p, `/\`)
}
