package spa

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Outcome names the path a handler took
type Outcome string

const (
	// NotFound outcomes
	OutcomeLoopBroken Outcome = "loop-broken"
	OutcomeAtRoot     Outcome = "at-root"
	OutcomeHandoff    Outcome = "handoff"

	// Redirect outcomes
	OutcomeNoMarker      Outcome = "no-marker"
	OutcomeMissingIntent Outcome = "missing-intent"
	OutcomeRestored      Outcome = "restored"
	OutcomeCorrupt       Outcome = "corrupt"
)

// Handler names used when reporting outcomes
const (
	HandlerNotFound = "not-found"
	HandlerRedirect = "redirect"
)

// SlashPolicy controls how a restored path is normalized
type SlashPolicy string

const (
	// SlashDirectoryIndex appends "/" to non-root paths, for hosts that resolve
	// directory-style URLs through index documents
	SlashDirectoryIndex SlashPolicy = "directory-index"
	// SlashAsIs leaves the path alone apart from the leading "/"
	SlashAsIs SlashPolicy = "as-is"
)

// ParseSlashPolicy validates a policy name
func ParseSlashPolicy(s string) (SlashPolicy, error) {
	switch SlashPolicy(s) {
	case SlashDirectoryIndex, SlashAsIs:
		return SlashPolicy(s), nil
	case "":
		return SlashDirectoryIndex, nil
	}
	return "", fmt.Errorf("invalid slash policy %q (must be %s or %s)", s, SlashDirectoryIndex, SlashAsIs)
}

// Observer is told about every completed handler run
type Observer func(handler string, outcome Outcome)

// Protocol runs the not-found and redirect handlers
type Protocol struct {
	slash    SlashPolicy
	guard    bool
	logger   *zap.Logger
	observer Observer
}

// Option configures a Protocol
type Option func(*Protocol)

// WithSlashPolicy sets the trailing-slash policy
func WithSlashPolicy(p SlashPolicy) Option {
	return func(pr *Protocol) { pr.slash = p }
}

// WithRestoreGuard makes the not-found handler end the chain for a path that
// Remember recorded instead of handing off again. The attempted flag alone
// cannot catch this: it is cleared on restore.
func WithRestoreGuard(enabled bool) Option {
	return func(pr *Protocol) { pr.guard = enabled }
}

// WithLogger sets the logger used for recoverable failures
func WithLogger(l *zap.Logger) Option {
	return func(pr *Protocol) { pr.logger = l }
}

// WithObserver registers a callback for outcomes
func WithObserver(o Observer) Option {
	return func(pr *Protocol) { pr.observer = o }
}

// New creates a Protocol. Defaults: directory-index slashes, the global zap logger.
func New(opts ...Option) *Protocol {
	p := &Protocol{slash: SlashDirectoryIndex}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.L()
	}
	return p
}

// NotFound runs on a request the host could not route.
//
// A present attempted flag means the previous handoff already failed: the flag
// is cleared and nothing else happens. A root location has nothing to restore.
// Otherwise the intent is stored and the visitor is sent to the root with the
// marker, replacing the broken URL in history.
func (p *Protocol) NotFound(ctx context.Context, store Store, loc Location, nav Navigator) (Outcome, error) {
	if p.guard {
		restored, ok, err := store.Get(ctx, RestoredKey)
		if err != nil {
			return "", fmt.Errorf("failed to read restored path: %w", err)
		}
		if ok {
			if err := store.Delete(ctx, RestoredKey); err != nil {
				return "", fmt.Errorf("failed to clear restored path: %w", err)
			}
			if samePath(restored, loc.Path) {
				return p.done(HandlerNotFound, OutcomeLoopBroken), nil
			}
		}
	}

	_, attempted, err := store.Get(ctx, AttemptedKey)
	if err != nil {
		return "", fmt.Errorf("failed to read attempted flag: %w", err)
	}
	if attempted {
		if err := store.Delete(ctx, AttemptedKey); err != nil {
			return "", fmt.Errorf("failed to clear attempted flag: %w", err)
		}
		return p.done(HandlerNotFound, OutcomeLoopBroken), nil
	}

	if loc.IsRoot() {
		return p.done(HandlerNotFound, OutcomeAtRoot), nil
	}

	raw, err := Intent{Path: leadingSlash(loc.Path), Search: loc.Search, Hash: loc.Hash}.Encode()
	if err != nil {
		return "", err
	}
	if err := store.Set(ctx, AttemptedKey, attemptedSentinel); err != nil {
		return "", fmt.Errorf("failed to set attempted flag: %w", err)
	}
	if err := store.Set(ctx, IntentKey, raw); err != nil {
		return "", fmt.Errorf("failed to store intent: %w", err)
	}

	nav.Replace(HandoffURL)
	return p.done(HandlerNotFound, OutcomeHandoff), nil
}

// Redirect runs on every root load and restores a handed-off location through
// the application's router, without another request to the host.
func (p *Protocol) Redirect(ctx context.Context, store Store, loc Location, nav Navigator) (Outcome, error) {
	if !loc.HasMarker() {
		return p.done(HandlerRedirect, OutcomeNoMarker), nil
	}

	raw, ok, err := store.Get(ctx, IntentKey)
	if err != nil {
		return "", fmt.Errorf("failed to read intent: %w", err)
	}
	if !ok {
		if err := store.Delete(ctx, AttemptedKey); err != nil {
			return "", fmt.Errorf("failed to clear attempted flag: %w", err)
		}
		nav.ReplaceState("/")
		return p.done(HandlerRedirect, OutcomeMissingIntent), nil
	}

	intent, decodeErr := DecodeIntent(raw)

	// Consumed exactly once whichever way the decode went
	if err := clearKeys(ctx, store); err != nil {
		return "", err
	}

	if decodeErr != nil {
		p.logger.Warn("Discarding stored redirect intent", zap.Error(decodeErr))
		nav.ReplaceState("/")
		return p.done(HandlerRedirect, OutcomeCorrupt), nil
	}

	nav.Navigate(p.Target(intent))
	return p.done(HandlerRedirect, OutcomeRestored), nil
}

// Remember records a restore that left the page for a fresh load of path.
// With the restore guard on, a not-found for that path then ends the chain.
// Restores that stay in the page must not call it: a later reload of that
// route is a new attempt.
func (p *Protocol) Remember(ctx context.Context, store Store, path string) error {
	if !p.guard {
		return nil
	}
	if err := store.Set(ctx, RestoredKey, p.normalize(path)); err != nil {
		return fmt.Errorf("failed to remember restored path: %w", err)
	}
	return nil
}

// Target builds the URL the redirect handler navigates to
func (p *Protocol) Target(i Intent) string {
	return p.normalize(i.Path) + i.Search + i.Hash
}

func (p *Protocol) normalize(path string) string {
	path = leadingSlash(path)
	if p.slash == SlashDirectoryIndex && path != "/" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

// samePath compares two paths ignoring a trailing slash
func samePath(a, b string) bool {
	return strings.TrimSuffix(leadingSlash(a), "/") == strings.TrimSuffix(leadingSlash(b), "/")
}

func (p *Protocol) done(handler string, o Outcome) Outcome {
	if p.observer != nil {
		p.observer(handler, o)
	}
	return o
}

// clearKeys removes both protocol keys
func clearKeys(ctx context.Context, store Store) error {
	if err := store.Delete(ctx, IntentKey); err != nil {
		return fmt.Errorf("failed to delete intent: %w", err)
	}
	if err := store.Delete(ctx, AttemptedKey); err != nil {
		return fmt.Errorf("failed to clear attempted flag: %w", err)
	}
	return nil
}
