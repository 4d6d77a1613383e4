package spa

import "sync"

// Navigator performs the history-replacing moves the handlers need.
//
// Replace loads target from the host without adding a history entry.
// ReplaceState only rewrites the visible URL: no reload, no navigation.
// Navigate rewrites the URL and hands it to the application's router, so the
// page stays loaded and the host is not asked for target.
type Navigator interface {
	Replace(target string)
	ReplaceState(target string)
	Navigate(target string)
}

// NavKind distinguishes the Navigator calls
type NavKind string

const (
	NavReplace      NavKind = "replace"
	NavReplaceState NavKind = "replace-state"
	NavNavigate     NavKind = "navigate"
)

// Navigation is one recorded Navigator call
type Navigation struct {
	Kind   NavKind
	Target string
}

// Recorder is a Navigator that remembers what it was asked to do
type Recorder struct {
	mu    sync.Mutex
	calls []Navigation
}

func (r *Recorder) Replace(target string) {
	r.record(Navigation{Kind: NavReplace, Target: target})
}

func (r *Recorder) ReplaceState(target string) {
	r.record(Navigation{Kind: NavReplaceState, Target: target})
}

func (r *Recorder) Navigate(target string) {
	r.record(Navigation{Kind: NavNavigate, Target: target})
}

func (r *Recorder) record(n Navigation) {
	r.mu.Lock()
	r.calls = append(r.calls, n)
	r.mu.Unlock()
}

// Calls returns every recorded navigation in order
func (r *Recorder) Calls() []Navigation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Navigation, len(r.calls))
	copy(out, r.calls)
	return out
}

// Last returns the most recent navigation, if any
func (r *Recorder) Last() (Navigation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Navigation{}, false
	}
	return r.calls[len(r.calls)-1], true
}
