package spa

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProtocol(opts ...Option) *Protocol {
	return New(append([]Option{WithLogger(zap.NewNop())}, opts...)...)
}

func TestNotFound_Handoff(t *testing.T) {
	cases := []Location{
		{Path: "/projects/42"},
		{Path: "/projects/42/", Search: "?tab=code"},
		{Path: "/blog", Search: "?q=go&page=2", Hash: "#comments"},
		{Path: "/a/b/c", Hash: "#top"},
		{Path: "about"},
		{Path: "//evil.example"},
	}

	for _, loc := range cases {
		t.Run(loc.Path+loc.Search+loc.Hash, func(t *testing.T) {
			ctx := context.Background()
			store := NewMapStore()
			nav := &Recorder{}

			outcome, err := newTestProtocol().NotFound(ctx, store, loc, nav)
			require.NoError(t, err)
			assert.Equal(t, OutcomeHandoff, outcome)

			flag, ok, _ := store.Get(ctx, AttemptedKey)
			require.True(t, ok, "attempted flag should be set")
			assert.Equal(t, "true", flag)

			raw, ok, _ := store.Get(ctx, IntentKey)
			require.True(t, ok, "intent should be stored")
			intent, err := DecodeIntent(raw)
			require.NoError(t, err)
			assert.Equal(t, Intent{Path: leadingSlash(loc.Path), Search: loc.Search, Hash: loc.Hash}, intent)

			assert.Equal(t, []Navigation{{Kind: NavReplace, Target: "/?spa-redirect=true"}}, nav.Calls())
		})
	}
}

func TestNotFound_SecondAttemptBreaksLoop(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, store.Set(ctx, AttemptedKey, "true"))
	nav := &Recorder{}

	outcome, err := newTestProtocol().NotFound(ctx, store, Location{Path: "/projects/42/"}, nav)
	require.NoError(t, err)

	assert.Equal(t, OutcomeLoopBroken, outcome)
	assert.Equal(t, 0, store.Len(), "flag should be cleared and nothing written")
	assert.Empty(t, nav.Calls())
}

func TestNotFound_AtRoot(t *testing.T) {
	for _, path := range []string{"/", ""} {
		t.Run("path="+path, func(t *testing.T) {
			store := NewMapStore()
			nav := &Recorder{}

			outcome, err := newTestProtocol().NotFound(context.Background(), store, Location{Path: path, Search: "?x=1"}, nav)
			require.NoError(t, err)

			assert.Equal(t, OutcomeAtRoot, outcome)
			assert.Equal(t, 0, store.Len())
			assert.Empty(t, nav.Calls())
		})
	}
}

func TestRedirect_NoMarker(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, store.Set(ctx, IntentKey, `{"path":"/x","search":"","hash":""}`))
	nav := &Recorder{}

	outcome, err := newTestProtocol().Redirect(ctx, store, Location{Path: "/", Search: "?utm=mail"}, nav)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoMarker, outcome)
	assert.Equal(t, 1, store.Len(), "store must be untouched on a normal root load")
	assert.Empty(t, nav.Calls())
}

func TestRedirect_MissingIntent(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, store.Set(ctx, AttemptedKey, "true"))
	nav := &Recorder{}

	outcome, err := newTestProtocol().Redirect(ctx, store, Location{Path: "/", Search: HandoffURL[1:]}, nav)
	require.NoError(t, err)

	assert.Equal(t, OutcomeMissingIntent, outcome)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []Navigation{{Kind: NavReplaceState, Target: "/"}}, nav.Calls())
}

func TestRedirect_CorruptIntent(t *testing.T) {
	for _, raw := range []string{"{", "null", `{"path":5}`, "not json"} {
		t.Run(raw, func(t *testing.T) {
			ctx := context.Background()
			store := NewMapStore()
			require.NoError(t, store.Set(ctx, AttemptedKey, "true"))
			require.NoError(t, store.Set(ctx, IntentKey, raw))
			nav := &Recorder{}

			outcome, err := newTestProtocol().Redirect(ctx, store, Location{Path: "/", Search: "?spa-redirect=true"}, nav)
			require.NoError(t, err, "a corrupt intent must not surface as an error")

			assert.Equal(t, OutcomeCorrupt, outcome)
			assert.Equal(t, 0, store.Len(), "both keys should be cleared")
			assert.Equal(t, []Navigation{{Kind: NavReplaceState, Target: "/"}}, nav.Calls())
		})
	}
}

func TestRedirect_TrailingSlashAppendedOnce(t *testing.T) {
	cases := []struct {
		intent Intent
		want   string
	}{
		{Intent{Path: "/projects/42"}, "/projects/42/"},
		{Intent{Path: "/projects/42", Search: "?tab=1"}, "/projects/42/?tab=1"},
		{Intent{Path: "/projects/42", Hash: "#readme"}, "/projects/42/#readme"},
		{Intent{Path: "/a", Search: "?b=c", Hash: "#d"}, "/a/?b=c#d"},
		{Intent{Path: "about"}, "/about/"},
		{Intent{Path: ""}, "/"},
		{Intent{Path: "//evil.example"}, "/evil.example/"},
		{Intent{Path: "/\\evil.example", Search: "?a=1"}, "/evil.example/?a=1"},
		{Intent{Path: "///a//b"}, "/a//b/"},
	}

	for _, tc := range cases {
		t.Run(tc.intent.Path, func(t *testing.T) {
			ctx := context.Background()
			store := NewMapStore()
			raw, err := tc.intent.Encode()
			require.NoError(t, err)
			require.NoError(t, store.Set(ctx, IntentKey, raw))
			require.NoError(t, store.Set(ctx, AttemptedKey, "true"))
			nav := &Recorder{}

			outcome, err := newTestProtocol().Redirect(ctx, store, Location{Path: "/", Search: "?spa-redirect=true"}, nav)
			require.NoError(t, err)

			assert.Equal(t, OutcomeRestored, outcome)
			assert.Equal(t, 0, store.Len(), "intent and flag are consumed once")
			assert.Equal(t, []Navigation{{Kind: NavNavigate, Target: tc.want}}, nav.Calls())
		})
	}
}

func TestRoundTrip(t *testing.T) {
	intents := []Intent{
		{Path: "/"},
		{Path: "/", Search: "?q=1"},
		{Path: "/projects/42/"},
		{Path: "/projects/42/", Search: "?tab=code", Hash: "#L10"},
		{Path: "/caf%C3%A9/", Hash: "#x"},
		{Path: "/a/b/", Search: "?x=%3Cscript%3E"},
	}

	for _, want := range intents {
		t.Run(want.Path+want.Search+want.Hash, func(t *testing.T) {
			ctx := context.Background()
			store := NewMapStore()
			nav := &Recorder{}
			p := newTestProtocol()

			if want.Path != "/" {
				_, err := p.NotFound(ctx, store, Location(want), nav)
				require.NoError(t, err)
			} else {
				raw, err := want.Encode()
				require.NoError(t, err)
				require.NoError(t, store.Set(ctx, IntentKey, raw))
			}

			_, err := p.Redirect(ctx, store, Location{Path: "/", Search: "?spa-redirect=true"}, nav)
			require.NoError(t, err)

			last, ok := nav.Last()
			require.True(t, ok)
			assert.Equal(t, NavNavigate, last.Kind)
			assert.Equal(t, want.Path+want.Search+want.Hash, last.Target)
		})
	}
}

func TestScenario_DeepLink(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	p := newTestProtocol()

	// Host could not route /projects/42
	nav := &Recorder{}
	outcome, err := p.NotFound(ctx, store, Location{Path: "/projects/42"}, nav)
	require.NoError(t, err)
	require.Equal(t, OutcomeHandoff, outcome)
	assert.Equal(t, map[string]string{
		AttemptedKey: "true",
		IntentKey:    `{"path":"/projects/42","search":"","hash":""}`,
	}, store.Snapshot())

	handoff, _ := nav.Last()
	u, err := url.Parse(handoff.Target)
	require.NoError(t, err)

	// Root loads with the marker
	nav = &Recorder{}
	outcome, err = p.Redirect(ctx, store, LocationFromURL(u), nav)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestored, outcome)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []Navigation{{Kind: NavNavigate, Target: "/projects/42/"}}, nav.Calls())
}

func TestScenario_RestoredPathAlsoMissingWithoutGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	p := newTestProtocol()

	_, err := p.NotFound(ctx, store, Location{Path: "/gone"}, &Recorder{})
	require.NoError(t, err)
	_, err = p.Redirect(ctx, store, Location{Path: "/", Search: "?spa-redirect=true"}, &Recorder{})
	require.NoError(t, err)

	// Restoring cleared the flag, so the restored URL hands off again
	outcome, err := p.NotFound(ctx, store, Location{Path: "/gone/"}, &Recorder{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandoff, outcome)
}

func TestSlashPolicyAsIs(t *testing.T) {
	p := newTestProtocol(WithSlashPolicy(SlashAsIs))
	assert.Equal(t, "/projects/42?x=1", p.Target(Intent{Path: "projects/42", Search: "?x=1"}))
	assert.Equal(t, "/", p.Target(Intent{}))
}

func TestParseSlashPolicy(t *testing.T) {
	p, err := ParseSlashPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SlashDirectoryIndex, p)

	p, err = ParseSlashPolicy("as-is")
	require.NoError(t, err)
	assert.Equal(t, SlashAsIs, p)

	_, err = ParseSlashPolicy("trailing")
	assert.Error(t, err)
}

func TestObserverSeesOutcomes(t *testing.T) {
	var seen []string
	p := newTestProtocol(WithObserver(func(handler string, o Outcome) {
		seen = append(seen, handler+":"+string(o))
	}))
	ctx := context.Background()
	store := NewMapStore()

	_, _ = p.NotFound(ctx, store, Location{Path: "/x"}, &Recorder{})
	_, _ = p.Redirect(ctx, store, Location{Path: "/", Search: "?spa-redirect=true"}, &Recorder{})
	_, _ = p.Redirect(ctx, store, Location{Path: "/"}, &Recorder{})

	assert.Equal(t, []string{"not-found:handoff", "redirect:restored", "redirect:no-marker"}, seen)
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingStore) Set(context.Context, string, string) error         { return f.err }
func (f failingStore) Delete(context.Context, string) error              { return f.err }

func TestStoreErrorsAreWrapped(t *testing.T) {
	boom := errors.New("backend down")
	p := newTestProtocol()
	nav := &Recorder{}

	_, err := p.NotFound(context.Background(), failingStore{boom}, Location{Path: "/x"}, nav)
	assert.ErrorIs(t, err, boom)

	_, err = p.Redirect(context.Background(), failingStore{boom}, Location{Path: "/", Search: "?spa-redirect=true"}, nav)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, nav.Calls())
}

func TestRestoreGuard_StopsRestoreLoop(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	p := newTestProtocol(WithRestoreGuard(true))

	_, err := p.NotFound(ctx, store, Location{Path: "/gone"}, &Recorder{})
	require.NoError(t, err)

	nav := &Recorder{}
	outcome, err := p.Redirect(ctx, store, Location{Path: "/", Search: "?spa-redirect=true"}, nav)
	require.NoError(t, err)
	require.Equal(t, OutcomeRestored, outcome)

	// The restore went out as a fresh page load
	last, _ := nav.Last()
	require.NoError(t, p.Remember(ctx, store, last.Target))
	assert.Equal(t, map[string]string{RestoredKey: "/gone/"}, store.Snapshot())

	// and that URL is itself unroutable
	nav = &Recorder{}
	outcome, err = p.NotFound(ctx, store, Location{Path: "/gone/"}, nav)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoopBroken, outcome)
	assert.Empty(t, nav.Calls())
	assert.Equal(t, 0, store.Len())
}

func TestRestoreGuard_InPageRestoreNotRemembered(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	p := newTestProtocol(WithRestoreGuard(true))
	marker := Location{Path: "/", Search: "?spa-redirect=true"}

	for round := 0; round < 3; round++ {
		outcome, err := p.NotFound(ctx, store, Location{Path: "/projects/42/"}, &Recorder{})
		require.NoError(t, err)
		require.Equal(t, OutcomeHandoff, outcome, "reload %d of a restored route", round)

		outcome, err = p.Redirect(ctx, store, marker, &Recorder{})
		require.NoError(t, err)
		require.Equal(t, OutcomeRestored, outcome)
		assert.Equal(t, 0, store.Len())
	}
}

func TestRemember_GuardOff(t *testing.T) {
	store := NewMapStore()
	require.NoError(t, newTestProtocol().Remember(context.Background(), store, "/gone"))
	assert.Equal(t, 0, store.Len())
}

func TestRestoreGuard_OtherPathStillHandsOff(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, store.Set(ctx, RestoredKey, "/old/"))
	p := newTestProtocol(WithRestoreGuard(true))

	nav := &Recorder{}
	outcome, err := p.NotFound(ctx, store, Location{Path: "/new"}, nav)
	require.NoError(t, err)

	assert.Equal(t, OutcomeHandoff, outcome)
	_, ok, _ := store.Get(ctx, RestoredKey)
	assert.False(t, ok, "guard entry is one-shot")
	assert.Len(t, nav.Calls(), 1)
}
