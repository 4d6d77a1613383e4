package clientjs

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jikku/portfolio/internal/spa"
)

// Step is one handler invocation in a scenario
type Step struct {
	Handler  string // spa.HandlerNotFound or spa.HandlerRedirect
	Location spa.Location
}

// Scenario is a sequence of page loads sharing one tab's storage
type Scenario struct {
	Name    string
	Initial map[string]string
	Steps   []Step
}

// Trace is everything observable about one scenario run
type Trace struct {
	Outcomes    []spa.Outcome
	Navigations []spa.Navigation
	Store       map[string]string
}

// Mismatch describes a scenario where the script and the Go protocol disagree
type Mismatch struct {
	Scenario string
	Go       Trace
	Script   Trace
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: go=%+v script=%+v", m.Scenario, m.Go, m.Script)
}

func handoff(path, search, hash string) Step {
	return Step{Handler: spa.HandlerNotFound, Location: spa.Location{Path: path, Search: search, Hash: hash}}
}

func rootLoad(search string) Step {
	return Step{Handler: spa.HandlerRedirect, Location: spa.Location{Path: "/", Search: search}}
}

// Scenarios covers every branch of both handlers
func Scenarios() []Scenario {
	marker := "?" + spa.MarkerParam + "=" + spa.MarkerValue
	return []Scenario{
		{Name: "deep link restored", Steps: []Step{
			handoff("/projects/42", "", ""),
			rootLoad(marker),
		}},
		{Name: "query and fragment kept", Steps: []Step{
			handoff("/blog/post", "?ref=home&x=1", "#comments"),
			rootLoad(marker),
		}},
		{Name: "trailing slash kept once", Steps: []Step{
			handoff("/about/", "", ""),
			rootLoad(marker),
		}},
		{Name: "root is not handed off", Steps: []Step{
			handoff("/", "?q=1", ""),
		}},
		{Name: "second attempt breaks loop", Steps: []Step{
			handoff("/missing", "", ""),
			handoff("/missing", "", ""),
		}},
		{Name: "restored path also missing", Steps: []Step{
			handoff("/gone", "", ""),
			rootLoad(marker),
			handoff("/gone/", "", ""),
		}},
		{Name: "plain root load", Steps: []Step{
			rootLoad(""),
			rootLoad("?other=1"),
		}},
		{Name: "marker without intent", Initial: map[string]string{spa.AttemptedKey: "true"}, Steps: []Step{
			rootLoad(marker),
		}},
		{Name: "marker among other params", Steps: []Step{
			handoff("/work", "", ""),
			rootLoad("?utm=x&" + spa.MarkerParam + "=" + spa.MarkerValue),
		}},
		{Name: "corrupt intent", Initial: map[string]string{spa.IntentKey: "{", spa.AttemptedKey: "true"}, Steps: []Step{
			rootLoad(marker),
		}},
		{Name: "null intent", Initial: map[string]string{spa.IntentKey: "null"}, Steps: []Step{
			rootLoad(marker),
		}},
		{Name: "wrong field type", Initial: map[string]string{spa.IntentKey: `{"path":5}`}, Steps: []Step{
			rootLoad(marker),
		}},
		{Name: "intent missing leading slash", Initial: map[string]string{spa.IntentKey: `{"path":"docs","search":"","hash":""}`}, Steps: []Step{
			rootLoad(marker),
		}},
		{Name: "reload of restored route", Steps: []Step{
			handoff("/typo", "", ""),
			rootLoad(marker),
			handoff("/typo/", "", ""),
			rootLoad(marker),
		}},
		{Name: "protocol-relative path", Steps: []Step{
			handoff("//evil.example", "", ""),
			rootLoad(marker),
		}},
		{Name: "backslash path", Initial: map[string]string{spa.IntentKey: `{"path":"/\\evil.example"}`}, Steps: []Step{
			rootLoad(marker),
		}},
		{Name: "field names are case-sensitive", Initial: map[string]string{spa.IntentKey: `{"PATH":"/x","Search":"?a=1"}`}, Steps: []Step{
			rootLoad(marker),
		}},
	}
}

// Verify runs every scenario through both the Go protocol and the script and
// reports where they disagree
func Verify(ctx context.Context, runner *Runner, protocol *spa.Protocol) ([]Mismatch, error) {
	var mismatches []Mismatch
	for _, sc := range Scenarios() {
		goTrace, err := play(ctx, sc, protocol.NotFound, protocol.Redirect)
		if err != nil {
			return nil, fmt.Errorf("%s (go): %w", sc.Name, err)
		}
		jsTrace, err := play(ctx, sc, runner.NotFound, runner.Redirect)
		if err != nil {
			return nil, fmt.Errorf("%s (script): %w", sc.Name, err)
		}
		if !sameTrace(goTrace, jsTrace) {
			mismatches = append(mismatches, Mismatch{Scenario: sc.Name, Go: goTrace, Script: jsTrace})
		}
	}
	return mismatches, nil
}

type handlerFunc func(context.Context, spa.Store, spa.Location, spa.Navigator) (spa.Outcome, error)

func play(ctx context.Context, sc Scenario, notFound, redirect handlerFunc) (Trace, error) {
	store := spa.NewMapStore()
	for k, v := range sc.Initial {
		if err := store.Set(ctx, k, v); err != nil {
			return Trace{}, err
		}
	}

	nav := &spa.Recorder{}
	var trace Trace
	for _, step := range sc.Steps {
		fn := notFound
		if step.Handler == spa.HandlerRedirect {
			fn = redirect
		}
		outcome, err := fn(ctx, store, step.Location, nav)
		if err != nil {
			return Trace{}, err
		}
		trace.Outcomes = append(trace.Outcomes, outcome)
	}
	trace.Navigations = nav.Calls()
	trace.Store = store.Snapshot()
	return trace, nil
}

// sameTrace compares stored intents by value since the two encoders may
// differ in key order or escaping
func sameTrace(a, b Trace) bool {
	if !reflect.DeepEqual(a.Outcomes, b.Outcomes) || !reflect.DeepEqual(a.Navigations, b.Navigations) {
		return false
	}
	if len(a.Store) != len(b.Store) {
		return false
	}
	for k, av := range a.Store {
		bv, ok := b.Store[k]
		if !ok {
			return false
		}
		if k == spa.IntentKey {
			ai, aerr := spa.DecodeIntent(av)
			bi, berr := spa.DecodeIntent(bv)
			if aerr == nil && berr == nil {
				if ai != bi {
					return false
				}
				continue
			}
		}
		if av != bv {
			return false
		}
	}
	return true
}
