package clientjs

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/spa"
)

// DefaultTimeout bounds a single script run
const DefaultTimeout = 100 * time.Millisecond

// Runner executes the embedded browser script against Go implementations of
// sessionStorage, location and history
type Runner struct {
	program *goja.Program
	opts    Options
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner compiles the script once for reuse
func NewRunner(opts Options, timeout time.Duration) (*Runner, error) {
	program, err := goja.Compile("redirect.js", Script, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile redirect script: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if opts.SlashPolicy == "" {
		opts.SlashPolicy = spa.SlashDirectoryIndex
	}
	return &Runner{
		program: program,
		opts:    opts,
		timeout: timeout,
		logger:  zap.L().Named("clientjs"),
	}, nil
}

// NotFound runs spaNotFound()
func (r *Runner) NotFound(ctx context.Context, store spa.Store, loc spa.Location, nav spa.Navigator) (spa.Outcome, error) {
	return r.run(ctx, "spaNotFound", store, loc, nav)
}

// Redirect runs spaRedirect()
func (r *Runner) Redirect(ctx context.Context, store spa.Store, loc spa.Location, nav spa.Navigator) (spa.Outcome, error) {
	return r.run(ctx, "spaRedirect", store, loc, nav)
}

func (r *Runner) run(ctx context.Context, entry string, store spa.Store, loc spa.Location, nav spa.Navigator) (spa.Outcome, error) {
	vm := goja.New()

	calls := &page{}
	defer calls.flush(nav)
	if err := r.bind(ctx, vm, store, loc, calls); err != nil {
		return "", err
	}

	// Interrupt runaway scripts
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	go func() {
		<-runCtx.Done()
		if runCtx.Err() == context.DeadlineExceeded || ctx.Err() != nil {
			vm.Interrupt(runCtx.Err())
		}
	}()

	if _, err := vm.RunProgram(r.program); err != nil {
		return "", fmt.Errorf("failed to load redirect script: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get(entry))
	if !ok {
		return "", fmt.Errorf("redirect script does not define %s", entry)
	}

	result, err := fn(goja.Undefined())
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", entry, err)
	}
	return spa.Outcome(result.String()), nil
}

// bind installs the browser globals the script expects
func (r *Runner) bind(ctx context.Context, vm *goja.Runtime, store spa.Store, loc spa.Location, nav *page) error {
	global := vm.GlobalObject()

	throw := func(err error) {
		panic(vm.NewGoError(err))
	}

	storage := map[string]interface{}{
		"getItem": func(call goja.FunctionCall) goja.Value {
			v, ok, err := store.Get(ctx, call.Argument(0).String())
			if err != nil {
				throw(err)
			}
			if !ok {
				return goja.Null()
			}
			return vm.ToValue(v)
		},
		"setItem": func(call goja.FunctionCall) goja.Value {
			if err := store.Set(ctx, call.Argument(0).String(), call.Argument(1).String()); err != nil {
				throw(err)
			}
			return goja.Undefined()
		},
		"removeItem": func(call goja.FunctionCall) goja.Value {
			if err := store.Delete(ctx, call.Argument(0).String()); err != nil {
				throw(err)
			}
			return goja.Undefined()
		},
	}

	location := map[string]interface{}{
		"pathname": loc.Path,
		"search":   loc.Search,
		"hash":     loc.Hash,
		"replace": func(call goja.FunctionCall) goja.Value {
			nav.add(spa.NavReplace, call.Argument(0).String())
			return goja.Undefined()
		},
	}

	history := map[string]interface{}{
		"replaceState": func(call goja.FunctionCall) goja.Value {
			nav.add(spa.NavReplaceState, call.Argument(2).String())
			return goja.Undefined()
		},
	}

	console := map[string]interface{}{
		"error": func(call goja.FunctionCall) goja.Value {
			r.logger.Warn("script error", zap.String("message", joinArgs(call.Arguments)))
			return goja.Undefined()
		},
		"log": func(call goja.FunctionCall) goja.Value {
			r.logger.Debug("script log", zap.String("message", joinArgs(call.Arguments)))
			return goja.Undefined()
		},
	}

	popState := func(call goja.ConstructorCall) *goja.Object {
		if err := call.This.Set("type", call.Argument(0).String()); err != nil {
			throw(err)
		}
		return nil
	}

	dispatch := func(call goja.FunctionCall) goja.Value {
		if ev := call.Argument(0).ToObject(vm); ev.Get("type").String() == "popstate" {
			nav.popState()
		}
		return vm.ToValue(true)
	}

	config := map[string]interface{}{
		"slashPolicy": string(r.opts.SlashPolicy),
	}

	for name, value := range map[string]interface{}{
		"window":              global,
		"sessionStorage":      storage,
		"location":            location,
		"history":             history,
		"console":             console,
		"PopStateEvent":       popState,
		"dispatchEvent":       dispatch,
		"__spaRedirectConfig": config,
	} {
		if err := global.Set(name, value); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	return nil
}

// page collects the navigations of one script run. A replaceState followed
// by a popstate dispatch is a router navigation.
type page struct {
	calls []spa.Navigation
}

func (p *page) add(kind spa.NavKind, target string) {
	p.calls = append(p.calls, spa.Navigation{Kind: kind, Target: target})
}

func (p *page) popState() {
	if n := len(p.calls); n > 0 && p.calls[n-1].Kind == spa.NavReplaceState {
		p.calls[n-1].Kind = spa.NavNavigate
	}
}

func (p *page) flush(nav spa.Navigator) {
	for _, c := range p.calls {
		switch c.Kind {
		case spa.NavReplace:
			nav.Replace(c.Target)
		case spa.NavReplaceState:
			nav.ReplaceState(c.Target)
		case spa.NavNavigate:
			nav.Navigate(c.Target)
		}
	}
}

func joinArgs(args []goja.Value) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a.String()
	}
	return out
}
