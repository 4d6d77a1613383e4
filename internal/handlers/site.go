package handlers

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/clientjs"
	"github.com/jikku/portfolio/internal/config"
	"github.com/jikku/portfolio/internal/hosting"
	"github.com/jikku/portfolio/internal/session"
	"github.com/jikku/portfolio/internal/spa"
)

// Visit outcomes that are not protocol outcomes
const (
	outcomeServed   = "served"
	outcomeNotFound = "not-found"
)

// SiteHandler serves the deployed export. Paths the export has no file for
// go through the SPA redirect protocol, run either here (server mode) or by
// the script injected into the served documents (client mode).
func (a *App) SiteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.cfg.Site.RedirectMode == config.ModeClient {
		a.serveClientMode(w, r)
		return
	}
	a.serveServerMode(w, r)
}

func (a *App) serveServerMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := a.cfg.Site.Name
	loc := spa.LocationFromURL(r.URL)
	store := &lazyStore{w: w, r: r, backend: a.sessions, opts: a.cookie}

	if hosting.StorePath(r.URL.Path) == hosting.IndexFile {
		a.serveRoot(w, r, loc, store)
		return
	}

	f, err := hosting.Lookup(ctx, a.fs, siteID, r.URL.Path)
	if err == nil {
		a.serveFile(w, r, f, http.StatusOK, outcomeServed)
		return
	}
	if !errors.Is(err, hosting.ErrNotFound) {
		a.internalError(w, "Failed to read site file", err)
		return
	}

	if !isDocumentRequest(r) {
		a.serveNotFoundPage(w, r, outcomeNotFound)
		return
	}
	a.runNotFound(w, r, loc, store)
}

// serveRoot runs the redirect handler and serves the root document
func (a *App) serveRoot(w http.ResponseWriter, r *http.Request, loc spa.Location, store spa.Store) {
	ctx := r.Context()

	nav := &spa.Recorder{}
	outcome, err := a.protocol.Redirect(ctx, store, loc, nav)
	if err != nil {
		zap.L().Warn("Redirect handler failed, serving root", zap.Error(err))
		outcome = spa.OutcomeNoMarker
	}

	index, err := a.fs.ReadFile(ctx, a.cfg.Site.Name, hosting.IndexFile)
	if errors.Is(err, hosting.ErrNotFound) {
		a.runNotFound(w, r, loc, store)
		return
	}
	if err != nil {
		a.internalError(w, "Failed to read root document", err)
		return
	}

	nv, _ := nav.Last()
	switch outcome {
	case spa.OutcomeRestored:
		a.restore(w, r, store, index, nv.Target)
	case spa.OutcomeMissingIntent, spa.OutcomeCorrupt:
		a.serveReplaceState(w, r, index, nv.Target, string(outcome))
	default:
		a.serveFile(w, r, index, http.StatusOK, outcomeServed)
	}
}

// restore sends the visitor to target. A target the host can serve is a real
// navigation, and only that one is remembered for the restore guard. Anything
// else is a route of the application itself, so the root document is served
// with the address rewritten and the app's router takes over from there, the
// way an in-app navigation would.
func (a *App) restore(w http.ResponseWriter, r *http.Request, store spa.Store, index *hosting.File, target string) {
	u, err := url.Parse(target)
	if err == nil {
		f, err := hosting.Lookup(r.Context(), a.fs, a.cfg.Site.Name, u.Path)
		if err == nil && f.Path != hosting.IndexFile {
			if err := a.protocol.Remember(r.Context(), store, u.Path); err != nil {
				zap.L().Warn("Failed to remember restored path", zap.Error(err))
			}
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, target, http.StatusFound)
			a.recordVisit(r, string(spa.OutcomeRestored), http.StatusFound)
			return
		}
	}
	a.serveReplaceState(w, r, index, target, string(spa.OutcomeRestored))
}

// runNotFound runs the not-found handler: a handoff becomes a redirect to the
// root, anything else shows the not-found page
func (a *App) runNotFound(w http.ResponseWriter, r *http.Request, loc spa.Location, store spa.Store) {
	nav := &spa.Recorder{}
	outcome, err := a.protocol.NotFound(r.Context(), store, loc, nav)
	if err != nil {
		zap.L().Warn("Not-found handler failed", zap.Error(err), zap.String("path", loc.Path))
		a.serveNotFoundPage(w, r, outcomeNotFound)
		return
	}

	if nv, ok := nav.Last(); ok && nv.Kind == spa.NavReplace {
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, nv.Target, http.StatusFound)
		a.recordVisit(r, string(outcome), http.StatusFound)
		return
	}
	a.serveNotFoundPage(w, r, string(outcome))
}

func (a *App) serveClientMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f, err := hosting.Lookup(ctx, a.fs, a.cfg.Site.Name, r.URL.Path)
	switch {
	case err == nil && f.Path == hosting.IndexFile:
		a.serveInjected(w, r, f, clientjs.RoleRoot, http.StatusOK, outcomeServed)
	case err == nil:
		a.serveFile(w, r, f, http.StatusOK, outcomeServed)
	case errors.Is(err, hosting.ErrNotFound):
		nf := a.notFoundDocument(ctx)
		if isDocumentRequest(r) {
			a.serveInjected(w, r, nf, clientjs.RoleNotFound, http.StatusNotFound, outcomeNotFound)
			return
		}
		a.serveFile(w, r, nf, http.StatusNotFound, outcomeNotFound)
	default:
		a.internalError(w, "Failed to read site file", err)
	}
}

func (a *App) serveFile(w http.ResponseWriter, r *http.Request, f *hosting.File, status int, outcome string) {
	hosting.ServeFile(w, r, f, status)
	if isHTML(f) {
		a.recordVisit(r, outcome, status)
	}
}

// serveReplaceState serves the root document with its address rewritten to target
func (a *App) serveReplaceState(w http.ResponseWriter, r *http.Request, index *hosting.File, target, outcome string) {
	body, err := clientjs.InjectReplaceState(index.Content, target)
	if err != nil {
		zap.L().Warn("Failed to inject replaceState", zap.Error(err))
		body = index.Content
	}
	w.Header().Set("Cache-Control", "no-store")
	hosting.ServeBytes(w, r, index.MimeType, body, http.StatusOK)
	a.recordVisit(r, outcome, http.StatusOK)
}

// serveInjected serves f with the browser protocol script for role
func (a *App) serveInjected(w http.ResponseWriter, r *http.Request, f *hosting.File, role clientjs.Role, status int, outcome string) {
	body, err := a.injected.get(f.Hash+"-"+string(role), func() ([]byte, error) {
		return clientjs.Inject(f.Content, role, a.ClientOptions())
	})
	if err != nil {
		zap.L().Warn("Failed to inject redirect script", zap.Error(err), zap.String("file", f.Path))
		body = f.Content
	}

	injected := *f
	injected.Content = body
	injected.Hash = f.Hash + "-" + string(role)
	a.serveFile(w, r, &injected, status, outcome)
}

func (a *App) serveNotFoundPage(w http.ResponseWriter, r *http.Request, outcome string) {
	w.Header().Set("Cache-Control", "no-store")
	a.serveFile(w, r, a.notFoundDocument(r.Context()), http.StatusNotFound, outcome)
}

// notFoundDocument returns the export's 404.html, or the built-in one
func (a *App) notFoundDocument(ctx context.Context) *hosting.File {
	f, err := a.fs.ReadFile(ctx, a.cfg.Site.Name, hosting.NotFoundFile)
	if err == nil {
		return f
	}
	if !errors.Is(err, hosting.ErrNotFound) {
		zap.L().Warn("Failed to read 404 document", zap.Error(err))
	}

	data, _ := fs.ReadFile(hosting.DefaultSite(), hosting.NotFoundFile)
	return &hosting.File{
		Path:     hosting.NotFoundFile,
		Content:  data,
		Size:     int64(len(data)),
		MimeType: "text/html; charset=utf-8",
		Hash:     "builtin-404",
	}
}

func (a *App) internalError(w http.ResponseWriter, msg string, err error) {
	zap.L().Error(msg, zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// recordVisit stores a page view unless tracking is off or the visitor opted out
func (a *App) recordVisit(r *http.Request, outcome string, status int) {
	if !a.cfg.Site.TrackVisits || doNotTrack(r) || r.Method != http.MethodGet {
		return
	}
	_, err := a.db.ExecContext(r.Context(), `
		INSERT INTO visits (site_id, path, outcome, status, referrer, visitor_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.cfg.Site.Name, r.URL.Path, outcome, status, r.Referer(), a.visitorHash(r))
	if err != nil {
		zap.L().Warn("Failed to record visit", zap.Error(err))
	}
}

// isDocumentRequest reports whether r is a page navigation rather than a
// request for an asset. Only navigations take part in the redirect protocol.
func isDocumentRequest(r *http.Request) bool {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	ext := path.Ext(r.URL.Path)
	return ext == "" || ext == ".html" || ext == ".htm"
}

func isHTML(f *hosting.File) bool {
	return strings.HasPrefix(f.MimeType, "text/html")
}

// lazyStore is the visitor's session, created on first write so that plain
// page views never get a cookie
type lazyStore struct {
	w       http.ResponseWriter
	r       *http.Request
	backend session.Backend
	opts    session.CookieOptions
	scoped  *session.Scoped
}

func (s *lazyStore) resolve(create bool) (*session.Scoped, error) {
	if s.scoped != nil {
		return s.scoped, nil
	}
	id, ok := session.ReadID(s.r)
	if !ok {
		if !create {
			return nil, nil
		}
		var err error
		if id, err = session.Rotate(s.w, s.opts); err != nil {
			return nil, err
		}
	}
	s.scoped = session.Scope(s.backend, id)
	return s.scoped, nil
}

func (s *lazyStore) Get(ctx context.Context, key string) (string, bool, error) {
	sc, err := s.resolve(false)
	if err != nil || sc == nil {
		return "", false, err
	}
	return sc.Get(ctx, key)
}

func (s *lazyStore) Set(ctx context.Context, key, value string) error {
	sc, err := s.resolve(true)
	if err != nil {
		return err
	}
	return sc.Set(ctx, key, value)
}

func (s *lazyStore) Delete(ctx context.Context, key string) error {
	sc, err := s.resolve(false)
	if err != nil || sc == nil {
		return err
	}
	return sc.Delete(ctx, key)
}

// injectCache keeps injected documents by content hash and role
type injectCache struct {
	max   int
	items map[string][]byte
	mu    sync.Mutex
}

func newInjectCache(max int) *injectCache {
	return &injectCache{max: max, items: make(map[string][]byte)}
}

func (c *injectCache) get(key string, build func() ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	body, ok := c.items[key]
	c.mu.Unlock()
	if ok {
		return body, nil
	}

	body, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.items) >= c.max {
		c.items = make(map[string][]byte)
	}
	c.items[key] = body
	c.mu.Unlock()
	return body, nil
}
