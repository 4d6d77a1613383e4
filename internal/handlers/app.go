// Package handlers is the HTTP surface: the hosted site with its SPA redirect
// protocol, the contact form, deployments and the admin API.
package handlers

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/jikku/portfolio/internal/auth"
	"github.com/jikku/portfolio/internal/clientjs"
	"github.com/jikku/portfolio/internal/config"
	"github.com/jikku/portfolio/internal/hosting"
	"github.com/jikku/portfolio/internal/metrics"
	"github.com/jikku/portfolio/internal/middleware"
	"github.com/jikku/portfolio/internal/notifier"
	"github.com/jikku/portfolio/internal/session"
	"github.com/jikku/portfolio/internal/spa"
)

// Deps are the collaborators the handlers need
type Deps struct {
	Config   *config.Config
	DB       *sql.DB
	Sessions session.Backend
	Metrics  *metrics.Metrics
	Notifier *notifier.Notifier
	Hubs     *hosting.Hubs
}

// App holds everything the HTTP handlers share
type App struct {
	cfg      *config.Config
	db       *sql.DB
	fs       hosting.FileSystem
	deployer *hosting.Deployer
	manager  *hosting.Manager
	hubs     *hosting.Hubs
	sessions session.Backend
	cookie   session.CookieOptions
	admin    *auth.Sessions
	protocol *spa.Protocol
	metrics  *metrics.Metrics
	notifier *notifier.Notifier

	loginGuard     *auth.LoginGuard
	contactLimiter *auth.KeyedLimiter
	deployLimiter  *auth.KeyedLimiter
	sanitizer      *bluemonday.Policy
	injected       *injectCache
	visitSalt      []byte
}

// New wires the handlers. Call Close when done.
func New(d Deps) (*App, error) {
	if d.Config == nil || d.DB == nil || d.Sessions == nil {
		return nil, fmt.Errorf("config, database and session backend are required")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Hubs == nil {
		d.Hubs = hosting.NewHubs(nil)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate visit salt: %w", err)
	}

	fs := hosting.NewSQLFileSystem(d.DB)
	cookie := session.CookieOptions{Secure: d.Config.TLS.Enabled || d.Config.IsProduction()}

	a := &App{
		cfg:      d.Config,
		db:       d.DB,
		fs:       fs,
		deployer: hosting.NewDeployer(d.DB, hosting.LimitsForUpload(d.Config.Site.MaxUploadMB), d.Hubs),
		manager:  hosting.NewManager(d.DB, fs, d.Hubs),
		hubs:     d.Hubs,
		sessions: d.Sessions,
		cookie:   cookie,
		admin:    auth.NewSessions(d.Sessions, cookie),
		protocol: spa.New(
			spa.WithSlashPolicy(d.Config.SlashPolicy()),
			spa.WithRestoreGuard(d.Config.Site.RestoreGuard),
			spa.WithObserver(d.Metrics.ObserveRedirect),
		),
		metrics:  d.Metrics,
		notifier: d.Notifier,

		loginGuard:     auth.NewLoginGuard(),
		contactLimiter: auth.NewKeyedLimiter(rate.Every(10*time.Minute), 3, time.Hour),
		deployLimiter:  auth.NewKeyedLimiter(rate.Every(12*time.Second), 5, 10*time.Minute),
		sanitizer:      bluemonday.StrictPolicy(),
		injected:       newInjectCache(256),
		visitSalt:      salt,
	}
	return a, nil
}

// Manager exposes the site manager, for seeding at startup
func (a *App) Manager() *hosting.Manager {
	return a.manager
}

// Close stops background goroutines
func (a *App) Close() {
	a.loginGuard.Stop()
	a.contactLimiter.Stop()
	a.deployLimiter.Stop()
}

// Routes registers every endpoint on a fresh mux
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	requireAdmin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(a.admin)(h)
	}

	// Public
	mux.HandleFunc("GET /health", a.HealthHandler)
	mux.HandleFunc("POST /api/contact", a.ContactHandler)
	mux.HandleFunc("POST /api/login", a.LoginHandler)
	mux.HandleFunc("POST /api/logout", a.LogoutHandler)
	mux.HandleFunc("GET /api/auth/status", a.AuthStatusHandler)
	mux.HandleFunc("POST /api/deploy", a.DeployHandler)

	// Admin
	mux.Handle("GET /api/messages", requireAdmin(a.MessagesHandler))
	mux.Handle("POST /api/messages/{id}/read", requireAdmin(a.MarkReadHandler))
	mux.Handle("DELETE /api/messages/{id}", requireAdmin(a.DeleteMessageHandler))
	mux.Handle("GET /api/stats", requireAdmin(a.StatsHandler))
	mux.Handle("GET /api/sites", requireAdmin(a.SitesHandler))
	mux.Handle("GET /api/keys", requireAdmin(a.ListKeysHandler))
	mux.Handle("POST /api/keys", requireAdmin(a.CreateKeyHandler))
	mux.Handle("DELETE /api/keys/{id}", requireAdmin(a.DeleteKeyHandler))
	mux.Handle("GET /api/deployments", requireAdmin(a.DeploymentsHandler))
	mux.Handle("GET /api/config", requireAdmin(a.ConfigHandler))
	mux.Handle("GET /metrics", requireAdmin(a.metrics.Handler().ServeHTTP))

	if a.cfg.IsDevelopment() && a.cfg.Site.RedirectMode == config.ModeClient {
		mux.HandleFunc("GET /__livereload", func(w http.ResponseWriter, r *http.Request) {
			a.hubs.ServeWS(w, r, a.cfg.Site.Name)
		})
	}

	// Everything else is the hosted site
	mux.HandleFunc("/", a.SiteHandler)
	return mux
}

// ClientOptions are the settings the browser script runs with
func (a *App) ClientOptions() clientjs.Options {
	return clientjs.Options{
		SlashPolicy: a.cfg.SlashPolicy(),
		LiveReload:  a.cfg.IsDevelopment(),
	}
}
