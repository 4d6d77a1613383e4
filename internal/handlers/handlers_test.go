package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jikku/portfolio/internal/config"
	"github.com/jikku/portfolio/internal/database"
	"github.com/jikku/portfolio/internal/hosting"
	"github.com/jikku/portfolio/internal/session"
)

type testEnv struct {
	app      *App
	handler  http.Handler
	db       *sql.DB
	sessions *session.MemoryBackend
	cfg      *config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.CreateDefaultConfig()
	cfg.Database.Path = ":memory:"
	if mutate != nil {
		mutate(cfg)
	}

	backend := session.NewMemoryBackend(time.Minute)
	t.Cleanup(func() { backend.Close() })

	app, err := New(Deps{Config: cfg, DB: db, Sessions: backend})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(app.Close)

	return &testEnv{app: app, handler: app.Routes(), db: db, sessions: backend, cfg: cfg}
}

// deploy writes files straight into the site
func (e *testEnv) deploy(t *testing.T, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	for name, body := range files {
		if err := e.app.fs.WriteFile(ctx, e.cfg.Site.Name, name, []byte(body)); err != nil {
			t.Fatal(err)
		}
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return e.do(req)
}

func (e *testEnv) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := e.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.get("/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without deps should fail")
	}
}

func TestSeededPlaceholderIsServed(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.app.Manager().SeedSite(context.Background(), env.cfg.Site.Name, hosting.DefaultSite()); err != nil {
		t.Fatal(err)
	}

	rr := env.get("/")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Nothing deployed yet") {
		t.Errorf("GET / = %d %q", rr.Code, rr.Body.String())
	}
}
