package middleware

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jikku/portfolio/internal/auth"
	"github.com/jikku/portfolio/internal/metrics"
	"github.com/jikku/portfolio/internal/session"
)

func TestBodySizeLimit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.Write(body)
	})

	limited := BodySizeLimit(100, "/api/deploy")(handler)

	tests := []struct {
		name       string
		path       string
		bodySize   int
		wantStatus int
	}{
		{"small body", "/api/contact", 50, http.StatusOK},
		{"exact limit", "/api/contact", 100, http.StatusOK},
		{"over limit", "/api/contact", 200, http.StatusRequestEntityTooLarge},
		{"deploy endpoint skipped", "/api/deploy", 200, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Repeat("x", tt.bodySize)
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(body))
			rr := httptest.NewRecorder()

			limited.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequestTracing(t *testing.T) {
	var captured string
	traced := RequestTracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get(RequestIDHeader)
	}))

	t.Run("generates request ID", func(t *testing.T) {
		rr := httptest.NewRecorder()
		traced.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		id := rr.Header().Get(RequestIDHeader)
		if len(id) != 36 {
			t.Errorf("X-Request-ID = %q, want a uuid", id)
		}
		if id != captured {
			t.Errorf("Request ID mismatch: response=%s, handler=%s", id, captured)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "existing-id-123")
		rr := httptest.NewRecorder()
		traced.ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "existing-id-123" {
			t.Errorf("Should preserve existing ID, got %s", got)
		}
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("a", 100))
		rr := httptest.NewRecorder()
		traced.ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); len(got) != 36 {
			t.Errorf("oversized id should be replaced, got %q", got)
		}
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/about/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("nosniff missing")
	}
	if rr.Header().Get("Content-Security-Policy") != "" {
		t.Error("site pages should not get the API CSP")
	}
	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS missing in production")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if !strings.Contains(rr.Header().Get("Content-Security-Policy"), "default-src 'none'") {
		t.Errorf("API CSP = %q", rr.Header().Get("Content-Security-Policy"))
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("API X-Frame-Options = %q", rr.Header().Get("X-Frame-Options"))
	}

	rr = httptest.NewRecorder()
	SecurityHeaders(false)(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should be off outside production")
	}
}

func TestCompress(t *testing.T) {
	mw, err := Compress(64)
	if err != nil {
		t.Fatal(err)
	}
	body := strings.Repeat("<p>hello</p>", 100)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, body)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", rr.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := io.ReadAll(zr)
	if string(plain) != body {
		t.Error("decompressed body mismatch")
	}

	// Websocket handshakes are never wrapped
	req = httptest.NewRequest(http.MethodGet, "/__livereload", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Upgrade", "websocket")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Content-Encoding") != "" {
		t.Error("upgrade requests must not be compressed")
	}
}

func TestLoggingRecordsRoute(t *testing.T) {
	m := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Chain(mux, Logging(m), RequestTracing)

	for _, p := range []string{"/api/items/1", "/api/items/2", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "GET /api/items/{id}", "418")); got != 2 {
		t.Errorf("pattern route count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched count = %v, want 1", got)
	}
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"success":false`) {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	backend := session.NewMemoryBackend(time.Minute)
	defer backend.Close()
	sessions := auth.NewSessions(backend, session.CookieOptions{})

	h := RequireAdmin(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rr.Code)
	}

	login := httptest.NewRecorder()
	if err := sessions.Login(context.Background(), login, httptest.NewRequest(http.MethodPost, "/api/login", nil), "admin"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	for _, c := range login.Result().Cookies() {
		req.AddCookie(c)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("admin status = %d, want 204", rr.Code)
	}
}
