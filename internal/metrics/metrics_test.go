package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jikku/portfolio/internal/spa"
)

func TestObserveRedirectAsProtocolObserver(t *testing.T) {
	m := New()
	p := spa.New(spa.WithObserver(m.ObserveRedirect))
	ctx := context.Background()
	store := spa.NewMapStore()

	p.NotFound(ctx, store, spa.Location{Path: "/a"}, &spa.Recorder{})
	p.Redirect(ctx, store, spa.Location{Path: "/", Search: "?spa-redirect=true"}, &spa.Recorder{})
	p.Redirect(ctx, store, spa.Location{Path: "/"}, &spa.Recorder{})

	tests := []struct {
		handler string
		outcome spa.Outcome
		want    float64
	}{
		{spa.HandlerNotFound, spa.OutcomeHandoff, 1},
		{spa.HandlerRedirect, spa.OutcomeRestored, 1},
		{spa.HandlerRedirect, spa.OutcomeNoMarker, 1},
		{spa.HandlerRedirect, spa.OutcomeCorrupt, 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.RedirectOutcomes.WithLabelValues(tt.handler, string(tt.outcome)))
		if got != tt.want {
			t.Errorf("%s/%s = %v, want %v", tt.handler, tt.outcome, got, tt.want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "site", 200, 20*time.Millisecond)
	m.ObserveRedirect(spa.HandlerNotFound, spa.OutcomeLoopBroken)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		`portfolio_http_requests_total{method="GET",route="site",status="200"} 1`,
		`portfolio_spa_redirect_outcomes_total{handler="not-found",outcome="loop-broken"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Deployments.WithLabelValues("ok").Inc()
	if got := testutil.ToFloat64(b.Deployments.WithLabelValues("ok")); got != 0 {
		t.Errorf("second registry saw %v deployments", got)
	}
}
