package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew_InstancesAreIndependent(t *testing.T) {
	// Two instances must not fight over registration.
	a := New()
	b := New()
	a.ObserveHTTP("/api/summary", "GET", 200, 10*time.Millisecond)
	b.ObserveSyncCycle("applied", 3)
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.ObserveHTTP("/api/summary", "GET", 200, 5*time.Millisecond)
	m.ObserveSyncCycle("applied", 7)
	m.TrainingRuns.WithLabelValues("trained").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`salespulse_http_requests_total{method="GET",path="/api/summary",status="200"} 1`,
		`salespulse_sync_orders_applied_total 7`,
		`salespulse_forecast_training_runs_total{result="trained"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
