package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sales-pulse/internal/forecast"
	"sales-pulse/internal/query"
)

func TestSummary_ReflectsSeededOrders(t *testing.T) {
	srv := newTestServer(t)
	seedRetailOrder(t, srv.store, 1, 24_000)

	_, out := doJSON(t, srv.Handler(), http.MethodGet, "/api/summary", nil)
	if got := out["totalRevenue"]; got != 24000.0 {
		t.Errorf("totalRevenue = %v, want 24000", got)
	}
	if got := out["totalOrders"]; got != 1.0 {
		t.Errorf("totalOrders = %v, want 1", got)
	}
}

func TestTrend_DailySeriesShape(t *testing.T) {
	srv := newTestServer(t)
	seedRetailOrder(t, srv.store, 1, 500)

	req := httptest.NewRequest(http.MethodGet, "/api/revenue/trend?period=week", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET trend status = %d, body %s", rec.Code, rec.Body.String())
	}
	var tr query.Trend
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode trend: %v", err)
	}
	if len(tr.Labels) == 0 || len(tr.Labels) != len(tr.Revenue) || len(tr.Labels) != len(tr.Orders) {
		t.Fatalf("series lengths labels/revenue/orders = %d/%d/%d", len(tr.Labels), len(tr.Revenue), len(tr.Orders))
	}
	var total float64
	for _, v := range tr.Revenue {
		total += v
	}
	if total != 500 {
		t.Errorf("summed revenue = %v, want 500", total)
	}
}

func TestTrend_ComparisonOverlay(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/revenue/trend?comparison=previous_period", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET trend status = %d", rec.Code)
	}
	var tr query.Trend
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode trend: %v", err)
	}
	if tr.Compare == nil {
		t.Fatal("comparison overlay missing")
	}
	if tr.Compare.Mode != query.ComparePrevPeriod {
		t.Errorf("comparison mode = %q, want %q", tr.Compare.Mode, query.ComparePrevPeriod)
	}

	rec2, _ := doJSON(t, h, http.MethodGet, "/api/revenue/trend?comparison=sideways", nil)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("bad comparison status = %d, want 400", rec2.Code)
	}
}

func TestForecast_UnavailableUntilTrained(t *testing.T) {
	srv := newTestServer(t)

	rec, out := doJSON(t, srv.Handler(), http.MethodGet, "/api/revenue/forecast", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET forecast status = %d, want 200", rec.Code)
	}
	if out["status"] != "unavailable" {
		t.Errorf("status = %v, want unavailable", out["status"])
	}
}

func TestForecastTrain_Kickoff(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec, out := doJSON(t, h, http.MethodPost, "/api/revenue/forecast/train", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST train status = %d, body %v", rec.Code, out)
	}
	if out["status"] != forecast.StatusTrainingStarted && out["status"] != forecast.StatusAlreadyTraining {
		t.Errorf("status = %v, want a training status", out["status"])
	}

	rec2, _ := doJSON(t, h, http.MethodPost, "/api/revenue/forecast/train?sales_type=wholesale", nil)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("bad sales_type train status = %d, want 400", rec2.Code)
	}
}

func TestForecastEvaluate_Kickoff(t *testing.T) {
	srv := newTestServer(t)

	rec, out := doJSON(t, srv.Handler(), http.MethodGet, "/api/revenue/forecast/evaluate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET evaluate status = %d, body %v", rec.Code, out)
	}
	if out["status"] != forecast.StatusEvaluating && out["status"] != forecast.StatusAlreadyTraining {
		t.Errorf("status = %v, want evaluating", out["status"])
	}
}

func TestAtRisk_BadParams(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	for _, target := range []string{
		"/api/customers/at-risk?days=soon",
		"/api/customers/at-risk?limit=many",
	} {
		rec, _ := doJSON(t, h, http.MethodGet, target, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
		}
	}
}

// Every aggregate endpoint must answer an empty store without erroring.
func TestAggregates_EmptyStoreSmoke(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	targets := []string{
		"/api/summary",
		"/api/revenue/trend",
		"/api/sales/by-source",
		"/api/products/top",
		"/api/customers/insights",
		"/api/customers/cohorts",
		"/api/customers/cohorts/enhanced",
		"/api/customers/second-purchase",
		"/api/customers/ltv",
		"/api/customers/at-risk",
		"/api/stocks/summary",
		"/api/stocks/trend",
		"/api/stocks/analysis",
		"/api/stocks/alerts",
		"/api/traffic/summary",
		"/api/traffic/transactions",
		"/api/goals",
		"/api/goals/smart",
		"/api/goals/progress",
	}
	for _, target := range targets {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, body %s", target, rec.Code, rec.Body.String())
		}
	}
}
