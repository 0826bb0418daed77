package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sales-pulse/internal/bus"
	"sales-pulse/internal/cache"
	"sales-pulse/internal/config"
	"sales-pulse/internal/forecast"
	"sales-pulse/internal/keycrm"
	"sales-pulse/internal/metrics"
	"sales-pulse/internal/query"
	"sales-pulse/internal/store"
	"sales-pulse/internal/syncer"
)

// newTestServer wires a Server over a fresh store. The upstream client points
// at a dead address; tests that need sync traffic swap it for httptest.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := bus.New()
	c := cache.New(time.Minute, time.Minute)
	m := metrics.New()
	sy := syncer.New(st, keycrm.NewClient("http://127.0.0.1:0", "test-key"), b, c, m)
	f := forecast.New(st, t.TempDir())
	t.Cleanup(f.Close)

	return NewServer(st, query.New(st), sy, f, b, c, m)
}

// seedRetailOrder lands one retail order for the current Kyiv day and rebuilds
// the derived layers.
func seedRetailOrder(t *testing.T, st *store.Store, id int64, total float64) {
	t.Helper()
	day := time.Now().In(config.Kyiv)
	ts := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, config.Kyiv)
	manager := int64(4)
	if _, err := st.UpsertOrders([]store.Order{{
		ID:         id,
		SourceID:   1,
		StatusID:   1,
		ManagerID:  &manager,
		GrandTotal: total,
		OrderedAt:  ts,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}}); err != nil {
		t.Fatalf("UpsertOrders: %v", err)
	}
	if err := st.RefreshSilverOrders(nil); err != nil {
		t.Fatalf("RefreshSilverOrders: %v", err)
	}
	if err := st.RefreshGold(); err != nil {
		t.Fatalf("RefreshGold: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, target string, body *strings.Reader) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, target, rec.Body.String(), err)
	}
	return rec, out
}

func TestHealth_DegradedBeforeFirstSync(t *testing.T) {
	srv := newTestServer(t)

	rec, out := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/health status = %d, want 200", rec.Code)
	}
	if out["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", out["status"])
	}
	if age, ok := out["last_sync_age_sec"].(float64); !ok || age != -1 {
		t.Errorf("last_sync_age_sec = %v, want -1", out["last_sync_age_sec"])
	}
}

func TestHealth_OKAfterRecentSync(t *testing.T) {
	srv := newTestServer(t)
	if err := srv.store.SetSyncTime(store.MetaOrders, time.Now()); err != nil {
		t.Fatalf("SetSyncTime: %v", err)
	}

	_, out := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)
	if out["status"] != "ok" {
		t.Errorf("status = %v, want ok", out["status"])
	}
	if age, ok := out["last_sync_age_sec"].(float64); !ok || age < 0 || age > 60 {
		t.Errorf("last_sync_age_sec = %v, want small non-negative", out["last_sync_age_sec"])
	}
	if out["forecast_ready"] != false {
		t.Errorf("forecast_ready = %v, want false", out["forecast_ready"])
	}
}

func TestHealth_DegradedWhenSyncStale(t *testing.T) {
	srv := newTestServer(t)
	if err := srv.store.SetSyncTime(store.MetaOrders, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("SetSyncTime: %v", err)
	}

	_, out := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)
	if out["status"] != "degraded" {
		t.Errorf("status = %v, want degraded for hour-old cursor", out["status"])
	}
}

func TestParams_Validation(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	cases := []struct {
		target string
		want   int
	}{
		{"/api/summary?sales_type=wholesale", 400},
		{"/api/summary?source_id=abc", 400},
		{"/api/summary?category_id=x", 400},
		{"/api/summary?limit=-1", 400},
		{"/api/summary?start_date=2025-13-40&end_date=2025-06-30", 400},
		{"/api/summary?start_date=2025-06-30&end_date=2025-06-01", 400},
		{"/api/summary?period=decade", 400},
		{"/api/summary", 200},
		{"/api/summary?sales_type=b2b", 200},
	}
	for _, c := range cases {
		rec, out := doJSON(t, h, http.MethodGet, c.target, nil)
		if rec.Code != c.want {
			t.Errorf("GET %s status = %d, want %d (body %v)", c.target, rec.Code, c.want, out)
		}
		if c.want == 400 && out["error"] == "" {
			t.Errorf("GET %s: missing error message", c.target)
		}
	}
}

func TestParams_ExplicitDatesWinOverPeriod(t *testing.T) {
	srv := newTestServer(t)

	target := "/api/summary?start_date=2025-03-01&end_date=2025-03-10&period=week"
	_, out := doJSON(t, srv.Handler(), http.MethodGet, target, nil)
	if out["startDate"] != "2025-03-01" || out["endDate"] != "2025-03-10" {
		t.Errorf("window = %v..%v, want explicit dates", out["startDate"], out["endDate"])
	}
}

func TestUnknownRoute_JSON404(t *testing.T) {
	srv := newTestServer(t)

	rec, out := doJSON(t, srv.Handler(), http.MethodGet, "/api/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/nope status = %d, want 404", rec.Code)
	}
	if out["error"] != "not found" {
		t.Errorf("error = %v, want not found", out["error"])
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/summary", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 204 {
		t.Errorf("OPTIONS status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestSummary_CachesSecondRead(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodGet, "/api/summary", nil)
	doJSON(t, h, http.MethodGet, "/api/summary", nil)

	if stats := srv.cache.Stats(); stats.Hits < 1 {
		t.Errorf("cache hits = %d, want >= 1 after repeat read", stats.Hits)
	}
}

func TestSyncTrigger_Starts(t *testing.T) {
	srv := newTestServer(t)

	rec, out := doJSON(t, srv.Handler(), http.MethodPost, "/api/sync/trigger", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("POST /api/sync/trigger status = %d, want 200", rec.Code)
	}
	if out["status"] != "sync_started" {
		t.Errorf("status = %v, want sync_started", out["status"])
	}
}

func TestPathLabel(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/api/goals/42", "/api/goals/:id"},
		{"/api/goals", "/api/goals"},
		{"/api/revenue/trend", "/api/revenue/trend"},
		{"/api/customers/at-risk", "/api/customers/at-risk"},
		{"/api/7/13", "/api/:id/:id"},
	}
	for _, c := range cases {
		if got := pathLabel(c.in); got != c.want {
			t.Errorf("pathLabel(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWS_ConnectAndBroadcast(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/dashboard"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello bus.Message
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if hello.Type != bus.EventConnected {
		t.Fatalf("greeting type = %q, want %q", hello.Type, bus.EventConnected)
	}

	if n := srv.bus.BroadcastAll(bus.EventSyncStatus, map[string]bool{"running": false}); n != 1 {
		t.Fatalf("BroadcastAll reached %d clients, want 1", n)
	}
	var msg bus.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if msg.Type != bus.EventSyncStatus {
		t.Errorf("broadcast type = %q, want %q", msg.Type, bus.EventSyncStatus)
	}
}
