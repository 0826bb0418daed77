// Package api is the dashboard's HTTP surface: JSON aggregates over the query
// layer, the forecast and sync control endpoints, Prometheus metrics and the
// WebSocket fan-out. Aggregate reads go through the TTL cache; the sync engine
// invalidates the matching key prefixes when fresh data lands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sales-pulse/internal/bus"
	"sales-pulse/internal/cache"
	"sales-pulse/internal/forecast"
	"sales-pulse/internal/logger"
	"sales-pulse/internal/metrics"
	"sales-pulse/internal/query"
	"sales-pulse/internal/store"
	"sales-pulse/internal/syncer"
)

const (
	// roomDashboard is the single WS room every dashboard client joins.
	roomDashboard = "dashboard"

	// apiTimeout bounds one aggregate request; the window keeps a slow SQLite
	// scan from holding a dashboard tab forever.
	apiTimeout = 30 * time.Second

	// syncStaleAfter is how old the orders cursor may get before /api/health
	// reports degraded.
	syncStaleAfter = 15 * time.Minute

	// manualSyncBudget bounds a cycle kicked via POST /api/sync/trigger.
	manualSyncBudget = 10 * time.Minute
)

// Server wires the HTTP handlers to the store, query engine, sync engine,
// forecaster, bus, cache and metrics.
type Server struct {
	store         *store.Store
	query         *query.Engine
	sync          *syncer.Engine
	forecast      *forecast.Forecaster
	bus           *bus.Bus
	cache         *cache.Cache
	metrics       *metrics.Metrics
	conversations *ConversationStore

	startedAt time.Time
	now       func() time.Time
}

// NewServer creates a Server over the given components.
func NewServer(st *store.Store, q *query.Engine, sy *syncer.Engine, f *forecast.Forecaster, b *bus.Bus, c *cache.Cache, m *metrics.Metrics) *Server {
	return &Server{
		store:         st,
		query:         q,
		sync:          sy,
		forecast:      f,
		bus:           b,
		cache:         c,
		metrics:       m,
		conversations: NewConversationStore(),
		startedAt:     time.Now(),
		now:           time.Now,
	}
}

// Conversations exposes the chat-context store so the scheduler can prune it.
func (s *Server) Conversations() *ConversationStore {
	return s.conversations
}

// Handler returns the full route table. API routes run behind the metrics and
// deadline middleware; /metrics and the WS upgrade stay outside the deadline
// wrapper.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/health", s.handleHealth)
	api.HandleFunc("GET /api/summary", s.handleSummary)
	api.HandleFunc("GET /api/revenue/trend", s.handleRevenueTrend)
	api.HandleFunc("GET /api/revenue/forecast", s.handleForecast)
	api.HandleFunc("POST /api/revenue/forecast/train", s.handleForecastTrain)
	api.HandleFunc("GET /api/revenue/forecast/evaluate", s.handleForecastEvaluate)
	api.HandleFunc("GET /api/sales/by-source", s.handleSalesBySource)
	api.HandleFunc("GET /api/products/top", s.handleTopProducts)
	api.HandleFunc("GET /api/customers/insights", s.handleCustomerInsights)
	api.HandleFunc("GET /api/customers/cohorts", s.handleCohorts)
	api.HandleFunc("GET /api/customers/cohorts/enhanced", s.handleCohortsEnhanced)
	api.HandleFunc("GET /api/customers/second-purchase", s.handleSecondPurchase)
	api.HandleFunc("GET /api/customers/ltv", s.handleCohortLTV)
	api.HandleFunc("GET /api/customers/at-risk", s.handleAtRisk)
	api.HandleFunc("GET /api/stocks/summary", s.handleStocksSummary)
	api.HandleFunc("GET /api/stocks/trend", s.handleStocksTrend)
	api.HandleFunc("GET /api/stocks/analysis", s.handleStocksAnalysis)
	api.HandleFunc("GET /api/stocks/alerts", s.handleStocksAlerts)
	api.HandleFunc("GET /api/goals", s.handleListGoals)
	api.HandleFunc("POST /api/goals", s.handleSaveGoal)
	api.HandleFunc("DELETE /api/goals/{id}", s.handleDeleteGoal)
	api.HandleFunc("GET /api/goals/smart", s.handleSmartGoals)
	api.HandleFunc("GET /api/goals/progress", s.handleGoalProgress)
	api.HandleFunc("GET /api/traffic/summary", s.handleTrafficSummary)
	api.HandleFunc("GET /api/traffic/transactions", s.handleTrafficTransactions)
	api.HandleFunc("POST /api/sync/trigger", s.handleSyncTrigger)
	api.HandleFunc("/api/", s.handleNotFound)

	root := http.NewServeMux()
	root.Handle("/api/", s.withMetrics(withDeadline(api)))
	root.Handle("GET /metrics", s.metrics.Handler())
	root.HandleFunc("GET /ws/dashboard", s.handleWS)
	return corsMiddleware(root)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTP(pathLabel(r.URL.Path), r.Method, rec.status, time.Since(start))
	})
}

// pathLabel collapses numeric path segments so ids do not explode the metric
// label cardinality.
func pathLabel(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.Atoi(p); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// bufferedResponse holds a handler's output until the deadline race resolves.
type bufferedResponse struct {
	header http.Header
	body   []byte
	status int
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.body = append(b.body, p...)
	return len(p), nil
}

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

// withDeadline bounds each request by apiTimeout. The handler runs against a
// buffered writer; when the deadline wins the buffer is dropped and the client
// gets 504.
func withDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
		defer cancel()

		buf := &bufferedResponse{header: make(http.Header)}
		done := make(chan struct{})
		go func() {
			defer close(done)
			next.ServeHTTP(buf, r.WithContext(ctx))
		}()

		select {
		case <-done:
			h := w.Header()
			for k, v := range buf.header {
				h[k] = v
			}
			if buf.status != 0 {
				w.WriteHeader(buf.status)
			}
			w.Write(buf.body)
		case <-ctx.Done():
			writeError(w, http.StatusGatewayTimeout, "request timed out")
		}
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeQueryError maps a query-layer failure onto the right status code.
func writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, query.ErrInvalidParams) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Error("API", err.Error())
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

// params resolves the common filter set. Explicit start_date/end_date win over
// the period shortcut; with neither, the window defaults to the current month.
func (s *Server) params(r *http.Request) (query.Params, error) {
	q := r.URL.Query()
	p := query.Params{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		SalesType: q.Get("sales_type"),
		Brand:     q.Get("brand"),
	}
	if v := q.Get("source_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("%w: bad source_id %q", query.ErrInvalidParams, v)
		}
		p.SourceID = &id
	}
	if v := q.Get("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, fmt.Errorf("%w: bad category_id %q", query.ErrInvalidParams, v)
		}
		p.CategoryID = &id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%w: bad limit %q", query.ErrInvalidParams, v)
		}
		p.Limit = n
	}

	if p.StartDate == "" || p.EndDate == "" {
		period := q.Get("period")
		if period == "" {
			period = query.PeriodMonth
		}
		start, end, err := query.ResolvePeriod(period, s.now())
		if err != nil {
			return p, err
		}
		if p.StartDate == "" {
			p.StartDate = start
		}
		if p.EndDate == "" {
			p.EndDate = end
		}
	}

	if err := p.Normalize(); err != nil {
		return p, err
	}
	return p, nil
}

// cached runs fn through the aggregate cache under key and writes the result.
func (s *Server) cached(w http.ResponseWriter, key string, fn func() (interface{}, error)) {
	v, err := s.cache.GetOrCompute(key, fn)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, v)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"

	stats, err := s.store.GetStats()
	if err != nil {
		logger.Warn("API", fmt.Sprintf("Health stats failed: %v", err))
		status = "degraded"
	}

	lastSyncAge := -1.0
	if t, perr := time.Parse(time.RFC3339, stats.LastSync); perr == nil {
		age := s.now().Sub(t)
		lastSyncAge = age.Round(time.Second).Seconds()
		if age > syncStaleAfter {
			status = "degraded"
		}
	} else {
		// Never synced yet.
		status = "degraded"
	}

	writeJSON(w, map[string]interface{}{
		"status":            status,
		"uptime_seconds":    int(time.Since(s.startedAt).Seconds()),
		"last_sync_age_sec": lastSyncAge,
		"db":                stats,
		"sync":              s.sync.Status(),
		"cache":             s.cache.Stats(),
		"ws":                s.bus.Stats(),
		"forecast_ready":    s.forecast.Ready(),
	})
}

// --- Sync control ---

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if s.sync.Status().Running {
		writeError(w, http.StatusConflict, "sync cycle already running")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), manualSyncBudget)
		defer cancel()
		if _, err := s.sync.RunOnce(ctx); err != nil && !errors.Is(err, syncer.ErrAlreadyRunning) {
			logger.Warn("API", fmt.Sprintf("Manual sync failed: %v", err))
		}
		s.metrics.WSBroadcasts.Inc()
		s.bus.BroadcastAll(bus.EventSyncStatus, s.sync.Status())
	}()
	writeJSON(w, map[string]string{"status": "sync_started"})
}

// --- WebSocket ---

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from arbitrary origins, same as the CORS policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		return
	}
	s.metrics.WSClients.Inc()
	defer s.metrics.WSClients.Dec()
	s.bus.Serve(roomDashboard, conn)
}
