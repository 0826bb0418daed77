package api

import (
	"errors"
	"net/http"

	"sales-pulse/internal/forecast"
	"sales-pulse/internal/query"
	"sales-pulse/internal/store"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "summary:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.SummaryStats(p)
	})
}

func (s *Server) handleRevenueTrend(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	q := r.URL.Query()
	opts := query.TrendOptions{
		Comparison: q.Get("comparison"),
		Forecast:   q.Get("forecast") == "true" || q.Get("forecast") == "1",
	}
	key := "trend:" + p.CacheKey() + ":" + opts.Comparison
	if opts.Forecast {
		key += ":fc"
	}
	s.cached(w, key, func() (interface{}, error) {
		return s.query.RevenueTrend(p, opts)
	})
}

func (s *Server) handleSalesBySource(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "sources:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.SourcesBreakdown(p)
	})
}

func (s *Server) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "products:top:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.TopSellingProducts(p)
	})
}

// --- Forecast ---

// salesTypeParam reads the sales_type query value, defaulting to retail.
func salesTypeParam(r *http.Request) string {
	if v := r.URL.Query().Get("sales_type"); v != "" {
		return v
	}
	return store.SalesTypeRetail
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	res, err := s.forecast.Forecast(salesTypeParam(r))
	if err != nil {
		if errors.Is(err, forecast.ErrNotReady) {
			writeJSON(w, map[string]string{"status": "unavailable"})
			return
		}
		writeQueryError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleForecastTrain(w http.ResponseWriter, r *http.Request) {
	status, err := s.forecast.TrainAsync(salesTypeParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if status == forecast.StatusAlreadyTraining {
		s.metrics.TrainingRuns.WithLabelValues("busy").Inc()
	}
	writeJSON(w, map[string]string{"status": status})
}

func (s *Server) handleForecastEvaluate(w http.ResponseWriter, r *http.Request) {
	st := salesTypeParam(r)
	if ev := s.forecast.LastEvaluation(); ev != nil && ev.SalesType == st {
		writeJSON(w, ev)
		return
	}
	status, err := s.forecast.EvaluateAsync(st)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": status})
}
