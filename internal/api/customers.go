package api

import (
	"fmt"
	"net/http"
	"strconv"
)

func (s *Server) handleCustomerInsights(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "customers:insights:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.Customers(p)
	})
}

func (s *Server) handleCohorts(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "customers:cohorts:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.CohortRetention(p)
	})
}

func (s *Server) handleCohortsEnhanced(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "customers:cohorts_enhanced:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.EnhancedCohortRetention(p)
	})
}

func (s *Server) handleSecondPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "customers:second_purchase:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.DaysToSecondPurchase(p)
	})
}

func (s *Server) handleCohortLTV(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "customers:ltv:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.CohortLTV(p)
	})
}

func (s *Server) handleAtRisk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	salesType := q.Get("sales_type")

	days := 0
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad days %q", v))
			return
		}
		days = n
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad limit %q", v))
			return
		}
		limit = n
	}

	key := fmt.Sprintf("customers:at_risk:%s:%d:%d", salesType, days, limit)
	s.cached(w, key, func() (interface{}, error) {
		return s.query.AtRiskCustomers(salesType, days, limit)
	})
}
