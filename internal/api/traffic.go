package api

import "net/http"

func (s *Server) handleTrafficSummary(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "traffic:summary:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.Traffic(p)
	})
}

func (s *Server) handleTrafficTransactions(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "traffic:transactions:"+p.CacheKey(), func() (interface{}, error) {
		return s.query.TrafficTransactions(p)
	})
}
