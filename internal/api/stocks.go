package api

import "net/http"

func (s *Server) handleStocksSummary(w http.ResponseWriter, r *http.Request) {
	s.cached(w, "stocks:summary", func() (interface{}, error) {
		return s.query.Stocks()
	})
}

func (s *Server) handleStocksTrend(w http.ResponseWriter, r *http.Request) {
	p, err := s.params(r)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	s.cached(w, "stocks:trend:"+p.StartDate+":"+p.EndDate, func() (interface{}, error) {
		return s.query.StocksTrend(p.StartDate, p.EndDate)
	})
}

func (s *Server) handleStocksAnalysis(w http.ResponseWriter, r *http.Request) {
	s.cached(w, "stocks:analysis", func() (interface{}, error) {
		return s.query.DeadStockAnalysis()
	})
}

func (s *Server) handleStocksAlerts(w http.ResponseWriter, r *http.Request) {
	s.cached(w, "stocks:alerts", func() (interface{}, error) {
		return s.query.Restock()
	})
}
