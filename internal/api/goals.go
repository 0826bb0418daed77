package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sales-pulse/internal/bus"
	"sales-pulse/internal/logger"
	"sales-pulse/internal/query"
	"sales-pulse/internal/store"
)

// periodTypeParam reads period_type, defaulting to month.
func periodTypeParam(r *http.Request) string {
	if v := r.URL.Query().Get("period_type"); v != "" {
		return v
	}
	return query.GoalPeriodMonth
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	periodType, salesType := q.Get("period_type"), q.Get("sales_type")
	s.cached(w, "goals:list:"+periodType+":"+salesType, func() (interface{}, error) {
		goals, err := s.store.ListGoals(periodType, salesType)
		if err != nil {
			return nil, err
		}
		if goals == nil {
			goals = []store.RevenueGoal{}
		}
		return goals, nil
	})
}

func (s *Server) handleSaveGoal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeriodType    string  `json:"period_type"`
		PeriodStart   string  `json:"period_start"`
		SalesType     string  `json:"sales_type"`
		TargetRevenue float64 `json:"target_revenue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	switch req.PeriodType {
	case query.GoalPeriodMonth, query.GoalPeriodWeek:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown period_type %q", req.PeriodType))
		return
	}
	if _, err := time.Parse("2006-01-02", req.PeriodStart); err != nil {
		writeError(w, http.StatusBadRequest, "period_start must be YYYY-MM-DD")
		return
	}
	if req.TargetRevenue <= 0 {
		writeError(w, http.StatusBadRequest, "target_revenue must be positive")
		return
	}
	if req.SalesType == "" {
		req.SalesType = store.SalesTypeRetail
	}

	g := store.RevenueGoal{
		PeriodType:    req.PeriodType,
		PeriodStart:   req.PeriodStart,
		SalesType:     req.SalesType,
		TargetRevenue: req.TargetRevenue,
	}
	id, err := s.store.SaveGoal(g)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	g.ID = id

	s.cache.Invalidate("goals")
	s.broadcastGoalProgress(g.PeriodType, g.SalesType)
	writeJSON(w, g)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid goal id")
		return
	}

	// Look the goal up first so the progress broadcast knows its period.
	goals, err := s.store.ListGoals("", "")
	if err != nil {
		writeQueryError(w, err)
		return
	}
	var deleted *store.RevenueGoal
	for i := range goals {
		if goals[i].ID == id {
			deleted = &goals[i]
			break
		}
	}
	if deleted == nil {
		writeError(w, http.StatusNotFound, "goal not found")
		return
	}

	if _, err := s.store.DeleteGoal(id); err != nil {
		writeQueryError(w, err)
		return
	}
	s.cache.Invalidate("goals")
	s.broadcastGoalProgress(deleted.PeriodType, deleted.SalesType)
	writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleSmartGoals(w http.ResponseWriter, r *http.Request) {
	periodType := periodTypeParam(r)
	salesType := r.URL.Query().Get("sales_type")
	s.cached(w, "goals:smart:"+periodType+":"+salesType, func() (interface{}, error) {
		return s.query.SmartGoals(periodType, salesType)
	})
}

func (s *Server) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	periodType := periodTypeParam(r)
	salesType := r.URL.Query().Get("sales_type")
	s.cached(w, "goals:progress:"+periodType+":"+salesType, func() (interface{}, error) {
		return s.query.Progress(periodType, salesType)
	})
}

// broadcastGoalProgress pushes the recomputed gauge to the dashboard after a
// goal changes.
func (s *Server) broadcastGoalProgress(periodType, salesType string) {
	p, err := s.query.Progress(periodType, salesType)
	if err != nil {
		logger.Warn("API", fmt.Sprintf("Goal progress broadcast failed: %v", err))
		return
	}
	s.metrics.WSBroadcasts.Inc()
	s.bus.Broadcast(roomDashboard, bus.EventGoalProgress, p)
}
