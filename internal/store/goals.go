package store

import (
	"database/sql"
	"fmt"
)

// RevenueGoal is a target for one period; unique per
// (period_type, period_start, sales_type).
type RevenueGoal struct {
	ID            int64   `json:"id"`
	PeriodType    string  `json:"period_type"` // month | week
	PeriodStart   string  `json:"period_start"`
	SalesType     string  `json:"sales_type"`
	TargetRevenue float64 `json:"target_revenue"`
	CreatedAt     string  `json:"created_at"`
}

// SaveGoal inserts or replaces the goal for its period and returns its id.
func (s *Store) SaveGoal(g RevenueGoal) (int64, error) {
	if g.SalesType == "" {
		g.SalesType = SalesTypeRetail
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sql.Exec(`
		INSERT INTO revenue_goals (period_type, period_start, sales_type, target_revenue, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(period_type, period_start, sales_type) DO UPDATE SET
			target_revenue = excluded.target_revenue,
			created_at     = excluded.created_at`,
		g.PeriodType, g.PeriodStart, g.SalesType, g.TargetRevenue, nowUTC())
	if err != nil {
		return 0, fmt.Errorf("save goal: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return id, nil
	}
	var id int64
	err = s.sql.QueryRow(`
		SELECT id FROM revenue_goals WHERE period_type = ? AND period_start = ? AND sales_type = ?`,
		g.PeriodType, g.PeriodStart, g.SalesType).Scan(&id)
	return id, err
}

// ListGoals returns goals, optionally filtered by period type and sales type.
func (s *Store) ListGoals(periodType, salesType string) ([]RevenueGoal, error) {
	query := "SELECT id, period_type, period_start, sales_type, target_revenue, created_at FROM revenue_goals"
	var conds []string
	var args []any
	if periodType != "" {
		conds = append(conds, "period_type = ?")
		args = append(args, periodType)
	}
	if salesType != "" && salesType != SalesTypeAll {
		conds = append(conds, "sales_type = ?")
		args = append(args, salesType)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY period_start DESC"

	rows, err := s.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []RevenueGoal
	for rows.Next() {
		var g RevenueGoal
		if err := rows.Scan(&g.ID, &g.PeriodType, &g.PeriodStart, &g.SalesType, &g.TargetRevenue, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGoal returns the goal for one period, ok=false when none is set.
func (s *Store) GetGoal(periodType, periodStart, salesType string) (RevenueGoal, bool, error) {
	var g RevenueGoal
	err := s.sql.QueryRow(`
		SELECT id, period_type, period_start, sales_type, target_revenue, created_at
		FROM revenue_goals WHERE period_type = ? AND period_start = ? AND sales_type = ?`,
		periodType, periodStart, salesType).
		Scan(&g.ID, &g.PeriodType, &g.PeriodStart, &g.SalesType, &g.TargetRevenue, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, false, nil
	}
	if err != nil {
		return g, false, fmt.Errorf("get goal: %w", err)
	}
	return g, true, nil
}

// DeleteGoal removes a goal by id; returns whether a row was deleted.
func (s *Store) DeleteGoal(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.sql.Exec("DELETE FROM revenue_goals WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete goal: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
