package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DailyRevenue is one day of the model training series.
type DailyRevenue struct {
	Date    string
	Revenue float64
}

// DailyRevenueSeries returns per-day revenue from Silver for model training:
// non-return orders from active sources, optionally narrowed to one sales
// type. Days with no sales are absent; callers zero-fill the gaps.
func (s *Store) DailyRevenueSeries(salesType, sinceDate string) ([]DailyRevenue, error) {
	q := `
		SELECT order_date, SUM(grand_total)
		FROM silver_orders
		WHERE is_return = 0 AND is_active_source = 1 AND order_date >= ?`
	args := []any{sinceDate}
	if salesType != "" && salesType != SalesTypeAll {
		q += " AND sales_type = ?"
		args = append(args, salesType)
	}
	q += " GROUP BY order_date ORDER BY order_date"

	rows, err := s.sql.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("daily revenue series: %w", err)
	}
	defer rows.Close()

	var out []DailyRevenue
	for rows.Next() {
		var d DailyRevenue
		if err := rows.Scan(&d.Date, &d.Revenue); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prediction is one forecast day written back by the revenue model.
type Prediction struct {
	PredictionDate   string  `json:"prediction_date"`
	SalesType        string  `json:"sales_type"`
	PredictedRevenue float64 `json:"predicted_revenue"`
	ModelMAE         float64 `json:"model_mae"`
	ModelMAPE        float64 `json:"model_mape"`
	CreatedAt        string  `json:"created_at"`
}

// SavePredictions upserts a forecast batch. Re-running a forecast for the
// same horizon replaces the previous values for those days.
func (s *Store) SavePredictions(preds []Prediction) (int, error) {
	if len(preds) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO revenue_predictions
			(prediction_date, sales_type, predicted_revenue, model_mae, model_mape, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(prediction_date, sales_type) DO UPDATE SET
			predicted_revenue = excluded.predicted_revenue,
			model_mae         = excluded.model_mae,
			model_mape        = excluded.model_mape,
			created_at        = excluded.created_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare revenue_predictions: %w", err)
	}
	defer stmt.Close()

	createdAt := nowUTC()
	written := 0
	for _, p := range preds {
		if p.PredictionDate == "" || p.SalesType == "" {
			continue
		}
		if p.PredictedRevenue < 0 {
			p.PredictedRevenue = 0
		}
		if _, err := stmt.Exec(p.PredictionDate, p.SalesType, p.PredictedRevenue,
			p.ModelMAE, p.ModelMAPE, createdAt); err != nil {
			return written, fmt.Errorf("upsert prediction %s/%s: %w", p.PredictionDate, p.SalesType, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// LoadPredictions returns stored forecasts for a date range, oldest first.
func (s *Store) LoadPredictions(startDate, endDate, salesType string) ([]Prediction, error) {
	rows, err := s.sql.Query(`
		SELECT prediction_date, sales_type, predicted_revenue, model_mae, model_mape, created_at
		FROM revenue_predictions
		WHERE prediction_date >= ? AND prediction_date <= ? AND sales_type = ?
		ORDER BY prediction_date`, startDate, endDate, salesType)
	if err != nil {
		return nil, fmt.Errorf("load predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(&p.PredictionDate, &p.SalesType, &p.PredictedRevenue,
			&p.ModelMAE, &p.ModelMAPE, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestPredictionAge reports how old the newest stored forecast is.
// ok=false when no forecast exists yet.
func (s *Store) LatestPredictionAge() (time.Duration, bool, error) {
	var created sql.NullString
	err := s.sql.QueryRow("SELECT MAX(created_at) FROM revenue_predictions").Scan(&created)
	if err != nil {
		return 0, false, fmt.Errorf("latest prediction: %w", err)
	}
	if !created.Valid || created.String == "" {
		return 0, false, nil
	}
	t, perr := time.Parse(time.RFC3339, created.String)
	if perr != nil {
		return 0, false, nil
	}
	return time.Since(t), true, nil
}
