package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Growth metric keys recomputed nightly.
const (
	GrowthYoY        = "yoy"
	GrowthMoM        = "mom"
	GrowthAvgMonthly = "avg_monthly"
)

// RecomputeSeasonalIndices derives a per-month multiplicative index from the
// Silver history: month's average revenue across years divided by the overall
// monthly average. Months with no history keep index 1.
func (s *Store) RecomputeSeasonalIndices() error {
	rows, err := s.sql.Query(`
		SELECT sales_type,
		       CAST(strftime('%Y', order_date) AS INTEGER),
		       CAST(strftime('%m', order_date) AS INTEGER),
		       SUM(grand_total)
		FROM silver_orders
		WHERE is_return = 0 AND is_active_source = 1
		GROUP BY sales_type, 2, 3`)
	if err != nil {
		return fmt.Errorf("monthly revenue: %w", err)
	}

	type key struct {
		salesType string
		month     int
	}
	sums := make(map[key]float64)
	years := make(map[key]int)
	totals := make(map[string]float64)
	months := make(map[string]int)
	for rows.Next() {
		var st string
		var year, month int
		var rev float64
		if err := rows.Scan(&st, &year, &month, &rev); err != nil {
			rows.Close()
			return err
		}
		k := key{st, month}
		sums[k] += rev
		years[k]++
		totals[st] += rev
		months[st]++
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO seasonal_indices (month, sales_type, index_value, sample_years, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(month, sales_type) DO UPDATE SET
			index_value  = excluded.index_value,
			sample_years = excluded.sample_years,
			updated_at   = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare seasonal_indices: %w", err)
	}
	defer stmt.Close()

	updatedAt := nowUTC()
	for k, sum := range sums {
		overallAvg := 0.0
		if months[k.salesType] > 0 {
			overallAvg = totals[k.salesType] / float64(months[k.salesType])
		}
		index := 1.0
		if overallAvg > 0 {
			index = (sum / float64(years[k])) / overallAvg
		}
		if _, err := stmt.Exec(k.month, k.salesType, index, years[k], updatedAt); err != nil {
			return fmt.Errorf("write seasonal index %d/%s: %w", k.month, k.salesType, err)
		}
	}
	return tx.Commit()
}

// SeasonalIndex reads one index; ok=false (treated as 1.0) when absent.
func (s *Store) SeasonalIndex(month int, salesType string) (float64, bool, error) {
	var v float64
	err := s.sql.QueryRow(
		"SELECT index_value FROM seasonal_indices WHERE month = ? AND sales_type = ?",
		month, salesType).Scan(&v)
	if err == sql.ErrNoRows {
		return 1, false, nil
	}
	if err != nil {
		return 1, false, fmt.Errorf("read seasonal index: %w", err)
	}
	return v, true, nil
}

// RecomputeWeeklyPatterns derives the revenue share of each week-of-month
// (1..5, day 29+ folds into week 5) per calendar month.
func (s *Store) RecomputeWeeklyPatterns() error {
	rows, err := s.sql.Query(`
		SELECT sales_type, order_date, SUM(grand_total)
		FROM silver_orders
		WHERE is_return = 0 AND is_active_source = 1
		GROUP BY sales_type, order_date`)
	if err != nil {
		return fmt.Errorf("daily revenue: %w", err)
	}

	type key struct {
		salesType string
		month     int
		week      int
	}
	weekRev := make(map[key]float64)
	monthRev := make(map[[2]any]float64)
	for rows.Next() {
		var st, date string
		var rev float64
		if err := rows.Scan(&st, &date, &rev); err != nil {
			rows.Close()
			return err
		}
		d, perr := time.Parse("2006-01-02", date)
		if perr != nil {
			continue
		}
		week := (d.Day()-1)/7 + 1
		if week > 5 {
			week = 5
		}
		weekRev[key{st, int(d.Month()), week}] += rev
		monthRev[[2]any{st, int(d.Month())}] += rev
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO weekly_patterns (month, week_of_month, sales_type, weight, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(month, week_of_month, sales_type) DO UPDATE SET
			weight     = excluded.weight,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare weekly_patterns: %w", err)
	}
	defer stmt.Close()

	updatedAt := nowUTC()
	for k, rev := range weekRev {
		total := monthRev[[2]any{k.salesType, k.month}]
		if total <= 0 {
			continue
		}
		if _, err := stmt.Exec(k.month, k.week, k.salesType, rev/total, updatedAt); err != nil {
			return fmt.Errorf("write weekly pattern %d/%d/%s: %w", k.month, k.week, k.salesType, err)
		}
	}
	return tx.Commit()
}

// WeeklyWeights returns the stored week weights for a month, or nil when the
// month has no pattern yet (callers fall back to the default split).
func (s *Store) WeeklyWeights(month int, salesType string) (map[int]float64, error) {
	rows, err := s.sql.Query(
		"SELECT week_of_month, weight FROM weekly_patterns WHERE month = ? AND sales_type = ?",
		month, salesType)
	if err != nil {
		return nil, fmt.Errorf("read weekly patterns: %w", err)
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var week int
		var w float64
		if err := rows.Scan(&week, &w); err != nil {
			return nil, err
		}
		out[week] = w
	}
	if len(out) == 0 {
		return nil, rows.Err()
	}
	return out, rows.Err()
}

// RecomputeGrowthMetrics refreshes YoY, MoM and average-monthly revenue per
// sales type from Silver.
func (s *Store) RecomputeGrowthMetrics() error {
	now := time.Now()
	metrics := make(map[[2]string]float64)

	for _, st := range []string{SalesTypeRetail, SalesTypeB2B, SalesTypeOther} {
		last365, err := s.revenueBetween(st, KyivDate(now.AddDate(-1, 0, 0)), KyivDate(now))
		if err != nil {
			return err
		}
		prior365, err := s.revenueBetween(st, KyivDate(now.AddDate(-2, 0, 0)), KyivDate(now.AddDate(-1, 0, -1)))
		if err != nil {
			return err
		}
		if prior365 > 0 {
			metrics[[2]string{GrowthYoY, st}] = last365/prior365 - 1
		}

		last30, err := s.revenueBetween(st, KyivDate(now.AddDate(0, 0, -30)), KyivDate(now))
		if err != nil {
			return err
		}
		prior30, err := s.revenueBetween(st, KyivDate(now.AddDate(0, 0, -60)), KyivDate(now.AddDate(0, 0, -31)))
		if err != nil {
			return err
		}
		if prior30 > 0 {
			metrics[[2]string{GrowthMoM, st}] = last30/prior30 - 1
		}
		metrics[[2]string{GrowthAvgMonthly, st}] = last365 / 12
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO growth_metrics (metric_type, sales_type, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(metric_type, sales_type) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare growth_metrics: %w", err)
	}
	defer stmt.Close()

	updatedAt := nowUTC()
	for k, v := range metrics {
		if _, err := stmt.Exec(k[0], k[1], v, updatedAt); err != nil {
			return fmt.Errorf("write growth metric %s/%s: %w", k[0], k[1], err)
		}
	}
	return tx.Commit()
}

// GrowthMetric reads one recomputed metric; ok=false when absent.
func (s *Store) GrowthMetric(metricType, salesType string) (float64, bool, error) {
	var v float64
	err := s.sql.QueryRow(
		"SELECT value FROM growth_metrics WHERE metric_type = ? AND sales_type = ?",
		metricType, salesType).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read growth metric: %w", err)
	}
	return v, true, nil
}

func (s *Store) revenueBetween(salesType, startDate, endDate string) (float64, error) {
	var rev sql.NullFloat64
	err := s.sql.QueryRow(`
		SELECT SUM(grand_total) FROM silver_orders
		WHERE is_return = 0 AND is_active_source = 1
		  AND sales_type = ? AND order_date >= ? AND order_date <= ?`,
		salesType, startDate, endDate).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("revenue between: %w", err)
	}
	return rev.Float64, nil
}
