package query

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sales-pulse/internal/config"
	"sales-pulse/internal/store"
)

// Comparison overlay modes for the revenue trend.
const (
	ComparePrevPeriod = "previous_period"
	CompareMonthAgo   = "month_ago"
	CompareYearAgo    = "year_ago"
)

// TrendOptions selects the optional trend extras.
type TrendOptions struct {
	Comparison string // "", previous_period, month_ago, year_ago
	Forecast   bool
}

// Trend is a zero-filled daily revenue series with DD.MM labels.
type Trend struct {
	Labels    []string         `json:"labels"`
	Revenue   []float64        `json:"revenue"`
	Orders    []int            `json:"orders"`
	StartDate string           `json:"startDate"`
	EndDate   string           `json:"endDate"`
	Compare   *TrendComparison `json:"comparison,omitempty"`
	Forecast  *TrendForecast   `json:"forecast,omitempty"`
}

// TrendComparison is the overlay series for a shifted window.
type TrendComparison struct {
	Mode         string    `json:"mode"`
	StartDate    string    `json:"startDate"`
	EndDate      string    `json:"endDate"`
	Labels       []string  `json:"labels"`
	Revenue      []float64 `json:"revenue"`
	Orders       []int     `json:"orders"`
	TotalRevenue float64   `json:"totalRevenue"`
	ChangePct    *float64  `json:"changePct,omitempty"`
}

// TrendForecast extends a current-period trend with model predictions
// through the end of the window's month.
type TrendForecast struct {
	Labels    []string  `json:"labels"`
	Values    []float64 `json:"values"`
	Total     float64   `json:"total"`
	ModelMAE  float64   `json:"modelMae,omitempty"`
	ModelMAPE float64   `json:"modelMape,omitempty"`
}

// RevenueTrend builds the daily series for the filter set, plus an optional
// comparison overlay and, for an unfiltered current-period window, the
// forecast tail.
func (e *Engine) RevenueTrend(p Params, opts TrendOptions) (Trend, error) {
	if err := p.Normalize(); err != nil {
		return Trend{}, err
	}
	if opts.Comparison != "" {
		switch opts.Comparison {
		case ComparePrevPeriod, CompareMonthAgo, CompareYearAgo:
		default:
			return Trend{}, fmt.Errorf("%w: unknown comparison %q", ErrInvalidParams, opts.Comparison)
		}
	}

	t := Trend{StartDate: p.StartDate, EndDate: p.EndDate}

	var compare *TrendComparison
	g := new(errgroup.Group)
	g.Go(func() error {
		labels, revenue, orders, err := e.dailySeries(p)
		if err != nil {
			return err
		}
		t.Labels, t.Revenue, t.Orders = labels, revenue, orders
		return nil
	})
	if opts.Comparison != "" {
		cmpStart, cmpEnd, err := comparisonWindow(p.StartDate, p.EndDate, opts.Comparison)
		if err != nil {
			return Trend{}, err
		}
		g.Go(func() error {
			cp := p
			cp.StartDate, cp.EndDate = cmpStart, cmpEnd
			labels, revenue, orders, err := e.dailySeries(cp)
			if err != nil {
				return err
			}
			var total float64
			for _, v := range revenue {
				total += v
			}
			compare = &TrendComparison{
				Mode:         opts.Comparison,
				StartDate:    cmpStart,
				EndDate:      cmpEnd,
				Labels:       labels,
				Revenue:      revenue,
				Orders:       orders,
				TotalRevenue: round2(total),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Trend{}, err
	}

	if compare != nil {
		if compare.TotalRevenue > 0 {
			var current float64
			for _, v := range t.Revenue {
				current += v
			}
			pct := round2((current - compare.TotalRevenue) / compare.TotalRevenue * 100)
			compare.ChangePct = &pct
		}
		t.Compare = compare
	}

	if opts.Forecast && e.forecastEligible(p) {
		if err := e.attachForecast(p, &t); err != nil {
			return Trend{}, err
		}
	}
	return t, nil
}

// dailySeries returns the zero-filled per-day revenue and order counts for
// the window, one entry per calendar day.
func (e *Engine) dailySeries(p Params) (labels []string, revenue []float64, orders []int, err error) {
	byDate := map[string][2]float64{}

	switch {
	case p.HasProductFilter():
		inner, args := productFilteredOrders(p, "s.id, s.order_date, s.grand_total", "s.is_return = 0")
		query := `
			SELECT t.order_date, COALESCE(SUM(t.grand_total), 0), COUNT(*)
			FROM (` + inner + `) t
			GROUP BY t.order_date`
		err = e.scanSeries(query, args, byDate)
	case p.SourceID != nil:
		cols, ok := goldSourceColumns[*p.SourceID]
		if !ok {
			c := silverConds(p)
			c.add("s.is_return = 0")
			query := `
				SELECT s.order_date, COALESCE(SUM(s.grand_total), 0), COUNT(*)
				FROM silver_orders s` + c.where() + `
				GROUP BY s.order_date`
			err = e.scanSeries(query, c.args, byDate)
			break
		}
		var c condSet
		c.add("date >= ?", p.StartDate)
		c.add("date <= ?", p.EndDate)
		if p.SalesType != store.SalesTypeAll {
			c.add("sales_type = ?", p.SalesType)
		}
		query := fmt.Sprintf(`
			SELECT date, COALESCE(SUM(%s), 0), COALESCE(SUM(%s), 0)
			FROM gold_daily_revenue`, cols[1], cols[0]) + c.where() + `
			GROUP BY date`
		err = e.scanSeries(query, c.args, byDate)
	default:
		var c condSet
		c.add("date >= ?", p.StartDate)
		c.add("date <= ?", p.EndDate)
		if p.SalesType != store.SalesTypeAll {
			c.add("sales_type = ?", p.SalesType)
		}
		query := `
			SELECT date, COALESCE(SUM(revenue), 0), COALESCE(SUM(orders_count), 0)
			FROM gold_daily_revenue` + c.where() + `
			GROUP BY date`
		err = e.scanSeries(query, c.args, byDate)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	// UTC keeps every day exactly 24h; Kyiv DST would skip or double a label.
	start, perr := time.Parse("2006-01-02", p.StartDate)
	if perr != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad date %q", ErrInvalidParams, p.StartDate)
	}
	end, perr := time.Parse("2006-01-02", p.EndDate)
	if perr != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad date %q", ErrInvalidParams, p.EndDate)
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		labels = append(labels, d.Format("02.01"))
		v := byDate[key]
		revenue = append(revenue, round2(v[0]))
		orders = append(orders, int(v[1]))
	}
	return labels, revenue, orders, nil
}

func (e *Engine) scanSeries(query string, args []any, byDate map[string][2]float64) error {
	rows, err := e.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("daily series: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var date string
		var rev, cnt float64
		if err := rows.Scan(&date, &rev, &cnt); err != nil {
			return fmt.Errorf("daily series scan: %w", err)
		}
		byDate[date] = [2]float64{rev, cnt}
	}
	return rows.Err()
}

// comparisonWindow shifts an inclusive window by the comparison mode.
func comparisonWindow(startDate, endDate, mode string) (string, string, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad date %q", ErrInvalidParams, startDate)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad date %q", ErrInvalidParams, endDate)
	}

	switch mode {
	case ComparePrevPeriod:
		days := int(end.Sub(start).Hours()/24) + 1
		prevEnd := start.AddDate(0, 0, -1)
		return prevEnd.AddDate(0, 0, -(days - 1)).Format("2006-01-02"),
			prevEnd.Format("2006-01-02"), nil
	case CompareMonthAgo:
		return start.AddDate(0, -1, 0).Format("2006-01-02"),
			end.AddDate(0, -1, 0).Format("2006-01-02"), nil
	case CompareYearAgo:
		return start.AddDate(-1, 0, 0).Format("2006-01-02"),
			end.AddDate(-1, 0, 0).Format("2006-01-02"), nil
	default:
		return "", "", fmt.Errorf("%w: unknown comparison %q", ErrInvalidParams, mode)
	}
}

// forecastEligible limits the forecast tail to unfiltered windows that end
// today: predictions are trained on all-source retail/b2b totals, so they
// cannot be sliced by source, category or brand.
func (e *Engine) forecastEligible(p Params) bool {
	if p.HasProductFilter() || p.SourceID != nil {
		return false
	}
	if p.SalesType != store.SalesTypeRetail && p.SalesType != store.SalesTypeB2B {
		return false
	}
	return p.EndDate == e.now().In(config.Kyiv).Format("2006-01-02")
}

func (e *Engine) attachForecast(p Params, t *Trend) error {
	day := e.now().In(config.Kyiv)
	tomorrow := day.AddDate(0, 0, 1)
	monthEnd := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, config.Kyiv).
		AddDate(0, 1, -1)
	if tomorrow.After(monthEnd) {
		return nil
	}

	preds, err := e.store.LoadPredictions(
		tomorrow.Format("2006-01-02"), monthEnd.Format("2006-01-02"), p.SalesType)
	if err != nil {
		return fmt.Errorf("load predictions: %w", err)
	}
	if len(preds) == 0 {
		return nil
	}

	fc := &TrendForecast{
		ModelMAE:  preds[0].ModelMAE,
		ModelMAPE: preds[0].ModelMAPE,
	}
	for _, pr := range preds {
		d, err := time.ParseInLocation("2006-01-02", pr.PredictionDate, config.Kyiv)
		if err != nil {
			continue
		}
		fc.Labels = append(fc.Labels, d.Format("02.01"))
		fc.Values = append(fc.Values, round2(pr.PredictedRevenue))
		fc.Total += pr.PredictedRevenue
	}
	fc.Total = round2(fc.Total)
	t.Forecast = fc
	return nil
}
