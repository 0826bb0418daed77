package query

import (
	"fmt"
	"math"
	"time"

	"sales-pulse/internal/config"
	"sales-pulse/internal/store"
)

// Goal period types.
const (
	GoalPeriodMonth = "month"
	GoalPeriodWeek  = "week"
)

// yoyCap limits how much of a hot growth streak the conservative signal is
// allowed to extrapolate.
const yoyCap = 0.35

// defaultWeekWeights splits a month across calendar weeks 1-5 when no
// learned pattern exists yet; week 5 is the short tail.
var defaultWeekWeights = map[int]float64{1: 0.23, 2: 0.23, 3: 0.23, 4: 0.23, 5: 0.08}

// SmartGoal is the suggested revenue target for the current period with the
// signals behind it.
type SmartGoal struct {
	PeriodType    string          `json:"period_type"`
	PeriodStart   string          `json:"period_start"`
	SalesType     string          `json:"sales_type"`
	Suggested     float64         `json:"suggested"`
	LastYearBased float64         `json:"last_year_based"`
	TrendBased    float64         `json:"trend_based"`
	Conservative  float64         `json:"conservative"`
	YoYGrowth     float64         `json:"yoy_growth"`
	SeasonalIndex float64         `json:"seasonal_index"`
	WeeklyTargets map[int]float64 `json:"weekly_targets,omitempty"`
}

// SmartGoals proposes a target for the current period from three signals:
// last year's same period grown by YoY, the recent daily run-rate scaled by
// the seasonal index, and a capped-growth historical average as the
// conservative floor. The suggestion is the larger of the first two, rounded
// to a number a human would set.
func (e *Engine) SmartGoals(periodType, salesType string) (SmartGoal, error) {
	switch periodType {
	case GoalPeriodMonth, GoalPeriodWeek:
	default:
		return SmartGoal{}, fmt.Errorf("%w: unknown period_type %q", ErrInvalidParams, periodType)
	}
	if salesType == "" {
		salesType = store.SalesTypeRetail
	}
	switch salesType {
	case store.SalesTypeRetail, store.SalesTypeB2B, store.SalesTypeAll:
	default:
		return SmartGoal{}, fmt.Errorf("%w: unknown sales_type %q", ErrInvalidParams, salesType)
	}

	day := e.now().In(config.Kyiv)
	periodStart, periodEnd := periodBounds(periodType, day)
	days := daysBetween(periodStart, periodEnd) + 1

	g := SmartGoal{
		PeriodType:    periodType,
		PeriodStart:   periodStart,
		SalesType:     salesType,
		SeasonalIndex: 1,
	}

	if yoy, ok, err := e.store.GrowthMetric(store.GrowthYoY, salesType); err != nil {
		return SmartGoal{}, err
	} else if ok {
		g.YoYGrowth = yoy
	}
	month := int(day.Month())
	if idx, ok, err := e.store.SeasonalIndex(month, salesType); err != nil {
		return SmartGoal{}, err
	} else if ok {
		g.SeasonalIndex = idx
	}

	// Signal 1: the same period last year, grown by the YoY rate.
	lyStart, lyEnd := shiftYear(periodStart), shiftYear(periodEnd)
	lastYearRev, err := e.revenueBetween(salesType, lyStart, lyEnd)
	if err != nil {
		return SmartGoal{}, err
	}
	if lastYearRev > 0 {
		g.LastYearBased = round2(lastYearRev * (1 + g.YoYGrowth))
	}

	// Signal 2: trailing-90-day run rate scaled to the period and season.
	recentEnd := day.AddDate(0, 0, -1).Format("2006-01-02")
	recentStart := day.AddDate(0, 0, -90).Format("2006-01-02")
	recentRev, err := e.revenueBetween(salesType, recentStart, recentEnd)
	if err != nil {
		return SmartGoal{}, err
	}
	if recentRev > 0 {
		dailyAvg := recentRev / 90
		g.TrendBased = round2(dailyAvg * float64(days) * g.SeasonalIndex)
	}

	// Signal 3: capped growth on the historical monthly average.
	if avgMonthly, ok, err := e.store.GrowthMetric(store.GrowthAvgMonthly, salesType); err != nil {
		return SmartGoal{}, err
	} else if ok && avgMonthly > 0 {
		scaled := avgMonthly * float64(days) / 30
		g.Conservative = round2(scaled * (1 + math.Min(g.YoYGrowth, yoyCap)))
	}

	suggestion := math.Max(g.LastYearBased, g.TrendBased)
	if suggestion <= 0 {
		suggestion = g.Conservative
	}
	g.Suggested = niceRound(suggestion)

	if periodType == GoalPeriodMonth && g.Suggested > 0 {
		weights, err := e.store.WeeklyWeights(month, salesType)
		if err != nil {
			return SmartGoal{}, err
		}
		if weights == nil {
			weights = defaultWeekWeights
		}
		g.WeeklyTargets = splitByWeeks(g.Suggested, weights)
	}
	return g, nil
}

// periodBounds returns the inclusive start and end of the current period.
func periodBounds(periodType string, day time.Time) (string, string) {
	if periodType == GoalPeriodWeek {
		monday := mondayOf(day)
		return monday.Format("2006-01-02"), monday.AddDate(0, 0, 6).Format("2006-01-02")
	}
	first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
	return first.Format("2006-01-02"), first.AddDate(0, 1, -1).Format("2006-01-02")
}

func shiftYear(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.AddDate(-1, 0, 0).Format("2006-01-02")
}

func (e *Engine) revenueBetween(salesType, startDate, endDate string) (float64, error) {
	c := condSet{}
	c.add("s.order_date >= ?", startDate)
	c.add("s.order_date <= ?", endDate)
	c.add("s.is_return = 0")
	c.add("s.is_active_source = 1")
	if salesType != store.SalesTypeAll {
		c.add("s.sales_type = ?", salesType)
	}
	var rev float64
	query := "SELECT COALESCE(SUM(s.grand_total), 0) FROM silver_orders s" + c.where()
	if err := e.db.QueryRow(query, c.args...).Scan(&rev); err != nil {
		return 0, fmt.Errorf("revenue between: %w", err)
	}
	return rev, nil
}

// splitByWeeks distributes a target across calendar weeks, renormalizing the
// weights so rounding never loses revenue.
func splitByWeeks(target float64, weights map[int]float64) map[int]float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return nil
	}
	out := make(map[int]float64, len(weights))
	for week, w := range weights {
		out[week] = round2(target * w / sum)
	}
	return out
}

// niceRound rounds a suggested target to the granularity a person would
// actually type into a goal form.
func niceRound(v float64) float64 {
	switch {
	case v <= 0:
		return 0
	case v < 1_000:
		return math.Round(v/10) * 10
	case v < 10_000:
		return math.Round(v/100) * 100
	case v < 100_000:
		return math.Round(v/1_000) * 1_000
	case v < 1_000_000:
		return math.Round(v/10_000) * 10_000
	default:
		return math.Round(v/50_000) * 50_000
	}
}

// GoalProgress compares actual revenue against the stored target for the
// current period, with the straight-line pace expected by today.
type GoalProgress struct {
	PeriodType      string  `json:"period_type"`
	PeriodStart     string  `json:"period_start"`
	SalesType       string  `json:"sales_type"`
	HasGoal         bool    `json:"has_goal"`
	GoalID          int64   `json:"goal_id,omitempty"`
	Target          float64 `json:"target"`
	Actual          float64 `json:"actual"`
	Percent         float64 `json:"percent"`
	ExpectedPercent float64 `json:"expected_percent"`
	DaysElapsed     int     `json:"days_elapsed"`
	DaysTotal       int     `json:"days_total"`
	OnTrack         bool    `json:"on_track"`
}

// Progress reports goal attainment for the current period. Without a stored
// goal it still returns the actuals so the dashboard can render the gauge
// empty.
func (e *Engine) Progress(periodType, salesType string) (GoalProgress, error) {
	switch periodType {
	case GoalPeriodMonth, GoalPeriodWeek:
	default:
		return GoalProgress{}, fmt.Errorf("%w: unknown period_type %q", ErrInvalidParams, periodType)
	}
	if salesType == "" {
		salesType = store.SalesTypeRetail
	}

	day := e.now().In(config.Kyiv)
	periodStart, periodEnd := periodBounds(periodType, day)
	today := day.Format("2006-01-02")

	p := GoalProgress{
		PeriodType:  periodType,
		PeriodStart: periodStart,
		SalesType:   salesType,
		DaysElapsed: daysBetween(periodStart, today) + 1,
		DaysTotal:   daysBetween(periodStart, periodEnd) + 1,
	}

	actual, err := e.revenueBetween(salesType, periodStart, today)
	if err != nil {
		return GoalProgress{}, err
	}
	p.Actual = round2(actual)

	goal, ok, err := e.store.GetGoal(periodType, periodStart, salesType)
	if err != nil {
		return GoalProgress{}, err
	}
	if !ok {
		return p, nil
	}

	p.HasGoal = true
	p.GoalID = goal.ID
	p.Target = goal.TargetRevenue
	if p.Target > 0 {
		p.Percent = round2(p.Actual / p.Target * 100)
		p.ExpectedPercent = round2(float64(p.DaysElapsed) / float64(p.DaysTotal) * 100)
		p.OnTrack = p.Percent >= p.ExpectedPercent
	}
	return p, nil
}
