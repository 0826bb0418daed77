package query

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"sales-pulse/internal/config"
	"sales-pulse/internal/store"
)

const (
	cohortWindow  = 12 // trailing cohort months shown
	cohortHorizon = 12 // retention offsets tracked per cohort
)

// CustomerInsights is the headline customer block for a period.
type CustomerInsights struct {
	TotalCustomers        int     `json:"totalCustomers"`
	NewCustomers          int     `json:"newCustomers"`
	ReturningCustomers    int     `json:"returningCustomers"`
	RepeatCustomers       int     `json:"repeatCustomers"`
	RepeatRate            float64 `json:"repeatRate"`
	AvgOrdersPerCustomer  float64 `json:"avgOrdersPerCustomer"`
	AvgRevenuePerCustomer float64 `json:"avgRevenuePerCustomer"`
	StartDate             string  `json:"startDate"`
	EndDate               string  `json:"endDate"`
}

// Customers summarizes buyer behavior within the window. New means the
// buyer's first-ever order (any window) landed here; repeat means two or
// more orders inside this window.
func (e *Engine) Customers(p Params) (CustomerInsights, error) {
	if err := p.Normalize(); err != nil {
		return CustomerInsights{}, err
	}
	out := CustomerInsights{StartDate: p.StartDate, EndDate: p.EndDate}

	c := silverConds(p)
	c.add("s.is_return = 0")
	c.add("s.buyer_id IS NOT NULL")

	var orders int
	var revenue float64
	query := `
		SELECT COUNT(DISTINCT s.buyer_id),
		       COUNT(DISTINCT CASE WHEN s.is_new_customer = 1 THEN s.buyer_id END),
		       COUNT(*), COALESCE(SUM(s.grand_total), 0)
		FROM silver_orders s` + c.where()
	if err := e.db.QueryRow(query, c.args...).
		Scan(&out.TotalCustomers, &out.NewCustomers, &orders, &revenue); err != nil {
		return CustomerInsights{}, fmt.Errorf("customer insights: %w", err)
	}

	repeatQuery := `
		SELECT COUNT(*) FROM (
			SELECT s.buyer_id FROM silver_orders s` + c.where() + `
			GROUP BY s.buyer_id HAVING COUNT(*) >= 2
		)`
	if err := e.db.QueryRow(repeatQuery, c.args...).Scan(&out.RepeatCustomers); err != nil {
		return CustomerInsights{}, fmt.Errorf("repeat customers: %w", err)
	}

	out.ReturningCustomers = out.TotalCustomers - out.NewCustomers
	if out.TotalCustomers > 0 {
		out.RepeatRate = round2(float64(out.RepeatCustomers) / float64(out.TotalCustomers) * 100)
		out.AvgOrdersPerCustomer = round2(float64(orders) / float64(out.TotalCustomers))
		out.AvgRevenuePerCustomer = round2(revenue / float64(out.TotalCustomers))
	}
	return out, nil
}

// cohortData is the shared buyer-month matrix behind the cohort reports.
// Offsets are whole months since the buyer's first order month.
type cohortData struct {
	cohorts []string       // ascending YYYY-MM, at most cohortWindow entries
	size    map[string]int // buyers whose first month is the cohort
	active  map[string][]int
	revenue map[string][]float64
}

func (e *Engine) loadCohorts(p Params) (*cohortData, error) {
	c := condSet{}
	c.add("s.is_return = 0")
	c.add("s.is_active_source = 1")
	c.add("s.buyer_id IS NOT NULL")
	c.add("s.order_date <= ?", p.EndDate)
	if p.SalesType != store.SalesTypeAll {
		c.add("s.sales_type = ?", p.SalesType)
	}

	query := `
		SELECT s.buyer_id, substr(s.order_date, 1, 7), COALESCE(SUM(s.grand_total), 0)
		FROM silver_orders s` + c.where() + `
		GROUP BY s.buyer_id, substr(s.order_date, 1, 7)
		ORDER BY s.buyer_id, substr(s.order_date, 1, 7)`
	rows, err := e.db.Query(query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("cohort rows: %w", err)
	}
	defer rows.Close()

	d := &cohortData{
		size:    map[string]int{},
		active:  map[string][]int{},
		revenue: map[string][]float64{},
	}
	var (
		curBuyer  int64
		curCohort string
		haveBuyer bool
	)
	track := func(cohort, month string, revenue float64) {
		offset, err := monthOffset(cohort, month)
		if err != nil || offset < 0 || offset > cohortHorizon {
			return
		}
		if _, ok := d.active[cohort]; !ok {
			d.active[cohort] = make([]int, cohortHorizon+1)
			d.revenue[cohort] = make([]float64, cohortHorizon+1)
		}
		d.active[cohort][offset]++
		d.revenue[cohort][offset] += revenue
	}
	for rows.Next() {
		var buyer int64
		var month string
		var rev float64
		if err := rows.Scan(&buyer, &month, &rev); err != nil {
			return nil, fmt.Errorf("cohort scan: %w", err)
		}
		if !haveBuyer || buyer != curBuyer {
			curBuyer, curCohort, haveBuyer = buyer, month, true
			d.size[curCohort]++
		}
		track(curCohort, month, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for cohort := range d.size {
		d.cohorts = append(d.cohorts, cohort)
	}
	sort.Strings(d.cohorts)
	if len(d.cohorts) > cohortWindow {
		d.cohorts = d.cohorts[len(d.cohorts)-cohortWindow:]
	}
	return d, nil
}

// monthOffset counts whole months from a to b, both YYYY-MM.
func monthOffset(a, b string) (int, error) {
	ta, err := time.Parse("2006-01", a)
	if err != nil {
		return 0, err
	}
	tb, err := time.Parse("2006-01", b)
	if err != nil {
		return 0, err
	}
	return (tb.Year()-ta.Year())*12 + int(tb.Month()-ta.Month()), nil
}

// observedOffsets caps a cohort's visible horizon at the report end month.
func observedOffsets(cohort, endMonth string) int {
	n, err := monthOffset(cohort, endMonth)
	if err != nil || n < 0 {
		return 0
	}
	if n > cohortHorizon {
		n = cohortHorizon
	}
	return n
}

// CohortRow is one first-purchase month with percentage retention by offset.
type CohortRow struct {
	Cohort    string    `json:"cohort"`
	Size      int       `json:"size"`
	Retention []float64 `json:"retention"`
}

// CohortRetention reports, for the trailing cohorts, the share of each
// cohort still ordering N months after first purchase.
func (e *Engine) CohortRetention(p Params) ([]CohortRow, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	d, err := e.loadCohorts(p)
	if err != nil {
		return nil, err
	}

	endMonth := p.EndDate[:7]
	out := make([]CohortRow, 0, len(d.cohorts))
	for _, cohort := range d.cohorts {
		row := CohortRow{Cohort: cohort, Size: d.size[cohort]}
		last := observedOffsets(cohort, endMonth)
		for offset := 0; offset <= last; offset++ {
			pct := 0.0
			if row.Size > 0 {
				pct = round2(float64(d.active[cohort][offset]) / float64(row.Size) * 100)
			}
			row.Retention = append(row.Retention, pct)
		}
		out = append(out, row)
	}
	return out, nil
}

// EnhancedCohortRow pairs customer retention with revenue retention, both
// percentages of the cohort's first month.
type EnhancedCohortRow struct {
	Cohort            string    `json:"cohort"`
	Size              int       `json:"size"`
	CohortRevenue     float64   `json:"cohortRevenue"`
	CustomerRetention []float64 `json:"customerRetention"`
	RevenueRetention  []float64 `json:"revenueRetention"`
}

// EnhancedCohortRetention adds the revenue dimension: how much of the first
// month's revenue each later month recovers.
func (e *Engine) EnhancedCohortRetention(p Params) ([]EnhancedCohortRow, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	d, err := e.loadCohorts(p)
	if err != nil {
		return nil, err
	}

	endMonth := p.EndDate[:7]
	out := make([]EnhancedCohortRow, 0, len(d.cohorts))
	for _, cohort := range d.cohorts {
		row := EnhancedCohortRow{
			Cohort:        cohort,
			Size:          d.size[cohort],
			CohortRevenue: round2(d.revenue[cohort][0]),
		}
		last := observedOffsets(cohort, endMonth)
		for offset := 0; offset <= last; offset++ {
			custPct, revPct := 0.0, 0.0
			if row.Size > 0 {
				custPct = round2(float64(d.active[cohort][offset]) / float64(row.Size) * 100)
			}
			if d.revenue[cohort][0] > 0 {
				revPct = round2(d.revenue[cohort][offset] / d.revenue[cohort][0] * 100)
			}
			row.CustomerRetention = append(row.CustomerRetention, custPct)
			row.RevenueRetention = append(row.RevenueRetention, revPct)
		}
		out = append(out, row)
	}
	return out, nil
}

// CohortLTVRow tracks cumulative revenue per cohort member by month offset.
type CohortLTVRow struct {
	Cohort        string    `json:"cohort"`
	Size          int       `json:"size"`
	CumulativeLTV []float64 `json:"cumulativeLtv"`
}

// CohortLTV reports average lifetime value per customer, accumulated month
// by month from first purchase.
func (e *Engine) CohortLTV(p Params) ([]CohortLTVRow, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	d, err := e.loadCohorts(p)
	if err != nil {
		return nil, err
	}

	endMonth := p.EndDate[:7]
	out := make([]CohortLTVRow, 0, len(d.cohorts))
	for _, cohort := range d.cohorts {
		row := CohortLTVRow{Cohort: cohort, Size: d.size[cohort]}
		last := observedOffsets(cohort, endMonth)
		cum := 0.0
		for offset := 0; offset <= last; offset++ {
			cum += d.revenue[cohort][offset]
			ltv := 0.0
			if row.Size > 0 {
				ltv = round2(cum / float64(row.Size))
			}
			row.CumulativeLTV = append(row.CumulativeLTV, ltv)
		}
		out = append(out, row)
	}
	return out, nil
}

// SecondPurchaseBucket is one histogram bar of days to second purchase.
type SecondPurchaseBucket struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// SecondPurchase describes how quickly first-time buyers come back.
type SecondPurchase struct {
	Buckets             []SecondPurchaseBucket `json:"buckets"`
	TotalCustomers      int                    `json:"totalCustomers"`
	CustomersWithSecond int                    `json:"customersWithSecond"`
	ConversionRate      float64                `json:"conversionRate"`
	AvgDays             float64                `json:"avgDays"`
	MedianDays          float64                `json:"medianDays"`
	StartDate           string                 `json:"startDate"`
	EndDate             string                 `json:"endDate"`
}

var secondPurchaseBuckets = []struct {
	label   string
	maxDays int
}{
	{"0-30", 30},
	{"31-60", 60},
	{"61-90", 90},
	{"91-180", 180},
	{"180+", 1 << 30},
}

// DaysToSecondPurchase buckets the gap between first and second order for
// buyers whose first order landed in the window. The second order may fall
// after the window; the gap is what matters.
func (e *Engine) DaysToSecondPurchase(p Params) (SecondPurchase, error) {
	if err := p.Normalize(); err != nil {
		return SecondPurchase{}, err
	}
	out := SecondPurchase{StartDate: p.StartDate, EndDate: p.EndDate}

	c := condSet{}
	c.add("s.is_return = 0")
	c.add("s.is_active_source = 1")
	c.add("s.buyer_id IS NOT NULL")
	if p.SalesType != store.SalesTypeAll {
		c.add("s.sales_type = ?", p.SalesType)
	}
	query := `
		SELECT s.buyer_id, s.order_date
		FROM silver_orders s` + c.where() + `
		ORDER BY s.buyer_id, s.order_date, s.id`
	rows, err := e.db.Query(query, c.args...)
	if err != nil {
		return SecondPurchase{}, fmt.Errorf("second purchase rows: %w", err)
	}
	defer rows.Close()

	var (
		curBuyer    int64
		haveBuyer   bool
		firstDate   string
		orderCount  int
		gaps        []float64
		flushBuyer  func()
		secondDate  string
		bucketCount = make([]int, len(secondPurchaseBuckets))
	)
	flushBuyer = func() {
		if !haveBuyer || firstDate < p.StartDate || firstDate > p.EndDate {
			return
		}
		out.TotalCustomers++
		if orderCount < 2 {
			return
		}
		days := daysBetween(firstDate, secondDate)
		if days < 0 {
			return
		}
		out.CustomersWithSecond++
		gaps = append(gaps, float64(days))
		for i, b := range secondPurchaseBuckets {
			if days <= b.maxDays {
				bucketCount[i]++
				break
			}
		}
	}
	for rows.Next() {
		var buyer int64
		var date string
		if err := rows.Scan(&buyer, &date); err != nil {
			return SecondPurchase{}, fmt.Errorf("second purchase scan: %w", err)
		}
		if !haveBuyer || buyer != curBuyer {
			flushBuyer()
			curBuyer, haveBuyer = buyer, true
			firstDate, secondDate, orderCount = date, "", 0
		}
		orderCount++
		if orderCount == 2 {
			secondDate = date
		}
	}
	if err := rows.Err(); err != nil {
		return SecondPurchase{}, err
	}
	flushBuyer()

	for i, b := range secondPurchaseBuckets {
		share := 0.0
		if out.CustomersWithSecond > 0 {
			share = round2(float64(bucketCount[i]) / float64(out.CustomersWithSecond) * 100)
		}
		out.Buckets = append(out.Buckets, SecondPurchaseBucket{
			Label: b.label, Count: bucketCount[i], Share: share,
		})
	}
	if out.TotalCustomers > 0 {
		out.ConversionRate = round2(float64(out.CustomersWithSecond) / float64(out.TotalCustomers) * 100)
	}
	if len(gaps) > 0 {
		out.AvgDays = round2(stat.Mean(gaps, nil))
		sort.Float64s(gaps)
		out.MedianDays = round2(stat.Quantile(0.5, stat.Empirical, gaps, nil))
	}
	return out, nil
}

// daysBetween counts calendar days between two dates. Parsed in UTC on
// purpose: Kyiv DST would make some local days 23 or 25 hours long.
func daysBetween(a, b string) int {
	ta, err := time.Parse("2006-01-02", a)
	if err != nil {
		return -1
	}
	tb, err := time.Parse("2006-01-02", b)
	if err != nil {
		return -1
	}
	return int(tb.Sub(ta).Hours() / 24)
}

// AtRiskCustomer is a previously loyal buyer who has gone quiet.
type AtRiskCustomer struct {
	BuyerID       int64   `json:"buyer_id"`
	Orders        int     `json:"orders"`
	TotalRevenue  float64 `json:"totalRevenue"`
	FirstOrder    string  `json:"firstOrder"`
	LastOrder     string  `json:"lastOrder"`
	DaysSinceLast int     `json:"daysSinceLast"`
}

// AtRiskResult lists lapsed repeat buyers, biggest spenders first.
type AtRiskResult struct {
	Customers     []AtRiskCustomer `json:"customers"`
	DaysThreshold int              `json:"daysThreshold"`
	Count         int              `json:"count"`
}

// AtRiskCustomers returns repeat buyers (two or more lifetime orders) whose
// last order is older than daysThreshold, ordered by lifetime revenue.
func (e *Engine) AtRiskCustomers(salesType string, daysThreshold, limit int) (AtRiskResult, error) {
	if salesType == "" {
		salesType = store.SalesTypeRetail
	}
	if daysThreshold <= 0 {
		daysThreshold = 60
	}
	if limit <= 0 {
		limit = 50
	}
	today := e.now().In(config.Kyiv)
	cutoff := today.AddDate(0, 0, -daysThreshold).Format("2006-01-02")

	c := condSet{}
	c.add("s.is_return = 0")
	c.add("s.is_active_source = 1")
	c.add("s.buyer_id IS NOT NULL")
	if salesType != store.SalesTypeAll {
		c.add("s.sales_type = ?", salesType)
	}
	query := `
		SELECT s.buyer_id, COUNT(*), COALESCE(SUM(s.grand_total), 0),
		       MIN(s.order_date), MAX(s.order_date)
		FROM silver_orders s` + c.where() + `
		GROUP BY s.buyer_id
		HAVING COUNT(*) >= 2 AND MAX(s.order_date) < ?
		ORDER BY SUM(s.grand_total) DESC
		LIMIT ?`
	rows, err := e.db.Query(query, append(c.args, cutoff, limit)...)
	if err != nil {
		return AtRiskResult{}, fmt.Errorf("at-risk customers: %w", err)
	}
	defer rows.Close()

	out := AtRiskResult{DaysThreshold: daysThreshold}
	todayStr := today.Format("2006-01-02")
	for rows.Next() {
		var cust AtRiskCustomer
		if err := rows.Scan(&cust.BuyerID, &cust.Orders, &cust.TotalRevenue,
			&cust.FirstOrder, &cust.LastOrder); err != nil {
			return AtRiskResult{}, fmt.Errorf("at-risk scan: %w", err)
		}
		cust.TotalRevenue = round2(cust.TotalRevenue)
		if d := daysBetween(cust.LastOrder, todayStr); d >= 0 {
			cust.DaysSinceLast = d
		}
		out.Customers = append(out.Customers, cust)
	}
	if err := rows.Err(); err != nil {
		return AtRiskResult{}, err
	}
	out.Count = len(out.Customers)
	return out, nil
}
