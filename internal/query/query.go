// Package query turns dashboard requests into SQL against the store, picking
// the layer that answers each request correctly: Gold for plain aggregates,
// Silver joins whenever a category or brand filter is in play. The Silver
// path always counts DISTINCT orders; summing gold_daily_products.order_count
// across products double-counts orders that contain several matching items.
package query

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"sales-pulse/internal/config"
	"sales-pulse/internal/store"
)

// ErrInvalidParams marks request-validation failures; the API maps it to 400.
var ErrInvalidParams = errors.New("invalid query parameters")

// Dashboard period shortcuts.
const (
	PeriodToday     = "today"
	PeriodYesterday = "yesterday"
	PeriodWeek      = "week"
	PeriodLastWeek  = "last_week"
	PeriodMonth     = "month"
	PeriodLastMonth = "last_month"
)

// Params is the common filter set every aggregate query accepts. Dates are
// inclusive Kyiv-local days.
type Params struct {
	StartDate  string
	EndDate    string
	SalesType  string
	SourceID   *int
	CategoryID *int64
	Brand      string
	Limit      int
}

// Normalize validates the filter set and fills defaults (sales type retail).
func (p *Params) Normalize() error {
	if p.SalesType == "" {
		p.SalesType = store.SalesTypeRetail
	}
	switch p.SalesType {
	case store.SalesTypeRetail, store.SalesTypeB2B, store.SalesTypeAll:
	default:
		return fmt.Errorf("%w: unknown sales_type %q", ErrInvalidParams, p.SalesType)
	}
	for _, d := range []string{p.StartDate, p.EndDate} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("%w: bad date %q", ErrInvalidParams, d)
		}
	}
	if p.StartDate > p.EndDate {
		return fmt.Errorf("%w: start_date %s after end_date %s", ErrInvalidParams, p.StartDate, p.EndDate)
	}
	return nil
}

// HasProductFilter reports whether the request filters by category or brand,
// which forces the Silver JOIN path.
func (p Params) HasProductFilter() bool {
	return p.CategoryID != nil || p.Brand != ""
}

// CacheKey renders the canonical cache-key suffix for this filter set.
func (p Params) CacheKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s:%s", p.StartDate, p.EndDate, p.SalesType)
	if p.SourceID != nil {
		fmt.Fprintf(&b, ":src=%d", *p.SourceID)
	}
	if p.CategoryID != nil {
		fmt.Fprintf(&b, ":cat=%d", *p.CategoryID)
	}
	if p.Brand != "" {
		fmt.Fprintf(&b, ":brand=%s", strings.ToLower(p.Brand))
	}
	if p.Limit > 0 {
		fmt.Fprintf(&b, ":lim=%d", p.Limit)
	}
	return b.String()
}

// ResolvePeriod maps a dashboard period shortcut to an inclusive Kyiv-local
// date range. Explicit dates always win over a period; callers apply that
// precedence before resolving.
func ResolvePeriod(period string, now time.Time) (startDate, endDate string, err error) {
	day := now.In(config.Kyiv)
	today := day.Format("2006-01-02")

	switch period {
	case PeriodToday:
		return today, today, nil
	case PeriodYesterday:
		y := day.AddDate(0, 0, -1).Format("2006-01-02")
		return y, y, nil
	case PeriodWeek:
		return mondayOf(day).Format("2006-01-02"), today, nil
	case PeriodLastWeek:
		monday := mondayOf(day)
		return monday.AddDate(0, 0, -7).Format("2006-01-02"),
			monday.AddDate(0, 0, -1).Format("2006-01-02"), nil
	case PeriodMonth:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, config.Kyiv)
		return first.Format("2006-01-02"), today, nil
	case PeriodLastMonth:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, config.Kyiv)
		return first.AddDate(0, -1, 0).Format("2006-01-02"),
			first.AddDate(0, 0, -1).Format("2006-01-02"), nil
	default:
		return "", "", fmt.Errorf("%w: unknown period %q", ErrInvalidParams, period)
	}
}

func mondayOf(day time.Time) time.Time {
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// Engine computes dashboard aggregates. Reads go straight to the store's
// connection pool; nothing here writes.
type Engine struct {
	store *store.Store
	db    *sql.DB
	now   func() time.Time
}

// New creates a query engine over the store.
func New(st *store.Store) *Engine {
	return &Engine{store: st, db: st.SqlDB(), now: time.Now}
}

// condSet accumulates WHERE conditions and their args in order.
type condSet struct {
	conds []string
	args  []any
}

func (c *condSet) add(cond string, args ...any) {
	c.conds = append(c.conds, cond)
	c.args = append(c.args, args...)
}

func (c *condSet) where() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.conds, " AND ")
}

// silverConds builds the baseline Silver filters for alias s: date range,
// active sources, optional sales type and source.
func silverConds(p Params) condSet {
	var c condSet
	c.add("s.order_date >= ?", p.StartDate)
	c.add("s.order_date <= ?", p.EndDate)
	c.add("s.is_active_source = 1")
	if p.SalesType != store.SalesTypeAll {
		c.add("s.sales_type = ?", p.SalesType)
	}
	if p.SourceID != nil {
		c.add("s.source_id = ?", *p.SourceID)
	}
	return c
}

// categoryCTE is the recursive descendants walk used by every category
// filter; the single arg is the root category id.
const categoryCTE = `WITH RECURSIVE subtree(id) AS (
	SELECT id FROM categories WHERE id = ?
	UNION ALL
	SELECT c.id FROM categories c JOIN subtree st ON c.parent_id = st.id
)
`

// productFilteredOrders builds a subquery of DISTINCT matching Silver orders
// for a category/brand filter, selecting the given s.* columns. Returns the
// full query prefix (CTE included when needed) and its args.
func productFilteredOrders(p Params, cols string, extraConds ...string) (string, []any) {
	var sb strings.Builder
	var args []any
	if p.CategoryID != nil {
		sb.WriteString(categoryCTE)
		args = append(args, *p.CategoryID)
	}

	c := silverConds(p)
	if p.CategoryID != nil {
		c.add("pr.category_id IN (SELECT id FROM subtree)")
	}
	if p.Brand != "" {
		c.add("LOWER(COALESCE(pr.brand, '')) = LOWER(?)", p.Brand)
	}
	for _, extra := range extraConds {
		c.add(extra)
	}

	sb.WriteString("SELECT DISTINCT " + cols + `
		FROM silver_orders s
		JOIN order_products op ON op.order_id = s.id
		LEFT JOIN products pr ON pr.id = op.product_id`)
	sb.WriteString(c.where())
	return sb.String(), append(args, c.args...)
}

// Summary is the headline stat block for a period.
type Summary struct {
	TotalOrders    int     `json:"totalOrders"`
	TotalRevenue   float64 `json:"totalRevenue"`
	AvgCheck       float64 `json:"avgCheck"`
	TotalReturns   int     `json:"totalReturns"`
	ReturnsRevenue float64 `json:"returnsRevenue"`
	StartDate      string  `json:"startDate"`
	EndDate        string  `json:"endDate"`
}

// SummaryStats computes the headline stats for the filter set. Source
// selection: product filters go through the Silver JOIN with DISTINCT
// orders; a bare source filter reads Gold's per-source columns (returns from
// Silver, Gold lacks per-source return splits); no filter reads Gold
// top-level columns.
func (e *Engine) SummaryStats(p Params) (Summary, error) {
	if err := p.Normalize(); err != nil {
		return Summary{}, err
	}
	s := Summary{StartDate: p.StartDate, EndDate: p.EndDate}

	var err error
	switch {
	case p.HasProductFilter():
		err = e.silverSummary(p, &s)
	case p.SourceID != nil:
		err = e.goldSourceSummary(p, &s)
	default:
		err = e.goldSummary(p, &s)
	}
	if err != nil {
		return Summary{}, err
	}

	if s.TotalOrders > 0 {
		s.AvgCheck = round2(s.TotalRevenue / float64(s.TotalOrders))
	}
	s.TotalRevenue = round2(s.TotalRevenue)
	s.ReturnsRevenue = round2(s.ReturnsRevenue)
	return s, nil
}

func (e *Engine) goldSummary(p Params, s *Summary) error {
	var c condSet
	c.add("date >= ?", p.StartDate)
	c.add("date <= ?", p.EndDate)
	if p.SalesType != store.SalesTypeAll {
		c.add("sales_type = ?", p.SalesType)
	}
	query := `
		SELECT COALESCE(SUM(orders_count), 0), COALESCE(SUM(revenue), 0),
		       COALESCE(SUM(returns_count), 0), COALESCE(SUM(returns_revenue), 0)
		FROM gold_daily_revenue` + c.where()
	if err := e.db.QueryRow(query, c.args...).
		Scan(&s.TotalOrders, &s.TotalRevenue, &s.TotalReturns, &s.ReturnsRevenue); err != nil {
		return fmt.Errorf("gold summary: %w", err)
	}
	return nil
}

// goldSourceColumns maps an active source to its Gold column pair.
var goldSourceColumns = map[int][2]string{
	config.SourceInstagram: {"instagram_orders", "instagram_revenue"},
	config.SourceTelegram:  {"telegram_orders", "telegram_revenue"},
	config.SourceShopify:   {"shopify_orders", "shopify_revenue"},
}

func (e *Engine) goldSourceSummary(p Params, s *Summary) error {
	cols, ok := goldSourceColumns[*p.SourceID]
	if !ok {
		// Unknown or legacy source: Gold carries no columns for it.
		return e.silverPlainSummary(p, s)
	}

	var c condSet
	c.add("date >= ?", p.StartDate)
	c.add("date <= ?", p.EndDate)
	if p.SalesType != store.SalesTypeAll {
		c.add("sales_type = ?", p.SalesType)
	}
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(%s), 0), COALESCE(SUM(%s), 0)
		FROM gold_daily_revenue`, cols[0], cols[1]) + c.where()
	if err := e.db.QueryRow(query, c.args...).Scan(&s.TotalOrders, &s.TotalRevenue); err != nil {
		return fmt.Errorf("gold source summary: %w", err)
	}
	return e.silverReturns(p, s)
}

// silverPlainSummary aggregates straight over silver_orders (no product
// join); used when Gold cannot answer a source filter.
func (e *Engine) silverPlainSummary(p Params, s *Summary) error {
	c := silverConds(p)
	query := `
		SELECT COALESCE(SUM(CASE WHEN s.is_return = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN s.is_return = 0 THEN s.grand_total ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN s.is_return = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN s.is_return = 1 THEN s.grand_total ELSE 0 END), 0)
		FROM silver_orders s` + c.where()
	if err := e.db.QueryRow(query, c.args...).
		Scan(&s.TotalOrders, &s.TotalRevenue, &s.TotalReturns, &s.ReturnsRevenue); err != nil {
		return fmt.Errorf("silver summary: %w", err)
	}
	return nil
}

func (e *Engine) silverReturns(p Params, s *Summary) error {
	c := silverConds(p)
	c.add("s.is_return = 1")
	query := `
		SELECT COUNT(*), COALESCE(SUM(s.grand_total), 0)
		FROM silver_orders s` + c.where()
	if err := e.db.QueryRow(query, c.args...).Scan(&s.TotalReturns, &s.ReturnsRevenue); err != nil {
		return fmt.Errorf("silver returns: %w", err)
	}
	return nil
}

// silverSummary answers category/brand filters. The inner DISTINCT keeps an
// order counted once however many of its line items match.
func (e *Engine) silverSummary(p Params, s *Summary) error {
	inner, args := productFilteredOrders(p, "s.id, s.is_return, s.grand_total")
	query := `
		SELECT COALESCE(SUM(CASE WHEN t.is_return = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.is_return = 0 THEN t.grand_total ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.is_return = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.is_return = 1 THEN t.grand_total ELSE 0 END), 0)
		FROM (` + inner + `) t`
	if err := e.db.QueryRow(query, args...).
		Scan(&s.TotalOrders, &s.TotalRevenue, &s.TotalReturns, &s.ReturnsRevenue); err != nil {
		return fmt.Errorf("filtered summary: %w", err)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
