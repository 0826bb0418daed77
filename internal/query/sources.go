package query

import (
	"fmt"

	"sales-pulse/internal/config"
	"sales-pulse/internal/store"
)

// SourceBreakdown is one sales channel's slice of the period.
type SourceBreakdown struct {
	SourceID int     `json:"source_id"`
	Name     string  `json:"name"`
	Color    string  `json:"color"`
	Orders   int     `json:"orders"`
	Revenue  float64 `json:"revenue"`
	Share    float64 `json:"share"`
}

// SalesBySource is the per-channel split for a period, in fixed source order
// so chart colors stay stable.
type SalesBySource struct {
	Sources      []SourceBreakdown `json:"sources"`
	TotalOrders  int               `json:"totalOrders"`
	TotalRevenue float64           `json:"totalRevenue"`
	StartDate    string            `json:"startDate"`
	EndDate      string            `json:"endDate"`
}

// SourcesBreakdown splits non-return revenue across the active sources.
// Unfiltered requests read Gold's per-source columns in one pass; category
// or brand filters fall back to the Silver JOIN grouped by source.
func (e *Engine) SourcesBreakdown(p Params) (SalesBySource, error) {
	if err := p.Normalize(); err != nil {
		return SalesBySource{}, err
	}
	out := SalesBySource{StartDate: p.StartDate, EndDate: p.EndDate}

	bySource := map[int][2]float64{} // source_id -> {orders, revenue}
	var err error
	if p.HasProductFilter() {
		err = e.silverBySource(p, bySource)
	} else {
		err = e.goldBySource(p, bySource)
	}
	if err != nil {
		return SalesBySource{}, err
	}

	for _, id := range config.ActiveSources {
		v := bySource[id]
		out.Sources = append(out.Sources, SourceBreakdown{
			SourceID: id,
			Name:     config.SourceNames[id],
			Color:    config.SourceColors[id],
			Orders:   int(v[0]),
			Revenue:  round2(v[1]),
		})
		out.TotalOrders += int(v[0])
		out.TotalRevenue += v[1]
	}
	out.TotalRevenue = round2(out.TotalRevenue)
	if out.TotalRevenue > 0 {
		for i := range out.Sources {
			out.Sources[i].Share = round2(out.Sources[i].Revenue / out.TotalRevenue * 100)
		}
	}
	return out, nil
}

func (e *Engine) goldBySource(p Params, bySource map[int][2]float64) error {
	var c condSet
	c.add("date >= ?", p.StartDate)
	c.add("date <= ?", p.EndDate)
	if p.SalesType != store.SalesTypeAll {
		c.add("sales_type = ?", p.SalesType)
	}
	query := `
		SELECT COALESCE(SUM(instagram_orders), 0), COALESCE(SUM(instagram_revenue), 0),
		       COALESCE(SUM(telegram_orders), 0), COALESCE(SUM(telegram_revenue), 0),
		       COALESCE(SUM(shopify_orders), 0), COALESCE(SUM(shopify_revenue), 0)
		FROM gold_daily_revenue` + c.where()

	var igOrders, tgOrders, shOrders float64
	var igRev, tgRev, shRev float64
	if err := e.db.QueryRow(query, c.args...).
		Scan(&igOrders, &igRev, &tgOrders, &tgRev, &shOrders, &shRev); err != nil {
		return fmt.Errorf("gold by source: %w", err)
	}
	bySource[config.SourceInstagram] = [2]float64{igOrders, igRev}
	bySource[config.SourceTelegram] = [2]float64{tgOrders, tgRev}
	bySource[config.SourceShopify] = [2]float64{shOrders, shRev}
	return nil
}

func (e *Engine) silverBySource(p Params, bySource map[int][2]float64) error {
	inner, args := productFilteredOrders(p, "s.id, s.source_id, s.grand_total", "s.is_return = 0")
	query := `
		SELECT t.source_id, COUNT(*), COALESCE(SUM(t.grand_total), 0)
		FROM (` + inner + `) t
		GROUP BY t.source_id`

	rows, err := e.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("silver by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, orders int
		var revenue float64
		if err := rows.Scan(&id, &orders, &revenue); err != nil {
			return fmt.Errorf("silver by source scan: %w", err)
		}
		bySource[id] = [2]float64{float64(orders), revenue}
	}
	return rows.Err()
}
