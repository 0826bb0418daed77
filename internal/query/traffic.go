package query

import (
	"fmt"
	"sort"

	"sales-pulse/internal/store"
)

// TrafficCell is one platform x traffic-type bucket.
type TrafficCell struct {
	Platform    string  `json:"platform"`
	TrafficType string  `json:"traffic_type"`
	Orders      int     `json:"orders"`
	Revenue     float64 `json:"revenue"`
	Share       float64 `json:"share"`
}

// TrafficSummary is the attribution breakdown for a period. PaidShare is the
// revenue fraction with confirmed or likely ad attribution.
type TrafficSummary struct {
	Breakdown    []TrafficCell `json:"breakdown"`
	TotalOrders  int           `json:"totalOrders"`
	TotalRevenue float64       `json:"totalRevenue"`
	PaidRevenue  float64       `json:"paidRevenue"`
	PaidShare    float64       `json:"paidShare"`
	StartDate    string        `json:"startDate"`
	EndDate      string        `json:"endDate"`
}

// Traffic aggregates gold_daily_traffic for the window. Orders that never
// carried a UTM comment sit in the unknown/other bucket.
func (e *Engine) Traffic(p Params) (TrafficSummary, error) {
	if err := p.Normalize(); err != nil {
		return TrafficSummary{}, err
	}
	out := TrafficSummary{StartDate: p.StartDate, EndDate: p.EndDate}

	var c condSet
	c.add("date >= ?", p.StartDate)
	c.add("date <= ?", p.EndDate)
	if p.SalesType != store.SalesTypeAll {
		c.add("sales_type = ?", p.SalesType)
	}
	if p.SourceID != nil {
		c.add("source_id = ?", *p.SourceID)
	}
	query := `
		SELECT platform, traffic_type, SUM(orders_count), COALESCE(SUM(revenue), 0)
		FROM gold_daily_traffic` + c.where() + `
		GROUP BY platform, traffic_type`
	rows, err := e.db.Query(query, c.args...)
	if err != nil {
		return TrafficSummary{}, fmt.Errorf("traffic summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cell TrafficCell
		if err := rows.Scan(&cell.Platform, &cell.TrafficType, &cell.Orders, &cell.Revenue); err != nil {
			return TrafficSummary{}, fmt.Errorf("traffic scan: %w", err)
		}
		cell.Revenue = round2(cell.Revenue)
		out.TotalOrders += cell.Orders
		out.TotalRevenue += cell.Revenue
		if cell.TrafficType == "paid_confirmed" || cell.TrafficType == "paid_likely" {
			out.PaidRevenue += cell.Revenue
		}
		out.Breakdown = append(out.Breakdown, cell)
	}
	if err := rows.Err(); err != nil {
		return TrafficSummary{}, err
	}

	sort.Slice(out.Breakdown, func(i, j int) bool {
		return out.Breakdown[i].Revenue > out.Breakdown[j].Revenue
	})
	out.TotalRevenue = round2(out.TotalRevenue)
	out.PaidRevenue = round2(out.PaidRevenue)
	if out.TotalRevenue > 0 {
		out.PaidShare = round2(out.PaidRevenue / out.TotalRevenue * 100)
		for i := range out.Breakdown {
			out.Breakdown[i].Share = round2(out.Breakdown[i].Revenue / out.TotalRevenue * 100)
		}
	}
	return out, nil
}

// TrafficTransaction is one attributed order for the drill-down table.
type TrafficTransaction struct {
	OrderID     int64   `json:"order_id"`
	OrderDate   string  `json:"order_date"`
	GrandTotal  float64 `json:"grand_total"`
	SourceID    int     `json:"source_id"`
	TrafficType string  `json:"traffic_type"`
	Platform    string  `json:"platform"`
	UTMSource   string  `json:"utm_source,omitempty"`
	UTMMedium   string  `json:"utm_medium,omitempty"`
	UTMCampaign string  `json:"utm_campaign,omitempty"`
}

// TrafficTransactions lists attributed orders in the window, newest first.
// Only orders with a parsed UTM row appear here.
func (e *Engine) TrafficTransactions(p Params) ([]TrafficTransaction, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}

	c := silverConds(p)
	c.add("s.is_return = 0")
	query := `
		SELECT s.id, s.order_date, s.grand_total, s.source_id,
		       u.traffic_type, u.platform,
		       COALESCE(u.utm_source, ''), COALESCE(u.utm_medium, ''), COALESCE(u.utm_campaign, '')
		FROM silver_orders s
		JOIN silver_order_utm u ON u.order_id = s.id` + c.where() + `
		ORDER BY s.order_date DESC, s.id DESC
		LIMIT ?`
	rows, err := e.db.Query(query, append(c.args, p.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("traffic transactions: %w", err)
	}
	defer rows.Close()

	var out []TrafficTransaction
	for rows.Next() {
		var t TrafficTransaction
		if err := rows.Scan(&t.OrderID, &t.OrderDate, &t.GrandTotal, &t.SourceID,
			&t.TrafficType, &t.Platform, &t.UTMSource, &t.UTMMedium, &t.UTMCampaign); err != nil {
			return nil, fmt.Errorf("traffic transaction scan: %w", err)
		}
		t.GrandTotal = round2(t.GrandTotal)
		out = append(out, t)
	}
	return out, rows.Err()
}
