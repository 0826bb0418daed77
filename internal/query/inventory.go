package query

import (
	"sort"
	"time"

	"sales-pulse/internal/config"
)

// StockStatus classifies an offer by how recently it sold.
type StockStatus int

const (
	StatusActive StockStatus = iota
	StatusModerate
	StatusSlow
	StatusDead
)

func (s StockStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusModerate:
		return "moderate"
	case StatusSlow:
		return "slow"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Priority orders statuses by urgency for action lists, dead highest.
func (s StockStatus) Priority() int {
	return int(s) + 1
}

// statusFor buckets by days since the last sale.
func statusFor(daysSinceSale int) StockStatus {
	switch {
	case daysSinceSale <= 30:
		return StatusActive
	case daysSinceSale <= 90:
		return StatusModerate
	case daysSinceSale <= 180:
		return StatusSlow
	default:
		return StatusDead
	}
}

// lossRate is the assumed markdown needed to clear stock in each bucket.
func lossRate(s StockStatus) float64 {
	switch s {
	case StatusDead:
		return 0.30
	case StatusSlow:
		return 0.15
	default:
		return 0
	}
}

// restockThreshold flags active offers once available units fall this low.
const restockThreshold = 5

// StockItem is one offer with its movement classification.
type StockItem struct {
	OfferID       int64   `json:"offer_id"`
	ProductID     int64   `json:"product_id"`
	SKU           string  `json:"sku,omitempty"`
	Name          string  `json:"name"`
	Brand         string  `json:"brand,omitempty"`
	Quantity      int     `json:"quantity"`
	Reserve       int     `json:"reserve"`
	Available     int     `json:"available"`
	Price         float64 `json:"price"`
	StockValue    float64 `json:"stockValue"`
	LastSaleDate  string  `json:"lastSaleDate,omitempty"`
	DaysSinceSale int     `json:"daysSinceSale"`
	Status        string  `json:"status"`
	Priority      int     `json:"priority"`
	PotentialLoss float64 `json:"potentialLoss"`
}

// classifyInventory maps the stored snapshot into classified items. Offers
// that never sold fall back to first_seen_at, so brand-new stock starts
// active instead of dead.
func (e *Engine) classifyInventory() ([]StockItem, error) {
	statuses, err := e.store.InventoryStatuses()
	if err != nil {
		return nil, err
	}
	today := e.now().In(config.Kyiv).Format("2006-01-02")

	items := make([]StockItem, 0, len(statuses))
	for _, st := range statuses {
		ref := st.LastSaleDate
		if ref == "" {
			ref = datePart(st.FirstSeenAt)
		}
		days := 0
		if ref != "" {
			if d := daysBetween(ref, today); d >= 0 {
				days = d
			}
		}
		status := statusFor(days)
		available := st.Quantity - st.Reserve
		if available < 0 {
			available = 0
		}
		value := round2(float64(st.Quantity) * st.Price)
		items = append(items, StockItem{
			OfferID:       st.OfferID,
			ProductID:     st.ProductID,
			SKU:           st.SKU,
			Name:          st.Name,
			Brand:         st.Brand,
			Quantity:      st.Quantity,
			Reserve:       st.Reserve,
			Available:     available,
			Price:         st.Price,
			StockValue:    value,
			LastSaleDate:  st.LastSaleDate,
			DaysSinceSale: days,
			Status:        status.String(),
			Priority:      status.Priority(),
			PotentialLoss: round2(value * lossRate(status)),
		})
	}
	return items, nil
}

func datePart(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

// StocksSummary is the warehouse headline block.
type StocksSummary struct {
	TotalSKUs      int            `json:"totalSkus"`
	TotalUnits     int            `json:"totalUnits"`
	TotalReserve   int            `json:"totalReserve"`
	TotalAvailable int            `json:"totalAvailable"`
	StockValue     float64        `json:"stockValue"`
	PurchaseValue  float64        `json:"purchaseValue"`
	OutOfStock     int            `json:"outOfStock"`
	ByStatus       map[string]int `json:"byStatus"`
}

// Stocks summarizes current inventory by units, value and status mix.
func (e *Engine) Stocks() (StocksSummary, error) {
	statuses, err := e.store.InventoryStatuses()
	if err != nil {
		return StocksSummary{}, err
	}
	items, err := e.classifyInventory()
	if err != nil {
		return StocksSummary{}, err
	}

	out := StocksSummary{ByStatus: map[string]int{}}
	for _, st := range statuses {
		if st.PurchasedPrice != nil {
			out.PurchaseValue += float64(st.Quantity) * *st.PurchasedPrice
		}
	}
	for _, it := range items {
		out.TotalSKUs++
		out.TotalUnits += it.Quantity
		out.TotalReserve += it.Reserve
		out.TotalAvailable += it.Available
		out.StockValue += it.StockValue
		if it.Quantity <= 0 {
			out.OutOfStock++
		}
		out.ByStatus[it.Status]++
	}
	out.StockValue = round2(out.StockValue)
	out.PurchaseValue = round2(out.PurchaseValue)
	return out, nil
}

// StatusGroup aggregates one movement bucket with its worst offenders.
type StatusGroup struct {
	Status            string      `json:"status"`
	Priority          int         `json:"priority"`
	Count             int         `json:"count"`
	Units             int         `json:"units"`
	StockValue        float64     `json:"stockValue"`
	PotentialLoss     float64     `json:"potentialLoss"`
	RecommendedAction string      `json:"recommendedAction"`
	Items             []StockItem `json:"items"`
}

// StockAnalysis is the dead-stock report grouped by movement bucket.
type StockAnalysis struct {
	Groups             []StatusGroup `json:"groups"`
	TotalStockValue    float64       `json:"totalStockValue"`
	TotalPotentialLoss float64       `json:"totalPotentialLoss"`
	GeneratedAt        string        `json:"generatedAt"`
}

var recommendedActions = map[StockStatus]string{
	StatusActive:   "Keep replenished and monitor sell-through",
	StatusModerate: "Review pricing and placement before demand fades",
	StatusSlow:     "Run a promotion or bundle to move remaining units",
	StatusDead:     "Liquidate or write off to free working capital",
}

// maxGroupItems caps the per-bucket item list in the analysis payload.
const maxGroupItems = 20

// DeadStockAnalysis groups inventory by movement bucket, most urgent first,
// with the estimated markdown cost of clearing slow and dead stock.
func (e *Engine) DeadStockAnalysis() (StockAnalysis, error) {
	items, err := e.classifyInventory()
	if err != nil {
		return StockAnalysis{}, err
	}

	groups := map[string]*StatusGroup{}
	for _, status := range []StockStatus{StatusDead, StatusSlow, StatusModerate, StatusActive} {
		groups[status.String()] = &StatusGroup{
			Status:            status.String(),
			Priority:          status.Priority(),
			RecommendedAction: recommendedActions[status],
		}
	}

	out := StockAnalysis{GeneratedAt: e.now().UTC().Format(time.RFC3339)}
	for _, it := range items {
		g := groups[it.Status]
		g.Count++
		g.Units += it.Quantity
		g.StockValue += it.StockValue
		g.PotentialLoss += it.PotentialLoss
		g.Items = append(g.Items, it)
		out.TotalStockValue += it.StockValue
		out.TotalPotentialLoss += it.PotentialLoss
	}

	for _, g := range groups {
		sort.Slice(g.Items, func(i, j int) bool {
			return g.Items[i].StockValue > g.Items[j].StockValue
		})
		if len(g.Items) > maxGroupItems {
			g.Items = g.Items[:maxGroupItems]
		}
		g.StockValue = round2(g.StockValue)
		g.PotentialLoss = round2(g.PotentialLoss)
	}

	for _, status := range []StockStatus{StatusDead, StatusSlow, StatusModerate, StatusActive} {
		out.Groups = append(out.Groups, *groups[status.String()])
	}
	out.TotalStockValue = round2(out.TotalStockValue)
	out.TotalPotentialLoss = round2(out.TotalPotentialLoss)
	return out, nil
}

// RestockAlerts lists active sellers about to run out, emptiest first.
type RestockAlerts struct {
	Alerts    []StockItem `json:"alerts"`
	Threshold int         `json:"threshold"`
	Count     int         `json:"count"`
}

// Restock flags offers that still sell but have restockThreshold or fewer
// units left unreserved.
func (e *Engine) Restock() (RestockAlerts, error) {
	items, err := e.classifyInventory()
	if err != nil {
		return RestockAlerts{}, err
	}

	out := RestockAlerts{Threshold: restockThreshold}
	for _, it := range items {
		if it.Status == StatusActive.String() && it.Available <= restockThreshold {
			out.Alerts = append(out.Alerts, it)
		}
	}
	sort.Slice(out.Alerts, func(i, j int) bool {
		if out.Alerts[i].Available != out.Alerts[j].Available {
			return out.Alerts[i].Available < out.Alerts[j].Available
		}
		return out.Alerts[i].StockValue > out.Alerts[j].StockValue
	})
	out.Count = len(out.Alerts)
	return out, nil
}

// StocksTrendPoint is one snapshot day for the inventory chart.
type StocksTrendPoint struct {
	Date       string  `json:"date"`
	Label      string  `json:"label"`
	TotalUnits int     `json:"totalUnits"`
	TotalValue float64 `json:"totalValue"`
	SKUCount   int     `json:"skuCount"`
}

// StocksTrend returns the daily inventory snapshots in a window.
func (e *Engine) StocksTrend(startDate, endDate string) ([]StocksTrendPoint, error) {
	for _, d := range []string{startDate, endDate} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, ErrInvalidParams
		}
	}
	points, err := e.store.InventoryTrend(startDate, endDate)
	if err != nil {
		return nil, err
	}
	out := make([]StocksTrendPoint, 0, len(points))
	for _, p := range points {
		label := p.Date
		if t, err := time.Parse("2006-01-02", p.Date); err == nil {
			label = t.Format("02.01")
		}
		out = append(out, StocksTrendPoint{
			Date:       p.Date,
			Label:      label,
			TotalUnits: p.TotalUnits,
			TotalValue: round2(p.TotalValue),
			SKUCount:   p.SKUCount,
		})
	}
	return out, nil
}
