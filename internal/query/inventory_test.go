package query

import (
	"testing"

	"sales-pulse/internal/store"
)

func TestStatusFor_Buckets(t *testing.T) {
	cases := []struct {
		days int
		want StockStatus
	}{
		{0, StatusActive},
		{30, StatusActive},
		{31, StatusModerate},
		{90, StatusModerate},
		{91, StatusSlow},
		{180, StatusSlow},
		{181, StatusDead},
		{400, StatusDead},
	}
	for _, c := range cases {
		if got := statusFor(c.days); got != c.want {
			t.Errorf("statusFor(%d) = %s, want %s", c.days, got, c.want)
		}
	}
}

// seedInventory loads four offers whose last sales land in each movement
// bucket relative to the pinned clock (2025-06-11), plus stock levels.
func seedInventory(t *testing.T, st *store.Store) {
	t.Helper()
	if _, err := st.UpsertProducts([]store.Product{
		{ID: 1, Name: "Fresh Cream", Brand: sPtr("Lumi"), Price: 10},
		{ID: 2, Name: "Steady Serum", Price: 20},
		{ID: 3, Name: "Fading Mask", Price: 30},
		{ID: 4, Name: "Forgotten Toner", Price: 40},
	}); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}
	if _, err := st.UpsertOffers([]store.Offer{
		{ID: 11, ProductID: 1, SKU: sPtr("SKU-1")},
		{ID: 12, ProductID: 2, SKU: sPtr("SKU-2")},
		{ID: 13, ProductID: 3, SKU: sPtr("SKU-3")},
		{ID: 14, ProductID: 4, SKU: sPtr("SKU-4")},
	}); err != nil {
		t.Fatalf("UpsertOffers: %v", err)
	}
	if _, _, err := st.UpsertStocks([]store.Stock{
		{OfferID: 11, SKU: "SKU-1", Price: 10, Quantity: 3, Reserve: 1},
		{OfferID: 12, SKU: "SKU-2", Price: 20, Quantity: 10},
		{OfferID: 13, SKU: "SKU-3", Price: 30, Quantity: 10},
		{OfferID: 14, SKU: "SKU-4", Price: 40, Quantity: 10},
	}); err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}

	sale := func(id, product int64, orderedAt string) store.Order {
		o := seedOrder(id, 1, 1, 100, orderedAt)
		o.ManagerID = i64Ptr(4)
		o.Products = []store.OrderProduct{
			{ID: id, ProductID: &product, Name: "x", Quantity: 1, PriceSold: 100},
		}
		return o
	}
	mustSeed(t, st, []store.Order{
		sale(1, 1, "2025-06-01T09:00:00Z"), // 10 days ago: active
		sale(2, 2, "2025-04-12T09:00:00Z"), // 60 days: moderate
		sale(3, 3, "2025-02-11T09:00:00Z"), // 120 days: slow
		sale(4, 4, "2024-11-23T09:00:00Z"), // 200 days: dead
	})
	if _, err := st.RefreshSKUInventory(); err != nil {
		t.Fatalf("RefreshSKUInventory: %v", err)
	}
}

func TestDeadStockAnalysis_GroupsByMovement(t *testing.T) {
	e, st := newTestEngine(t)
	seedInventory(t, st)

	got, err := e.DeadStockAnalysis()
	if err != nil {
		t.Fatalf("DeadStockAnalysis: %v", err)
	}
	if len(got.Groups) != 4 {
		t.Fatalf("groups = %d, want 4", len(got.Groups))
	}
	if got.Groups[0].Status != "dead" || got.Groups[3].Status != "active" {
		t.Errorf("group order = %s..%s, want dead first, active last",
			got.Groups[0].Status, got.Groups[3].Status)
	}

	byStatus := map[string]StatusGroup{}
	for _, g := range got.Groups {
		byStatus[g.Status] = g
	}
	for _, status := range []string{"active", "moderate", "slow", "dead"} {
		if byStatus[status].Count != 1 {
			t.Errorf("%s count = %d, want 1", status, byStatus[status].Count)
		}
		if byStatus[status].RecommendedAction == "" {
			t.Errorf("%s has no recommended action", status)
		}
	}

	// Dead: 10 units x 40 = 400 value, 30% markdown assumption.
	if byStatus["dead"].StockValue != 400 || byStatus["dead"].PotentialLoss != 120 {
		t.Errorf("dead = %v value / %v loss, want 400/120",
			byStatus["dead"].StockValue, byStatus["dead"].PotentialLoss)
	}
	// Slow: 10 x 30 = 300 value, 15%.
	if byStatus["slow"].PotentialLoss != 45 {
		t.Errorf("slow loss = %v, want 45", byStatus["slow"].PotentialLoss)
	}
	if byStatus["active"].PotentialLoss != 0 || byStatus["moderate"].PotentialLoss != 0 {
		t.Error("active/moderate should carry no loss estimate")
	}
	if got.TotalPotentialLoss != 165 {
		t.Errorf("total loss = %v, want 165", got.TotalPotentialLoss)
	}
}

func TestClassifyInventory_NeverSoldFallsBackToFirstSeen(t *testing.T) {
	e, st := newTestEngine(t)

	if _, err := st.UpsertProducts([]store.Product{{ID: 1, Name: "New Arrival", Price: 10}}); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}
	if _, err := st.UpsertOffers([]store.Offer{{ID: 11, ProductID: 1, SKU: sPtr("SKU-1")}}); err != nil {
		t.Fatalf("UpsertOffers: %v", err)
	}
	if _, _, err := st.UpsertStocks([]store.Stock{
		{OfferID: 11, SKU: "SKU-1", Price: 10, Quantity: 5},
	}); err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if _, err := st.RefreshSKUInventory(); err != nil {
		t.Fatalf("RefreshSKUInventory: %v", err)
	}

	items, err := e.classifyInventory()
	if err != nil {
		t.Fatalf("classifyInventory: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Status != "active" {
		t.Errorf("brand-new stock status = %s, want active (first_seen fallback)", items[0].Status)
	}
	if items[0].LastSaleDate != "" {
		t.Errorf("lastSaleDate = %q, want empty", items[0].LastSaleDate)
	}
}

func TestStocks_SummaryTotals(t *testing.T) {
	e, st := newTestEngine(t)
	seedInventory(t, st)

	got, err := e.Stocks()
	if err != nil {
		t.Fatalf("Stocks: %v", err)
	}
	if got.TotalSKUs != 4 {
		t.Errorf("totalSkus = %d, want 4", got.TotalSKUs)
	}
	if got.TotalUnits != 33 {
		t.Errorf("totalUnits = %d, want 33", got.TotalUnits)
	}
	if got.TotalReserve != 1 || got.TotalAvailable != 32 {
		t.Errorf("reserve/available = %d/%d, want 1/32", got.TotalReserve, got.TotalAvailable)
	}
	// 3x10 + 10x20 + 10x30 + 10x40.
	if got.StockValue != 930 {
		t.Errorf("stockValue = %v, want 930", got.StockValue)
	}
	if got.ByStatus["dead"] != 1 || got.ByStatus["active"] != 1 {
		t.Errorf("byStatus = %v, want one per bucket", got.ByStatus)
	}
}

func TestRestock_FlagsLowActiveStock(t *testing.T) {
	e, st := newTestEngine(t)
	seedInventory(t, st) // offer 11 is active with 3-1=2 available

	got, err := e.Restock()
	if err != nil {
		t.Fatalf("Restock: %v", err)
	}
	if got.Count != 1 {
		t.Fatalf("alerts = %d, want 1 (only the active low-stock offer)", got.Count)
	}
	a := got.Alerts[0]
	if a.OfferID != 11 || a.Available != 2 {
		t.Errorf("alert = offer %d avail %d, want 11/2", a.OfferID, a.Available)
	}
	// The dead offer also has few sales but must not page anyone.
	for _, alert := range got.Alerts {
		if alert.Status != "active" {
			t.Errorf("alert for %s stock", alert.Status)
		}
	}
}

func TestStocksTrend_UsesSnapshots(t *testing.T) {
	e, st := newTestEngine(t)
	seedInventory(t, st)

	wrote, err := st.RecordInventorySnapshot()
	if err != nil {
		t.Fatalf("RecordInventorySnapshot: %v", err)
	}
	if !wrote {
		t.Fatal("first snapshot should write")
	}

	points, err := e.StocksTrend("2000-01-01", "2100-01-01")
	if err != nil {
		t.Fatalf("StocksTrend: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	if points[0].TotalUnits != 33 || points[0].SKUCount != 4 {
		t.Errorf("snapshot = %d units / %d skus, want 33/4", points[0].TotalUnits, points[0].SKUCount)
	}
	if len(points[0].Label) != 5 {
		t.Errorf("label = %q, want DD.MM form", points[0].Label)
	}

	if _, err := e.StocksTrend("nope", "2100-01-01"); err == nil {
		t.Error("bad date should error")
	}
}
