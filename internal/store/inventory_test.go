package store

import "testing"

func seedCatalogWithStock(t *testing.T, s *Store) {
	t.Helper()
	if _, err := s.UpsertProducts([]Product{{ID: 501, Name: "Day Cream", Brand: strPtr("Lumi"), Price: 40}}); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}
	if _, err := s.UpsertOffers([]Offer{{ID: 9001, ProductID: 501, SKU: strPtr("DC-01")}}); err != nil {
		t.Fatalf("UpsertOffers: %v", err)
	}
	if _, _, err := s.UpsertStocks([]Stock{{OfferID: 9001, SKU: "DC-01", Price: 40, Quantity: 12, Reserve: 2}}); err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
}

func TestRefreshSKUInventory_JoinsCatalogAndSales(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	seedCatalogWithStock(t, s)

	o := testOrder(1, 1, 1, 80, "2025-06-10T09:00:00Z")
	o.Products = []OrderProduct{{ID: 1, ProductID: int64Ptr(501), Name: "Day Cream", Quantity: 2, PriceSold: 40}}
	mustSeedOrders(t, s, []Order{o})

	n, err := s.RefreshSKUInventory()
	if err != nil {
		t.Fatalf("RefreshSKUInventory: %v", err)
	}
	if n != 1 {
		t.Fatalf("status rows = %d, want 1", n)
	}

	statuses, err := s.InventoryStatuses()
	if err != nil {
		t.Fatalf("InventoryStatuses: %v", err)
	}
	st := statuses[0]
	if st.OfferID != 9001 || st.ProductID != 501 {
		t.Errorf("offer/product = %d/%d, want 9001/501", st.OfferID, st.ProductID)
	}
	if st.Name != "Day Cream" || st.Brand != "Lumi" || st.SKU != "DC-01" {
		t.Errorf("catalog fields = %q/%q/%q", st.Name, st.Brand, st.SKU)
	}
	if st.Quantity != 12 || st.Reserve != 2 {
		t.Errorf("quantity/reserve = %d/%d, want 12/2", st.Quantity, st.Reserve)
	}
	if st.LastSaleDate != "2025-06-10" {
		t.Errorf("last_sale_date = %q, want 2025-06-10", st.LastSaleDate)
	}
	// First seen falls back to the product's first order date.
	if st.FirstSeenAt != "2025-06-10" {
		t.Errorf("first_seen_at = %q, want 2025-06-10", st.FirstSeenAt)
	}
}

func TestRefreshSKUInventory_FirstSeenSurvivesRebuild(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	seedCatalogWithStock(t, s)

	if _, err := s.RefreshSKUInventory(); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if _, err := s.sql.Exec("UPDATE sku_inventory_status SET first_seen_at = '2024-01-01'"); err != nil {
		t.Fatalf("backdate first_seen: %v", err)
	}
	if _, err := s.RefreshSKUInventory(); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	var seen string
	if err := s.sql.QueryRow("SELECT first_seen_at FROM sku_inventory_status WHERE offer_id = 9001").Scan(&seen); err != nil {
		t.Fatalf("read first_seen: %v", err)
	}
	if seen != "2024-01-01" {
		t.Errorf("first_seen_at = %q, want prior value preserved", seen)
	}
}

func TestRefreshSKUInventory_TracksStockOut(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	seedCatalogWithStock(t, s)

	// Sell down to zero, then refresh.
	if _, _, err := s.UpsertStocks([]Stock{{OfferID: 9001, SKU: "DC-01", Price: 40, Quantity: 0, Reserve: 2}}); err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if _, err := s.RefreshSKUInventory(); err != nil {
		t.Fatalf("RefreshSKUInventory: %v", err)
	}

	statuses, _ := s.InventoryStatuses()
	if len(statuses) != 1 || statuses[0].LastStockOutAt == "" {
		t.Errorf("last_stock_out_at should record the sellout, got %+v", statuses)
	}
}

func TestRecordInventorySnapshot_OncePerDay(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	seedCatalogWithStock(t, s)
	if _, err := s.RefreshSKUInventory(); err != nil {
		t.Fatalf("RefreshSKUInventory: %v", err)
	}

	wrote, err := s.RecordInventorySnapshot()
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if !wrote {
		t.Fatal("first snapshot of the day should write")
	}
	wrote, err = s.RecordInventorySnapshot()
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if wrote {
		t.Error("second snapshot of the same day should be a no-op")
	}

	var n int
	s.sql.QueryRow("SELECT COUNT(*) FROM inventory_sku_history").Scan(&n)
	if n != 1 {
		t.Errorf("history rows = %d, want 1", n)
	}
}

func TestPruneInventoryHistory(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	if _, err := s.sql.Exec(`
		INSERT INTO inventory_sku_history (date, offer_id, quantity, reserve, price)
		VALUES ('2024-01-01', 1, 5, 0, 10), ('2099-01-01', 1, 5, 0, 10)`); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	n, err := s.PruneInventoryHistory(30)
	if err != nil {
		t.Fatalf("PruneInventoryHistory: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	var left int
	s.sql.QueryRow("SELECT COUNT(*) FROM inventory_sku_history").Scan(&left)
	if left != 1 {
		t.Errorf("rows left = %d, want 1", left)
	}
}

func TestInventoryTrend_AggregatesPerDay(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	if _, err := s.sql.Exec(`
		INSERT INTO inventory_sku_history (date, offer_id, quantity, reserve, price) VALUES
		('2025-06-01', 1, 5, 0, 10),
		('2025-06-01', 2, 3, 1, 20),
		('2025-06-02', 1, 4, 0, 10)`); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	trend, err := s.InventoryTrend("2025-06-01", "2025-06-02")
	if err != nil {
		t.Fatalf("InventoryTrend: %v", err)
	}
	if len(trend) != 2 {
		t.Fatalf("trend points = %d, want 2", len(trend))
	}
	if trend[0].Date != "2025-06-01" || trend[0].TotalUnits != 8 || trend[0].TotalValue != 110 || trend[0].SKUCount != 2 {
		t.Errorf("day 1 = %+v, want units 8 value 110 skus 2", trend[0])
	}
	if trend[1].TotalUnits != 4 || trend[1].TotalValue != 40 {
		t.Errorf("day 2 = %+v, want units 4 value 40", trend[1])
	}
}
