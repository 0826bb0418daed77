package store

import (
	"testing"
	"time"
)

// testOrder builds a minimal valid order. orderedAt is RFC3339; updated_at
// mirrors ordered_at so the version guard has something to compare.
func testOrder(id int64, sourceID, statusID int, total float64, orderedAt string) Order {
	ts, err := time.Parse(time.RFC3339, orderedAt)
	if err != nil {
		panic(err)
	}
	return Order{
		ID:         id,
		SourceID:   sourceID,
		StatusID:   statusID,
		GrandTotal: total,
		OrderedAt:  ts,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

func mustSeedOrders(t *testing.T, s *Store, batch []Order) UpsertOrdersResult {
	t.Helper()
	res, err := s.UpsertOrders(batch)
	if err != nil {
		t.Fatalf("UpsertOrders: %v", err)
	}
	return res
}

func int64Ptr(v int64) *int64 { return &v }

func TestUpsertOrders_RedeliveryIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	batch := []Order{
		testOrder(1, 1, 1, 100, "2025-06-10T09:00:00Z"),
		testOrder(2, 2, 1, 500, "2025-06-10T10:00:00Z"),
		testOrder(3, 4, 1, 200, "2025-06-10T11:00:00Z"),
	}

	first := mustSeedOrders(t, s, batch)
	if first.Applied != 3 || first.Skipped != 0 || first.Dropped != 0 {
		t.Fatalf("first pass = %+v, want 3 applied", first)
	}

	// Same page delivered again: same final state.
	mustSeedOrders(t, s, batch)

	count, err := s.OrderCount()
	if err != nil {
		t.Fatalf("OrderCount: %v", err)
	}
	if count != 3 {
		t.Errorf("order count after redelivery = %d, want 3", count)
	}
	sum, err := s.OrdersGrandTotalSum()
	if err != nil {
		t.Fatalf("OrdersGrandTotalSum: %v", err)
	}
	if sum != 800 {
		t.Errorf("grand_total sum after redelivery = %v, want 800", sum)
	}
}

func TestUpsertOrders_StaleUpdateSkipped(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	fresh := testOrder(7, 1, 1, 300, "2025-06-10T09:00:00Z")
	fresh.UpdatedAt = time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	mustSeedOrders(t, s, []Order{fresh})

	stale := fresh
	stale.GrandTotal = 50
	stale.UpdatedAt = time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	res := mustSeedOrders(t, s, []Order{stale})
	if res.Skipped != 1 || res.Applied != 0 {
		t.Fatalf("stale delivery = %+v, want 1 skipped", res)
	}

	var total float64
	if err := s.sql.QueryRow("SELECT grand_total FROM orders WHERE id = 7").Scan(&total); err != nil {
		t.Fatalf("read order: %v", err)
	}
	if total != 300 {
		t.Errorf("grand_total = %v, stale update must not win", total)
	}
}

func TestUpsertOrders_NewerUpdateWins(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	o := testOrder(9, 1, 1, 300, "2025-06-10T09:00:00Z")
	mustSeedOrders(t, s, []Order{o})

	o.StatusID = 19
	o.GrandTotal = 310
	o.UpdatedAt = o.UpdatedAt.Add(time.Hour)
	res := mustSeedOrders(t, s, []Order{o})
	if res.Applied != 1 {
		t.Fatalf("newer delivery = %+v, want 1 applied", res)
	}

	var status int
	var total float64
	if err := s.sql.QueryRow("SELECT status_id, grand_total FROM orders WHERE id = 9").Scan(&status, &total); err != nil {
		t.Fatalf("read order: %v", err)
	}
	if status != 19 || total != 310 {
		t.Errorf("status/total = %d/%v, want 19/310", status, total)
	}
}

func TestUpsertOrders_LineItemsReplacedNotAccumulated(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	o := testOrder(11, 1, 1, 100, "2025-06-10T09:00:00Z")
	o.Products = []OrderProduct{
		{ID: 1, ProductID: int64Ptr(501), Name: "Cream", Quantity: 2, PriceSold: 50},
	}
	mustSeedOrders(t, s, []Order{o})

	o.Products = []OrderProduct{
		{ID: 1, ProductID: int64Ptr(501), Name: "Cream", Quantity: 1, PriceSold: 50},
		{ID: 2, ProductID: int64Ptr(502), Name: "Serum", Quantity: 1, PriceSold: 50},
	}
	o.UpdatedAt = o.UpdatedAt.Add(time.Hour)
	mustSeedOrders(t, s, []Order{o})

	var lines int
	if err := s.sql.QueryRow("SELECT COUNT(*) FROM order_products WHERE order_id = 11").Scan(&lines); err != nil {
		t.Fatalf("count lines: %v", err)
	}
	if lines != 2 {
		t.Errorf("line count = %d, want 2 (replaced, not accumulated)", lines)
	}
}

func TestUpsertOrders_InvalidRowsDroppedRestProceeds(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	bad := testOrder(20, 1, 1, -5, "2025-06-10T09:00:00Z")
	noDate := Order{ID: 21, SourceID: 1, StatusID: 1, GrandTotal: 10}
	good := testOrder(22, 1, 1, 40, "2025-06-10T10:00:00Z")
	good.Products = []OrderProduct{
		{ID: 5, Name: "Mask", Quantity: 0, PriceSold: 40},
		{ID: 6, Name: "Mask", Quantity: 1, PriceSold: 40},
	}

	res := mustSeedOrders(t, s, []Order{bad, noDate, good})
	if res.Dropped != 2 || res.Applied != 1 {
		t.Fatalf("result = %+v, want 2 dropped 1 applied", res)
	}

	count, _ := s.OrderCount()
	if count != 1 {
		t.Errorf("order count = %d, want 1", count)
	}
	var lines int
	s.sql.QueryRow("SELECT COUNT(*) FROM order_products WHERE order_id = 22").Scan(&lines)
	if lines != 1 {
		t.Errorf("line count = %d, want 1 (zero-quantity line dropped)", lines)
	}
}

func TestUpsertOrders_ZeroUpdatedAtFallsBackToCreatedAt(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	o := testOrder(30, 1, 1, 100, "2025-06-10T09:00:00Z")
	o.UpdatedAt = time.Time{}
	mustSeedOrders(t, s, []Order{o})

	var updated string
	if err := s.sql.QueryRow("SELECT updated_at FROM orders WHERE id = 30").Scan(&updated); err != nil {
		t.Fatalf("read updated_at: %v", err)
	}
	if updated != "2025-06-10T09:00:00Z" {
		t.Errorf("updated_at = %q, want created_at fallback", updated)
	}
}
