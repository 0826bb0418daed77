package store

import "testing"

func TestUpsertStocks_MovementClassification(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	if _, err := s.UpsertProducts([]Product{{ID: 501, Name: "Day Cream", Price: 40}}); err != nil {
		t.Fatalf("UpsertProducts: %v", err)
	}
	if _, err := s.UpsertOffers([]Offer{{ID: 9001, ProductID: 501, SKU: strPtr("DC-01")}}); err != nil {
		t.Fatalf("UpsertOffers: %v", err)
	}

	// First sight with stock: initial.
	_, mvs, err := s.UpsertStocks([]Stock{{OfferID: 9001, SKU: "DC-01", Price: 40, Quantity: 10, Reserve: 1}})
	if err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if len(mvs) != 1 || mvs[0].MovementType != MovementInitial {
		t.Fatalf("first sight movements = %+v, want one initial", mvs)
	}
	if mvs[0].Delta != 10 || mvs[0].QuantityAfter != 10 {
		t.Errorf("initial delta/after = %d/%d, want 10/10", mvs[0].Delta, mvs[0].QuantityAfter)
	}
	if mvs[0].ProductID == nil || *mvs[0].ProductID != 501 {
		t.Errorf("movement product_id = %v, want 501", mvs[0].ProductID)
	}

	// Quantity up: stock_in.
	_, mvs, err = s.UpsertStocks([]Stock{{OfferID: 9001, SKU: "DC-01", Price: 40, Quantity: 15, Reserve: 1}})
	if err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if len(mvs) != 1 || mvs[0].MovementType != MovementStockIn || mvs[0].Delta != 5 {
		t.Fatalf("restock movements = %+v, want stock_in delta 5", mvs)
	}

	// Quantity down: stock_out.
	_, mvs, err = s.UpsertStocks([]Stock{{OfferID: 9001, SKU: "DC-01", Price: 40, Quantity: 0, Reserve: 1}})
	if err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if len(mvs) != 1 || mvs[0].MovementType != MovementStockOut || mvs[0].Delta != -15 {
		t.Fatalf("sellout movements = %+v, want stock_out delta -15", mvs)
	}
	if mvs[0].QuantityAfter != 0 {
		t.Errorf("sellout quantity_after = %d, want 0", mvs[0].QuantityAfter)
	}

	// Same quantity, reserve moves: reserve_change.
	_, mvs, err = s.UpsertStocks([]Stock{{OfferID: 9001, SKU: "DC-01", Price: 40, Quantity: 0, Reserve: 3}})
	if err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if len(mvs) != 1 || mvs[0].MovementType != MovementReserveChange {
		t.Fatalf("reserve movements = %+v, want reserve_change", mvs)
	}
	if mvs[0].ReserveBefore != 1 || mvs[0].ReserveAfter != 3 {
		t.Errorf("reserve before/after = %d/%d, want 1/3", mvs[0].ReserveBefore, mvs[0].ReserveAfter)
	}

	// No change at all: no movement.
	_, mvs, err = s.UpsertStocks([]Stock{{OfferID: 9001, SKU: "DC-01", Price: 40, Quantity: 0, Reserve: 3}})
	if err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if len(mvs) != 0 {
		t.Errorf("unchanged upsert produced movements: %+v", mvs)
	}
}

func TestUpsertStocks_FirstSightZeroQuantityIsSilent(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	_, mvs, err := s.UpsertStocks([]Stock{{OfferID: 9002, SKU: "NS-01", Price: 60, Quantity: 0, Reserve: 0}})
	if err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if len(mvs) != 0 {
		t.Errorf("zero-stock first sight produced movements: %+v", mvs)
	}
}

func TestUpsertStocks_NegativeValuesDropped(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	count, _, err := s.UpsertStocks([]Stock{
		{OfferID: 1, SKU: "A", Quantity: -1, Reserve: 0},
		{OfferID: 2, SKU: "B", Quantity: 5, Reserve: -2},
		{OfferID: 3, SKU: "C", Quantity: 5, Reserve: 0},
	})
	if err != nil {
		t.Fatalf("UpsertStocks: %v", err)
	}
	if count != 1 {
		t.Errorf("applied count = %d, want 1 (negatives dropped)", count)
	}
}

func TestRecentMovements_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	s.UpsertStocks([]Stock{{OfferID: 1, SKU: "A", Quantity: 5}})
	s.UpsertStocks([]Stock{{OfferID: 1, SKU: "A", Quantity: 8}})

	mvs, err := s.RecentMovements(10)
	if err != nil {
		t.Fatalf("RecentMovements: %v", err)
	}
	if len(mvs) != 2 {
		t.Fatalf("movements = %d, want 2", len(mvs))
	}
	if mvs[0].MovementType != MovementStockIn || mvs[1].MovementType != MovementInitial {
		t.Errorf("order = %s,%s; want stock_in,initial", mvs[0].MovementType, mvs[1].MovementType)
	}
}
