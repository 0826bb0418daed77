package store

import (
	"database/sql"
	"fmt"
	"log"
)

// Stock is the current upstream stock state of one offer.
type Stock struct {
	OfferID        int64
	SKU            string
	Price          float64
	PurchasedPrice *float64
	Quantity       int
	Reserve        int
}

// Movement types recorded in the stock_movements audit trail.
const (
	MovementInitial       = "initial"
	MovementStockIn       = "stock_in"
	MovementStockOut      = "stock_out"
	MovementReserveChange = "reserve_change"
)

// StockMovement is one detected delta, appended with its upsert.
type StockMovement struct {
	OfferID        int64  `json:"offer_id"`
	ProductID      *int64 `json:"product_id,omitempty"`
	MovementType   string `json:"movement_type"`
	QuantityBefore int    `json:"quantity_before"`
	QuantityAfter  int    `json:"quantity_after"`
	Delta          int    `json:"delta"`
	ReserveBefore  int    `json:"reserve_before"`
	ReserveAfter   int    `json:"reserve_after"`
	RecordedAt     string `json:"recorded_at"`
}

// UpsertStocks applies a stock batch and records detected movements in the
// same transaction. Quantity deltas classify as stock_in/stock_out, a pure
// reserve delta as reserve_change; an offer first seen with nonzero stock
// gets an initial movement. Negative quantities are dropped.
func (s *Store) UpsertStocks(batch []Stock) (int, []StockMovement, error) {
	if len(batch) == 0 {
		return 0, nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return 0, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	upStmt, err := tx.Prepare(`
		INSERT INTO offer_stocks (id, sku, price, purchased_price, quantity, reserve, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sku             = excluded.sku,
			price           = excluded.price,
			purchased_price = excluded.purchased_price,
			quantity        = excluded.quantity,
			reserve         = excluded.reserve,
			synced_at       = excluded.synced_at`)
	if err != nil {
		return 0, nil, fmt.Errorf("prepare offer_stocks: %w", err)
	}
	defer upStmt.Close()

	mvStmt, err := tx.Prepare(`
		INSERT INTO stock_movements (offer_id, product_id, movement_type, quantity_before, quantity_after, delta, reserve_before, reserve_after, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, nil, fmt.Errorf("prepare stock_movements: %w", err)
	}
	defer mvStmt.Close()

	recordedAt := nowUTC()
	var movements []StockMovement
	count := 0
	for _, st := range batch {
		if st.Quantity < 0 || st.Reserve < 0 {
			log.Printf("[Store] Dropping invalid stock offer=%d (quantity=%d reserve=%d)", st.OfferID, st.Quantity, st.Reserve)
			continue
		}

		var prevQty, prevRes int
		known := true
		err := tx.QueryRow("SELECT quantity, reserve FROM offer_stocks WHERE id = ?", st.OfferID).Scan(&prevQty, &prevRes)
		if err == sql.ErrNoRows {
			known = false
		} else if err != nil {
			s.logBatchFailure("offer_stocks", len(batch), batch[0].OfferID, batch[len(batch)-1].OfferID, err)
			return 0, nil, fmt.Errorf("read stock %d: %w", st.OfferID, err)
		}

		var mv *StockMovement
		switch {
		case !known && st.Quantity > 0:
			mv = &StockMovement{OfferID: st.OfferID, MovementType: MovementInitial,
				QuantityAfter: st.Quantity, Delta: st.Quantity, ReserveAfter: st.Reserve}
		case known && st.Quantity != prevQty:
			typ := MovementStockIn
			if st.Quantity < prevQty {
				typ = MovementStockOut
			}
			mv = &StockMovement{OfferID: st.OfferID, MovementType: typ,
				QuantityBefore: prevQty, QuantityAfter: st.Quantity, Delta: st.Quantity - prevQty,
				ReserveBefore: prevRes, ReserveAfter: st.Reserve}
		case known && st.Reserve != prevRes:
			mv = &StockMovement{OfferID: st.OfferID, MovementType: MovementReserveChange,
				QuantityBefore: prevQty, QuantityAfter: st.Quantity,
				ReserveBefore: prevRes, ReserveAfter: st.Reserve}
		}

		if _, err := upStmt.Exec(st.OfferID, st.SKU, st.Price, st.PurchasedPrice, st.Quantity, st.Reserve, recordedAt); err != nil {
			s.logBatchFailure("offer_stocks", len(batch), batch[0].OfferID, batch[len(batch)-1].OfferID, err)
			return 0, nil, fmt.Errorf("upsert stock %d: %w", st.OfferID, err)
		}
		count++

		if mv != nil {
			mv.RecordedAt = recordedAt
			var productID sql.NullInt64
			tx.QueryRow("SELECT product_id FROM offers WHERE id = ?", st.OfferID).Scan(&productID)
			if productID.Valid {
				mv.ProductID = &productID.Int64
			}
			if _, err := mvStmt.Exec(mv.OfferID, mv.ProductID, mv.MovementType,
				mv.QuantityBefore, mv.QuantityAfter, mv.Delta,
				mv.ReserveBefore, mv.ReserveAfter, mv.RecordedAt); err != nil {
				s.logBatchFailure("stock_movements", len(batch), batch[0].OfferID, batch[len(batch)-1].OfferID, err)
				return 0, nil, fmt.Errorf("record movement %d: %w", st.OfferID, err)
			}
			movements = append(movements, *mv)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit stocks: %w", err)
	}
	return count, movements, nil
}

// RecentMovements lists the newest movements, most recent first.
func (s *Store) RecentMovements(limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sql.Query(`
		SELECT offer_id, product_id, movement_type, quantity_before, quantity_after, delta, reserve_before, reserve_after, recorded_at
		FROM stock_movements ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent movements: %w", err)
	}
	defer rows.Close()

	var out []StockMovement
	for rows.Next() {
		var m StockMovement
		var productID sql.NullInt64
		if err := rows.Scan(&m.OfferID, &productID, &m.MovementType,
			&m.QuantityBefore, &m.QuantityAfter, &m.Delta,
			&m.ReserveBefore, &m.ReserveAfter, &m.RecordedAt); err != nil {
			return nil, err
		}
		if productID.Valid {
			m.ProductID = &productID.Int64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
