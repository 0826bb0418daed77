package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// SKUStatus is one denormalized row of sku_inventory_status.
type SKUStatus struct {
	OfferID        int64    `json:"offer_id"`
	ProductID      int64    `json:"product_id"`
	SKU            string   `json:"sku"`
	Name           string   `json:"name"`
	Brand          string   `json:"brand,omitempty"`
	CategoryID     *int64   `json:"category_id,omitempty"`
	Quantity       int      `json:"quantity"`
	Reserve        int      `json:"reserve"`
	Price          float64  `json:"price"`
	PurchasedPrice *float64 `json:"purchased_price,omitempty"`
	LastSaleDate   string   `json:"last_sale_date,omitempty"`
	FirstSeenAt    string   `json:"first_seen_at"`
	LastStockOutAt string   `json:"last_stock_out_at,omitempty"`
	UpdatedAt      string   `json:"updated_at"`
}

// RefreshSKUInventory rebuilds sku_inventory_status from current stocks,
// the catalog and the order history. first_seen_at survives from the prior
// row; for new offers it falls back to the product's first order date, then
// to today.
func (s *Store) RefreshSKUInventory() (int, error) {
	lastSale, err := s.productDateMap(`
		SELECT op.product_id, MAX(o.ordered_at)
		FROM order_products op
		JOIN orders o ON o.id = op.order_id
		WHERE op.product_id IS NOT NULL
		  AND o.status_id NOT IN (19, 21, 22, 23)
		GROUP BY op.product_id`)
	if err != nil {
		return 0, fmt.Errorf("last-sale map: %w", err)
	}
	firstOrder, err := s.productDateMap(`
		SELECT op.product_id, MIN(o.ordered_at)
		FROM order_products op
		JOIN orders o ON o.id = op.order_id
		WHERE op.product_id IS NOT NULL
		GROUP BY op.product_id`)
	if err != nil {
		return 0, fmt.Errorf("first-order map: %w", err)
	}

	prevFirstSeen := make(map[int64]string)
	rows, err := s.sql.Query("SELECT offer_id, first_seen_at FROM sku_inventory_status")
	if err != nil {
		return 0, fmt.Errorf("prior first_seen: %w", err)
	}
	for rows.Next() {
		var id int64
		var seen string
		if err := rows.Scan(&id, &seen); err != nil {
			rows.Close()
			return 0, err
		}
		prevFirstSeen[id] = seen
	}
	rows.Close()

	lastStockOut := make(map[int64]string)
	rows, err = s.sql.Query(`
		SELECT offer_id, MAX(recorded_at) FROM stock_movements
		WHERE movement_type = 'stock_out' AND quantity_after = 0
		GROUP BY offer_id`)
	if err != nil {
		return 0, fmt.Errorf("stock-out map: %w", err)
	}
	for rows.Next() {
		var id int64
		var at string
		if err := rows.Scan(&id, &at); err != nil {
			rows.Close()
			return 0, err
		}
		lastStockOut[id] = at
	}
	rows.Close()

	rows, err = s.sql.Query(`
		SELECT os.id, ofr.product_id, COALESCE(os.sku, ofr.sku, ''),
		       COALESCE(p.name, ''), p.brand, p.category_id,
		       os.quantity, os.reserve, os.price, os.purchased_price
		FROM offer_stocks os
		JOIN offers ofr ON ofr.id = os.id
		LEFT JOIN products p ON p.id = ofr.product_id`)
	if err != nil {
		return 0, fmt.Errorf("stock join: %w", err)
	}

	today := KyivDate(time.Now())
	var statuses []SKUStatus
	for rows.Next() {
		var st SKUStatus
		var brand sql.NullString
		var categoryID sql.NullInt64
		var purchased sql.NullFloat64
		if err := rows.Scan(&st.OfferID, &st.ProductID, &st.SKU, &st.Name, &brand, &categoryID,
			&st.Quantity, &st.Reserve, &st.Price, &purchased); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stock join: %w", err)
		}
		if brand.Valid {
			st.Brand = brand.String
		}
		if categoryID.Valid {
			st.CategoryID = &categoryID.Int64
		}
		if purchased.Valid {
			st.PurchasedPrice = &purchased.Float64
		}
		st.LastSaleDate = lastSale[st.ProductID]
		st.LastStockOutAt = lastStockOut[st.OfferID]
		switch {
		case prevFirstSeen[st.OfferID] != "":
			st.FirstSeenAt = prevFirstSeen[st.OfferID]
		case firstOrder[st.ProductID] != "":
			st.FirstSeenAt = firstOrder[st.ProductID]
		default:
			st.FirstSeenAt = today
		}
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sku_inventory_status"); err != nil {
		return 0, fmt.Errorf("clear sku_inventory_status: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO sku_inventory_status
			(offer_id, product_id, sku, name, brand, category_id, quantity, reserve, price, purchased_price,
			 last_sale_date, first_seen_at, last_stock_out_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare sku_inventory_status: %w", err)
	}
	defer stmt.Close()

	updatedAt := nowUTC()
	for _, st := range statuses {
		if _, err := stmt.Exec(st.OfferID, st.ProductID, st.SKU, st.Name,
			nullIfEmpty(st.Brand), st.CategoryID, st.Quantity, st.Reserve, st.Price, st.PurchasedPrice,
			nullIfEmpty(st.LastSaleDate), st.FirstSeenAt, nullIfEmpty(st.LastStockOutAt), updatedAt); err != nil {
			return 0, fmt.Errorf("write sku status %d: %w", st.OfferID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sku_inventory_status: %w", err)
	}
	return len(statuses), nil
}

// productDateMap runs a (product_id, RFC3339 timestamp) aggregate and returns
// product → Kyiv-local date.
func (s *Store) productDateMap(query string) (map[int64]string, error) {
	rows, err := s.sql.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			out[id] = KyivDate(ts)
		}
	}
	return out, rows.Err()
}

// RecordInventorySnapshot copies the current status into today's history
// rows. Idempotent: once a snapshot for today exists, it returns false.
func (s *Store) RecordInventorySnapshot() (bool, error) {
	today := KyivDate(time.Now())
	var n int
	if err := s.sql.QueryRow("SELECT COUNT(*) FROM inventory_sku_history WHERE date = ?", today).Scan(&n); err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sql.Exec(`
		INSERT INTO inventory_sku_history (date, offer_id, quantity, reserve, price)
		SELECT ?, offer_id, quantity, reserve, price FROM sku_inventory_status`, today)
	if err != nil {
		return false, fmt.Errorf("record snapshot: %w", err)
	}
	return true, nil
}

// PruneInventoryHistory deletes snapshots older than the given number of days.
func (s *Store) PruneInventoryHistory(days int) (int64, error) {
	cutoff := KyivDate(time.Now().AddDate(0, 0, -days))
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.sql.Exec("DELETE FROM inventory_sku_history WHERE date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune inventory history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("[Store] Pruned %d inventory history rows older than %s", n, cutoff)
	}
	return n, nil
}

// PruneStalePredictions deletes forecast rows whose date fell out of the
// reporting window.
func (s *Store) PruneStalePredictions(days int) (int64, error) {
	cutoff := KyivDate(time.Now().AddDate(0, 0, -days))
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.sql.Exec("DELETE FROM revenue_predictions WHERE prediction_date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune predictions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("[Store] Pruned %d stale prediction rows", n)
	}
	return n, nil
}

// InventoryStatuses returns all current rows, for the query layer.
func (s *Store) InventoryStatuses() ([]SKUStatus, error) {
	rows, err := s.sql.Query(`
		SELECT offer_id, product_id, COALESCE(sku, ''), name, COALESCE(brand, ''), category_id,
		       quantity, reserve, price, purchased_price,
		       COALESCE(last_sale_date, ''), first_seen_at, COALESCE(last_stock_out_at, ''), updated_at
		FROM sku_inventory_status`)
	if err != nil {
		return nil, fmt.Errorf("read sku statuses: %w", err)
	}
	defer rows.Close()

	var out []SKUStatus
	for rows.Next() {
		var st SKUStatus
		var categoryID sql.NullInt64
		var purchased sql.NullFloat64
		if err := rows.Scan(&st.OfferID, &st.ProductID, &st.SKU, &st.Name, &st.Brand, &categoryID,
			&st.Quantity, &st.Reserve, &st.Price, &purchased,
			&st.LastSaleDate, &st.FirstSeenAt, &st.LastStockOutAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if categoryID.Valid {
			st.CategoryID = &categoryID.Int64
		}
		if purchased.Valid {
			st.PurchasedPrice = &purchased.Float64
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// InventoryTrend returns per-day snapshot aggregates between two dates.
type InventoryTrendPoint struct {
	Date       string  `json:"date"`
	TotalUnits int     `json:"total_units"`
	TotalValue float64 `json:"total_value"`
	SKUCount   int     `json:"sku_count"`
}

func (s *Store) InventoryTrend(startDate, endDate string) ([]InventoryTrendPoint, error) {
	rows, err := s.sql.Query(`
		SELECT date, SUM(quantity), ROUND(SUM(quantity * price), 2), COUNT(*)
		FROM inventory_sku_history
		WHERE date >= ? AND date <= ?
		GROUP BY date ORDER BY date`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("inventory trend: %w", err)
	}
	defer rows.Close()

	var out []InventoryTrendPoint
	for rows.Next() {
		var p InventoryTrendPoint
		if err := rows.Scan(&p.Date, &p.TotalUnits, &p.TotalValue, &p.SKUCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
