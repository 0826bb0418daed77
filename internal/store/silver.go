package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"sales-pulse/internal/config"
)

// Sales types as stored in silver_orders. "all" never hits the table; the
// query layer expands it.
const (
	SalesTypeRetail = "retail"
	SalesTypeB2B    = "b2b"
	SalesTypeOther  = "other"
	SalesTypeAll    = "all"
)

// SalesTypeFor classifies an order by manager assignment and source.
// Shopify orders without a manager are retail (storefront checkout).
func SalesTypeFor(managerID *int64, sourceID int) string {
	if managerID != nil {
		if *managerID == config.B2BManagerID {
			return SalesTypeB2B
		}
		if config.RetailManagerIDs[int(*managerID)] {
			return SalesTypeRetail
		}
		return SalesTypeOther
	}
	if sourceID == config.SourceShopify {
		return SalesTypeRetail
	}
	return SalesTypeOther
}

// KyivDate formats a timestamp as the Kyiv-local calendar date.
func KyivDate(t time.Time) string {
	return t.In(config.Kyiv).Format("2006-01-02")
}

func isActiveSource(sourceID int) bool {
	for _, id := range config.ActiveSources {
		if id == sourceID {
			return true
		}
	}
	return false
}

func sourceName(sourceID int) string {
	if name, ok := config.SourceNames[sourceID]; ok {
		return name
	}
	return fmt.Sprintf("Source %d", sourceID)
}

// RefreshSilverOrders rebuilds silver_orders from Bronze. A nil since does a
// full rebuild; otherwise only orders synced after since are re-derived.
// The first-order-per-buyer window is always evaluated globally so
// is_new_customer stays stable under incremental refreshes.
func (s *Store) RefreshSilverOrders(since *time.Time) error {
	firstOrder, err := s.firstOrderPerBuyer()
	if err != nil {
		return fmt.Errorf("first-order window: %w", err)
	}

	query := "SELECT id, source_id, status_id, grand_total, ordered_at, buyer_id, manager_id FROM orders"
	var args []any
	if since != nil {
		query += " WHERE synced_at >= ?"
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	rows, err := s.sql.Query(query, args...)
	if err != nil {
		return fmt.Errorf("read bronze orders: %w", err)
	}

	type silverRow struct {
		id            int64
		orderDate     string
		sourceID      int
		statusID      int
		grandTotal    float64
		buyerID       *int64
		managerID     *int64
		isReturn      bool
		isActive      bool
		salesType     string
		isNewCustomer bool
	}
	var derived []silverRow
	for rows.Next() {
		var (
			id         int64
			sourceID   int
			statusID   int
			grandTotal float64
			orderedAt  string
			buyerID    sql.NullInt64
			managerID  sql.NullInt64
		)
		if err := rows.Scan(&id, &sourceID, &statusID, &grandTotal, &orderedAt, &buyerID, &managerID); err != nil {
			rows.Close()
			return fmt.Errorf("scan bronze order: %w", err)
		}
		ts, perr := time.Parse(time.RFC3339, orderedAt)
		if perr != nil {
			log.Printf("[Store] Skipping order %d in silver refresh: bad ordered_at %q", id, orderedAt)
			continue
		}
		var buyerPtr, managerPtr *int64
		if buyerID.Valid {
			buyerPtr = &buyerID.Int64
		}
		if managerID.Valid {
			managerPtr = &managerID.Int64
		}
		row := silverRow{
			id:         id,
			orderDate:  KyivDate(ts),
			sourceID:   sourceID,
			statusID:   statusID,
			grandTotal: grandTotal,
			buyerID:    buyerPtr,
			managerID:  managerPtr,
			isReturn:   config.IsReturnStatus(statusID),
			isActive:   isActiveSource(sourceID),
			salesType:  SalesTypeFor(managerPtr, sourceID),
		}
		if buyerPtr != nil && firstOrder[*buyerPtr] == id {
			row.isNewCustomer = true
		}
		derived = append(derived, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate bronze orders: %w", err)
	}
	rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if since == nil {
		if _, err := tx.Exec("DELETE FROM silver_orders"); err != nil {
			return fmt.Errorf("clear silver_orders: %w", err)
		}
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO silver_orders
			(id, order_date, source_id, source_name, status_id, grand_total, buyer_id, manager_id, is_return, is_active_source, sales_type, is_new_customer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare silver_orders: %w", err)
	}
	defer stmt.Close()

	for _, r := range derived {
		if _, err := stmt.Exec(r.id, r.orderDate, r.sourceID, sourceName(r.sourceID), r.statusID,
			r.grandTotal, r.buyerID, r.managerID,
			boolInt(r.isReturn), boolInt(r.isActive), r.salesType, boolInt(r.isNewCustomer)); err != nil {
			return fmt.Errorf("write silver order %d: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit silver_orders: %w", err)
	}
	log.Printf("[Store] Silver refresh wrote %d rows (full=%v)", len(derived), since == nil)
	return nil
}

// firstOrderPerBuyer maps each buyer to their earliest non-return
// active-source order, ties broken by lowest order id.
func (s *Store) firstOrderPerBuyer() (map[int64]int64, error) {
	rows, err := s.sql.Query(`
		SELECT buyer_id, id FROM orders
		WHERE buyer_id IS NOT NULL
		  AND status_id NOT IN (19, 21, 22, 23)
		  AND source_id IN (1, 2, 4)
		ORDER BY ordered_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	first := make(map[int64]int64)
	for rows.Next() {
		var buyerID, orderID int64
		if err := rows.Scan(&buyerID, &orderID); err != nil {
			return nil, err
		}
		if _, seen := first[buyerID]; !seen {
			first[buyerID] = orderID
		}
	}
	return first, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
