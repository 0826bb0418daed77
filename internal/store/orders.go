package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Order is one upstream order record, already decoded from the feed.
type Order struct {
	ID             int64
	SourceID       int
	StatusID       int
	GrandTotal     float64
	OrderedAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	BuyerID        *int64
	ManagerID      *int64
	ManagerComment string
	Products       []OrderProduct
}

// OrderProduct is one line item. Line items are not versioned upstream, so
// they are replaced wholesale whenever their order is applied.
type OrderProduct struct {
	ID        int64
	ProductID *int64
	Name      string
	Quantity  int
	PriceSold float64
}

// UpsertOrdersResult reports what a batch did. AppliedOrders carries the
// records that actually changed the store, for downstream notifications.
type UpsertOrdersResult struct {
	Applied       int
	Skipped       int
	Dropped       int
	AppliedOrders []Order
}

// UpsertOrders applies a batch of upstream orders in one transaction.
// Idempotent: a record whose updated_at is older than the stored row is
// skipped, re-delivery of an identical record rewrites identical values.
// Line items are deleted and re-inserted with their order. Invalid rows are
// dropped with a log line; the rest of the batch proceeds.
func (s *Store) UpsertOrders(batch []Order) (UpsertOrdersResult, error) {
	var res UpsertOrdersResult
	if len(batch) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	orderStmt, err := tx.Prepare(`
		INSERT INTO orders (id, source_id, status_id, grand_total, ordered_at, created_at, updated_at, buyer_id, manager_id, manager_comment, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id       = excluded.source_id,
			status_id       = excluded.status_id,
			grand_total     = excluded.grand_total,
			ordered_at      = excluded.ordered_at,
			created_at      = excluded.created_at,
			updated_at      = excluded.updated_at,
			buyer_id        = excluded.buyer_id,
			manager_id      = excluded.manager_id,
			manager_comment = excluded.manager_comment,
			synced_at       = excluded.synced_at`)
	if err != nil {
		return res, fmt.Errorf("prepare orders: %w", err)
	}
	defer orderStmt.Close()

	lineStmt, err := tx.Prepare(`
		INSERT INTO order_products (id, order_id, product_id, name, quantity, price_sold)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return res, fmt.Errorf("prepare order_products: %w", err)
	}
	defer lineStmt.Close()

	syncedAt := nowUTC()
	for _, o := range batch {
		if o.GrandTotal < 0 || o.OrderedAt.IsZero() {
			log.Printf("[Store] Dropping invalid order id=%d (grand_total=%.2f, ordered_at zero=%v)",
				o.ID, o.GrandTotal, o.OrderedAt.IsZero())
			res.Dropped++
			continue
		}

		updatedAt := o.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = o.CreatedAt
		}

		var existing sql.NullString
		err := tx.QueryRow("SELECT updated_at FROM orders WHERE id = ?", o.ID).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			s.logBatchFailure("orders", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return res, fmt.Errorf("read order %d: %w", o.ID, err)
		}
		if err == nil && existing.Valid && !updatedAt.IsZero() {
			prev, perr := time.Parse(time.RFC3339, existing.String)
			if perr == nil && updatedAt.Before(prev) {
				res.Skipped++
				continue
			}
		}

		if _, err := orderStmt.Exec(
			o.ID, o.SourceID, o.StatusID, o.GrandTotal,
			o.OrderedAt.UTC().Format(time.RFC3339),
			timeOrEmpty(o.CreatedAt),
			nullTime(updatedAt),
			o.BuyerID, o.ManagerID,
			nullIfEmpty(o.ManagerComment),
			syncedAt,
		); err != nil {
			s.logBatchFailure("orders", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return res, fmt.Errorf("upsert order %d: %w", o.ID, err)
		}

		if _, err := tx.Exec("DELETE FROM order_products WHERE order_id = ?", o.ID); err != nil {
			s.logBatchFailure("orders", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return res, fmt.Errorf("clear lines for order %d: %w", o.ID, err)
		}
		for _, p := range o.Products {
			if p.Quantity < 1 {
				log.Printf("[Store] Dropping invalid line item order=%d item=%d (quantity=%d)", o.ID, p.ID, p.Quantity)
				continue
			}
			if _, err := lineStmt.Exec(p.ID, o.ID, p.ProductID, p.Name, p.Quantity, p.PriceSold); err != nil {
				s.logBatchFailure("orders", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
				return res, fmt.Errorf("insert line %d for order %d: %w", p.ID, o.ID, err)
			}
		}

		res.Applied++
		res.AppliedOrders = append(res.AppliedOrders, o)
	}

	if err := tx.Commit(); err != nil {
		s.logBatchFailure("orders", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
		return UpsertOrdersResult{}, fmt.Errorf("commit orders: %w", err)
	}
	return res, nil
}

func (s *Store) logBatchFailure(table string, size int, first, last int64, err error) {
	log.Printf("[Store] %s batch failed (size=%d first=%d last=%d): %v", table, size, first, last, err)
}

func timeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// nullTime maps the zero time to NULL so the updated_at guard can distinguish
// "never versioned" from a real timestamp.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// OrderCount returns the number of Bronze orders; used by tests and health.
func (s *Store) OrderCount() (int, error) {
	var n int
	err := s.sql.QueryRow("SELECT COUNT(*) FROM orders").Scan(&n)
	return n, err
}

// OrdersGrandTotalSum sums grand_total across all Bronze orders.
func (s *Store) OrdersGrandTotalSum() (float64, error) {
	var sum sql.NullFloat64
	err := s.sql.QueryRow("SELECT SUM(grand_total) FROM orders").Scan(&sum)
	return sum.Float64, err
}
