package store

import (
	"fmt"
)

// Product mirrors the upstream catalog entry. Brand comes out of the upstream
// custom-fields list before the record reaches the store.
type Product struct {
	ID         int64
	Name       string
	CategoryID *int64
	Brand      *string
	SKU        *string
	Price      float64
}

// Category is one node of the upstream category tree (no cycles by contract).
type Category struct {
	ID       int64
	Name     string
	ParentID *int64
}

// Offer is a product variation; offer_stocks rows share its id.
type Offer struct {
	ID        int64
	ProductID int64
	SKU       *string
}

// UpsertProducts applies a catalog batch in one transaction.
func (s *Store) UpsertProducts(batch []Product) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO products (id, name, category_id, brand, sku, price, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name        = excluded.name,
			category_id = excluded.category_id,
			brand       = excluded.brand,
			sku         = excluded.sku,
			price       = excluded.price,
			synced_at   = excluded.synced_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare products: %w", err)
	}
	defer stmt.Close()

	syncedAt := nowUTC()
	count := 0
	for _, p := range batch {
		if _, err := stmt.Exec(p.ID, p.Name, p.CategoryID, p.Brand, p.SKU, p.Price, syncedAt); err != nil {
			s.logBatchFailure("products", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return 0, fmt.Errorf("upsert product %d: %w", p.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit products: %w", err)
	}
	return count, nil
}

// UpsertCategories applies a category batch in one transaction.
func (s *Store) UpsertCategories(batch []Category) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO categories (id, name, parent_id)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name      = excluded.name,
			parent_id = excluded.parent_id`)
	if err != nil {
		return 0, fmt.Errorf("prepare categories: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, c := range batch {
		if _, err := stmt.Exec(c.ID, c.Name, c.ParentID); err != nil {
			s.logBatchFailure("categories", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return 0, fmt.Errorf("upsert category %d: %w", c.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit categories: %w", err)
	}
	return count, nil
}

// UpsertOffers applies an offer batch in one transaction.
func (s *Store) UpsertOffers(batch []Offer) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO offers (id, product_id, sku)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			sku        = excluded.sku`)
	if err != nil {
		return 0, fmt.Errorf("prepare offers: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, o := range batch {
		if _, err := stmt.Exec(o.ID, o.ProductID, o.SKU); err != nil {
			s.logBatchFailure("offers", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return 0, fmt.Errorf("upsert offer %d: %w", o.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit offers: %w", err)
	}
	return count, nil
}

// CategoryWithDescendants returns the category itself plus every descendant,
// resolved in SQL so the tree never needs to live in memory.
func (s *Store) CategoryWithDescendants(rootID int64) ([]int64, error) {
	rows, err := s.sql.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM categories WHERE id = ?
			UNION ALL
			SELECT c.id FROM categories c JOIN subtree st ON c.parent_id = st.id
		)
		SELECT id FROM subtree`, rootID)
	if err != nil {
		return nil, fmt.Errorf("category subtree %d: %w", rootID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
