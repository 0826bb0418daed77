package store

import "fmt"

// SearchDoc is one product document handed to the external search indexer.
type SearchDoc struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	SKU          string  `json:"sku,omitempty"`
	Brand        string  `json:"brand,omitempty"`
	CategoryName string  `json:"category_name,omitempty"`
	Price        float64 `json:"price"`
	InStock      bool    `json:"in_stock"`
	Available    int     `json:"available"`
}

// SearchDocuments builds a product document batch for indexing, newest
// products first. Availability sums offer stocks net of reserves.
func (s *Store) SearchDocuments(limit int) ([]SearchDoc, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.sql.Query(`
		SELECT p.id, p.name, COALESCE(p.sku, ''), COALESCE(p.brand, ''),
		       COALESCE(c.name, ''), p.price,
		       COALESCE(SUM(os.quantity - os.reserve), 0)
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		LEFT JOIN offers o ON o.product_id = p.id
		LEFT JOIN offer_stocks os ON os.id = o.id
		GROUP BY p.id
		ORDER BY p.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []SearchDoc
	for rows.Next() {
		var d SearchDoc
		if err := rows.Scan(&d.ID, &d.Name, &d.SKU, &d.Brand, &d.CategoryName,
			&d.Price, &d.Available); err != nil {
			return nil, err
		}
		if d.Available < 0 {
			d.Available = 0
		}
		d.InStock = d.Available > 0
		out = append(out, d)
	}
	return out, rows.Err()
}
