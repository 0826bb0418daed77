package query

import (
	"fmt"

	"sales-pulse/internal/store"
)

const defaultTopLimit = 10

// TopProduct is one row of the best-sellers table.
type TopProduct struct {
	ProductID  int64   `json:"product_id"`
	Name       string  `json:"name"`
	Brand      string  `json:"brand,omitempty"`
	Quantity   int     `json:"quantity"`
	Revenue    float64 `json:"revenue"`
	OrderCount int     `json:"order_count"`
	Percentage float64 `json:"percentage"`
}

// TopProducts is the best-sellers table; Percentage is each product's share
// of ALL units sold in the window, so the column never sums past 100.
type TopProducts struct {
	Products      []TopProduct `json:"products"`
	TotalQuantity int          `json:"totalQuantity"`
	StartDate     string       `json:"startDate"`
	EndDate       string       `json:"endDate"`
}

// TopSellingProducts ranks products by units sold. Gold answers unfiltered
// and source-filtered requests; category/brand filters read Silver so the
// per-product order counts stay honest.
func (e *Engine) TopSellingProducts(p Params) (TopProducts, error) {
	if err := p.Normalize(); err != nil {
		return TopProducts{}, err
	}
	if p.Limit <= 0 {
		p.Limit = defaultTopLimit
	}
	out := TopProducts{StartDate: p.StartDate, EndDate: p.EndDate}

	var err error
	if p.HasProductFilter() {
		err = e.silverTopProducts(p, &out)
	} else {
		err = e.goldTopProducts(p, &out)
	}
	if err != nil {
		return TopProducts{}, err
	}

	if out.TotalQuantity > 0 {
		for i := range out.Products {
			out.Products[i].Percentage = round2(
				float64(out.Products[i].Quantity) / float64(out.TotalQuantity) * 100)
		}
	}
	return out, nil
}

func (e *Engine) goldTopProducts(p Params, out *TopProducts) error {
	var c condSet
	c.add("date >= ?", p.StartDate)
	c.add("date <= ?", p.EndDate)
	if p.SalesType != store.SalesTypeAll {
		c.add("sales_type = ?", p.SalesType)
	}
	if p.SourceID != nil {
		c.add("source_id = ?", *p.SourceID)
	}

	// An order lands on one date, source and sales type, so summing
	// order_count across those buckets for a single product is safe.
	query := `
		SELECT product_id, MAX(product_name), MAX(COALESCE(brand, '')),
		       SUM(quantity_sold), SUM(product_revenue), SUM(order_count)
		FROM gold_daily_products` + c.where() + `
		GROUP BY product_id
		ORDER BY SUM(quantity_sold) DESC, product_id
		LIMIT ?`
	rows, err := e.db.Query(query, append(c.args, p.Limit)...)
	if err != nil {
		return fmt.Errorf("gold top products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tp TopProduct
		if err := rows.Scan(&tp.ProductID, &tp.Name, &tp.Brand,
			&tp.Quantity, &tp.Revenue, &tp.OrderCount); err != nil {
			return fmt.Errorf("gold top products scan: %w", err)
		}
		tp.Revenue = round2(tp.Revenue)
		out.Products = append(out.Products, tp)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	totalQuery := `
		SELECT COALESCE(SUM(quantity_sold), 0)
		FROM gold_daily_products` + c.where()
	if err := e.db.QueryRow(totalQuery, c.args...).Scan(&out.TotalQuantity); err != nil {
		return fmt.Errorf("gold top products total: %w", err)
	}
	return nil
}

func (e *Engine) silverTopProducts(p Params, out *TopProducts) error {
	prefix, conds := silverProductJoin(p)

	query := prefix + `
		SELECT COALESCE(op.product_id, 0),
		       COALESCE(MAX(pr.name), MAX(op.name), ''),
		       COALESCE(MAX(pr.brand), ''),
		       SUM(op.quantity),
		       SUM(op.quantity * op.price_sold),
		       COUNT(DISTINCT s.id)
		FROM silver_orders s
		JOIN order_products op ON op.order_id = s.id
		LEFT JOIN products pr ON pr.id = op.product_id` + conds.where() + `
		GROUP BY COALESCE(op.product_id, 0)
		ORDER BY SUM(op.quantity) DESC, COALESCE(op.product_id, 0)
		LIMIT ?`
	args := conds.allArgs()
	rows, err := e.db.Query(query, append(args, p.Limit)...)
	if err != nil {
		return fmt.Errorf("silver top products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tp TopProduct
		if err := rows.Scan(&tp.ProductID, &tp.Name, &tp.Brand,
			&tp.Quantity, &tp.Revenue, &tp.OrderCount); err != nil {
			return fmt.Errorf("silver top products scan: %w", err)
		}
		tp.Revenue = round2(tp.Revenue)
		out.Products = append(out.Products, tp)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	prefix, conds = silverProductJoin(p)
	totalQuery := prefix + `
		SELECT COALESCE(SUM(op.quantity), 0)
		FROM silver_orders s
		JOIN order_products op ON op.order_id = s.id
		LEFT JOIN products pr ON pr.id = op.product_id` + conds.where()
	if err := e.db.QueryRow(totalQuery, conds.allArgs()...).Scan(&out.TotalQuantity); err != nil {
		return fmt.Errorf("silver top products total: %w", err)
	}
	return nil
}

// silverProductJoin returns the CTE prefix plus the WHERE set for a
// line-item level Silver query under the product filters. Args order: CTE
// first, then conditions; allArgs flattens them.
func silverProductJoin(p Params) (string, *joinConds) {
	j := &joinConds{}
	if p.CategoryID != nil {
		j.prefixArgs = append(j.prefixArgs, *p.CategoryID)
	}
	j.condSet = silverConds(p)
	j.add("s.is_return = 0")
	if p.CategoryID != nil {
		j.add("pr.category_id IN (SELECT id FROM subtree)")
	}
	if p.Brand != "" {
		j.add("LOWER(COALESCE(pr.brand, '')) = LOWER(?)", p.Brand)
	}
	prefix := ""
	if p.CategoryID != nil {
		prefix = categoryCTE
	}
	return prefix, j
}

type joinConds struct {
	condSet
	prefixArgs []any
}

func (j *joinConds) allArgs() []any {
	return append(append([]any{}, j.prefixArgs...), j.args...)
}
