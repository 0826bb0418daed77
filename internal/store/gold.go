package store

import (
	"fmt"
	"log"
)

// RefreshGoldDailyRevenue rebuilds gold_daily_revenue from Silver. Full
// rebuild in one transaction; identical Silver input yields identical Gold.
func (s *Store) RefreshGoldDailyRevenue() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM gold_daily_revenue"); err != nil {
		return fmt.Errorf("clear gold_daily_revenue: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO gold_daily_revenue
			(date, sales_type, revenue, orders_count, avg_order_value, returns_count, returns_revenue,
			 unique_customers, new_customers, returning_customers,
			 instagram_orders, instagram_revenue, telegram_orders, telegram_revenue, shopify_orders, shopify_revenue)
		SELECT
			order_date,
			sales_type,
			ROUND(SUM(CASE WHEN is_return = 0 THEN grand_total ELSE 0 END), 2),
			SUM(CASE WHEN is_return = 0 THEN 1 ELSE 0 END),
			CASE WHEN SUM(CASE WHEN is_return = 0 THEN 1 ELSE 0 END) > 0
				THEN ROUND(SUM(CASE WHEN is_return = 0 THEN grand_total ELSE 0 END) * 1.0
					/ SUM(CASE WHEN is_return = 0 THEN 1 ELSE 0 END), 2)
				ELSE 0 END,
			SUM(CASE WHEN is_return = 1 THEN 1 ELSE 0 END),
			ROUND(SUM(CASE WHEN is_return = 1 THEN grand_total ELSE 0 END), 2),
			COUNT(DISTINCT CASE WHEN is_return = 0 THEN buyer_id END),
			COUNT(DISTINCT CASE WHEN is_return = 0 AND is_new_customer = 1 THEN buyer_id END),
			COUNT(DISTINCT CASE WHEN is_return = 0 THEN buyer_id END)
				- COUNT(DISTINCT CASE WHEN is_return = 0 AND is_new_customer = 1 THEN buyer_id END),
			SUM(CASE WHEN is_return = 0 AND source_id = 1 THEN 1 ELSE 0 END),
			ROUND(SUM(CASE WHEN is_return = 0 AND source_id = 1 THEN grand_total ELSE 0 END), 2),
			SUM(CASE WHEN is_return = 0 AND source_id = 2 THEN 1 ELSE 0 END),
			ROUND(SUM(CASE WHEN is_return = 0 AND source_id = 2 THEN grand_total ELSE 0 END), 2),
			SUM(CASE WHEN is_return = 0 AND source_id = 4 THEN 1 ELSE 0 END),
			ROUND(SUM(CASE WHEN is_return = 0 AND source_id = 4 THEN grand_total ELSE 0 END), 2)
		FROM silver_orders
		WHERE is_active_source = 1
		GROUP BY order_date, sales_type`)
	if err != nil {
		return fmt.Errorf("rebuild gold_daily_revenue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gold_daily_revenue: %w", err)
	}
	return nil
}

// RefreshGoldDailyProducts rebuilds gold_daily_products from Silver joined to
// line items. order_count here counts orders per (date, product) bucket;
// cross-product sums of it double-count and are forbidden on filtered
// queries, which use the Silver JOIN path instead.
func (s *Store) RefreshGoldDailyProducts() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM gold_daily_products"); err != nil {
		return fmt.Errorf("clear gold_daily_products: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO gold_daily_products
			(date, sales_type, source_id, product_id, product_name, category_id, parent_category_name, brand,
			 quantity_sold, product_revenue, order_count)
		WITH RECURSIVE walk(id, root_name) AS (
			SELECT id, name FROM categories WHERE parent_id IS NULL
			UNION ALL
			SELECT c.id, w.root_name FROM categories c JOIN walk w ON c.parent_id = w.id
		)
		SELECT
			s.order_date,
			s.sales_type,
			s.source_id,
			COALESCE(op.product_id, 0),
			COALESCE(MAX(p.name), MAX(op.name), ''),
			MAX(p.category_id),
			MAX(w.root_name),
			MAX(p.brand),
			SUM(op.quantity),
			ROUND(SUM(op.quantity * op.price_sold), 2),
			COUNT(DISTINCT s.id)
		FROM silver_orders s
		JOIN order_products op ON op.order_id = s.id
		LEFT JOIN products p ON p.id = op.product_id
		LEFT JOIN walk w ON w.id = p.category_id
		WHERE s.is_active_source = 1 AND s.is_return = 0
		GROUP BY s.order_date, s.sales_type, s.source_id, COALESCE(op.product_id, 0)`)
	if err != nil {
		return fmt.Errorf("rebuild gold_daily_products: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gold_daily_products: %w", err)
	}
	return nil
}

// RefreshGoldDailyTraffic rebuilds gold_daily_traffic. Orders without a
// parsed UTM row land in the unknown/other bucket.
func (s *Store) RefreshGoldDailyTraffic() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM gold_daily_traffic"); err != nil {
		return fmt.Errorf("clear gold_daily_traffic: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO gold_daily_traffic
			(date, source_id, sales_type, platform, traffic_type, orders_count, revenue)
		SELECT
			s.order_date,
			s.source_id,
			s.sales_type,
			COALESCE(u.platform, 'other'),
			COALESCE(u.traffic_type, 'unknown'),
			COUNT(*),
			ROUND(SUM(s.grand_total), 2)
		FROM silver_orders s
		LEFT JOIN silver_order_utm u ON u.order_id = s.id
		WHERE s.is_active_source = 1 AND s.is_return = 0
		GROUP BY s.order_date, s.source_id, s.sales_type,
			COALESCE(u.platform, 'other'), COALESCE(u.traffic_type, 'unknown')`)
	if err != nil {
		return fmt.Errorf("rebuild gold_daily_traffic: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gold_daily_traffic: %w", err)
	}
	return nil
}

// RefreshGold runs all three Gold rebuilds; first failure wins but is logged
// so a partial refresh is visible.
func (s *Store) RefreshGold() error {
	if err := s.RefreshGoldDailyRevenue(); err != nil {
		log.Printf("[Store] Gold revenue refresh failed: %v", err)
		return err
	}
	if err := s.RefreshGoldDailyProducts(); err != nil {
		log.Printf("[Store] Gold products refresh failed: %v", err)
		return err
	}
	if err := s.RefreshGoldDailyTraffic(); err != nil {
		log.Printf("[Store] Gold traffic refresh failed: %v", err)
		return err
	}
	return nil
}
