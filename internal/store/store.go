// Package store is the embedded analytical store: Bronze tables mirror the
// upstream CRM, Silver carries the conformed business view, Gold holds the
// pre-aggregated dashboard rows. One SQLite file, WAL, single writer.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"sales-pulse/internal/logger"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection. Writes are serialized through mu; reads
// run concurrently on the pool (WAL allows readers during a write).
type Store struct {
	sql *sql.DB
	mu  sync.Mutex
}

// Open opens (or creates) the database at path and runs migrations.
// A migration failure is returned to the caller and must be treated as fatal.
func Open(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{sql: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

// SqlDB returns the underlying *sql.DB for read-only use by other packages.
func (s *Store) SqlDB() *sql.DB {
	return s.sql
}

func (s *Store) migrate() error {
	version := 0
	// Try to read current version
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS orders (
				id              INTEGER PRIMARY KEY,
				source_id       INTEGER NOT NULL,
				status_id       INTEGER NOT NULL,
				grand_total     REAL NOT NULL DEFAULT 0,
				ordered_at      TEXT NOT NULL,
				created_at      TEXT NOT NULL,
				updated_at      TEXT,
				buyer_id        INTEGER,
				manager_id      INTEGER,
				manager_comment TEXT,
				synced_at       TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_orders_ordered_at ON orders(ordered_at);
			CREATE INDEX IF NOT EXISTS idx_orders_updated_at ON orders(updated_at);
			CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id);

			CREATE TABLE IF NOT EXISTS order_products (
				id         INTEGER PRIMARY KEY,
				order_id   INTEGER NOT NULL,
				product_id INTEGER,
				name       TEXT NOT NULL DEFAULT '',
				quantity   INTEGER NOT NULL DEFAULT 1,
				price_sold REAL NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_order_products_order ON order_products(order_id);
			CREATE INDEX IF NOT EXISTS idx_order_products_product ON order_products(product_id);

			CREATE TABLE IF NOT EXISTS products (
				id          INTEGER PRIMARY KEY,
				name        TEXT NOT NULL DEFAULT '',
				category_id INTEGER,
				brand       TEXT,
				sku         TEXT,
				price       REAL NOT NULL DEFAULT 0,
				synced_at   TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);

			CREATE TABLE IF NOT EXISTS categories (
				id        INTEGER PRIMARY KEY,
				name      TEXT NOT NULL DEFAULT '',
				parent_id INTEGER
			);

			CREATE TABLE IF NOT EXISTS offers (
				id         INTEGER PRIMARY KEY,
				product_id INTEGER NOT NULL,
				sku        TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_offers_product ON offers(product_id);

			CREATE TABLE IF NOT EXISTS offer_stocks (
				id              INTEGER PRIMARY KEY,
				sku             TEXT,
				price           REAL NOT NULL DEFAULT 0,
				purchased_price REAL,
				quantity        INTEGER NOT NULL DEFAULT 0,
				reserve         INTEGER NOT NULL DEFAULT 0,
				synced_at       TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS managers (
				id   INTEGER PRIMARY KEY,
				name TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS buyers (
				id        INTEGER PRIMARY KEY,
				full_name TEXT NOT NULL DEFAULT '',
				phone     TEXT,
				email     TEXT
			);

			CREATE TABLE IF NOT EXISTS expense_types (
				id   INTEGER PRIMARY KEY,
				name TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS expenses (
				id              INTEGER PRIMARY KEY,
				order_id        INTEGER,
				expense_type_id INTEGER,
				amount          REAL NOT NULL DEFAULT 0,
				note            TEXT,
				created_at      TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS sync_metadata (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1 (bronze)")
	}

	if version < 2 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS silver_orders (
				id               INTEGER PRIMARY KEY,
				order_date       TEXT NOT NULL,
				source_id        INTEGER NOT NULL,
				source_name      TEXT NOT NULL DEFAULT '',
				status_id        INTEGER NOT NULL,
				grand_total      REAL NOT NULL DEFAULT 0,
				buyer_id         INTEGER,
				manager_id       INTEGER,
				is_return        INTEGER NOT NULL DEFAULT 0,
				is_active_source INTEGER NOT NULL DEFAULT 0,
				sales_type       TEXT NOT NULL DEFAULT 'other',
				is_new_customer  INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_silver_orders_date ON silver_orders(order_date);
			CREATE INDEX IF NOT EXISTS idx_silver_orders_type_date ON silver_orders(sales_type, order_date);
			CREATE INDEX IF NOT EXISTS idx_silver_orders_buyer ON silver_orders(buyer_id);

			CREATE TABLE IF NOT EXISTS silver_order_utm (
				order_id     INTEGER PRIMARY KEY,
				utm_source   TEXT NOT NULL DEFAULT '',
				utm_medium   TEXT NOT NULL DEFAULT '',
				utm_campaign TEXT NOT NULL DEFAULT '',
				utm_content  TEXT NOT NULL DEFAULT '',
				utm_term     TEXT NOT NULL DEFAULT '',
				utm_lang     TEXT NOT NULL DEFAULT '',
				fbp          TEXT,
				fbc          TEXT,
				ttp          TEXT,
				fbclid       TEXT,
				traffic_type TEXT NOT NULL DEFAULT 'unknown',
				platform     TEXT NOT NULL DEFAULT 'other',
				parsed_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_silver_utm_type ON silver_order_utm(traffic_type);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (silver)")
	}

	if version < 3 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS gold_daily_revenue (
				date                TEXT NOT NULL,
				sales_type          TEXT NOT NULL,
				revenue             REAL NOT NULL DEFAULT 0,
				orders_count        INTEGER NOT NULL DEFAULT 0,
				avg_order_value     REAL NOT NULL DEFAULT 0,
				returns_count       INTEGER NOT NULL DEFAULT 0,
				returns_revenue     REAL NOT NULL DEFAULT 0,
				unique_customers    INTEGER NOT NULL DEFAULT 0,
				new_customers       INTEGER NOT NULL DEFAULT 0,
				returning_customers INTEGER NOT NULL DEFAULT 0,
				instagram_orders    INTEGER NOT NULL DEFAULT 0,
				instagram_revenue   REAL NOT NULL DEFAULT 0,
				telegram_orders     INTEGER NOT NULL DEFAULT 0,
				telegram_revenue    REAL NOT NULL DEFAULT 0,
				shopify_orders      INTEGER NOT NULL DEFAULT 0,
				shopify_revenue     REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (date, sales_type)
			);

			CREATE TABLE IF NOT EXISTS gold_daily_products (
				date                 TEXT NOT NULL,
				sales_type           TEXT NOT NULL,
				source_id            INTEGER NOT NULL,
				product_id           INTEGER NOT NULL DEFAULT 0,
				product_name         TEXT NOT NULL DEFAULT '',
				category_id          INTEGER,
				parent_category_name TEXT,
				brand                TEXT,
				quantity_sold        INTEGER NOT NULL DEFAULT 0,
				product_revenue      REAL NOT NULL DEFAULT 0,
				order_count          INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (date, sales_type, source_id, product_id)
			);
			CREATE INDEX IF NOT EXISTS idx_gold_products_date ON gold_daily_products(date);

			CREATE TABLE IF NOT EXISTS gold_daily_traffic (
				date         TEXT NOT NULL,
				source_id    INTEGER NOT NULL,
				sales_type   TEXT NOT NULL,
				platform     TEXT NOT NULL,
				traffic_type TEXT NOT NULL,
				orders_count INTEGER NOT NULL DEFAULT 0,
				revenue      REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (date, source_id, sales_type, platform, traffic_type)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (3);
		`)
		if err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		logger.Info("DB", "Applied migration v3 (gold)")
	}

	if version < 4 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS sku_inventory_status (
				offer_id          INTEGER PRIMARY KEY,
				product_id        INTEGER NOT NULL DEFAULT 0,
				sku               TEXT,
				name              TEXT NOT NULL DEFAULT '',
				brand             TEXT,
				category_id       INTEGER,
				quantity          INTEGER NOT NULL DEFAULT 0,
				reserve           INTEGER NOT NULL DEFAULT 0,
				price             REAL NOT NULL DEFAULT 0,
				purchased_price   REAL,
				last_sale_date    TEXT,
				first_seen_at     TEXT NOT NULL,
				last_stock_out_at TEXT,
				updated_at        TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS inventory_sku_history (
				date     TEXT NOT NULL,
				offer_id INTEGER NOT NULL,
				quantity INTEGER NOT NULL DEFAULT 0,
				reserve  INTEGER NOT NULL DEFAULT 0,
				price    REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (date, offer_id)
			);

			CREATE TABLE IF NOT EXISTS stock_movements (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				offer_id        INTEGER NOT NULL,
				product_id      INTEGER,
				movement_type   TEXT NOT NULL,
				quantity_before INTEGER NOT NULL DEFAULT 0,
				quantity_after  INTEGER NOT NULL DEFAULT 0,
				delta           INTEGER NOT NULL DEFAULT 0,
				reserve_before  INTEGER NOT NULL DEFAULT 0,
				reserve_after   INTEGER NOT NULL DEFAULT 0,
				recorded_at     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_movements_offer ON stock_movements(offer_id);
			CREATE INDEX IF NOT EXISTS idx_movements_recorded ON stock_movements(recorded_at);

			CREATE TABLE IF NOT EXISTS revenue_predictions (
				prediction_date   TEXT NOT NULL,
				sales_type        TEXT NOT NULL,
				predicted_revenue REAL NOT NULL DEFAULT 0,
				model_mae         REAL NOT NULL DEFAULT 0,
				model_mape        REAL NOT NULL DEFAULT 0,
				created_at        TEXT NOT NULL,
				PRIMARY KEY (prediction_date, sales_type)
			);

			CREATE TABLE IF NOT EXISTS revenue_goals (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				period_type    TEXT NOT NULL,
				period_start   TEXT NOT NULL,
				sales_type     TEXT NOT NULL DEFAULT 'retail',
				target_revenue REAL NOT NULL DEFAULT 0,
				created_at     TEXT NOT NULL,
				UNIQUE (period_type, period_start, sales_type)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (4);
		`)
		if err != nil {
			return fmt.Errorf("migration v4: %w", err)
		}
		logger.Info("DB", "Applied migration v4 (inventory + predictions)")
	}

	if version < 5 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS seasonal_indices (
				month        INTEGER NOT NULL,
				sales_type   TEXT NOT NULL,
				index_value  REAL NOT NULL DEFAULT 1,
				sample_years INTEGER NOT NULL DEFAULT 0,
				updated_at   TEXT NOT NULL,
				PRIMARY KEY (month, sales_type)
			);

			CREATE TABLE IF NOT EXISTS weekly_patterns (
				month         INTEGER NOT NULL,
				week_of_month INTEGER NOT NULL,
				sales_type    TEXT NOT NULL,
				weight        REAL NOT NULL DEFAULT 0,
				updated_at    TEXT NOT NULL,
				PRIMARY KEY (month, week_of_month, sales_type)
			);

			CREATE TABLE IF NOT EXISTS growth_metrics (
				metric_type TEXT NOT NULL,
				sales_type  TEXT NOT NULL,
				value       REAL NOT NULL DEFAULT 0,
				updated_at  TEXT NOT NULL,
				PRIMARY KEY (metric_type, sales_type)
			);

			CREATE TABLE IF NOT EXISTS dashboard_users (
				telegram_id    INTEGER PRIMARY KEY,
				username       TEXT NOT NULL DEFAULT '',
				first_name     TEXT NOT NULL DEFAULT '',
				role           TEXT NOT NULL DEFAULT 'viewer',
				active         INTEGER NOT NULL DEFAULT 1,
				last_active_at TEXT NOT NULL,
				created_at     TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (5);
		`)
		if err != nil {
			return fmt.Errorf("migration v5: %w", err)
		}
		logger.Info("DB", "Applied migration v5 (planning + users)")
	}

	return nil
}

// nowUTC returns the canonical timestamp string stored in every *_at column.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Stats is a cheap health snapshot for /api/health.
type Stats struct {
	Orders    int    `json:"orders"`
	Products  int    `json:"products"`
	Offers    int    `json:"offers"`
	LastSync  string `json:"last_sync,omitempty"`
	SchemaVer int    `json:"schema_version"`
}

// GetStats counts core tables and reads the orders sync cursor.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	if err := s.sql.QueryRow("SELECT COUNT(*) FROM orders").Scan(&st.Orders); err != nil {
		return st, fmt.Errorf("count orders: %w", err)
	}
	if err := s.sql.QueryRow("SELECT COUNT(*) FROM products").Scan(&st.Products); err != nil {
		return st, fmt.Errorf("count products: %w", err)
	}
	if err := s.sql.QueryRow("SELECT COUNT(*) FROM offer_stocks").Scan(&st.Offers); err != nil {
		return st, fmt.Errorf("count offers: %w", err)
	}
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&st.SchemaVer)
	s.sql.QueryRow("SELECT value FROM sync_metadata WHERE key = 'orders'").Scan(&st.LastSync)
	return st, nil
}
