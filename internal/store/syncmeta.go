package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Cursor keys used by the sync engine.
const (
	MetaOrders    = "orders"
	MetaStocks    = "stocks_last_sync"
	MetaProducts  = "products_last_sync"
	MetaExpenses  = "expenses_last_sync"
	MetaFullSync  = "last_full_sync"
	MetaMilestone = "last_milestone"
)

// GetSyncMeta reads one metadata value. ok is false when the key is absent.
func (s *Store) GetSyncMeta(key string) (value string, ok bool, err error) {
	err = s.sql.QueryRow("SELECT value FROM sync_metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read sync_metadata %q: %w", key, err)
	}
	return value, true, nil
}

// SetSyncMeta writes one metadata value.
func (s *Store) SetSyncMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sql.Exec(`
		INSERT INTO sync_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowUTC())
	if err != nil {
		return fmt.Errorf("write sync_metadata %q: %w", key, err)
	}
	return nil
}

// GetSyncTime reads a metadata key as a timestamp. Zero time when absent or
// unparseable.
func (s *Store) GetSyncTime(key string) (time.Time, error) {
	v, ok, err := s.GetSyncMeta(key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, perr := time.Parse(time.RFC3339, v)
	if perr != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// SetSyncTime stores a timestamp under the given metadata key.
func (s *Store) SetSyncTime(key string, t time.Time) error {
	return s.SetSyncMeta(key, t.UTC().Format(time.RFC3339))
}
