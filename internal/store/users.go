package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// DashboardUser is a Telegram viewer account. Role and active flag are set
// by an admin and survive re-registration.
type DashboardUser struct {
	TelegramID   int64  `json:"telegram_id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	Role         string `json:"role"`
	Active       bool   `json:"active"`
	LastActiveAt string `json:"last_active_at"`
	CreatedAt    string `json:"created_at"`
}

// UpsertUser registers a viewer on first contact and refreshes the profile
// fields afterwards while preserving role and active selection.
func (s *Store) UpsertUser(telegramID int64, username, firstName string) error {
	if telegramID == 0 {
		return fmt.Errorf("zero telegram id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUTC()
	_, err := s.sql.Exec(`
		INSERT INTO dashboard_users (telegram_id, username, first_name, role, active, last_active_at, created_at)
		VALUES (?, ?, ?, 'viewer', 1, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			username       = excluded.username,
			first_name     = excluded.first_name,
			last_active_at = excluded.last_active_at`,
		telegramID, username, firstName, now, now)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", telegramID, err)
	}
	return nil
}

// TouchUser bumps last_active_at for an existing viewer.
func (s *Store) TouchUser(telegramID int64) error {
	_, err := s.sql.Exec(
		"UPDATE dashboard_users SET last_active_at = ? WHERE telegram_id = ?",
		nowUTC(), telegramID)
	if err != nil {
		return fmt.Errorf("touch user %d: %w", telegramID, err)
	}
	return nil
}

// GetUser returns one viewer, or ok=false when unknown.
func (s *Store) GetUser(telegramID int64) (DashboardUser, bool, error) {
	var u DashboardUser
	var active int
	err := s.sql.QueryRow(`
		SELECT telegram_id, username, first_name, role, active, last_active_at, created_at
		FROM dashboard_users WHERE telegram_id = ?`, telegramID).
		Scan(&u.TelegramID, &u.Username, &u.FirstName, &u.Role, &active, &u.LastActiveAt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return DashboardUser{}, false, nil
	}
	if err != nil {
		return DashboardUser{}, false, fmt.Errorf("get user %d: %w", telegramID, err)
	}
	u.Active = active == 1
	return u, true, nil
}

// ListUsers returns all viewers, active first, most recently seen on top.
func (s *Store) ListUsers() ([]DashboardUser, error) {
	rows, err := s.sql.Query(`
		SELECT telegram_id, username, first_name, role, active, last_active_at, created_at
		FROM dashboard_users
		ORDER BY active DESC, last_active_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []DashboardUser
	for rows.Next() {
		var u DashboardUser
		var active int
		if err := rows.Scan(&u.TelegramID, &u.Username, &u.FirstName, &u.Role, &active,
			&u.LastActiveAt, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Active = active == 1
		out = append(out, u)
	}
	return out, rows.Err()
}

// RevokeInactiveUsers deactivates viewers idle longer than maxIdle. Returns
// the number of accounts revoked.
func (s *Store) RevokeInactiveUsers(maxIdle time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxIdle).Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sql.Exec(
		"UPDATE dashboard_users SET active = 0 WHERE active = 1 AND last_active_at < ?",
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("revoke inactive: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("[Store] Revoked %d inactive dashboard users (idle > %s)", n, maxIdle)
	}
	return int(n), nil
}
