package store

import (
	"fmt"
	"log"

	"sales-pulse/internal/traffic"
)

// ParsedUTM is one attribution row as stored in silver_order_utm.
type ParsedUTM struct {
	OrderID     int64
	Source      string
	Medium      string
	Campaign    string
	Content     string
	Term        string
	Lang        string
	FBP         *string
	FBC         *string
	TTP         *string
	FBClid      *string
	TrafficType string
	Platform    string
}

// RefreshUTMSilver parses the manager_comment of every order that has no
// silver_order_utm row yet and stores the attribution. Orders without a
// comment stay absent; Gold coalesces them to unknown/other.
func (s *Store) RefreshUTMSilver() (int, error) {
	rows, err := s.sql.Query(`
		SELECT o.id, o.manager_comment
		FROM orders o
		LEFT JOIN silver_order_utm u ON u.order_id = o.id
		WHERE u.order_id IS NULL
		  AND o.manager_comment IS NOT NULL
		  AND TRIM(o.manager_comment) != ''`)
	if err != nil {
		return 0, fmt.Errorf("read unparsed comments: %w", err)
	}

	type pending struct {
		orderID int64
		comment string
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.orderID, &p.comment); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan comment: %w", err)
		}
		todo = append(todo, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(todo) == 0 {
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
		INSERT OR REPLACE INTO silver_order_utm
			(order_id, utm_source, utm_medium, utm_campaign, utm_content, utm_term, utm_lang, fbp, fbc, ttp, fbclid, traffic_type, platform, parsed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare silver_order_utm: %w", err)
	}
	defer stmt.Close()

	parsedAt := nowUTC()
	count := 0
	for _, p := range todo {
		a := traffic.Parse(p.comment)
		tt, pl := traffic.Classify(a)
		if _, err := stmt.Exec(p.orderID,
			a.Source, a.Medium, a.Campaign, a.Content, a.Term, a.Lang,
			markerValue(a.HasFBP, a.FBP), markerValue(a.HasFBC, a.FBC),
			markerValue(a.HasTTP, a.TTP), markerValue(a.HasFBClid, a.FBClid),
			tt.String(), pl.String(), parsedAt); err != nil {
			return 0, fmt.Errorf("write utm for order %d: %w", p.orderID, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit silver_order_utm: %w", err)
	}
	if count > 0 {
		log.Printf("[Store] Parsed UTM for %d orders", count)
	}
	return count, nil
}

// markerValue keeps NULL for absent markers while a bare mention (present but
// valueless) stores the empty string.
func markerValue(present bool, value string) any {
	if !present {
		return nil
	}
	return value
}
