package store

import (
	"fmt"
	"time"
)

// Manager, Buyer, ExpenseType and Expense mirror their upstream shapes.
type Manager struct {
	ID   int64
	Name string
}

type Buyer struct {
	ID       int64
	FullName string
	Phone    *string
	Email    *string
}

type ExpenseType struct {
	ID   int64
	Name string
}

type Expense struct {
	ID            int64
	OrderID       *int64
	ExpenseTypeID *int64
	Amount        float64
	Note          *string
	CreatedAt     time.Time
}

// UpsertManagers applies a manager batch in one transaction.
func (s *Store) UpsertManagers(batch []Manager) (int, error) {
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
		INSERT INTO managers (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`)
	if err != nil {
		return 0, fmt.Errorf("prepare managers: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, m := range batch {
		if _, err := stmt.Exec(m.ID, m.Name); err != nil {
			s.logBatchFailure("managers", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return 0, fmt.Errorf("upsert manager %d: %w", m.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit managers: %w", err)
	}
	return count, nil
}

// UpsertBuyers applies a buyer batch in one transaction.
func (s *Store) UpsertBuyers(batch []Buyer) (int, error) {
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
		INSERT INTO buyers (id, full_name, phone, email) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			phone     = excluded.phone,
			email     = excluded.email`)
	if err != nil {
		return 0, fmt.Errorf("prepare buyers: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, b := range batch {
		if _, err := stmt.Exec(b.ID, b.FullName, b.Phone, b.Email); err != nil {
			s.logBatchFailure("buyers", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return 0, fmt.Errorf("upsert buyer %d: %w", b.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit buyers: %w", err)
	}
	return count, nil
}

// UpsertExpenseTypes applies an expense-type batch in one transaction.
func (s *Store) UpsertExpenseTypes(batch []ExpenseType) (int, error) {
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
		INSERT INTO expense_types (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`)
	if err != nil {
		return 0, fmt.Errorf("prepare expense_types: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, et := range batch {
		if _, err := stmt.Exec(et.ID, et.Name); err != nil {
			s.logBatchFailure("expense_types", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return 0, fmt.Errorf("upsert expense type %d: %w", et.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit expense_types: %w", err)
	}
	return count, nil
}

// UpsertExpenses applies an expense batch in one transaction.
func (s *Store) UpsertExpenses(batch []Expense) (int, error) {
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
		INSERT INTO expenses (id, order_id, expense_type_id, amount, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_id        = excluded.order_id,
			expense_type_id = excluded.expense_type_id,
			amount          = excluded.amount,
			note            = excluded.note,
			created_at      = excluded.created_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare expenses: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, e := range batch {
		if _, err := stmt.Exec(e.ID, e.OrderID, e.ExpenseTypeID, e.Amount, e.Note,
			timeOrEmpty(e.CreatedAt)); err != nil {
			s.logBatchFailure("expenses", len(batch), batch[0].ID, batch[len(batch)-1].ID, err)
			return 0, fmt.Errorf("upsert expense %d: %w", e.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit expenses: %w", err)
	}
	return count, nil
}
