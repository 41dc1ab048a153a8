// Package sqlite implements domainfact.Store over the business schema on
// modernc.org/sqlite. The schema mirrors the operational system: customers,
// sales_orders, work_orders, invoices, payments and tasks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/domainfact"
)

// Store is the sqlite-backed implementation of domainfact.Store.
type Store struct {
	db *sql.DB
}

var _ domainfact.Store = (*Store)(nil)

// New opens the business database at dbPath, creating the schema if needed.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		industry TEXT,
		notes TEXT
	);
	CREATE TABLE IF NOT EXISTS sales_orders (
		so_id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(customer_id),
		so_number TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS work_orders (
		wo_id TEXT PRIMARY KEY,
		so_id TEXT NOT NULL REFERENCES sales_orders(so_id),
		description TEXT,
		status TEXT NOT NULL,
		technician TEXT,
		scheduled_for TEXT
	);
	CREATE TABLE IF NOT EXISTS invoices (
		invoice_id TEXT PRIMARY KEY,
		so_id TEXT NOT NULL REFERENCES sales_orders(so_id),
		invoice_number TEXT NOT NULL UNIQUE,
		amount REAL NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		issued_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payments (
		payment_id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(invoice_id),
		amount REAL NOT NULL,
		method TEXT,
		paid_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		customer_id TEXT REFERENCES customers(customer_id),
		title TEXT NOT NULL,
		body TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Lookup implements domainfact.Store.
func (s *Store) Lookup(ctx context.Context, table, id string) (core.DomainFact, error) {
	switch table {
	case "customers":
		return s.customerFact(ctx, id)
	case "sales_orders":
		return s.orderFact(ctx, id)
	case "work_orders":
		return s.workOrderFact(ctx, id)
	case "invoices":
		return s.invoiceFact(ctx, id)
	case "tasks":
		return s.taskFact(ctx, id)
	}
	return core.DomainFact{}, fmt.Errorf("unknown table %q: %w", table, core.ErrNotFound)
}

// Facts implements domainfact.Store, assembling the record plus its
// deterministic related-record rollups.
func (s *Store) Facts(ctx context.Context, ref core.ExternalRef) ([]core.DomainFact, error) {
	if ref.IsZero() {
		return nil, nil
	}
	switch ref.Table {
	case "customers":
		return s.customerFacts(ctx, ref.ID)
	case "sales_orders":
		return s.orderFacts(ctx, ref.ID)
	case "invoices":
		return s.invoiceFacts(ctx, ref.ID)
	case "work_orders":
		fact, err := s.workOrderFact(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return []core.DomainFact{fact}, nil
	case "tasks":
		fact, err := s.taskFact(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return []core.DomainFact{fact}, nil
	}
	return nil, fmt.Errorf("unknown table %q: %w", ref.Table, core.ErrNotFound)
}

func (s *Store) customerFact(ctx context.Context, id string) (core.DomainFact, error) {
	var name string
	var industry, notes sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT name, industry, notes FROM customers WHERE customer_id = ?`, id).
		Scan(&name, &industry, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DomainFact{}, fmt.Errorf("customer %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.DomainFact{}, fmt.Errorf("query customer: %w", err)
	}
	return core.DomainFact{Table: "customers", ID: id, Data: map[string]any{
		"name":     name,
		"industry": industry.String,
		"notes":    notes.String,
	}}, nil
}

// customerFacts returns the customer, its sales orders and its open invoices.
func (s *Store) customerFacts(ctx context.Context, id string) ([]core.DomainFact, error) {
	fact, err := s.customerFact(ctx, id)
	if err != nil {
		return nil, err
	}
	facts := []core.DomainFact{fact}

	rows, err := s.db.QueryContext(ctx,
		`SELECT so_id, so_number, title, status, created_at FROM sales_orders WHERE customer_id = ? ORDER BY created_at DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("query sales orders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var soID, soNumber, title, status, createdAt string
		if err := rows.Scan(&soID, &soNumber, &title, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sales order: %w", err)
		}
		facts = append(facts, core.DomainFact{Table: "sales_orders", ID: soID, Data: map[string]any{
			"so_number":  soNumber,
			"title":      title,
			"status":     status,
			"created_at": createdAt,
		}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	invRows, err := s.db.QueryContext(ctx,
		`SELECT i.invoice_id, i.invoice_number, i.amount, i.due_date, i.status
		 FROM invoices i JOIN sales_orders so ON so.so_id = i.so_id
		 WHERE so.customer_id = ? AND i.status = 'open'
		 ORDER BY i.due_date ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query open invoices: %w", err)
	}
	defer invRows.Close()
	for invRows.Next() {
		var invID, invNumber, dueDate, status string
		var amount float64
		if err := invRows.Scan(&invID, &invNumber, &amount, &dueDate, &status); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		facts = append(facts, core.DomainFact{Table: "invoices", ID: invID, Data: map[string]any{
			"invoice_number": invNumber,
			"amount":         amount,
			"due_date":       dueDate,
			"status":         status,
		}})
	}
	return facts, invRows.Err()
}

func (s *Store) orderFact(ctx context.Context, id string) (core.DomainFact, error) {
	var soNumber, title, status, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT so_number, title, status, created_at FROM sales_orders WHERE so_id = ?`, id).
		Scan(&soNumber, &title, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DomainFact{}, fmt.Errorf("sales order %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.DomainFact{}, fmt.Errorf("query sales order: %w", err)
	}
	return core.DomainFact{Table: "sales_orders", ID: id, Data: map[string]any{
		"so_number":  soNumber,
		"title":      title,
		"status":     status,
		"created_at": createdAt,
	}}, nil
}

// orderFacts returns the sales order plus its work orders.
func (s *Store) orderFacts(ctx context.Context, id string) ([]core.DomainFact, error) {
	fact, err := s.orderFact(ctx, id)
	if err != nil {
		return nil, err
	}
	facts := []core.DomainFact{fact}

	rows, err := s.db.QueryContext(ctx,
		`SELECT wo_id, description, status, technician, scheduled_for FROM work_orders WHERE so_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query work orders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var woID string
		var description, technician, scheduledFor sql.NullString
		var status string
		if err := rows.Scan(&woID, &description, &status, &technician, &scheduledFor); err != nil {
			return nil, fmt.Errorf("scan work order: %w", err)
		}
		facts = append(facts, core.DomainFact{Table: "work_orders", ID: woID, Data: map[string]any{
			"description":   description.String,
			"status":        status,
			"technician":    technician.String,
			"scheduled_for": scheduledFor.String,
		}})
	}
	return facts, rows.Err()
}

func (s *Store) invoiceFact(ctx context.Context, id string) (core.DomainFact, error) {
	var invNumber, dueDate, status, issuedAt string
	var amount float64
	err := s.db.QueryRowContext(ctx,
		`SELECT invoice_number, amount, due_date, status, issued_at FROM invoices WHERE invoice_id = ?`, id).
		Scan(&invNumber, &amount, &dueDate, &status, &issuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DomainFact{}, fmt.Errorf("invoice %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.DomainFact{}, fmt.Errorf("query invoice: %w", err)
	}
	return core.DomainFact{Table: "invoices", ID: id, Data: map[string]any{
		"invoice_number": invNumber,
		"amount":         amount,
		"due_date":       dueDate,
		"status":         status,
		"issued_at":      issuedAt,
	}}, nil
}

// invoiceFacts returns the invoice plus a payment rollup with the remaining
// balance.
func (s *Store) invoiceFacts(ctx context.Context, id string) ([]core.DomainFact, error) {
	fact, err := s.invoiceFact(ctx, id)
	if err != nil {
		return nil, err
	}

	var totalPaid float64
	var paymentCount int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM payments WHERE invoice_id = ?`, id).
		Scan(&totalPaid, &paymentCount)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	amount, _ := fact.Data["amount"].(float64)

	rollup := core.DomainFact{Table: "invoice_payments", ID: id, Data: map[string]any{
		"total_paid":        totalPaid,
		"remaining_balance": amount - totalPaid,
		"payment_count":     paymentCount,
	}}
	return []core.DomainFact{fact, rollup}, nil
}

func (s *Store) workOrderFact(ctx context.Context, id string) (core.DomainFact, error) {
	var description, technician, scheduledFor sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT description, status, technician, scheduled_for FROM work_orders WHERE wo_id = ?`, id).
		Scan(&description, &status, &technician, &scheduledFor)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DomainFact{}, fmt.Errorf("work order %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.DomainFact{}, fmt.Errorf("query work order: %w", err)
	}
	return core.DomainFact{Table: "work_orders", ID: id, Data: map[string]any{
		"description":   description.String,
		"status":        status,
		"technician":    technician.String,
		"scheduled_for": scheduledFor.String,
	}}, nil
}

func (s *Store) taskFact(ctx context.Context, id string) (core.DomainFact, error) {
	var title, status, createdAt string
	var body sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT title, body, status, created_at FROM tasks WHERE task_id = ?`, id).
		Scan(&title, &body, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DomainFact{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.DomainFact{}, fmt.Errorf("query task: %w", err)
	}
	return core.DomainFact{Table: "tasks", ID: id, Data: map[string]any{
		"title":      title,
		"body":       body.String,
		"status":     status,
		"created_at": createdAt,
	}}, nil
}

// Customers implements domainfact.Store.
func (s *Store) Customers(ctx context.Context) ([]domainfact.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT customer_id, name FROM customers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var out []domainfact.Record
	for rows.Next() {
		var r domainfact.Record
		r.Table = "customers"
		if err := rows.Scan(&r.ID, &r.Label); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindCustomersByName implements domainfact.Store.
func (s *Store) FindCustomersByName(ctx context.Context, name string) ([]domainfact.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id, name FROM customers WHERE LOWER(name) = ? ORDER BY name`,
		strings.ToLower(name))
	if err != nil {
		return nil, fmt.Errorf("query customers by name: %w", err)
	}
	defer rows.Close()

	var out []domainfact.Record
	for rows.Next() {
		var r domainfact.Record
		r.Table = "customers"
		if err := rows.Scan(&r.ID, &r.Label); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindOrderByNumber implements domainfact.Store.
func (s *Store) FindOrderByNumber(ctx context.Context, number string) (domainfact.Record, error) {
	var r domainfact.Record
	r.Table = "sales_orders"
	err := s.db.QueryRowContext(ctx,
		`SELECT so_id, so_number FROM sales_orders WHERE UPPER(so_number) = ?`,
		strings.ToUpper(number)).Scan(&r.ID, &r.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return domainfact.Record{}, fmt.Errorf("sales order %s: %w", number, core.ErrNotFound)
	}
	if err != nil {
		return domainfact.Record{}, fmt.Errorf("query sales order: %w", err)
	}
	return r, nil
}

// FindInvoiceByNumber implements domainfact.Store.
func (s *Store) FindInvoiceByNumber(ctx context.Context, number string) (domainfact.Record, error) {
	var r domainfact.Record
	r.Table = "invoices"
	err := s.db.QueryRowContext(ctx,
		`SELECT invoice_id, invoice_number FROM invoices WHERE UPPER(invoice_number) = ?`,
		strings.ToUpper(number)).Scan(&r.ID, &r.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return domainfact.Record{}, fmt.Errorf("invoice %s: %w", number, core.ErrNotFound)
	}
	if err != nil {
		return domainfact.Record{}, fmt.Errorf("query invoice: %w", err)
	}
	return r, nil
}

// FindTasksByKeyword implements domainfact.Store.
func (s *Store) FindTasksByKeyword(ctx context.Context, keyword string) ([]domainfact.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, title FROM tasks WHERE LOWER(title) LIKE ? ORDER BY created_at DESC`,
		"%"+strings.ToLower(keyword)+"%")
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []domainfact.Record
	for rows.Next() {
		var r domainfact.Record
		r.Table = "tasks"
		if err := rows.Scan(&r.ID, &r.Label); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close implements domainfact.Store.
func (s *Store) Close() error { return s.db.Close() }
