package sqlite

import (
	"context"
	"fmt"
)

// Seed populates the database with the demo business data used by the
// examples and integration tests: two near-identical media customers (the
// classic disambiguation case), an industrial customer, and a small web of
// orders, work orders, invoices, payments and tasks.
func (s *Store) Seed(ctx context.Context) error {
	stmts := []string{
		`INSERT OR IGNORE INTO customers (customer_id, name, industry, notes) VALUES
			('c-gai', 'Gai Media', 'Entertainment', 'Music production company'),
			('c-kai', 'Kai Media', 'Entertainment', 'Digital media company'),
			('c-kai-eu', 'Kai Media Europe', 'Entertainment', 'European division'),
			('c-tc', 'TC Boiler', 'Industrial', 'Thermal control systems')`,
		`INSERT OR IGNORE INTO sales_orders (so_id, customer_id, so_number, title, status, created_at) VALUES
			('so-1001', 'c-gai', 'SO-1001', 'Album Fulfillment', 'in_fulfillment', '2024-01-10T09:00:00Z'),
			('so-3003', 'c-kai', 'SO-3003', 'Digital Content Package', 'fulfilled', '2024-01-08T11:15:00Z'),
			('so-4004', 'c-tc', 'SO-4004', 'Boiler Maintenance', 'draft', '2024-01-15T08:45:00Z')`,
		`INSERT OR IGNORE INTO work_orders (wo_id, so_id, description, status, technician, scheduled_for) VALUES
			('wo-1', 'so-1001', 'Pick-pack albums', 'queued', 'Alex', '2024-01-22'),
			('wo-3', 'so-3003', 'Digital packaging', 'done', 'Carol', '2024-01-18'),
			('wo-4', 'so-4004', 'Boiler inspection', 'queued', 'Dave', '2024-01-25')`,
		`INSERT OR IGNORE INTO invoices (invoice_id, so_id, invoice_number, amount, due_date, status, issued_at) VALUES
			('inv-1009', 'so-1001', 'INV-1009', 1200.00, '2024-09-30', 'open', '2024-01-10T10:00:00Z'),
			('inv-3011', 'so-3003', 'INV-3011', 2100.00, '2024-02-08', 'paid', '2024-01-08T12:00:00Z'),
			('inv-4012', 'so-4004', 'INV-4012', 1500.00, '2024-02-20', 'open', '2024-01-15T09:00:00Z')`,
		`INSERT OR IGNORE INTO payments (payment_id, invoice_id, amount, method, paid_at) VALUES
			('pay-1', 'inv-3011', 2100.00, 'wire', '2024-02-01T10:00:00Z'),
			('pay-2', 'inv-1009', 400.00, 'card', '2024-03-01T10:00:00Z')`,
		`INSERT OR IGNORE INTO tasks (task_id, customer_id, title, body, status, created_at) VALUES
			('task-1', 'c-gai', 'Investigate shipping SLA for Gai Media', 'Check delivery timeframes and customer preferences', 'todo', '2024-01-05T09:00:00Z'),
			('task-2', 'c-tc', 'Schedule boiler inspection follow-up', NULL, 'todo', '2024-01-16T09:00:00Z')`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}
