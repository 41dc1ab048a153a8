package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/domainfact/sqlite"
)

func seededStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "domain.db"))
	require.NoError(t, err)
	require.NoError(t, s.Seed(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLookupCustomer(t *testing.T) {
	s := seededStore(t)

	fact, err := s.Lookup(context.Background(), "customers", "c-gai")
	require.NoError(t, err)
	assert.Equal(t, "Gai Media", fact.Data["name"])
	assert.Equal(t, "Entertainment", fact.Data["industry"])

	_, err = s.Lookup(context.Background(), "customers", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.Lookup(context.Background(), "nope", "c-gai")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCustomerFactsIncludeOrdersAndOpenInvoices(t *testing.T) {
	s := seededStore(t)

	facts, err := s.Facts(context.Background(), core.ExternalRef{Table: "customers", ID: "c-gai"})
	require.NoError(t, err)

	tables := make(map[string]int)
	for _, f := range facts {
		tables[f.Table]++
	}
	assert.Equal(t, 1, tables["customers"])
	assert.Equal(t, 1, tables["sales_orders"])
	assert.Equal(t, 1, tables["invoices"]) // only the open INV-1009

	// Paid invoices are excluded from the customer rollup.
	for _, f := range facts {
		if f.Table == "invoices" {
			assert.Equal(t, "open", f.Data["status"])
		}
	}
}

func TestInvoiceFactsPaymentRollup(t *testing.T) {
	s := seededStore(t)

	facts, err := s.Facts(context.Background(), core.ExternalRef{Table: "invoices", ID: "inv-1009"})
	require.NoError(t, err)
	require.Len(t, facts, 2)

	rollup := facts[1]
	assert.Equal(t, "invoice_payments", rollup.Table)
	assert.Equal(t, 400.0, rollup.Data["total_paid"])
	assert.Equal(t, 800.0, rollup.Data["remaining_balance"])
	assert.Equal(t, 1, rollup.Data["payment_count"])
}

func TestOrderFactsIncludeWorkOrders(t *testing.T) {
	s := seededStore(t)

	facts, err := s.Facts(context.Background(), core.ExternalRef{Table: "sales_orders", ID: "so-1001"})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "work_orders", facts[1].Table)
	assert.Equal(t, "Pick-pack albums", facts[1].Data["description"])
}

func TestFactsZeroRef(t *testing.T) {
	s := seededStore(t)
	facts, err := s.Facts(context.Background(), core.ExternalRef{})
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestFinders(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	customers, err := s.Customers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 4)

	exact, err := s.FindCustomersByName(ctx, "gai media")
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, "Gai Media", exact[0].Label)

	order, err := s.FindOrderByNumber(ctx, "so-1001")
	require.NoError(t, err)
	assert.Equal(t, "SO-1001", order.Label)
	assert.Equal(t, "sales_orders", order.Ref().Table)

	_, err = s.FindOrderByNumber(ctx, "SO-9999")
	assert.ErrorIs(t, err, core.ErrNotFound)

	inv, err := s.FindInvoiceByNumber(ctx, "INV-1009")
	require.NoError(t, err)
	assert.Equal(t, "inv-1009", inv.ID)

	tasks, err := s.FindTasksByKeyword(ctx, "shipping")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].Label, "Gai Media")
}
