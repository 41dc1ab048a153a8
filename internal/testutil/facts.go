package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	factsqlite "github.com/memfuse/memfuse/domainfact/sqlite"
)

// SeededFacts opens a throwaway sqlite domain database populated with the
// sample customers, orders, invoices and tasks. The store is closed when the
// test finishes.
func SeededFacts(t *testing.T) *factsqlite.Store {
	t.Helper()
	facts, err := factsqlite.New(filepath.Join(t.TempDir(), "domain.db"))
	require.NoError(t, err)
	require.NoError(t, facts.Seed(context.Background()))
	t.Cleanup(func() { facts.Close() })
	return facts
}
