package domainfact

import (
	"context"

	"github.com/memfuse/memfuse/core"
)

// Record is a lightweight handle on a domain row used by entity linking: the
// table and id form an ExternalRef, Label is the human-readable name, number
// or title the mention was matched against.
type Record struct {
	Table string `json:"table"`
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Ref converts the record into a core.ExternalRef.
func (r Record) Ref() core.ExternalRef {
	return core.ExternalRef{Table: r.Table, ID: r.ID}
}

// Store is the read-only contract against the business database. All methods
// return core.ErrNotFound (possibly wrapped) when the target row is absent.
type Store interface {
	// Lookup fetches a single record snapshot by table and id.
	Lookup(ctx context.Context, table, id string) (core.DomainFact, error)

	// Facts assembles the grounding snapshot for a resolved entity
	// reference: the record itself plus deterministic related-record
	// rollups. An unlinked (zero) ref yields no facts.
	Facts(ctx context.Context, ref core.ExternalRef) ([]core.DomainFact, error)

	// Customers lists every customer. Entity extraction scans these names
	// against message text for exact and fuzzy matches.
	Customers(ctx context.Context) ([]Record, error)

	// FindCustomersByName returns customers whose name matches exactly
	// (case-insensitive).
	FindCustomersByName(ctx context.Context, name string) ([]Record, error)

	// FindOrderByNumber resolves a sales order by its SO number.
	FindOrderByNumber(ctx context.Context, number string) (Record, error)

	// FindInvoiceByNumber resolves an invoice by its invoice number.
	FindInvoiceByNumber(ctx context.Context, number string) (Record, error)

	// FindTasksByKeyword returns tasks whose title contains the keyword
	// (case-insensitive).
	FindTasksByKeyword(ctx context.Context, keyword string) ([]Record, error)

	// Close releases backend resources.
	Close() error
}
