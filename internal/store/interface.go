package store

import (
	"context"
	"time"
)

// Kind identifies which backend implementation is bound.
type Kind int

const (
	KindEmbedded   Kind = iota // in-process SQLite file
	KindRelational             // networked PostgreSQL
)

func (k Kind) String() string {
	switch k {
	case KindEmbedded:
		return "embedded"
	case KindRelational:
		return "relational"
	default:
		return "unknown"
	}
}

// Capability names an optional backend feature a migration may depend on.
type Capability string

const (
	// CapVector is the vector similarity search extension (pgvector).
	CapVector Capability = "vector"
)

// Capabilities is the set of optional features a backend offers.
type Capabilities map[Capability]bool

// Has reports whether c is present.
func (c Capabilities) Has(cap Capability) bool {
	return c[cap]
}

// State represents the initialization state of the datastore.
type State int

const (
	StateMissing       State = iota // backend unreachable or file doesn't exist
	StateUninitialized              // no migration ledger yet
	StatePending                    // ledger exists but migrations are pending
	StateDrift                      // ledger disagrees with the migration set
	StateReady                      // ledger is current
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StatePending:
		return "pending"
	case StateDrift:
		return "drift"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Result is a fully materialised statement result.
// Rows are read eagerly so no pooled connection outlives the call.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// Record is one row of the migration ledger.
type Record struct {
	Version   int
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Backend defines the Goob datastore contract.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Kind reports which implementation this is.
	Kind() Kind

	// Open opens the datastore connection
	Open(ctx context.Context) error

	// Close closes the datastore connection
	Close() error

	// HealthCheck verifies the datastore is reachable
	HealthCheck(ctx context.Context) error

	// Capabilities reports optional features without running migrations
	Capabilities(ctx context.Context) (Capabilities, error)

	// Query runs a statement that returns rows
	Query(ctx context.Context, stmt string, args ...any) (*Result, error)

	// Exec runs a statement that does not return rows
	Exec(ctx context.Context, stmt string, args ...any) (*Result, error)

	// Records returns the migration ledger ordered by version.
	// A missing ledger table yields an empty slice.
	Records(ctx context.Context) ([]Record, error)

	// ApplyMigration executes content and appends rec to the ledger in a
	// single transaction that holds the ledger write lock. If a record for
	// rec.Version already exists, content is not executed and the stored
	// record is returned with applied=true.
	ApplyMigration(ctx context.Context, rec Record, content string) (stored Record, applied bool, err error)
}
