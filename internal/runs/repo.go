package runs

import "context"

// Repo defines append-only persistence for run records. Implementations
// rely on the backing store's own atomicity for concurrent appends; the
// application itself never updates or deletes rows.
type Repo interface {
	// Append persists exactly one record, aligned to the store's header.
	Append(ctx context.Context, rec Record) error
	// All returns every record in insertion order.
	All(ctx context.Context) ([]Record, error)
	// Count returns the number of persisted records.
	Count(ctx context.Context) (int, error)
	// Columns returns the store's current header in persisted order.
	Columns(ctx context.Context) ([]string, error)
	// LastSequence returns the highest value of the given integer column
	// across persisted records, and whether any record carries one.
	LastSequence(ctx context.Context, column string) (int64, bool, error)
}
