package runs

import "time"

// Record is one submitted run: an ordered mapping from persisted column
// name to scalar value. Records are append-only and never mutated.
type Record struct {
	ID         string
	Seq        int64
	RecordedAt time.Time
	// Fields holds the persisted values keyed by column name. Ordering
	// comes from the store header, not the map.
	Fields map[string]string
}

// Value returns the field value for a column, or "" if absent.
func (r Record) Value(column string) string {
	return r.Fields[column]
}
