package runs

import (
	"context"
	"strconv"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo, used by tests and as
// the dev fallback when no store is configured.
type MemoryRepo struct {
	mu      sync.RWMutex
	columns []string
	records []Record
}

// NewMemoryRepo constructs a MemoryRepo with the given header.
func NewMemoryRepo(columns []string) *MemoryRepo {
	return &MemoryRepo{columns: append([]string(nil), columns...)}
}

// Append stores the record, extending the header with any new columns.
func (r *MemoryRepo) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	known := make(map[string]struct{}, len(r.columns))
	for _, c := range r.columns {
		known[c] = struct{}{}
	}
	for col := range rec.Fields {
		if _, ok := known[col]; !ok {
			r.columns = append(r.columns, col)
		}
	}

	cp := rec
	cp.Fields = make(map[string]string, len(rec.Fields))
	for k, v := range rec.Fields {
		cp.Fields[k] = v
	}
	r.records = append(r.records, cp)
	return nil
}

// All returns records in insertion order.
func (r *MemoryRepo) All(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out, nil
}

// Count returns the number of stored records.
func (r *MemoryRepo) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

// Columns returns the current header.
func (r *MemoryRepo) Columns(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.columns...), nil
}

// LastSequence returns the highest parseable value of the given column.
func (r *MemoryRepo) LastSequence(ctx context.Context, column string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max int64
	found := false
	for _, rec := range r.records {
		raw, ok := rec.Fields[column]
		if !ok {
			continue
		}
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if !found || val > max {
			max = val
			found = true
		}
	}
	return max, found, nil
}
