package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PGRepo implements Repo using Postgres. Fields are stored as JSONB so the
// table never needs altering when the form schema grows columns.
type PGRepo struct {
	DB      *sql.DB
	columns []string
}

// NewPGRepo constructs a PGRepo with the schema's column set.
func NewPGRepo(db *sql.DB, columns []string) *PGRepo {
	return &PGRepo{DB: db, columns: append([]string(nil), columns...)}
}

// Append inserts one run row.
func (r *PGRepo) Append(ctx context.Context, rec Record) error {
	const query = `
INSERT INTO runs (id, seq, recorded_at, fields, created_at)
VALUES ($1, $2, $3, $4, $5)`

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	var seq sql.NullInt64
	if rec.Seq > 0 {
		seq = sql.NullInt64{Int64: rec.Seq, Valid: true}
	}

	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err = r.DB.ExecContext(ctx, query, rec.ID, seq, recordedAt, fields, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: insert run: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// All returns every run in insertion order.
func (r *PGRepo) All(ctx context.Context) ([]Record, error) {
	const query = `
SELECT id, seq, recorded_at, fields
FROM runs
ORDER BY created_at ASC, id ASC`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query runs: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var seq sql.NullInt64
		var fields []byte
		if err := rows.Scan(&rec.ID, &seq, &rec.RecordedAt, &fields); err != nil {
			return nil, err
		}
		if seq.Valid {
			rec.Seq = seq.Int64
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of persisted runs.
func (r *PGRepo) Count(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM runs`
	var n int
	if err := r.DB.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count runs: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Columns returns the schema columns extended with any field keys already
// persisted by an older or newer schema.
func (r *PGRepo) Columns(ctx context.Context) ([]string, error) {
	const query = `
SELECT DISTINCT jsonb_object_keys(fields)
FROM runs`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query columns: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	persisted := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		persisted[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cols := append([]string(nil), r.columns...)
	known := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		known[c] = struct{}{}
		delete(persisted, c)
	}
	// Keys persisted under a schema this process never saw go last.
	extra := make([]string, 0, len(persisted))
	for key := range persisted {
		extra = append(extra, key)
	}
	sort.Strings(extra)
	return append(cols, extra...), nil
}

// LastSequence returns the highest integer value of the given field column.
func (r *PGRepo) LastSequence(ctx context.Context, column string) (int64, bool, error) {
	const query = `
SELECT MAX((fields->>$1)::bigint)
FROM runs
WHERE fields->>$1 ~ '^[0-9]+$'`

	var max sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, query, column).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("%w: max sequence: %v", ErrStoreUnavailable, err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Int64, true, nil
}
