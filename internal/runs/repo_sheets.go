package runs

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"runlog-backend/internal/schema"
)

// Worksheet is the slice of the spreadsheet client the repo needs.
// Satisfied by *sheets.Client.
type Worksheet interface {
	ReadAll(ctx context.Context) ([][]string, error)
	AppendRow(ctx context.Context, row []string) error
	UpdateHeader(ctx context.Context, header []string) error
}

// SheetsRepo implements Repo on a Google Sheets worksheet: a header row
// plus one row per run, mirroring the CSV layout.
type SheetsRepo struct {
	mu      sync.Mutex
	ws      Worksheet
	columns []string
}

// NewSheetsRepo constructs a SheetsRepo with the schema's column set.
func NewSheetsRepo(ws Worksheet, columns []string) *SheetsRepo {
	return &SheetsRepo{ws: ws, columns: append([]string(nil), columns...)}
}

// Append writes the header on first use, extends it when the schema grew
// new columns, then appends one aligned row.
func (r *SheetsRepo) Append(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.ws.ReadAll(ctx)
	if err != nil {
		return wrapStoreErr(err)
	}

	var header []string
	if len(rows) == 0 {
		header = append([]string(nil), r.columns...)
		header = append(header, missingColumns(header, nil, rec.Fields)...)
		if err := r.ws.UpdateHeader(ctx, header); err != nil {
			return wrapStoreErr(err)
		}
	} else {
		header = rows[0]
		if missing := missingColumns(header, r.columns, rec.Fields); len(missing) > 0 {
			header = append(append([]string(nil), header...), missing...)
			if err := r.ws.UpdateHeader(ctx, header); err != nil {
				return wrapStoreErr(err)
			}
		}
	}

	if err := r.ws.AppendRow(ctx, alignRow(header, rec.Fields)); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// All returns every data row as a record, short rows padded to the header.
func (r *SheetsRepo) All(ctx context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.ws.ReadAll(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	header := rows[0]
	out := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := Record{Fields: make(map[string]string, len(header))}
		for i, col := range header {
			if i < len(row) {
				rec.Fields[col] = row[i]
			} else {
				rec.Fields[col] = ""
			}
		}
		if ts, err := time.Parse(time.RFC3339, rec.Fields[schema.TimestampColumn]); err == nil {
			rec.RecordedAt = ts
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of data rows.
func (r *SheetsRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.ws.ReadAll(ctx)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows) - 1, nil
}

// Columns returns the worksheet header, or the schema columns before the
// first write.
func (r *SheetsRepo) Columns(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.ws.ReadAll(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if len(rows) == 0 {
		return append([]string(nil), r.columns...), nil
	}
	return rows[0], nil
}

// LastSequence scans the given column for its highest integer value.
func (r *SheetsRepo) LastSequence(ctx context.Context, column string) (int64, bool, error) {
	recs, err := r.All(ctx)
	if err != nil {
		return 0, false, err
	}
	var max int64
	found := false
	for _, rec := range recs {
		val, err := strconv.ParseInt(rec.Fields[column], 10, 64)
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

func wrapStoreErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
