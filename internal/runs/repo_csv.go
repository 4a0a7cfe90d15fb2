package runs

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"runlog-backend/internal/schema"
)

// CSVRepo implements Repo over a single CSV file: a header row plus one
// row per run. Rows are appended with O_APPEND; the file is only rewritten
// when the schema grows new columns and the header must be extended.
type CSVRepo struct {
	mu      sync.Mutex
	path    string
	columns []string
}

// NewCSVRepo constructs a CSVRepo writing to path with the schema's
// column set as the initial header.
func NewCSVRepo(path string, columns []string) *CSVRepo {
	return &CSVRepo{path: path, columns: append([]string(nil), columns...)}
}

// Append writes one row aligned to the file's header, creating the file
// with a header row on first use.
func (r *CSVRepo) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	header, err := r.readHeader()
	if err != nil {
		return err
	}

	if header == nil {
		header = r.mergeColumns(r.columns, rec.Fields)
		if err := r.writeAll(header, nil); err != nil {
			return err
		}
	} else if missing := missingColumns(header, r.columns, rec.Fields); len(missing) > 0 {
		header = append(header, missing...)
		rows, err := r.readRows()
		if err != nil {
			return err
		}
		if err := r.writeAll(header, rows); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open csv: %v", ErrStoreUnavailable, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(alignRow(header, rec.Fields)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: flush csv: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// All returns every row as a record, short rows padded to the header.
func (r *CSVRepo) All(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	header, err := r.readHeader()
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, nil
	}
	rows, err := r.readRows()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
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
func (r *CSVRepo) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.readRows()
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Columns returns the file header, or the schema columns before first write.
func (r *CSVRepo) Columns(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	header, err := r.readHeader()
	if err != nil {
		return nil, err
	}
	if header == nil {
		return append([]string(nil), r.columns...), nil
	}
	return header, nil
}

// LastSequence scans the given column for its highest integer value.
func (r *CSVRepo) LastSequence(ctx context.Context, column string) (int64, bool, error) {
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

// readHeader returns the header row, or nil if the file does not exist
// or is empty.
func (r *CSVRepo) readHeader() ([]string, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open csv: %v", ErrStoreUnavailable, err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return header, nil
}

// readRows returns all data rows (header excluded).
func (r *CSVRepo) readRows() ([][]string, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open csv: %v", ErrStoreUnavailable, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // rows written before a header extension are shorter
	all, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(all) <= 1 {
		return nil, nil
	}
	return all[1:], nil
}

// writeAll rewrites the file with a header and rows via temp-file rename.
func (r *CSVRepo) writeAll(header []string, rows [][]string) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ErrStoreUnavailable, err)
	}
	tmp, err := os.CreateTemp(dir, ".runlog-*.csv")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", ErrStoreUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		padded := make([]string, len(header))
		copy(padded, row)
		if err := w.Write(padded); err != nil {
			tmp.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *CSVRepo) mergeColumns(base []string, fields map[string]string) []string {
	merged := append([]string(nil), base...)
	return append(merged, missingColumns(merged, r.columns, fields)...)
}

// missingColumns returns field columns absent from the header: schema-order
// columns first, then any stray field keys sorted for determinism.
func missingColumns(header, preferred []string, fields map[string]string) []string {
	known := make(map[string]struct{}, len(header))
	for _, c := range header {
		known[c] = struct{}{}
	}
	var missing []string
	for _, col := range preferred {
		if _, inHeader := known[col]; inHeader {
			continue
		}
		if _, inFields := fields[col]; inFields {
			missing = append(missing, col)
			known[col] = struct{}{}
		}
	}
	var stray []string
	for col := range fields {
		if _, ok := known[col]; !ok {
			stray = append(stray, col)
		}
	}
	sort.Strings(stray)
	return append(missing, stray...)
}

func alignRow(header []string, fields map[string]string) []string {
	row := make([]string, len(header))
	for i, col := range header {
		row[i] = fields[col]
	}
	return row
}
