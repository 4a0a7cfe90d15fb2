package runs

import (
	"context"
	"errors"
	"testing"
)

// fakeWorksheet implements Worksheet in memory.
type fakeWorksheet struct {
	rows    [][]string
	failAll bool
}

func (f *fakeWorksheet) ReadAll(ctx context.Context) ([][]string, error) {
	if f.failAll {
		return nil, errors.New("quota exceeded")
	}
	out := make([][]string, len(f.rows))
	for i, row := range f.rows {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (f *fakeWorksheet) AppendRow(ctx context.Context, row []string) error {
	if f.failAll {
		return errors.New("quota exceeded")
	}
	f.rows = append(f.rows, append([]string(nil), row...))
	return nil
}

func (f *fakeWorksheet) UpdateHeader(ctx context.Context, header []string) error {
	if f.failAll {
		return errors.New("quota exceeded")
	}
	if len(f.rows) == 0 {
		f.rows = append(f.rows, append([]string(nil), header...))
		return nil
	}
	f.rows[0] = append([]string(nil), header...)
	return nil
}

func TestSheetsRepoWritesHeaderOnFirstAppend(t *testing.T) {
	ws := &fakeWorksheet{}
	repo := NewSheetsRepo(ws, []string{"Timestamp", "General - Run ID", "Laser - Power (W)"})
	ctx := context.Background()

	// The record only carries active-group fields; the header still gets
	// the full schema column set, same as a fresh CSV file.
	err := repo.Append(ctx, Record{Fields: map[string]string{
		"Timestamp":        "2026-08-30T10:00:00Z",
		"General - Run ID": "1",
	}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(ws.rows) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(ws.rows))
	}
	if len(ws.rows[0]) != 3 || ws.rows[0][0] != "Timestamp" || ws.rows[0][2] != "Laser - Power (W)" {
		t.Fatalf("unexpected header: %v", ws.rows[0])
	}
	if ws.rows[1][1] != "1" || ws.rows[1][2] != "" {
		t.Fatalf("unexpected row: %v", ws.rows[1])
	}
}

func TestSheetsRepoExtendsHeader(t *testing.T) {
	ws := &fakeWorksheet{rows: [][]string{
		{"Timestamp", "General - Run ID"},
		{"2026-08-30T10:00:00Z", "1"},
	}}
	repo := NewSheetsRepo(ws, []string{"Timestamp", "General - Run ID", "Laser - Power (W)"})
	ctx := context.Background()

	err := repo.Append(ctx, Record{Fields: map[string]string{
		"Timestamp":         "2026-08-30T11:00:00Z",
		"General - Run ID":  "2",
		"Laser - Power (W)": "1.5",
	}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(ws.rows[0]) != 3 || ws.rows[0][2] != "Laser - Power (W)" {
		t.Fatalf("expected extended header, got %v", ws.rows[0])
	}

	recs, err := repo.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	// The pre-extension row reads back padded.
	if recs[0].Fields["Laser - Power (W)"] != "" {
		t.Fatalf("expected padded old row, got %q", recs[0].Fields["Laser - Power (W)"])
	}
	if recs[1].Fields["Laser - Power (W)"] != "1.5" {
		t.Fatalf("expected new value, got %q", recs[1].Fields["Laser - Power (W)"])
	}
}

func TestSheetsRepoSurfacesStoreErrors(t *testing.T) {
	ws := &fakeWorksheet{failAll: true}
	repo := NewSheetsRepo(ws, []string{"Timestamp"})
	ctx := context.Background()

	err := repo.Append(ctx, Record{Fields: map[string]string{"Timestamp": "x"}})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	if _, err := repo.All(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from All, got %v", err)
	}
}

func TestSheetsRepoLastSequence(t *testing.T) {
	ws := &fakeWorksheet{rows: [][]string{
		{"Timestamp", "General - Run ID"},
		{"2026-08-30T10:00:00Z", "2"},
		{"2026-08-30T10:05:00Z", "9"},
		{"2026-08-30T10:10:00Z", "not-a-number"},
	}}
	repo := NewSheetsRepo(ws, []string{"Timestamp", "General - Run ID"})

	last, found, err := repo.LastSequence(context.Background(), "General - Run ID")
	if err != nil {
		t.Fatalf("LastSequence: %v", err)
	}
	if !found || last != 9 {
		t.Fatalf("expected 9, got %d found=%v", last, found)
	}
}
