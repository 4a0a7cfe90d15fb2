package runs

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"runlog-backend/internal/schema"
)

// Service contains the run-logging business logic: validation against the
// form schema, auto-increment tracking, and read paths for the chart and
// export views.
type Service struct {
	Repo   Repo
	Schema schema.Schema

	// seqMu guards the auto-increment floor so consecutive submissions in
	// one process are strictly increasing even when the backing store is
	// slow to reflect reads.
	seqMu    sync.Mutex
	seqFloor int64
	seqKnown bool
}

// NewService constructs a Service.
func NewService(repo Repo, s schema.Schema) *Service {
	return &Service{Repo: repo, Schema: s}
}

// SubmitInput is one attempted run submission. Values are keyed by
// persisted column name. ActiveGroups selects which non-always-on groups
// participate; nil means all groups.
type SubmitInput struct {
	ActiveGroups []string
	Values       map[string]string
}

// Submit validates the input against the active groups and appends exactly
// one record. Validation failure persists nothing and does not advance the
// auto-increment counter.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Record, error) {
	active := s.activeGroups(in.ActiveGroups)
	if len(active) == 0 {
		return Record{}, &ValidationError{Invalid: map[string]string{
			"groups": "no active groups",
		}}
	}

	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	verr := &ValidationError{Invalid: map[string]string{}}
	fields := make(map[string]string)
	seq := int64(0)
	autoCol := s.Schema.AutoIncrementColumn()

	for _, g := range active {
		for _, v := range g.Variables {
			col := schema.ColumnName(g.Name, v.Name)
			raw := strings.TrimSpace(in.Values[col])

			if raw == "" && autoCol == col {
				next, err := s.nextSequenceLocked(ctx)
				if err != nil {
					return Record{}, err
				}
				seq = next
				fields[col] = strconv.FormatInt(next, 10)
				continue
			}

			if raw == "" {
				if v.Required {
					verr.Missing = append(verr.Missing, col)
				} else {
					fields[col] = ""
				}
				continue
			}

			val, reason := coerce(v, raw)
			if reason != "" {
				verr.Invalid[col] = reason
				continue
			}

			if autoCol == col {
				override, _ := strconv.ParseInt(val, 10, 64)
				floor, err := s.sequenceFloorLocked(ctx)
				if err != nil {
					return Record{}, err
				}
				if override <= floor {
					verr.Invalid[col] = fmt.Sprintf("must exceed last recorded value %d", floor)
					continue
				}
				seq = override
			}
			fields[col] = val
		}
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		if len(verr.Invalid) == 0 {
			verr.Invalid = nil
		}
		return Record{}, verr
	}

	now := time.Now().UTC()
	rec := Record{
		ID:         uuid.NewString(),
		Seq:        seq,
		RecordedAt: now,
		Fields:     fields,
	}
	rec.Fields[schema.TimestampColumn] = now.Format(time.RFC3339)

	if err := s.Repo.Append(ctx, rec); err != nil {
		return Record{}, err
	}

	if seq > 0 {
		s.seqFloor = seq
		s.seqKnown = true
	}
	return rec, nil
}

// NextSequence returns the value the auto-increment field will take on the
// next submission, or 0 if the schema has no auto-increment variable.
func (s *Service) NextSequence(ctx context.Context) (int64, error) {
	if s.Schema.AutoIncrementColumn() == "" {
		return 0, nil
	}
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.nextSequenceLocked(ctx)
}

func (s *Service) nextSequenceLocked(ctx context.Context) (int64, error) {
	floor, err := s.sequenceFloorLocked(ctx)
	if err != nil {
		return 0, err
	}
	return floor + 1, nil
}

func (s *Service) sequenceFloorLocked(ctx context.Context) (int64, error) {
	if s.seqKnown {
		return s.seqFloor, nil
	}
	autoCol := s.Schema.AutoIncrementColumn()
	last, found, err := s.Repo.LastSequence(ctx, autoCol)
	if err != nil {
		return 0, err
	}
	if found {
		s.seqFloor = last
	}
	s.seqKnown = true
	return s.seqFloor, nil
}

// List returns records newest-first, honoring limit and offset.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Record, error) {
	recs, err := s.Repo.All(ctx)
	if err != nil {
		return nil, err
	}
	// Reverse insertion order.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return []Record{}, nil
	}
	end := len(recs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return recs[offset:end], nil
}

// Count returns the number of persisted runs.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.Repo.Count(ctx)
}

// Columns returns the store's current header.
func (s *Service) Columns(ctx context.Context) ([]string, error) {
	return s.Repo.Columns(ctx)
}

// NumericColumns returns the columns backed by float or integer variables,
// in schema order. These feed the chart's axis selectors.
func (s *Service) NumericColumns() []string {
	var cols []string
	for _, g := range s.Schema.Groups {
		for _, v := range g.Variables {
			switch v.EffectiveType() {
			case schema.TypeFloat, schema.TypeInteger:
				cols = append(cols, schema.ColumnName(g.Name, v.Name))
			}
		}
	}
	return cols
}

// Point is one chart datum.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	R     float64 `json:"r,omitempty"`
	Label string  `json:"label,omitempty"`
}

// Series extracts numeric points for the chart view. Filters are exact
// string matches on column values; rows where x or y does not parse as a
// number are skipped.
func (s *Service) Series(ctx context.Context, xCol, yCol, sizeCol string, filters map[string]string) ([]Point, error) {
	if xCol == "" || yCol == "" {
		return nil, fmt.Errorf("%w: x and y columns are required", ErrInvalidInput)
	}
	recs, err := s.Repo.All(ctx)
	if err != nil {
		return nil, err
	}

	points := make([]Point, 0, len(recs))
	for _, rec := range recs {
		if !matchesFilters(rec, filters) {
			continue
		}
		x, errX := strconv.ParseFloat(rec.Fields[xCol], 64)
		y, errY := strconv.ParseFloat(rec.Fields[yCol], 64)
		if errX != nil || errY != nil {
			continue
		}
		p := Point{X: x, Y: y, Label: rec.Fields[schema.TimestampColumn]}
		if sizeCol != "" {
			if r, err := strconv.ParseFloat(rec.Fields[sizeCol], 64); err == nil && r > 0 {
				p.R = r
			}
		}
		points = append(points, p)
	}
	return points, nil
}

func matchesFilters(rec Record, filters map[string]string) bool {
	for col, want := range filters {
		if want == "" {
			continue
		}
		if rec.Fields[col] != want {
			return false
		}
	}
	return true
}

// ExportCSV streams every record as CSV: the store header plus one row
// per run, rows aligned and padded to the header.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	header, err := s.Repo.Columns(ctx)
	if err != nil {
		return err
	}
	recs, err := s.Repo.All(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range recs {
		if err := cw.Write(alignRow(header, rec.Fields)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// activeGroups resolves the participating groups: always-on groups are
// forced active; the rest must be named. A nil selection activates all.
func (s *Service) activeGroups(selected []string) []schema.Group {
	if selected == nil {
		return s.Schema.Groups
	}
	want := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		want[name] = struct{}{}
	}
	var active []schema.Group
	for _, g := range s.Schema.Groups {
		if g.AlwaysOn {
			active = append(active, g)
			continue
		}
		if _, ok := want[g.Name]; ok {
			active = append(active, g)
		}
	}
	return active
}

// coerce validates raw against the variable type and returns the
// normalized stored value, or a rejection reason.
func coerce(v schema.Variable, raw string) (string, string) {
	switch v.EffectiveType() {
	case schema.TypeFloat:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return "", "not a number"
		}
		return raw, ""
	case schema.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", "not an integer"
		}
		return strconv.FormatInt(n, 10), ""
	case schema.TypeSelect:
		for _, opt := range v.Options {
			if opt == raw {
				return raw, ""
			}
		}
		return "", "not an allowed option"
	default:
		return raw, ""
	}
}
