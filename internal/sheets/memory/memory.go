package memory

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"kpiprogress/internal/core"
	ports "kpiprogress/internal/sheets"
)

// Store keeps year options and KPI records in process memory.
type Store struct {
	mu      sync.Mutex
	years   []int
	records map[key]core.YearRecord
	nextID  int64
	writes  int
}

type key struct {
	parent int64
	year   int
}

var (
	_ ports.YearOptionReader = (*Store)(nil)
	_ ports.BaselineReader   = (*Store)(nil)
	_ ports.ChangeSetWriter  = (*Store)(nil)
	_ ports.YearRecordWriter = (*Store)(nil)
)

// New builds a store from explicit seed data. Records must be unique per
// parent and year.
func New(years []int, records []core.YearRecord) (*Store, error) {
	s := &Store{
		years:   dedupeSorted(years),
		records: make(map[key]core.YearRecord, len(records)),
	}
	for _, r := range records {
		k := key{r.ParentRef, r.Year}
		if _, dup := s.records[k]; dup {
			return nil, fmt.Errorf("connection %d: %w: %d", r.ParentRef, core.ErrDuplicateYear, r.Year)
		}
		s.records[k] = r
		s.nextID = max(s.nextID, r.ID)
	}
	return s, nil
}

// NewFromFiles seeds the store from base/seed_years.txt and base/seed_kpi.csv.
// Missing files fall back to the demo data set.
func NewFromFiles(base string) (*Store, error) {
	years := readYears(filepath.Join(base, "seed_years.txt"))
	if len(years) == 0 {
		years = []int{2024, 2025, 2026}
	}
	records, err := readRecords(filepath.Join(base, "seed_kpi.csv"))
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = DemoRecords()
	}
	return New(years, records)
}

// DemoRecords returns the demo connection 28 with one last-value year and
// one averaged year.
func DemoRecords() []core.YearRecord {
	y2024 := core.NewBlankRecord(2024, 28)
	for m, v := range map[core.Month]float64{
		core.January: 100, core.March: 90, core.May: 110, core.July: 105,
		core.August: 115, core.October: 125, core.December: 150,
	} {
		y2024 = y2024.With(m, core.Some(v))
	}
	y2024.ID = 1

	y2025 := core.NewBlankRecord(2025, 28).WithUsesAverage(true)
	for m, v := range map[core.Month]float64{
		core.March: 95, core.April: 100, core.June: 120, core.July: 115,
		core.September: 95, core.October: 100, core.December: 120,
	} {
		y2025 = y2025.With(m, core.Some(v))
	}
	y2025.ID = 2
	return []core.YearRecord{y2024, y2025}
}

// ListYearOptions returns the seeded years in ascending order.
func (s *Store) ListYearOptions(_ context.Context) ([]core.YearOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.YearOption, 0, len(s.years))
	for _, y := range s.years {
		out = append(out, core.YearOption{Key: y, Label: strconv.Itoa(y)})
	}
	return out, nil
}

// ListYearRecords returns copies of the parent's records ordered by year.
func (s *Store) ListYearRecords(_ context.Context, parentRef int64) ([]core.YearRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.YearRecord
	for k, r := range s.records {
		if k.parent == parentRef {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b core.YearRecord) int { return a.Year - b.Year })
	return out, nil
}

// SaveChangeSet stores every record of cs, assigning ids to new ones.
// Nothing is written when any record fails validation.
func (s *Store) SaveChangeSet(_ context.Context, parentRef int64, cs core.ChangeSet) ([]core.YearRecord, error) {
	recs := cs.Records()
	for _, r := range recs {
		if r.ParentRef != parentRef {
			return nil, fmt.Errorf("year %d: %w", r.Year, core.ErrParentMismatch)
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := make([]core.YearRecord, 0, len(recs))
	for _, r := range recs {
		saved = append(saved, s.put(r))
	}
	return saved, nil
}

// UpsertYearRecord stores a single record and returns a synthetic reference.
func (s *Store) UpsertYearRecord(_ context.Context, rec core.YearRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec = s.put(rec)
	return fmt.Sprintf("mem:%d", rec.ID), nil
}

// Writes reports how many records have been stored since creation.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) put(r core.YearRecord) core.YearRecord {
	k := key{r.ParentRef, r.Year}
	if prev, ok := s.records[k]; ok && !r.IsPersisted() {
		r.ID = prev.ID
	}
	if !r.IsPersisted() {
		s.nextID++
		r.ID = s.nextID
	}
	s.records[k] = r
	s.writes++
	return r
}

func readYears(path string) []int {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		y, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		out = append(out, y)
	}
	return dedupeSorted(out)
}

// readRecords parses a seed CSV with the columns
// ID,ConnectionId,Year,Usesaverage,Jan..Dec. A missing file yields nil.
func readRecords(path string) ([]core.YearRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return parseRecords(f)
}

func parseRecords(r io.Reader) ([]core.YearRecord, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	out := []core.YearRecord{}
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read seed csv: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "ID") {
			continue
		}
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("seed line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRecord(row []string) (core.YearRecord, error) {
	if len(row) < 4 {
		return core.YearRecord{}, fmt.Errorf("expected at least 4 columns, got %d", len(row))
	}
	conn, err := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
	if err != nil {
		return core.YearRecord{}, fmt.Errorf("connection id: %w", err)
	}
	year, err := strconv.Atoi(strings.TrimSpace(row[2]))
	if err != nil {
		return core.YearRecord{}, fmt.Errorf("%w: %q", core.ErrInvalidYear, row[2])
	}
	rec := core.NewBlankRecord(year, conn)
	if id := strings.TrimSpace(row[0]); id != "" {
		if rec.ID, err = strconv.ParseInt(id, 10, 64); err != nil {
			return core.YearRecord{}, fmt.Errorf("id: %w", err)
		}
	}
	rec.UsesAverage, _ = strconv.ParseBool(strings.TrimSpace(row[3]))
	for m := range core.AllSlots() {
		col := 4 + int(m)
		if col >= len(row) {
			break
		}
		v, err := core.ParseReading(row[col])
		if err != nil {
			return core.YearRecord{}, fmt.Errorf("%s: %w", m.Key(), err)
		}
		rec = rec.With(m, v)
	}
	return rec, nil
}

func dedupeSorted(in []int) []int {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
