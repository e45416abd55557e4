package core

import (
	"fmt"
	"slices"
)

// Snapshot is the read-only baseline captured when an editing session starts.
type Snapshot struct {
	records map[int]YearRecord
}

// NewSnapshot indexes records by year. Each year may appear once.
func NewSnapshot(records []YearRecord) (Snapshot, error) {
	byYear := make(map[int]YearRecord, len(records))
	for _, r := range records {
		if _, dup := byYear[r.Year]; dup {
			return Snapshot{}, fmt.Errorf("%w: %d", ErrDuplicateYear, r.Year)
		}
		byYear[r.Year] = r
	}
	return Snapshot{records: byYear}, nil
}

// Get returns the baseline record for year.
func (s Snapshot) Get(year int) (YearRecord, bool) {
	r, ok := s.records[year]
	return r, ok
}

// Lookup returns a copy of the baseline record for year, or nil.
func (s Snapshot) Lookup(year int) *YearRecord {
	r, ok := s.records[year]
	if !ok {
		return nil
	}
	return &r
}

// Years returns the baseline years in ascending order.
func (s Snapshot) Years() []int {
	years := make([]int, 0, len(s.records))
	for y := range s.records {
		years = append(years, y)
	}
	slices.Sort(years)
	return years
}

// Len returns the number of baseline records.
func (s Snapshot) Len() int {
	return len(s.records)
}
