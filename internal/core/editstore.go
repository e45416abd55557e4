package core

import "maps"

// EditMap holds in-progress edits keyed by year.
type EditMap map[int]YearRecord

// With returns a new map equal to e with rec stored under rec.Year.
// e itself is left untouched.
func (e EditMap) With(rec YearRecord) EditMap {
	out := make(EditMap, len(e)+1)
	maps.Copy(out, e)
	out[rec.Year] = rec
	return out
}

// EditStore tracks the edits of one session without touching the baseline.
type EditStore struct {
	baseline  Snapshot
	factory   RecordFactory
	parentRef int64
	edits     EditMap
}

// NewEditStore returns an empty store. A nil factory means NewBlankRecord.
func NewEditStore(baseline Snapshot, factory RecordFactory, parentRef int64) *EditStore {
	if factory == nil {
		factory = NewBlankRecord
	}
	return &EditStore{
		baseline:  baseline,
		factory:   factory,
		parentRef: parentRef,
		edits:     EditMap{},
	}
}

// GetOrCreate returns the working record for year.
//
// An existing entry is returned as is, so repeated selection never discards
// pending edits. Otherwise the baseline record (or a blank one from the
// factory) is written into the edit map before being returned.
func (s *EditStore) GetOrCreate(year int) YearRecord {
	if rec, ok := s.edits[year]; ok {
		return rec
	}
	rec, ok := s.baseline.Get(year)
	if !ok {
		rec = s.factory(year, s.parentRef)
	}
	s.edits = s.edits.With(rec)
	return rec
}

// Upsert replaces the working record for rec.Year. The year must have been
// materialized by GetOrCreate first.
func (s *EditStore) Upsert(rec YearRecord) error {
	if _, ok := s.edits[rec.Year]; !ok {
		return &UnknownYearError{Year: rec.Year}
	}
	s.edits = s.edits.With(rec)
	return nil
}

// Edits returns the current edit map. Callers must not modify it.
func (s *EditStore) Edits() EditMap {
	return s.edits
}

// Clear drops every edit.
func (s *EditStore) Clear() {
	s.edits = EditMap{}
}

// Len returns the number of materialized years.
func (s *EditStore) Len() int {
	return len(s.edits)
}
