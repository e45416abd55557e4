package core

import (
	"fmt"
	"slices"
)

// SessionParams is everything an editing session needs up front. The
// baseline and the options are loaded once by the caller.
type SessionParams struct {
	ParentRef   int64
	Baseline    []YearRecord
	Options     []YearOption
	CurrentYear int
	Factory     RecordFactory
}

// Session is one editing pass over the KPI years of a parent entity.
// It is not safe for concurrent use.
type Session struct {
	parentRef   int64
	options     []YearOption
	currentYear int
	baseline    Snapshot
	store       *EditStore
	selected    int
}

// NewSession snapshots the baseline, picks the initial year and
// materializes its working record.
func NewSession(p SessionParams) (*Session, error) {
	baseline, err := NewSnapshot(p.Baseline)
	if err != nil {
		return nil, fmt.Errorf("snapshot baseline: %w", err)
	}
	s := &Session{
		parentRef:   p.ParentRef,
		options:     slices.Clone(p.Options),
		currentYear: p.CurrentYear,
		baseline:    baseline,
		store:       NewEditStore(baseline, p.Factory, p.ParentRef),
	}
	if err := s.selectInitial(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) selectInitial() error {
	year, err := PickInitialYear(s.options, s.currentYear)
	if err != nil {
		return err
	}
	s.selected = year
	s.store.GetOrCreate(year)
	return nil
}

// ParentRef returns the owning entity id.
func (s *Session) ParentRef() int64 { return s.parentRef }

// SelectedYear returns the year being edited.
func (s *Session) SelectedYear() int { return s.selected }

// Options returns a copy of the selectable years.
func (s *Session) Options() []YearOption { return slices.Clone(s.options) }

// Baseline returns the snapshot taken when the session opened.
func (s *Session) Baseline() Snapshot { return s.baseline }

// Edits returns the edit map. Callers must not modify it.
func (s *Session) Edits() EditMap { return s.store.Edits() }

// SelectYear switches the working year. Only offered years can be selected.
func (s *Session) SelectYear(year int) (YearRecord, error) {
	if !HasOption(s.options, year) {
		return YearRecord{}, &UnknownYearError{Year: year}
	}
	s.selected = year
	return s.store.GetOrCreate(year), nil
}

// Current returns the working record of the selected year.
func (s *Session) Current() YearRecord {
	return s.store.GetOrCreate(s.selected)
}

// SetMonth replaces one month of the selected year.
func (s *Session) SetMonth(m Month, v Reading) (YearRecord, error) {
	if !m.Valid() {
		return YearRecord{}, fmt.Errorf("%w: %d", ErrInvalidMonth, int(m))
	}
	rec := s.Current().With(m, v)
	if err := s.store.Upsert(rec); err != nil {
		return YearRecord{}, err
	}
	return rec, nil
}

// SetUsesAverage switches the aggregation policy of the selected year.
func (s *Session) SetUsesAverage(b bool) (YearRecord, error) {
	rec := s.Current().WithUsesAverage(b)
	if err := s.store.Upsert(rec); err != nil {
		return YearRecord{}, err
	}
	return rec, nil
}

// Total returns the aggregated value of the selected year.
func (s *Session) Total() float64 {
	return Total(s.Current())
}

// FormattedTotal returns Total as shown to users.
func (s *Session) FormattedTotal() string {
	return FormatTotal(s.Current())
}

// Classify returns the save verdict for the selected year.
func (s *Session) Classify() Classification {
	return Classify(s.Current(), s.baseline.Lookup(s.selected))
}

// ChangeSet returns the meaningful edits of this session.
func (s *Session) ChangeSet() ChangeSet {
	return BuildChangeSet(s.store.Edits(), s.baseline)
}

// Dirty reports whether saving would write anything.
func (s *Session) Dirty() bool {
	return len(s.ChangeSet()) > 0
}

// Reset discards every edit and selects the initial year again.
// The baseline is kept.
func (s *Session) Reset() error {
	s.store.Clear()
	return s.selectInitial()
}
