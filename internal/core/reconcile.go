package core

import (
	"maps"
	"slices"
)

// Classification is the save-time verdict for an edited record.
type Classification int

const (
	Meaningful Classification = iota
	Reverted
	Empty
)

func (c Classification) String() string {
	switch c {
	case Reverted:
		return "reverted"
	case Empty:
		return "empty"
	default:
		return "meaningful"
	}
}

// ChangeSet holds the records worth persisting, keyed by year.
type ChangeSet map[int]YearRecord

// IsReverted reports whether edited matches its baseline on every observable
// field. Without a baseline there is nothing to revert to.
func IsReverted(edited YearRecord, baseline *YearRecord) bool {
	if baseline == nil {
		return false
	}
	return SameContent(edited, *baseline)
}

// IsEmpty reports whether edited has no values and the last-known-value
// policy. A record with UsesAverage set is never empty.
func IsEmpty(edited YearRecord) bool {
	if edited.UsesAverage {
		return false
	}
	for m := range AllSlots() {
		if edited.Months[m].Set {
			return false
		}
	}
	return true
}

// IsMeaningful reports whether edited belongs in a save.
func IsMeaningful(edited YearRecord, baseline *YearRecord) bool {
	return !IsReverted(edited, baseline) && !IsEmpty(edited)
}

// Classify names the rule that decides whether edited is saved.
func Classify(edited YearRecord, baseline *YearRecord) Classification {
	switch {
	case IsReverted(edited, baseline):
		return Reverted
	case IsEmpty(edited):
		return Empty
	default:
		return Meaningful
	}
}

// BuildChangeSet keeps the meaningful entries of edits. Years that were never
// edited are not part of the result whatever the baseline holds.
func BuildChangeSet(edits EditMap, baseline Snapshot) ChangeSet {
	out := ChangeSet{}
	for year, rec := range edits {
		if IsMeaningful(rec, baseline.Lookup(year)) {
			out[year] = rec
		}
	}
	return out
}

// Years returns the change set years in ascending order.
func (c ChangeSet) Years() []int {
	return slices.Sorted(maps.Keys(c))
}

// Records returns the records ordered by year.
func (c ChangeSet) Records() []YearRecord {
	out := make([]YearRecord, 0, len(c))
	for _, y := range c.Years() {
		out = append(out, c[y])
	}
	return out
}
