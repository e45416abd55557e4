package core

import (
	"iter"
	"strconv"
	"strings"
)

// Month identifies one of the twelve value slots of a YearRecord.
type Month int

const (
	January Month = iota
	February
	March
	April
	May
	June
	July
	August
	September
	October
	November
	December
)

// MonthsPerYear is the fixed number of slots in a YearRecord.
const MonthsPerYear = 12

type monthEntry struct {
	label string
	key   string
}

// monthMap is ordered by calendar; the index is the slot.
var monthMap = [MonthsPerYear]monthEntry{
	{label: "Januari", key: "Jan"},
	{label: "Februari", key: "Feb"},
	{label: "Mars", key: "Mar"},
	{label: "April", key: "Apr"},
	{label: "Maj", key: "May"},
	{label: "Juni", key: "Jun"},
	{label: "Juli", key: "Jul"},
	{label: "Augusti", key: "Aug"},
	{label: "September", key: "Sep"},
	{label: "Oktober", key: "Oct"},
	{label: "November", key: "Nov"},
	{label: "December", key: "Dec"},
}

// SlotFor returns the slot mapped to a display label.
func SlotFor(label string) (Month, bool) {
	for i, e := range monthMap {
		if e.label == label {
			return Month(i), true
		}
	}
	return 0, false
}

// AllSlots yields the twelve slots in calendar order. The sequence can be
// ranged over any number of times.
func AllSlots() iter.Seq[Month] {
	return func(yield func(Month) bool) {
		for i := range MonthsPerYear {
			if !yield(Month(i)) {
				return
			}
		}
	}
}

// Labels returns the display labels in calendar order.
func Labels() []string {
	out := make([]string, 0, MonthsPerYear)
	for m := range AllSlots() {
		out = append(out, m.Label())
	}
	return out
}

// Valid reports whether m is one of the twelve slots.
func (m Month) Valid() bool {
	return m >= January && m <= December
}

// Label returns the display label ("Januari".."December").
func (m Month) Label() string {
	if !m.Valid() {
		return ""
	}
	return monthMap[m].label
}

// Key returns the short column key ("Jan".."Dec").
func (m Month) Key() string {
	if !m.Valid() {
		return ""
	}
	return monthMap[m].key
}

func (m Month) String() string {
	if !m.Valid() {
		return "Month(" + strconv.Itoa(int(m)) + ")"
	}
	return m.Key()
}

// ParseMonth accepts a short key, a display label or a 1-based month number,
// ignoring case and surrounding whitespace.
func ParseMonth(s string) (Month, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		m := Month(n - 1)
		return m, m.Valid()
	}
	for i, e := range monthMap {
		if strings.EqualFold(e.key, s) || strings.EqualFold(e.label, s) {
			return Month(i), true
		}
	}
	return 0, false
}
