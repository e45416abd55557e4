package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type (
	// Reading is an optional monthly value. The zero Reading is absent.
	Reading struct {
		Value float64
		Set   bool
	}

	// YearRecord holds one year of monthly KPI values for a parent entity.
	YearRecord struct {
		ID          int64 // zero until persisted
		ParentRef   int64 // owning connection/subject id
		Year        int
		UsesAverage bool
		Months      [MonthsPerYear]Reading
	}

	// AggregationPolicy selects how Total combines the monthly values.
	AggregationPolicy int
)

const (
	LastKnownValue AggregationPolicy = iota
	Average
)

var (
	ErrNoOptions      = errors.New("no year options available")
	ErrUnknownYear    = errors.New("unknown year")
	ErrDuplicateYear  = errors.New("duplicate year in baseline")
	ErrInvalidReading = errors.New("invalid reading")
	ErrInvalidYear    = errors.New("invalid year")
	ErrInvalidMonth   = errors.New("invalid month")
	ErrParentMismatch = errors.New("record belongs to another parent")
)

// UnknownYearError reports a year that has no selection context.
type UnknownYearError struct {
	Year int
}

func (e *UnknownYearError) Error() string {
	return fmt.Sprintf("unknown year %d", e.Year)
}

// Is lets errors.Is(err, ErrUnknownYear) match.
func (e *UnknownYearError) Is(target error) bool {
	return target == ErrUnknownYear
}

// Some returns a present reading.
func Some(v float64) Reading {
	return Reading{Value: v, Set: true}
}

// None returns an absent reading.
func None() Reading {
	return Reading{}
}

func (r Reading) String() string {
	if !r.Set {
		return ""
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// ParseReading converts user input into a Reading.
//
// Blank input is the explicit "absent" marker. Both dot (12.5) and comma
// (12,5) decimal separators are accepted, as are negative values.
//
// Examples:
//
//	ParseReading("")      -> None(), nil
//	ParseReading("12,5")  -> Some(12.5), nil
//	ParseReading("abc")   -> None(), ErrInvalidReading
func ParseReading(s string) (Reading, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None(), nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return None(), fmt.Errorf("%w: %q", ErrInvalidReading, s)
	}
	if math.IsNaN(v) || math.Abs(v) > maxReading {
		return None(), fmt.Errorf("%w: %q", ErrInvalidReading, s)
	}
	return Some(v), nil
}

const maxReading = 1e15

// Get returns the reading stored in slot m.
func (r YearRecord) Get(m Month) Reading {
	if !m.Valid() {
		return None()
	}
	return r.Months[m]
}

// With returns a copy of r with slot m replaced.
func (r YearRecord) With(m Month, v Reading) YearRecord {
	if !m.Valid() {
		return r
	}
	if !v.Set {
		v = None()
	}
	r.Months[m] = v
	return r
}

// WithUsesAverage returns a copy of r with the aggregation flag replaced.
func (r YearRecord) WithUsesAverage(b bool) YearRecord {
	r.UsesAverage = b
	return r
}

// IsPersisted reports whether r has been stored before.
func (r YearRecord) IsPersisted() bool {
	return r.ID != 0
}

// Policy returns the aggregation policy selected by UsesAverage.
func (r YearRecord) Policy() AggregationPolicy {
	if r.UsesAverage {
		return Average
	}
	return LastKnownValue
}

// Present returns the set values in calendar order.
func (r YearRecord) Present() []float64 {
	out := make([]float64, 0, MonthsPerYear)
	for m := range AllSlots() {
		if v := r.Months[m]; v.Set {
			out = append(out, v.Value)
		}
	}
	return out
}

// SameContent reports whether a and b carry the same observable values:
// the aggregation flag and all twelve slots. Identity fields are ignored.
func SameContent(a, b YearRecord) bool {
	return a.UsesAverage == b.UsesAverage && a.Months == b.Months
}

// Validate checks identity fields only; numeric ranges are not restricted.
func (r YearRecord) Validate() error {
	if r.Year < 1 || r.Year > 9999 {
		return fmt.Errorf("%w: %d", ErrInvalidYear, r.Year)
	}
	return nil
}

func (p AggregationPolicy) String() string {
	if p == Average {
		return "average"
	}
	return "last_known_value"
}
