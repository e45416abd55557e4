package core

// RecordFactory builds the working record for a year that has no baseline.
type RecordFactory func(year int, parentRef int64) YearRecord

// NewBlankRecord returns an unsaved record with every month absent and the
// last-known-value policy.
func NewBlankRecord(year int, parentRef int64) YearRecord {
	return YearRecord{
		ParentRef: parentRef,
		Year:      year,
	}
}
