package core

import (
	"math"
	"strconv"
)

// Total computes the displayed total for r.
//
// With UsesAverage the result is the mean of the present values. Otherwise it
// is the last present value in calendar order: the most recent known reading,
// not a sum. Absent months are skipped. A record without values totals 0.
// Results are rounded half away from zero to two decimals.
func Total(r YearRecord) float64 {
	values := r.Present()
	if len(values) == 0 {
		return 0
	}
	if r.UsesAverage {
		var sum float64
		for _, v := range values {
			sum += v
		}
		return round2(sum / float64(len(values)))
	}
	return round2(values[len(values)-1])
}

// FormatTotal renders Total with two decimals, or "0" when no month is set.
func FormatTotal(r YearRecord) string {
	if len(r.Present()) == 0 {
		return "0"
	}
	return strconv.FormatFloat(Total(r), 'f', 2, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
