package core

// YearOption is one selectable year as supplied by the option provider.
type YearOption struct {
	Key   int
	Label string
}

// PickInitialYear prefers currentYear when it is offered and falls back to
// the last option. The caller's order is kept; options are not sorted.
func PickInitialYear(options []YearOption, currentYear int) (int, error) {
	if len(options) == 0 {
		return 0, ErrNoOptions
	}
	if HasOption(options, currentYear) {
		return currentYear, nil
	}
	return options[len(options)-1].Key, nil
}

// HasOption reports whether year is offered by options.
func HasOption(options []YearOption, year int) bool {
	for _, o := range options {
		if o.Key == year {
			return true
		}
	}
	return false
}
