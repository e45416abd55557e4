package http

import (
	"kpiprogress/internal/core"
)

type yearOptionView struct {
	Year  int    `json:"year"`
	Label string `json:"label"`
}

type monthView struct {
	Key   string   `json:"key"`
	Label string   `json:"label"`
	Value *float64 `json:"value"`
}

type recordView struct {
	ID          int64       `json:"id,omitempty"`
	ParentRef   int64       `json:"parentRef"`
	Year        int         `json:"year"`
	UsesAverage bool        `json:"usesAverage"`
	Policy      string      `json:"policy"`
	Total       float64     `json:"total"`
	Months      []monthView `json:"months"`
}

type sessionView struct {
	ID             string           `json:"id"`
	ParentRef      int64            `json:"parentRef"`
	SelectedYear   int              `json:"selectedYear"`
	Options        []yearOptionView `json:"options"`
	Record         recordView       `json:"record"`
	FormattedTotal string           `json:"formattedTotal"`
	Classification string           `json:"classification"`
	Dirty          bool             `json:"dirty"`
}

type changesView struct {
	Years   []int        `json:"years"`
	Records []recordView `json:"records"`
}

type saveView struct {
	Saved   []recordView `json:"saved"`
	Session sessionView  `json:"session"`
	Warning string       `json:"warning,omitempty"`
}

func optionViews(opts []core.YearOption) []yearOptionView {
	out := make([]yearOptionView, len(opts))
	for i, o := range opts {
		out[i] = yearOptionView{Year: o.Key, Label: o.Label}
	}
	return out
}

func newRecordView(rec core.YearRecord) recordView {
	v := recordView{
		ID:          rec.ID,
		ParentRef:   rec.ParentRef,
		Year:        rec.Year,
		UsesAverage: rec.UsesAverage,
		Policy:      rec.Policy().String(),
		Total:       core.Total(rec),
		Months:      make([]monthView, 0, core.MonthsPerYear),
	}
	for m := range core.AllSlots() {
		mv := monthView{Key: m.Key(), Label: m.Label()}
		if r := rec.Get(m); r.Set {
			val := r.Value
			mv.Value = &val
		}
		v.Months = append(v.Months, mv)
	}
	return v
}

func recordViews(recs []core.YearRecord) []recordView {
	out := make([]recordView, len(recs))
	for i, r := range recs {
		out[i] = newRecordView(r)
	}
	return out
}

// newSessionView renders the session state. Callers hold the entry lock.
func newSessionView(id string, s *core.Session) sessionView {
	return sessionView{
		ID:             id,
		ParentRef:      s.ParentRef(),
		SelectedYear:   s.SelectedYear(),
		Options:        optionViews(s.Options()),
		Record:         newRecordView(s.Current()),
		FormattedTotal: s.FormattedTotal(),
		Classification: s.Classify().String(),
		Dirty:          s.Dirty(),
	}
}

func newChangesView(cs core.ChangeSet) changesView {
	years := cs.Years()
	if years == nil {
		years = []int{}
	}
	return changesView{Years: years, Records: recordViews(cs.Records())}
}
