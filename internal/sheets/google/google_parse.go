package google

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"kpiprogress/internal/core"
)

// progressHeaders is the canonical column layout of the progress sheet.
var progressHeaders = func() []string {
	h := []string{"ID", "ConnectionId", "Year", "Usesaverage"}
	for m := range core.AllSlots() {
		h = append(h, m.Key())
	}
	return h
}()

type progressColumns struct {
	id, connection, year, usesAverage int
	months                            [core.MonthsPerYear]int
}

// canonicalColumns is the layout written to an empty sheet.
var canonicalColumns, _ = resolveColumns(progressHeaders)

// width is the number of columns spanned by the KPI fields.
func (c progressColumns) width() int {
	w := max(c.id, c.connection, c.year, c.usesAverage)
	for _, m := range c.months {
		w = max(w, m)
	}
	return w + 1
}

func resolveColumns(header []string) (progressColumns, error) {
	cols := progressColumns{
		id:          indexOf(header, "ID"),
		connection:  indexOf(header, "ConnectionId"),
		year:        indexOf(header, "Year"),
		usesAverage: indexOf(header, "Usesaverage"),
	}
	var missing []string
	if cols.connection == -1 {
		missing = append(missing, "ConnectionId")
	}
	if cols.year == -1 {
		missing = append(missing, "Year")
	}
	for m := range core.AllSlots() {
		cols.months[m] = indexOf(header, m.Key())
		if cols.months[m] == -1 {
			missing = append(missing, m.Key())
		}
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("unexpected progress header: missing %s; got headers=%v", strings.Join(missing, ","), header)
	}
	return cols, nil
}

// rowKey identifies a progress row independently of its id.
type rowKey struct {
	connection int64
	year       int
}

// parseYearRecords converts a values matrix (as returned by the Sheets API,
// header first) into the records of parentRef. Rows of other connections
// and rows without a usable year are skipped.
func parseYearRecords(values [][]interface{}, parentRef int64) ([]core.YearRecord, error) {
	if len(values) == 0 {
		return nil, nil
	}
	cols, err := resolveColumns(toStrings(values[0]))
	if err != nil {
		return nil, err
	}
	var out []core.YearRecord
	seen := map[int]bool{}
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		rec, ok := parseRow(row, cols)
		if !ok || rec.ParentRef != parentRef {
			continue
		}
		if seen[rec.Year] {
			return nil, fmt.Errorf("row %d: %w: %d", i+1, core.ErrDuplicateYear, rec.Year)
		}
		seen[rec.Year] = true
		out = append(out, rec)
	}
	return out, nil
}

func parseRow(row []string, cols progressColumns) (core.YearRecord, bool) {
	conn, err := strconv.ParseInt(safeGet(row, cols.connection), 10, 64)
	if err != nil {
		return core.YearRecord{}, false
	}
	year, err := strconv.Atoi(safeGet(row, cols.year))
	if err != nil {
		return core.YearRecord{}, false
	}
	rec := core.NewBlankRecord(year, conn)
	if id, err := strconv.ParseInt(safeGet(row, cols.id), 10, 64); err == nil {
		rec.ID = id
	}
	rec.UsesAverage = parseBool(safeGet(row, cols.usesAverage))
	for m := range core.AllSlots() {
		// unreadable cells are treated as absent
		if v, err := core.ParseReading(safeGet(row, cols.months[m])); err == nil {
			rec = rec.With(m, v)
		}
	}
	return rec, true
}

// indexRows maps every progress row to its 1-based sheet row number.
func indexRows(values [][]interface{}) (byKey map[rowKey]int, byID map[int64]int, err error) {
	byKey = map[rowKey]int{}
	byID = map[int64]int{}
	if len(values) == 0 {
		return byKey, byID, nil
	}
	cols, err := resolveColumns(toStrings(values[0]))
	if err != nil {
		return nil, nil, err
	}
	for i := 1; i < len(values); i++ {
		rec, ok := parseRow(toStrings(values[i]), cols)
		if !ok {
			continue
		}
		byKey[rowKey{rec.ParentRef, rec.Year}] = i + 1
		if rec.ID != 0 {
			byID[rec.ID] = i + 1
		}
	}
	return byKey, byID, nil
}

// encodeYearRecord renders rec in the column layout of the sheet. Absent
// months are written as empty cells. Cells the record does not own stay
// nil, which the Sheets API leaves untouched, and so does the id of an
// unsaved record.
func encodeYearRecord(rec core.YearRecord, cols progressColumns) []interface{} {
	row := make([]interface{}, cols.width())
	set := func(idx int, v interface{}) {
		if idx >= 0 {
			row[idx] = v
		}
	}
	if rec.IsPersisted() {
		set(cols.id, strconv.FormatInt(rec.ID, 10))
	}
	set(cols.connection, rec.ParentRef)
	set(cols.year, rec.Year)
	set(cols.usesAverage, strings.ToUpper(strconv.FormatBool(rec.UsesAverage)))
	for m := range core.AllSlots() {
		if v := rec.Get(m); v.Set {
			set(cols.months[m], v.Value)
		} else {
			set(cols.months[m], "")
		}
	}
	return row
}

// parseYearOptions reads one year per row from the first column, ignoring
// blanks, comments and non-numeric cells. Options come back sorted and
// deduplicated, the way the list field offers them.
func parseYearOptions(values [][]interface{}) []core.YearOption {
	var years []int
	for _, row := range values {
		if len(row) == 0 {
			continue
		}
		v := strings.TrimSpace(fmt.Sprint(row[0]))
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		y, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	slices.Sort(years)
	years = slices.Compact(years)
	out := make([]core.YearOption, 0, len(years))
	for _, y := range years {
		out = append(out, core.YearOption{Key: y, Label: strconv.Itoa(y)})
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "ja", "x":
		return true
	}
	return false
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

// columnName converts a 0-based column index to A1 notation letters.
func columnName(idx int) string {
	name := ""
	for idx >= 0 {
		name = string(rune('A'+idx%26)) + name
		idx = idx/26 - 1
	}
	return name
}
