package google

import (
	"errors"
	"reflect"
	"testing"

	"kpiprogress/internal/core"
)

// progressSheet emulates the Progress list exported with UNFORMATTED_VALUE.
func progressSheet() [][]interface{} {
	return [][]interface{}{
		{"ID", "ConnectionId", "Year", "Usesaverage", "Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
		{1.0, 28.0, 2024.0, false, 100.0, "", 90.0, "", 110.0, "", 105.0, 115.0, "", 125.0, "", 150.0},
		{2.0, 28.0, 2025.0, true, "", "", 95.0, 100.0, "", 120.0, 115.0, "", 95.0, 100.0, "", 120.0},
		{3.0, 31.0, 2024.0, "TRUE", 1.0},
		{"", "", "", ""},
		{"note", "n/a", "2024"},
	}
}

func TestParseYearRecords(t *testing.T) {
	recs, err := parseYearRecords(progressSheet(), 28)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	y2024 := recs[0]
	if y2024.ID != 1 || y2024.Year != 2024 || y2024.UsesAverage {
		t.Fatalf("unexpected 2024 identity: %+v", y2024)
	}
	if core.Total(y2024) != 150 {
		t.Fatalf("2024 total got %v", core.Total(y2024))
	}
	if y2024.Get(core.February).Set {
		t.Fatalf("empty cell should be absent")
	}

	y2025 := recs[1]
	if !y2025.UsesAverage || y2025.Get(core.March).Value != 95 {
		t.Fatalf("unexpected 2025: %+v", y2025)
	}
}

func TestParseYearRecordsShortRowsAndOtherParents(t *testing.T) {
	recs, err := parseYearRecords(progressSheet(), 31)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if len(recs) != 1 || !recs[0].UsesAverage || recs[0].Get(core.January).Value != 1 {
		t.Fatalf("unexpected records %+v", recs)
	}
	if recs[0].Get(core.December).Set {
		t.Fatalf("cells past the row end must be absent")
	}
}

func TestParseYearRecordsHeaderMismatch(t *testing.T) {
	_, err := parseYearRecords([][]interface{}{{"Year", "Jan"}}, 28)
	if err == nil {
		t.Fatal("expected header error")
	}
}

func TestParseYearRecordsDuplicateYear(t *testing.T) {
	values := progressSheet()
	values = append(values, []interface{}{9.0, 28.0, 2024.0, false})
	_, err := parseYearRecords(values, 28)
	if !errors.Is(err, core.ErrDuplicateYear) {
		t.Fatalf("expected duplicate year error, got %v", err)
	}
}

func TestEncodeYearRecordRoundTrip(t *testing.T) {
	rec := core.NewBlankRecord(2026, 28).
		WithUsesAverage(true).
		With(core.April, core.Some(12.5))
	rec.ID = 7

	row := encodeYearRecord(rec, canonicalColumns)
	if len(row) != len(progressHeaders) {
		t.Fatalf("row has %d cells, want %d", len(row), len(progressHeaders))
	}
	values := [][]interface{}{toInterfaces(progressHeaders), row}
	got, err := parseYearRecords(values, 28)
	if err != nil || len(got) != 1 {
		t.Fatalf("parse back failed: %v %+v", err, got)
	}
	if got[0] != rec {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got[0], rec)
	}

	unsaved := encodeYearRecord(core.NewBlankRecord(2026, 28), canonicalColumns)
	if unsaved[0] != nil || unsaved[4] != "" {
		t.Fatalf("unsaved id should be skipped and absent months blank: %v", unsaved)
	}
}

func TestEncodeYearRecordFollowsSheetLayout(t *testing.T) {
	header := []string{"Note", "Year", "ConnectionId", "Dec", "Nov", "Oct", "Sep", "Aug", "Jul",
		"Jun", "May", "Apr", "Mar", "Feb", "Jan", "Usesaverage", "ID"}
	cols, err := resolveColumns(header)
	if err != nil {
		t.Fatal(err)
	}
	if cols.width() != len(header) {
		t.Fatalf("width = %d, want %d", cols.width(), len(header))
	}

	rec := core.NewBlankRecord(2024, 28).With(core.January, core.Some(100)).With(core.December, core.Some(150))
	rec.ID = 5
	row := encodeYearRecord(rec, cols)

	if row[0] != nil {
		t.Fatalf("foreign column must be left untouched, got %v", row[0])
	}
	if row[1] != 2024 || row[2] != int64(28) || row[16] != "5" {
		t.Fatalf("identity cells misplaced: %v", row)
	}
	if row[3] != 150.0 || row[14] != 100.0 || row[13] != "" {
		t.Fatalf("month cells misplaced: %v", row)
	}

	got, err := parseYearRecords([][]interface{}{toInterfaces(header), row}, 28)
	if err != nil || len(got) != 1 || got[0] != rec {
		t.Fatalf("parse back = %+v, %v", got, err)
	}
}

func TestIndexRows(t *testing.T) {
	byKey, byID, err := indexRows(progressSheet())
	if err != nil {
		t.Fatal(err)
	}
	if byKey[rowKey{28, 2025}] != 3 || byKey[rowKey{31, 2024}] != 4 {
		t.Fatalf("unexpected key index %v", byKey)
	}
	if byID[1] != 2 || byID[3] != 4 {
		t.Fatalf("unexpected id index %v", byID)
	}
}

func TestParseYearOptions(t *testing.T) {
	values := [][]interface{}{
		{"Year"},
		{2026.0},
		{"2024"},
		{},
		{"# archived"},
		{2025.0},
		{"2024"},
	}
	got := parseYearOptions(values)
	want := []core.YearOption{{Key: 2024, Label: "2024"}, {Key: 2025, Label: "2025"}, {Key: 2026, Label: "2026"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestColumnName(t *testing.T) {
	cases := map[int]string{0: "A", 15: "P", 25: "Z", 26: "AA", 27: "AB"}
	for idx, want := range cases {
		if got := columnName(idx); got != want {
			t.Fatalf("columnName(%d) = %q, want %q", idx, got, want)
		}
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"TRUE", "true", "1", "Ja", "x"} {
		if !parseBool(s) {
			t.Fatalf("%q should be true", s)
		}
	}
	for _, s := range []string{"", "FALSE", "0", "nej"} {
		if parseBool(s) {
			t.Fatalf("%q should be false", s)
		}
	}
}
