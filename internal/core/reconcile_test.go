package core

import (
	"reflect"
	"testing"
)

func TestIsEmpty(t *testing.T) {
	blank := NewBlankRecord(2026, 28)
	if !IsEmpty(blank) {
		t.Fatalf("blank record must be empty")
	}
	for m := range AllSlots() {
		if IsEmpty(blank.With(m, Some(0))) {
			t.Fatalf("setting %v must make the record non-empty", m)
		}
	}
	if IsEmpty(blank.WithUsesAverage(true)) {
		t.Fatalf("an average record without values is not empty")
	}
}

func TestIsReverted(t *testing.T) {
	base := demoRecord(false)

	if !IsReverted(base, &base) {
		t.Fatalf("a record must be reverted against itself")
	}
	if IsReverted(base, nil) {
		t.Fatalf("no baseline means nothing to revert to")
	}
	if IsReverted(NewBlankRecord(2026, 28), nil) {
		t.Fatalf("blank record without baseline is empty, not reverted")
	}

	changed := base.With(February, Some(1))
	if IsReverted(changed, &base) {
		t.Fatalf("a changed month is not reverted")
	}
	if IsReverted(base.WithUsesAverage(true), &base) {
		t.Fatalf("a toggled policy is not reverted")
	}

	// Identity fields do not take part in the comparison.
	other := base
	other.ID = 99
	if !IsReverted(other, &base) {
		t.Fatalf("identity fields must be ignored")
	}
}

func TestClassify(t *testing.T) {
	base := demoRecord(false)
	cases := []struct {
		name     string
		edited   YearRecord
		baseline *YearRecord
		want     Classification
	}{
		{"unchanged", base, &base, Reverted},
		{"blank without baseline", NewBlankRecord(2026, 28), nil, Empty},
		{"cleared baseline", NewBlankRecord(2024, 28), &base, Empty},
		{"edited", base.With(June, Some(3)), &base, Meaningful},
		{"new year with data", NewBlankRecord(2026, 28).With(May, Some(1)), nil, Meaningful},
		{"new year average only", NewBlankRecord(2026, 28).WithUsesAverage(true), nil, Meaningful},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.edited, tc.baseline)
			if got != tc.want {
				t.Fatalf("Classify = %v, want %v", got, tc.want)
			}
			if IsMeaningful(tc.edited, tc.baseline) != (tc.want == Meaningful) {
				t.Fatalf("IsMeaningful disagrees with Classify")
			}
		})
	}
}

func mustSnapshot(t *testing.T, records ...YearRecord) Snapshot {
	t.Helper()
	s, err := NewSnapshot(records)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return s
}

func TestBuildChangeSet(t *testing.T) {
	y2024 := demoRecord(false)
	y2025 := NewBlankRecord(2025, 28).WithUsesAverage(true).With(March, Some(95))
	y2025.ID = 2
	baseline := mustSnapshot(t, y2024, y2025)

	t.Run("no-op edit cycle is excluded", func(t *testing.T) {
		store := NewEditStore(baseline, nil, 28)
		rec := store.GetOrCreate(2024)
		if err := store.Upsert(rec.With(March, Some(1))); err != nil {
			t.Fatal(err)
		}
		if err := store.Upsert(store.GetOrCreate(2024).With(March, Some(90))); err != nil {
			t.Fatal(err)
		}
		if cs := BuildChangeSet(store.Edits(), baseline); len(cs) != 0 {
			t.Fatalf("expected empty change set, got %v", cs.Years())
		}
	})

	t.Run("untouched blank year is excluded", func(t *testing.T) {
		store := NewEditStore(baseline, nil, 28)
		store.GetOrCreate(2026)
		if cs := BuildChangeSet(store.Edits(), baseline); len(cs) != 0 {
			t.Fatalf("expected empty change set, got %v", cs.Years())
		}
	})

	t.Run("policy toggle alone is included", func(t *testing.T) {
		store := NewEditStore(baseline, nil, 28)
		rec := store.GetOrCreate(2025)
		if err := store.Upsert(rec.WithUsesAverage(false)); err != nil {
			t.Fatal(err)
		}
		cs := BuildChangeSet(store.Edits(), baseline)
		if !reflect.DeepEqual(cs.Years(), []int{2025}) {
			t.Fatalf("expected [2025], got %v", cs.Years())
		}
		if cs[2025].ID != 2 || cs[2025].UsesAverage {
			t.Fatalf("unexpected record %+v", cs[2025])
		}
	})

	t.Run("years outside the edit map never appear", func(t *testing.T) {
		cs := BuildChangeSet(EditMap{}, baseline)
		if len(cs) != 0 {
			t.Fatalf("expected empty change set, got %v", cs.Years())
		}
	})

	t.Run("mixed", func(t *testing.T) {
		edits := EditMap{
			2024: y2024.With(January, Some(101)),
			2025: y2025,
			2026: NewBlankRecord(2026, 28).With(April, Some(5)),
			2027: NewBlankRecord(2027, 28),
		}
		cs := BuildChangeSet(edits, baseline)
		if !reflect.DeepEqual(cs.Years(), []int{2024, 2026}) {
			t.Fatalf("expected [2024 2026], got %v", cs.Years())
		}
		recs := cs.Records()
		if len(recs) != 2 || recs[0].Year != 2024 || recs[1].Year != 2026 {
			t.Fatalf("records not ordered by year: %+v", recs)
		}
	})
}

func TestSnapshotRejectsDuplicateYears(t *testing.T) {
	_, err := NewSnapshot([]YearRecord{NewBlankRecord(2024, 1), NewBlankRecord(2024, 1)})
	if err == nil {
		t.Fatalf("expected duplicate year error")
	}
}

func TestSnapshotDoesNotAliasInput(t *testing.T) {
	records := []YearRecord{demoRecord(false)}
	s := mustSnapshot(t, records...)
	records[0] = records[0].With(January, Some(1))

	got, ok := s.Get(2024)
	if !ok || got.Get(January).Value != 100 {
		t.Fatalf("snapshot changed with its input: %+v", got)
	}

	copied := s.Lookup(2024)
	copied.UsesAverage = true
	if again, _ := s.Get(2024); again.UsesAverage {
		t.Fatalf("Lookup must return a copy")
	}
	if s.Lookup(1999) != nil {
		t.Fatalf("missing year should look up as nil")
	}
	if !reflect.DeepEqual(s.Years(), []int{2024}) || s.Len() != 1 {
		t.Fatalf("unexpected years %v", s.Years())
	}
}
