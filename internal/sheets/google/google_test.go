package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"kpiprogress/internal/core"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSheetsService_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := newSheetsService(context.Background())
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewSheetsService_UnreadableFile(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", t.TempDir()+"/missing.json")

	_, err := newSheetsService(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected file read error, got %v", err)
	}
}

func TestNewFromEnv_FailsAtServiceStage(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "test-id")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected credentials error")
	}
	if !strings.Contains(err.Error(), "sheets service") {
		t.Errorf("expected service error, got: %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	ctx := context.Background()
	file := t.TempDir() + "/sa.json"
	if err := os.WriteFile(file, []byte(`{"type":"service_account"}`), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadCredentials(ctx, ` {"inline":true} `, file)
	if err != nil || string(got) != `{"inline":true}` {
		t.Fatalf("inline JSON should win, got %s %v", got, err)
	}
	got, err = LoadCredentials(ctx, "", file)
	if err != nil || !strings.Contains(string(got), "service_account") {
		t.Fatalf("expected file content, got %s %v", got, err)
	}
	if _, err := LoadCredentials(ctx, "", ""); err == nil {
		t.Fatal("expected missing credentials error")
	}
}

func TestNewWithCredentials_MissingSpreadsheetID(t *testing.T) {
	_, err := NewWithCredentials(context.Background(), []byte("{}"), " ", "Progress", "Years")
	if err == nil || !strings.Contains(err.Error(), "missing spreadsheet id") {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestClient_NotInitialized(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	ctx := context.Background()

	if _, err := c.ListYearOptions(ctx); !errors.Is(err, errNotInitialized) {
		t.Errorf("ListYearOptions: %v", err)
	}
	if _, err := c.ListYearRecords(ctx, 28); !errors.Is(err, errNotInitialized) {
		t.Errorf("ListYearRecords: %v", err)
	}
	if _, err := c.UpsertYearRecord(ctx, core.NewBlankRecord(2024, 28)); !errors.Is(err, errNotInitialized) {
		t.Errorf("UpsertYearRecord: %v", err)
	}
}

func TestClient_UpsertValidatesYear(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	_, err := c.UpsertYearRecord(context.Background(), core.NewBlankRecord(0, 28))
	if !errors.Is(err, core.ErrInvalidYear) {
		t.Fatalf("expected ErrInvalidYear, got %v", err)
	}
}

// fakeSheets serves the two Values endpoints the client uses.
type fakeSheets struct {
	mu       sync.Mutex
	progress [][]interface{}
	years    [][]interface{}
	reads    int
	updates  []string
}

var rowRange = regexp.MustCompile(`!A(\d+):`)

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, rng, ok := strings.Cut(r.URL.Path, "/values/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		f.reads++
		vr := gsheet.ValueRange{Range: rng}
		if strings.HasPrefix(rng, "Years!") {
			vr.Values = f.years
		} else {
			vr.Values = f.progress
		}
		_ = json.NewEncoder(w).Encode(vr)
	case http.MethodPut:
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m := rowRange.FindStringSubmatch(rng)
		if m == nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		row, _ := strconv.Atoi(m[1])
		for len(f.progress) < row {
			f.progress = append(f.progress, nil)
		}
		// null cells keep their value, as in the real API
		cells := f.progress[row-1]
		for i, v := range vr.Values[0] {
			for len(cells) <= i {
				cells = append(cells, "")
			}
			if v != nil {
				cells[i] = v
			}
		}
		f.progress[row-1] = cells
		f.updates = append(f.updates, rng)
		_ = json.NewEncoder(w).Encode(gsheet.UpdateValuesResponse{UpdatedRange: rng})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("sheets service: %v", err)
	}
	return New(svc, "sid", "Progress", "Years")
}

func TestClient_ReadsFromSheet(t *testing.T) {
	f := &fakeSheets{
		progress: progressSheet(),
		years:    [][]interface{}{{"Year"}, {2025.0}, {2024.0}},
	}
	c := newFakeClient(t, f)
	ctx := context.Background()

	opts, err := c.ListYearOptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 2 || opts[0].Key != 2024 {
		t.Fatalf("unexpected options %v", opts)
	}

	recs, err := c.ListYearRecords(ctx, 28)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[1].Year != 2025 {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestClient_UpsertUpdatesInPlaceOrAppends(t *testing.T) {
	f := &fakeSheets{progress: progressSheet()}
	c := newFakeClient(t, f)
	ctx := context.Background()

	recs, err := c.ListYearRecords(ctx, 28)
	if err != nil {
		t.Fatal(err)
	}
	edited := recs[0].With(core.February, core.Some(80))

	ref, err := c.UpsertYearRecord(ctx, edited)
	if err != nil {
		t.Fatal(err)
	}
	if ref != "Progress!A2:P2" {
		t.Fatalf("existing record should update row 2, got %s", ref)
	}

	fresh := core.NewBlankRecord(2026, 28).With(core.January, core.Some(3))
	ref, err = c.UpsertYearRecord(ctx, fresh)
	if err != nil {
		t.Fatal(err)
	}
	if ref != "Progress!A7:P7" {
		t.Fatalf("new record should be appended at row 7, got %s", ref)
	}

	// The row index is cached: a second new year appends below without a re-read.
	reads := f.reads
	if _, err := c.UpsertYearRecord(ctx, core.NewBlankRecord(2027, 28)); err != nil {
		t.Fatal(err)
	}
	if f.reads != reads {
		t.Fatalf("expected cached row index, got %d extra reads", f.reads-reads)
	}
	if f.updates[len(f.updates)-1] != "Progress!A8:P8" {
		t.Fatalf("unexpected append range %v", f.updates)
	}

	got, err := c.ListYearRecords(ctx, 28)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 records after writes, got %d", len(got))
	}
	if v := got[0].Get(core.February); !v.Set || v.Value != 80 {
		t.Fatalf("update not visible: %+v", v)
	}
}

func TestClient_UpsertWritesHeaderOnEmptySheet(t *testing.T) {
	f := &fakeSheets{}
	c := newFakeClient(t, f)

	ref, err := c.UpsertYearRecord(context.Background(), core.NewBlankRecord(2024, 28))
	if err != nil {
		t.Fatal(err)
	}
	if ref != "Progress!A2:P2" {
		t.Fatalf("first record belongs below the header, got %s", ref)
	}
	if len(f.updates) != 2 || f.updates[0] != "Progress!A1:P1" {
		t.Fatalf("expected header write first, got %v", f.updates)
	}
}

func TestClient_UpsertKeepsReorderedColumns(t *testing.T) {
	f := &fakeSheets{progress: [][]interface{}{
		{"ConnectionId", "ID", "Year", "Comment", "Usesaverage", "Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
		{28.0, 1.0, 2024.0, "keep me", false, 100.0},
	}}
	c := newFakeClient(t, f)
	ctx := context.Background()

	recs, err := c.ListYearRecords(ctx, 28)
	if err != nil || len(recs) != 1 {
		t.Fatalf("read: %+v %v", recs, err)
	}
	ref, err := c.UpsertYearRecord(ctx, recs[0].With(core.February, core.Some(80)))
	if err != nil {
		t.Fatal(err)
	}
	if ref != "Progress!A2:Q2" {
		t.Fatalf("update should span the sheet's 17 columns, got %s", ref)
	}

	row := f.progress[1]
	if row[0] != 28.0 || row[1] != "1" || row[2] != 2024.0 || row[3] != "keep me" {
		t.Fatalf("identity or foreign cells corrupted: %v", row)
	}
	if row[5] != 100.0 || row[6] != 80.0 {
		t.Fatalf("months written to the wrong columns: %v", row)
	}

	got, err := c.ListYearRecords(ctx, 28)
	if err != nil || len(got) != 1 || got[0].ID != 1 || got[0].Get(core.February).Value != 80 {
		t.Fatalf("read back = %+v %v", got, err)
	}
}

func TestClient_SaveChangeSet(t *testing.T) {
	f := &fakeSheets{progress: progressSheet()}
	c := newFakeClient(t, f)
	ctx := context.Background()

	cs := core.ChangeSet{
		2026: core.NewBlankRecord(2026, 28).With(core.June, core.Some(1)),
		2023: core.NewBlankRecord(2023, 28).With(core.June, core.Some(2)),
	}
	saved, err := c.SaveChangeSet(ctx, 28, cs)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 2 || saved[0].Year != 2023 {
		t.Fatalf("expected year order, got %+v", saved)
	}

	_, err = c.SaveChangeSet(ctx, 99, cs)
	if !errors.Is(err, core.ErrParentMismatch) {
		t.Fatalf("expected ErrParentMismatch, got %v", err)
	}
}
