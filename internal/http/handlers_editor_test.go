package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"kpiprogress/internal/core"
	"kpiprogress/internal/sheets/memory"
)

func openEditor(t *testing.T, ts *testServer) string {
	t.Helper()
	rr := ts.form(t, "/sessions", url.Values{"parentRef": {"28"}})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("open status=%d body=%s", rr.Code, rr.Body.String())
	}
	loc := rr.Header().Get("Location")
	if !strings.HasPrefix(loc, "/sessions/") {
		t.Fatalf("unexpected redirect %q", loc)
	}
	return loc
}

func editorForm(year int, values map[string]string, action string) url.Values {
	form := url.Values{"action": {action}, "editYear": {strconv.Itoa(year)}}
	for m := range core.AllSlots() {
		form.Set(monthFieldName(m), values[m.Key()])
	}
	return form
}

func TestEditor_IndexPage(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `action="/sessions"`) || !strings.Contains(body, "2026") {
		t.Fatalf("index body missing form or years: %s", body)
	}
	if rr := ts.do(t, http.MethodGet, "/missing", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown page status=%d", rr.Code)
	}
}

func TestEditor_OpenRejectsBadParent(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.form(t, "/sessions", url.Values{"parentRef": {"abc"}})
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "positive connection id") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestEditor_RenderApplyAndSave(t *testing.T) {
	ts := newTestServer(t)
	page := openEditor(t, ts)

	rr := ts.do(t, http.MethodGet, page, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("editor status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"Connection 28", `value="2025" selected`, "Januari", "106.43"} {
		if !strings.Contains(body, want) {
			t.Fatalf("editor body missing %q", want)
		}
	}

	switchTo := editorForm(2025, map[string]string{"Jan": "", "Mar": "95", "Apr": "100", "Jun": "120", "Jul": "115",
		"Sep": "95", "Oct": "100", "Dec": "120"}, "switch")
	switchTo.Set("usesAverage", "1")
	switchTo.Set("year", "2026")
	rr = ts.form(t, page+"/values", switchTo)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("year status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = ts.form(t, page+"/values", editorForm(2026, map[string]string{"Jan": "10", "Feb": "20,5"}, "apply"))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("apply status=%d body=%s", rr.Code, rr.Body.String())
	}
	body = ts.do(t, http.MethodGet, page, nil).Body.String()
	if !strings.Contains(body, `value="20.5"`) || !strings.Contains(body, "2026</dd>") {
		t.Fatalf("applied values not shown: %s", body)
	}

	form := editorForm(2026, map[string]string{"Jan": "10", "Feb": "20,5"}, "save")
	form.Set("usesAverage", "1")
	rr = ts.form(t, page+"/values", form)
	if rr.Code != http.StatusSeeOther || !strings.HasSuffix(rr.Header().Get("Location"), "?saved=1") {
		t.Fatalf("save status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}
	if ts.store.Writes() != 1 {
		t.Fatalf("writes = %d", ts.store.Writes())
	}
	body = ts.do(t, http.MethodGet, rr.Header().Get("Location"), nil).Body.String()
	if !strings.Contains(body, "Saved 1 year(s)") || !strings.Contains(body, "15.25") {
		t.Fatalf("saved page missing message or total: %s", body)
	}
}

func TestEditor_InvalidValuesAreNotApplied(t *testing.T) {
	ts := newTestServer(t)
	page := openEditor(t, ts)

	rr := ts.form(t, page+"/values", editorForm(2025, map[string]string{"Jan": "abc", "Feb": "3"}, "apply"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Not a number") || !strings.Contains(body, `value="abc"`) {
		t.Fatalf("invalid input should be echoed with an error: %s", body)
	}

	rr = ts.do(t, http.MethodGet, "/api/sessions/"+strings.TrimPrefix(page, "/sessions/"), nil)
	if decode[sessionView](t, rr).Dirty {
		t.Fatal("no month may be applied when one is invalid")
	}
}

func TestEditor_UnknownYearAndReset(t *testing.T) {
	ts := newTestServer(t)
	page := openEditor(t, ts)

	unknown := editorForm(2025, map[string]string{}, "switch")
	unknown.Set("year", "1999")
	if rr := ts.form(t, page+"/values", unknown); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown year status=%d", rr.Code)
	}

	ts.form(t, page+"/values", editorForm(2025, map[string]string{"Jan": "1"}, "apply"))
	rr := ts.form(t, page+"/reset", url.Values{})
	if rr.Code != http.StatusSeeOther || !strings.HasSuffix(rr.Header().Get("Location"), "?reset=1") {
		t.Fatalf("reset status=%d location=%q", rr.Code, rr.Header().Get("Location"))
	}
	body := ts.do(t, http.MethodGet, rr.Header().Get("Location"), nil).Body.String()
	if !strings.Contains(body, "Edits discarded") || !strings.Contains(body, "none</dd>") {
		t.Fatalf("reset page unexpected: %s", body)
	}
}

func TestEditor_ExpiredSession(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/sessions/gone", nil)
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "expired") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

type changesBody struct {
	Years []int `json:"years"`
}

func changedYears(t *testing.T, ts *testServer, page string) []int {
	t.Helper()
	rr := ts.do(t, http.MethodGet, "/api/sessions/"+strings.TrimPrefix(page, "/sessions/")+"/changes", nil)
	var body changesBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("changes body: %v", err)
	}
	return body.Years
}

func TestEditor_StaleFormIsRejected(t *testing.T) {
	ts := newTestServer(t)
	page := openEditor(t, ts)

	// Another tab moves the session to 2024 while this page still shows 2025.
	move := editorForm(2025, map[string]string{"Mar": "95", "Apr": "100", "Jun": "120", "Jul": "115",
		"Sep": "95", "Oct": "100", "Dec": "120"}, "switch")
	move.Set("usesAverage", "1")
	move.Set("year", "2024")
	if rr := ts.form(t, page+"/values", move); rr.Code != http.StatusSeeOther {
		t.Fatalf("switch status=%d", rr.Code)
	}

	rr := ts.form(t, page+"/values", editorForm(2025, map[string]string{"Jan": "1"}, "apply"))
	if rr.Code != http.StatusConflict || !strings.Contains(rr.Body.String(), "Year 2024 is shown now") {
		t.Fatalf("stale form status=%d body=%s", rr.Code, rr.Body.String())
	}
	if years := changedYears(t, ts, page); len(years) != 0 {
		t.Fatalf("stale form must not change any year, changed %v", years)
	}

	missing := editorForm(2025, map[string]string{"Jan": "1"}, "apply")
	missing.Del("editYear")
	if rr := ts.form(t, page+"/values", missing); rr.Code != http.StatusConflict {
		t.Fatalf("form without a year status=%d", rr.Code)
	}
}

func TestEditor_SwitchKeepsTypedValues(t *testing.T) {
	ts := newTestServer(t)
	page := openEditor(t, ts)

	form := editorForm(2025, map[string]string{"Jan": "7", "Mar": "95", "Apr": "100", "Jun": "120", "Jul": "115",
		"Sep": "95", "Oct": "100", "Dec": "120"}, "switch")
	form.Set("usesAverage", "1")
	form.Set("year", "2026")
	if rr := ts.form(t, page+"/values", form); rr.Code != http.StatusSeeOther {
		t.Fatalf("switch status=%d body=%s", rr.Code, rr.Body.String())
	}

	body := ts.do(t, http.MethodGet, page, nil).Body.String()
	if !strings.Contains(body, `value="2026" selected`) || !strings.Contains(body, `name="editYear" value="2026"`) {
		t.Fatalf("editor should show 2026 now: %s", body)
	}
	if years := changedYears(t, ts, page); len(years) != 1 || years[0] != 2025 {
		t.Fatalf("the 2025 edit should survive the switch, changed %v", years)
	}
}

func TestEditor_SaveWithFailedReload(t *testing.T) {
	store, _ := memory.New([]int{2025}, nil)
	ts := newTestServerWith(t, &reloadFailingBackend{Store: store}, store)
	page := openEditor(t, ts)

	rr := ts.form(t, page+"/values", editorForm(2025, map[string]string{"Jan": "5"}, "save"))
	if rr.Code != http.StatusSeeOther || !strings.HasSuffix(rr.Header().Get("Location"), "?saved=1&stale=1") {
		t.Fatalf("save status=%d location=%q body=%s", rr.Code, rr.Header().Get("Location"), rr.Body.String())
	}
	if store.Writes() != 1 {
		t.Fatalf("writes = %d", store.Writes())
	}
	body := ts.do(t, http.MethodGet, rr.Header().Get("Location"), nil).Body.String()
	if !strings.Contains(body, "could not be reloaded") || !strings.Contains(body, `value="5"`) {
		t.Fatalf("page should confirm the save and keep the value: %s", body)
	}
	if years := changedYears(t, ts, page); len(years) != 0 {
		t.Fatalf("nothing should be pending after the save, got %v", years)
	}
}
