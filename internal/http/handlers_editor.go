package http

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"kpiprogress/internal/core"
	applog "kpiprogress/internal/log"
	"kpiprogress/internal/services"
)

var templateFuncs = template.FuncMap{
	"joinYears": func(years []int) string {
		parts := make([]string, len(years))
		for i, y := range years {
			parts[i] = strconv.Itoa(y)
		}
		return strings.Join(parts, ", ")
	},
}

type indexPage struct {
	Years     []yearOptionView
	ParentRef string
	Error     string
}

type monthField struct {
	Name  string
	Label string
	Value string
	Error string
}

type editorPage struct {
	ID             string
	ParentRef      int64
	SelectedYear   int
	Options        []yearOptionView
	Months         []monthField
	UsesAverage    bool
	Policy         string
	Total          string
	Classification string
	ChangedYears   []int
	Message        string
	Error          string
}

func monthFieldName(m core.Month) string {
	return "month_" + m.Key()
}

// newEditorPage renders the session state. Callers hold the entry lock.
func newEditorPage(id string, sess *core.Session) editorPage {
	rec := sess.Current()
	page := editorPage{
		ID:             id,
		ParentRef:      sess.ParentRef(),
		SelectedYear:   sess.SelectedYear(),
		Options:        optionViews(sess.Options()),
		UsesAverage:    rec.UsesAverage,
		Policy:         rec.Policy().String(),
		Total:          sess.FormattedTotal(),
		Classification: sess.Classify().String(),
		ChangedYears:   sess.ChangeSet().Years(),
	}
	for m := range core.AllSlots() {
		page.Months = append(page.Months, monthField{
			Name:  monthFieldName(m),
			Label: m.Label(),
			Value: rec.Get(m).String(),
		})
	}
	return page
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if s.templates == nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Templates not loaded", applog.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			applog.FieldError, err, "template", name)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderIndex(w http.ResponseWriter, r *http.Request, status int, page indexPage) {
	opts, err := s.backend.ListYearOptions(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Year options unavailable", applog.FieldError, err)
	}
	page.Years = optionViews(opts)
	s.render(w, r, status, "index.html", page)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderIndex(w, r, http.StatusOK, indexPage{ParentRef: r.URL.Query().Get("parentRef")})
}

func (s *Server) handleOpenEditor(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderIndex(w, r, http.StatusBadRequest, indexPage{Error: "Invalid request"})
		return
	}
	raw := sanitizeInput(r.PostForm.Get("parentRef"))
	parentRef, err := parseParentRef(raw)
	if err != nil {
		s.logFailure(r, err, applog.OpOpen)
		s.renderIndex(w, r, http.StatusBadRequest, indexPage{ParentRef: raw, Error: "Enter a positive connection id"})
		return
	}

	entry, err := s.openSession(r, parentRef)
	if err != nil {
		s.logFailure(r, err, applog.OpOpen)
		status, _ := classifyError(err)
		s.renderIndex(w, r, status, indexPage{ParentRef: raw, Error: openErrorText(err)})
		return
	}
	http.Redirect(w, r, "/sessions/"+entry.id, http.StatusSeeOther)
}

func openErrorText(err error) string {
	switch _, code := classifyError(err); code {
	case "no_options":
		return "No years are available to edit"
	case "load_failed":
		return "The stored KPI data could not be loaded"
	default:
		return "The editor could not be opened"
	}
}

// lookupEditor resolves the session of an editor page, rendering the
// expired-session page when it is gone.
func (s *Server) lookupEditor(w http.ResponseWriter, r *http.Request) (*sessionEntry, bool) {
	entry, err := s.sessions.get(r.PathValue("id"))
	if err != nil {
		s.logFailure(r, err, applog.OpSelect)
		s.renderIndex(w, r, http.StatusNotFound, indexPage{Error: "The editing session has expired, open it again"})
		return nil, false
	}
	return entry, true
}

func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupEditor(w, r)
	if !ok {
		return
	}
	entry.mu.Lock()
	page := newEditorPage(entry.id, entry.session)
	entry.mu.Unlock()

	q := r.URL.Query()
	switch {
	case q.Get("saved") != "" && q.Has("stale"):
		page.Message = fmt.Sprintf("Saved %s year(s). The stored data could not be reloaded, the saved values are shown.", q.Get("saved"))
	case q.Get("saved") != "":
		page.Message = fmt.Sprintf("Saved %s year(s)", q.Get("saved"))
	case q.Has("saved"):
		page.Message = "Nothing to save"
	case q.Has("reset"):
		page.Message = "Edits discarded"
	}
	s.render(w, r, http.StatusOK, "editor.html", page)
}

func (s *Server) editorError(w http.ResponseWriter, r *http.Request, entry *sessionEntry, status int, msg string) {
	entry.mu.Lock()
	page := newEditorPage(entry.id, entry.session)
	entry.mu.Unlock()
	page.Error = msg
	s.render(w, r, status, "editor.html", page)
}

// parseEditorForm reads every month of the form. Nothing is applied when a
// field is invalid; the returned fields echo the input with the errors.
func parseEditorForm(form url.Values) ([core.MonthsPerYear]core.Reading, []monthField, bool) {
	var (
		values [core.MonthsPerYear]core.Reading
		fields []monthField
		valid  = true
	)
	for m := range core.AllSlots() {
		raw := sanitizeInput(form.Get(monthFieldName(m)))
		f := monthField{Name: monthFieldName(m), Label: m.Label(), Value: raw}
		v, err := core.ParseReading(raw)
		if err != nil {
			f.Error = "Not a number"
			valid = false
		}
		values[m] = v
		fields = append(fields, f)
	}
	return values, fields, valid
}

// handleEditorValues applies the months of the form to the year the page was
// rendered for, then switches year or saves as the pressed button asks.
func (s *Server) handleEditorValues(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupEditor(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.editorError(w, r, entry, http.StatusBadRequest, "Invalid request")
		return
	}
	values, fields, valid := parseEditorForm(r.PostForm)
	usesAverage := r.PostForm.Get("usesAverage") != ""
	action := r.PostForm.Get("action")

	entry.mu.Lock()
	defer entry.mu.Unlock()

	selected := entry.session.SelectedYear()
	if formYear, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("editYear"))); err != nil || formYear != selected {
		s.logFailure(r, fmt.Errorf("%w: form year %q, selected %d", errYearMismatch, r.PostForm.Get("editYear"), selected), applog.OpEdit)
		page := newEditorPage(entry.id, entry.session)
		page.Error = fmt.Sprintf("The page was out of date and nothing was applied. Year %d is shown now.", selected)
		s.render(w, r, http.StatusConflict, "editor.html", page)
		return
	}

	if !valid {
		page := newEditorPage(entry.id, entry.session)
		page.Months = fields
		page.UsesAverage = usesAverage
		page.Error = "Some months are not valid numbers"
		s.render(w, r, http.StatusUnprocessableEntity, "editor.html", page)
		return
	}

	if err := applyForm(entry.session, values, usesAverage); err != nil {
		s.logFailure(r, err, applog.OpEdit)
		page := newEditorPage(entry.id, entry.session)
		page.Error = "The values could not be applied"
		status, _ := classifyError(err)
		s.render(w, r, status, "editor.html", page)
		return
	}

	switch action {
	case "switch":
		s.switchEditorYear(w, r, entry, r.PostForm.Get("year"))
	case "save":
		s.saveEditor(w, r, entry)
	default:
		http.Redirect(w, r, "/sessions/"+entry.id, http.StatusSeeOther)
	}
}

// switchEditorYear selects year after the form has been applied, so the
// edits of the previous year are kept. Callers hold the entry lock.
func (s *Server) switchEditorYear(w http.ResponseWriter, r *http.Request, entry *sessionEntry, raw string) {
	year, err := strconv.Atoi(strings.TrimSpace(raw))
	if err == nil {
		_, err = entry.session.SelectYear(year)
	}
	if err != nil {
		s.logFailure(r, err, applog.OpSelect)
		page := newEditorPage(entry.id, entry.session)
		page.Error = fmt.Sprintf("Year %s is not available", sanitizeInput(raw))
		s.render(w, r, http.StatusUnprocessableEntity, "editor.html", page)
		return
	}
	applog.FromContext(r.Context()).DebugContext(r.Context(), "Year selected",
		applog.FieldSessionID, entry.id, applog.FieldYear, year)
	http.Redirect(w, r, "/sessions/"+entry.id, http.StatusSeeOther)
}

// saveEditor writes the change set. Callers hold the entry lock.
func (s *Server) saveEditor(w http.ResponseWriter, r *http.Request, entry *sessionEntry) {
	years := entry.session.ChangeSet().Years()
	res, err := s.editor.Save(r.Context(), entry.session)
	entry.session = res.Session
	reloadFailed := errors.Is(err, services.ErrReload)
	if reloadFailed {
		s.logReloadFailure(r, err)
	} else if err != nil {
		s.logFailure(r, err, applog.OpSave)
		page := newEditorPage(entry.id, entry.session)
		page.Error = "Saving failed, your edits are kept"
		status, _ := classifyError(err)
		s.render(w, r, status, "editor.html", page)
		return
	}
	if len(years) > 0 {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).
			LogChangeSetSaved(r.Context(), entry.id, entry.session.ParentRef(), years)
	}
	target := "/sessions/" + entry.id + "?saved="
	if len(res.Saved) > 0 {
		target += strconv.Itoa(len(res.Saved))
	}
	if reloadFailed {
		target += "&stale=1"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// applyForm writes the months that differ from the working record, then
// the aggregation flag.
func applyForm(sess *core.Session, values [core.MonthsPerYear]core.Reading, usesAverage bool) error {
	current := sess.Current()
	for m := range core.AllSlots() {
		if current.Get(m) == values[m] {
			continue
		}
		if _, err := sess.SetMonth(m, values[m]); err != nil {
			return err
		}
	}
	if current.UsesAverage != usesAverage {
		if _, err := sess.SetUsesAverage(usesAverage); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleEditorReset(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupEditor(w, r)
	if !ok {
		return
	}
	entry.mu.Lock()
	err := entry.session.Reset()
	entry.mu.Unlock()
	if err != nil {
		s.logFailure(r, err, applog.OpReset)
		s.editorError(w, r, entry, http.StatusInternalServerError, "Reset failed")
		return
	}
	http.Redirect(w, r, "/sessions/"+entry.id+"?reset=1", http.StatusSeeOther)
}
