package http

import (
	"errors"
	"fmt"
	"net/http"

	applog "kpiprogress/internal/log"
	"kpiprogress/internal/services"
)

// withSession runs fn on the session named by the {id} path value while
// holding its lock.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(*sessionEntry) *ResponseBuilder) {
	entry, err := s.sessions.get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err, applog.OpSelect)
		return
	}
	entry.mu.Lock()
	resp := fn(entry)
	entry.mu.Unlock()
	resp.Write(w)
}

// fail logs err and writes the mapped JSON error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	s.logFailure(r, err, op)
	errorResponse(err).Write(w)
}

func (s *Server) logFailure(r *http.Request, err error, op string) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)
	status, _ := classifyError(err)
	fields := applog.NewFields().WithError(err).WithOperation(op).WithComponent(applog.ComponentSession)
	if id := r.PathValue("id"); id != "" {
		fields[applog.FieldSessionID] = id
	}
	if status >= http.StatusInternalServerError {
		applog.NewStructuredLogger(logger).LogError(ctx, "Editing request failed", err, applog.ComponentSession, op, fields)
		return
	}
	logger.WarnContext(ctx, "Editing request rejected", fields.ToSlice()...)
}

// logReloadFailure records a save that was stored but not reloaded.
func (s *Server) logReloadFailure(r *http.Request, err error) {
	fields := applog.NewFields().WithError(err).WithOperation(applog.OpSave).WithComponent(applog.ComponentSession)
	fields[applog.FieldSessionID] = r.PathValue("id")
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Change set saved, session reload failed", fields.ToSlice()...)
}

func (s *Server) handleListYears(w http.ResponseWriter, r *http.Request) {
	opts, err := s.backend.ListYearOptions(r.Context())
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", services.ErrLoad, err), applog.OpOpen)
		return
	}
	NewResponse().JSON(map[string]any{"years": optionViews(opts)}).Write(w)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var in openSessionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err, applog.OpOpen)
		return
	}
	if in.ParentRef <= 0 {
		s.fail(w, r, fmt.Errorf("%w: parentRef must be positive", errBadRequest), applog.OpOpen)
		return
	}

	entry, err := s.openSession(r, in.ParentRef)
	if err != nil {
		s.fail(w, r, err, applog.OpOpen)
		return
	}
	entry.mu.Lock()
	view := newSessionView(entry.id, entry.session)
	entry.mu.Unlock()

	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/sessions/"+entry.id).
		JSON(view).
		Write(w)
}

func (s *Server) openSession(r *http.Request, parentRef int64) (*sessionEntry, error) {
	sess, err := s.editor.Open(r.Context(), parentRef)
	if err != nil {
		return nil, err
	}
	entry := s.sessions.add(sess)
	applog.NewStructuredLogger(applog.FromContext(r.Context())).
		LogSessionOpened(r.Context(), entry.id, parentRef, sess.SelectedYear(), len(sess.Options()))
	return entry, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(e *sessionEntry) *ResponseBuilder {
		return NewResponse().JSON(newSessionView(e.id, e.session))
	})
}

func (s *Server) handleSelectYear(w http.ResponseWriter, r *http.Request) {
	var in selectYearInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err, applog.OpSelect)
		return
	}
	s.withSession(w, r, func(e *sessionEntry) *ResponseBuilder {
		if _, err := e.session.SelectYear(in.Year); err != nil {
			s.logFailure(r, err, applog.OpSelect)
			return errorResponse(err)
		}
		applog.FromContext(r.Context()).DebugContext(r.Context(), "Year selected",
			applog.FieldSessionID, e.id, applog.FieldYear, in.Year)
		return NewResponse().JSON(newSessionView(e.id, e.session))
	})
}

func (s *Server) handleSetMonth(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonth(r.PathValue("month"))
	if err != nil {
		s.fail(w, r, err, applog.OpEdit)
		return
	}
	var in readingInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err, applog.OpEdit)
		return
	}
	value, err := in.reading()
	if err != nil {
		s.fail(w, r, err, applog.OpEdit)
		return
	}

	s.withSession(w, r, func(e *sessionEntry) *ResponseBuilder {
		if err := checkYear(e.session, in.Year); err != nil {
			s.logFailure(r, err, applog.OpEdit)
			return errorResponse(err)
		}
		if _, err := e.session.SetMonth(month, value); err != nil {
			s.logFailure(r, err, applog.OpEdit)
			return errorResponse(err)
		}
		return NewResponse().JSON(newSessionView(e.id, e.session))
	})
}

func (s *Server) handleSetAverage(w http.ResponseWriter, r *http.Request) {
	var in usesAverageInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err, applog.OpEdit)
		return
	}
	s.withSession(w, r, func(e *sessionEntry) *ResponseBuilder {
		if err := checkYear(e.session, in.Year); err != nil {
			s.logFailure(r, err, applog.OpEdit)
			return errorResponse(err)
		}
		if _, err := e.session.SetUsesAverage(in.UsesAverage); err != nil {
			s.logFailure(r, err, applog.OpEdit)
			return errorResponse(err)
		}
		return NewResponse().JSON(newSessionView(e.id, e.session))
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(e *sessionEntry) *ResponseBuilder {
		return NewResponse().JSON(newChangesView(e.session.ChangeSet()))
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(e *sessionEntry) *ResponseBuilder {
		years := e.session.ChangeSet().Years()
		res, err := s.editor.Save(r.Context(), e.session)
		e.session = res.Session
		var warning string
		switch {
		case errors.Is(err, services.ErrReload):
			s.logReloadFailure(r, err)
			warning = "saved, but the stored data could not be reloaded"
		case err != nil:
			s.logFailure(r, err, applog.OpSave)
			return errorResponse(err)
		}
		if len(years) > 0 {
			applog.NewStructuredLogger(applog.FromContext(r.Context())).
				LogChangeSetSaved(r.Context(), e.id, e.session.ParentRef(), years)
		}
		return NewResponse().JSON(saveView{
			Saved:   recordViews(res.Saved),
			Session: newSessionView(e.id, e.session),
			Warning: warning,
		})
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(e *sessionEntry) *ResponseBuilder {
		if err := e.session.Reset(); err != nil {
			s.logFailure(r, err, applog.OpReset)
			return errorResponse(err)
		}
		return NewResponse().JSON(newSessionView(e.id, e.session))
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.close(r.PathValue("id")) {
		s.fail(w, r, errSessionNotFound, applog.OpClose)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}
