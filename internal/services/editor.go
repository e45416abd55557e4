package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"kpiprogress/internal/core"
	"kpiprogress/internal/sheets"
)

// ErrSave marks a change set the backend refused or failed to store.
var ErrSave = errors.New("save change set")

// ErrReload marks a stored change set whose session could not be reloaded
// from the backend. The result then holds a session rebased on the saved
// records instead.
var ErrReload = errors.New("reload session after save")

// Editor is the use-case layer shared by the HTTP and terminal surfaces:
// it opens sessions and saves them.
type Editor struct {
	loader      *SessionLoader
	writer      sheets.ChangeSetWriter
	currentYear func() int
}

// NewEditor wires a loader and a writer. currentYear defaults to the
// calendar year.
func NewEditor(loader *SessionLoader, writer sheets.ChangeSetWriter, currentYear func() int) *Editor {
	if currentYear == nil {
		currentYear = func() int { return time.Now().Year() }
	}
	return &Editor{loader: loader, writer: writer, currentYear: currentYear}
}

// Open starts a session for parentRef.
func (e *Editor) Open(ctx context.Context, parentRef int64) (*core.Session, error) {
	return e.loader.Open(ctx, parentRef, e.currentYear())
}

// SaveResult reports the outcome of Save.
type SaveResult struct {
	Saved   []core.YearRecord
	Session *core.Session
}

// Save writes the meaningful edits of sess. On success the session is
// reopened on the stored state, keeping the selected year when it is still
// offered. An empty change set writes nothing and keeps sess.
func (e *Editor) Save(ctx context.Context, sess *core.Session) (SaveResult, error) {
	cs := sess.ChangeSet()
	if len(cs) == 0 {
		return SaveResult{Session: sess}, nil
	}

	saved, err := e.writer.SaveChangeSet(ctx, sess.ParentRef(), cs)
	if err != nil {
		return SaveResult{Session: sess}, fmt.Errorf("%w: %w", ErrSave, err)
	}
	slog.InfoContext(ctx, "KPI change set saved",
		"connection_id", sess.ParentRef(),
		"years", cs.Years())

	reopened, err := e.loader.Open(ctx, sess.ParentRef(), e.currentYear())
	if err != nil {
		slog.WarnContext(ctx, "Session reload after save failed, rebasing locally",
			"connection_id", sess.ParentRef(), "error", err)
		rebased, rerr := e.rebase(sess, saved)
		if rerr != nil {
			// Keep the edited session; saving it again rewrites the same values.
			return SaveResult{Saved: saved, Session: sess}, fmt.Errorf("%w: %w", ErrReload, errors.Join(err, rerr))
		}
		return SaveResult{Saved: saved, Session: rebased}, fmt.Errorf("%w: %w", ErrReload, err)
	}
	keepSelection(reopened, sess.SelectedYear())
	return SaveResult{Saved: saved, Session: reopened}, nil
}

// rebase starts a clean session whose baseline is the old one with the saved
// records laid over it.
func (e *Editor) rebase(sess *core.Session, saved []core.YearRecord) (*core.Session, error) {
	base := sess.Baseline()
	byYear := make(map[int]core.YearRecord, base.Len()+len(saved))
	for _, y := range base.Years() {
		rec, _ := base.Get(y)
		byYear[y] = rec
	}
	for _, rec := range saved {
		byYear[rec.Year] = rec
	}
	records := make([]core.YearRecord, 0, len(byYear))
	for _, y := range slices.Sorted(maps.Keys(byYear)) {
		records = append(records, byYear[y])
	}

	rebased, err := core.NewSession(core.SessionParams{
		ParentRef:   sess.ParentRef(),
		Baseline:    records,
		Options:     sess.Options(),
		CurrentYear: e.currentYear(),
		Factory:     e.loader.factory,
	})
	if err != nil {
		return nil, err
	}
	keepSelection(rebased, sess.SelectedYear())
	return rebased, nil
}

// keepSelection moves next to year when it is still offered.
func keepSelection(next *core.Session, year int) {
	if core.HasOption(next.Options(), year) {
		_, _ = next.SelectYear(year)
	}
}
