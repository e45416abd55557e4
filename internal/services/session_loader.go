package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kpiprogress/internal/core"
	"kpiprogress/internal/sheets"

	"golang.org/x/sync/errgroup"
)

// ErrLoad marks a session that could not start because its data sources
// failed.
var ErrLoad = errors.New("load session data")

// SessionLoader opens editing sessions from the configured backend.
type SessionLoader struct {
	options  sheets.YearOptionReader
	baseline sheets.BaselineReader
	factory  core.RecordFactory
}

func NewSessionLoader(options sheets.YearOptionReader, baseline sheets.BaselineReader, factory core.RecordFactory) *SessionLoader {
	return &SessionLoader{options: options, baseline: baseline, factory: factory}
}

// Open loads the year options and the parent's stored years concurrently and
// starts a session on them. Both sources are read once; the session works on
// that snapshot until it is closed.
func (l *SessionLoader) Open(ctx context.Context, parentRef int64, currentYear int) (*core.Session, error) {
	var (
		options  []core.YearOption
		baseline []core.YearRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if options, err = l.options.ListYearOptions(gctx); err != nil {
			return fmt.Errorf("list year options: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if baseline, err = l.baseline.ListYearRecords(gctx, parentRef); err != nil {
			return fmt.Errorf("list year records: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "Session data load failed", "connection_id", parentRef, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	session, err := core.NewSession(core.SessionParams{
		ParentRef:   parentRef,
		Baseline:    baseline,
		Options:     options,
		CurrentYear: currentYear,
		Factory:     l.factory,
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Editing session opened",
		"connection_id", parentRef,
		"year", session.SelectedYear(),
		"stored_years", session.Baseline().Len(),
		"options", len(options))
	return session, nil
}
