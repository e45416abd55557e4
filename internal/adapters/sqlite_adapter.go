package adapters

import (
	"context"

	"kpiprogress/internal/core"
	"kpiprogress/internal/services"
	"kpiprogress/internal/sheets"
	"kpiprogress/internal/storage"
)

// SQLiteAdapter reads from the SQLite repository and saves through the KPI
// service, so that every save is also queued for the sheet sync.
type SQLiteAdapter struct {
	storage *storage.SQLiteRepository
	service *services.KPIService
}

var (
	_ sheets.YearOptionReader = (*SQLiteAdapter)(nil)
	_ sheets.BaselineReader   = (*SQLiteAdapter)(nil)
	_ sheets.ChangeSetWriter  = (*SQLiteAdapter)(nil)
)

func NewSQLiteAdapter(storage *storage.SQLiteRepository, service *services.KPIService) *SQLiteAdapter {
	return &SQLiteAdapter{
		storage: storage,
		service: service,
	}
}

// ListYearOptions implements sheets.YearOptionReader
func (a *SQLiteAdapter) ListYearOptions(ctx context.Context) ([]core.YearOption, error) {
	return a.storage.ListYearOptions(ctx)
}

// ListYearRecords implements sheets.BaselineReader
func (a *SQLiteAdapter) ListYearRecords(ctx context.Context, parentRef int64) ([]core.YearRecord, error) {
	return a.storage.ListYearRecords(ctx, parentRef)
}

// SaveChangeSet implements sheets.ChangeSetWriter
func (a *SQLiteAdapter) SaveChangeSet(ctx context.Context, parentRef int64, cs core.ChangeSet) ([]core.YearRecord, error) {
	return a.service.SaveChangeSet(ctx, parentRef, cs)
}

// Ping reports database reachability for readiness checks.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	return a.storage.Ping(ctx)
}
