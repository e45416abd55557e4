package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kpiprogress/internal/amqp"
	"kpiprogress/internal/sheets"
	"kpiprogress/internal/storage"
)

type recordStore interface {
	GetYearRecord(ctx context.Context, id int64) (*storage.StoredYearRecord, error)
	GetPendingSync(ctx context.Context, limit int) ([]storage.PendingSync, error)
	MarkSynced(ctx context.Context, id, version int64) error
	MarkSyncError(ctx context.Context, id int64) error
}

// SyncWorker copies stored KPI years from SQLite to Google Sheets.
type SyncWorker struct {
	storage recordStore
	sheets  sheets.YearRecordWriter
}

func NewSyncWorker(storage *storage.SQLiteRepository, sheets sheets.YearRecordWriter) *SyncWorker {
	return &SyncWorker{storage: storage, sheets: sheets}
}

// HandleSyncMessage processes a single sync message from AMQP. Messages for
// a version older than the stored one are acknowledged without writing; the
// newer version has its own message.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.KPISyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"id", msg.ID,
		"version", msg.Version,
		"connection_id", msg.ConnectionID,
		"year", msg.Year)

	stored, err := w.storage.GetYearRecord(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Sync message for unknown record, dropping", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get year record from storage: %w", err)
	}

	if stored.Version > msg.Version {
		slog.InfoContext(ctx, "Skipping stale sync message",
			"id", msg.ID,
			"message_version", msg.Version,
			"stored_version", stored.Version)
		return nil
	}
	if stored.SyncStatus == storage.SyncSynced && stored.Version == msg.Version {
		slog.DebugContext(ctx, "Record already synced", "id", msg.ID, "version", msg.Version)
		return nil
	}

	if err := w.syncToSheets(ctx, stored); err != nil {
		return fmt.Errorf("sync year record to sheets: %w", err)
	}
	return nil
}

// ProcessPending syncs up to limit records that have not been synced yet.
// This is a backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := w.storage.GetPendingSync(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending records: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending records", "count", len(pending))

	synced := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		stored, err := w.storage.GetYearRecord(ctx, p.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to get year record", "id", p.ID, "error", err)
			if err := w.storage.MarkSyncError(ctx, p.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error", "id", p.ID, "error", err)
			}
			continue
		}
		if err := w.syncToSheets(ctx, stored); err != nil {
			slog.ErrorContext(ctx, "Failed to sync year record", "id", p.ID, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

func (w *SyncWorker) syncToSheets(ctx context.Context, stored *storage.StoredYearRecord) error {
	rec := stored.Record
	ref, err := w.sheets.UpsertYearRecord(ctx, rec)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, rec.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", rec.ID, "error", markErr)
		}
		return fmt.Errorf("upsert to sheets: %w", err)
	}

	// The copy exists; a failure here only means one redundant rewrite later.
	if err := w.storage.MarkSynced(ctx, rec.ID, stored.Version); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", rec.ID, "error", err)
	}

	slog.InfoContext(ctx, "Successfully synced year record",
		"id", rec.ID,
		"version", stored.Version,
		"connection_id", rec.ParentRef,
		"year", rec.Year,
		"sheets_ref", ref)
	return nil
}
