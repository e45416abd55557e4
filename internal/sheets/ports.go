package sheets

import (
	"context"

	"kpiprogress/internal/core"
)

// Ports for outbound adapters.
type (
	// YearOptionReader supplies the selectable years, already ordered.
	YearOptionReader interface {
		ListYearOptions(ctx context.Context) ([]core.YearOption, error)
	}

	// BaselineReader loads the stored KPI years of a parent entity.
	BaselineReader interface {
		ListYearRecords(ctx context.Context, parentRef int64) ([]core.YearRecord, error)
	}

	// ChangeSetWriter persists the meaningful edits of a session and returns
	// the stored records with their ids.
	ChangeSetWriter interface {
		SaveChangeSet(ctx context.Context, parentRef int64, cs core.ChangeSet) ([]core.YearRecord, error)
	}

	// YearRecordWriter writes a single record to a downstream copy.
	YearRecordWriter interface {
		UpsertYearRecord(ctx context.Context, rec core.YearRecord) (rowRef string, err error)
	}
)
