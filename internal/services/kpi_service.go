package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kpiprogress/internal/amqp"
	"kpiprogress/internal/core"
	"kpiprogress/internal/sheets"
	"kpiprogress/internal/storage"
)

type versionedStore interface {
	SaveChangeSetVersions(ctx context.Context, parentRef int64, cs core.ChangeSet) ([]storage.StoredYearRecord, error)
	Close() error
}

type syncPublisher interface {
	PublishKPISync(ctx context.Context, id, version, connectionID int64, year int) error
	Close() error
}

// KPIService orchestrates KPI saves across SQLite and AMQP.
type KPIService struct {
	storage   versionedStore
	publisher syncPublisher
}

var _ sheets.ChangeSetWriter = (*KPIService)(nil)

// NewKPIService wires the repository with an optional AMQP client.
func NewKPIService(repo *storage.SQLiteRepository, amqpClient *amqp.Client) *KPIService {
	s := &KPIService{}
	if repo != nil {
		s.storage = repo
	}
	if amqpClient != nil {
		s.publisher = amqpClient
	}
	return s
}

// SaveChangeSet stores the change set locally, then announces every written
// record to the sync queue. Publishing is best effort: a failed publish is
// picked up later by the pending sweep.
func (s *KPIService) SaveChangeSet(ctx context.Context, parentRef int64, cs core.ChangeSet) ([]core.YearRecord, error) {
	if s.storage == nil {
		return nil, errors.New("storage not configured")
	}
	if len(cs) == 0 {
		return nil, nil
	}

	stored, err := s.storage.SaveChangeSetVersions(ctx, parentRef, cs)
	if err != nil {
		return nil, fmt.Errorf("save change set: %w", err)
	}

	out := make([]core.YearRecord, 0, len(stored))
	for _, st := range stored {
		out = append(out, st.Record)
		if err := s.publishSyncMessage(ctx, st); err != nil {
			slog.ErrorContext(ctx, "Failed to publish sync message",
				"id", st.Record.ID,
				"year", st.Record.Year,
				"error", err)
		}
	}
	return out, nil
}

func (s *KPIService) publishSyncMessage(ctx context.Context, st storage.StoredYearRecord) error {
	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping sync message")
		return nil
	}
	return s.publisher.PublishKPISync(ctx, st.Record.ID, st.Version, st.Record.ParentRef, st.Record.Year)
}

// Close closes both storage and AMQP connections
func (s *KPIService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close kpi service: %w", errors.Join(errs...))
	}
	return nil
}
