package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// PendingSweeper copies up to limit pending records to the sheet and reports
// how many were handled.
type PendingSweeper interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to check for pending records (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of records to process per poll cycle (default: 10)
	BatchSize int

	// StartupBatchSize is used for the first sweep after start (default: 50)
	StartupBatchSize int
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:     30 * time.Second,
		BatchSize:        10,
		StartupBatchSize: 50,
	}
}

// SyncProcessor periodically sweeps records whose sync message was lost.
type SyncProcessor struct {
	sweeper PendingSweeper
	config  SyncProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(sweeper PendingSweeper, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{
		sweeper: sweeper,
		config:  config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("sync processor is already running")
	}
	if p.sweeper == nil {
		p.mu.Unlock()
		return errors.New("sync processor has no sweeper")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	startup := max(p.config.StartupBatchSize, p.config.BatchSize)
	p.sweep(ctx, startup)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx, p.config.BatchSize)
		}
	}
}

func (p *SyncProcessor) sweep(ctx context.Context, limit int) {
	n, err := p.sweeper.ProcessPending(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "Pending sync sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Pending sync sweep completed", "records", n)
	}
}
