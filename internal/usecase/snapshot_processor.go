package usecase

import (
	"context"
	"fmt"
	"time"

	"TaPull/internal/domain/models"
	drepo "TaPull/internal/domain/repository"
)

// SnapshotProcessor routes resolved indicator snapshots to the configured
// downstream backend. Fallback snapshots are never archived; the caller is
// expected to filter them before Process.
type SnapshotProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewSnapshotProcessor creates a new SnapshotProcessor instance.
func NewSnapshotProcessor(
	pub drepo.Publisher,
	store drepo.Storage,
	metrics drepo.Metrics,
	backend string,
) *SnapshotProcessor {
	return &SnapshotProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Backend returns the configured backend name.
func (p *SnapshotProcessor) Backend() string { return p.backend }

// Process routes a single snapshot to the configured backend.
func (p *SnapshotProcessor) Process(ctx context.Context, s *models.IndicatorSnapshot) error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}

	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.Publish(ctx, s)
	case "clickhouse":
		err = p.store.Store(ctx, s)
	case "none":
		return nil
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process snapshot: %w", err)
	}

	p.metrics.RecordSnapshotSent(p.backend, s.Symbol)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())

	return nil
}

// ProcessBatch routes multiple snapshots in a batch.
func (p *SnapshotProcessor) ProcessBatch(ctx context.Context, snaps []*models.IndicatorSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.PublishBatch(ctx, snaps)
	case "clickhouse":
		err = p.store.StoreBatch(ctx, snaps)
	case "none":
		return nil
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, s := range snaps {
		p.metrics.RecordSnapshotSent(p.backend, s.Symbol)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())

	return nil
}

// Close closes underlying resources if available.
func (p *SnapshotProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
