package usecase

import (
	"context"
	"sync"
	"time"

	"TaPull/internal/domain/models"
	drepo "TaPull/internal/domain/repository"
	"TaPull/pkg/logger"
)

// SnapshotFeed sits between the orchestrator and the downstream consumers.
// Resolved snapshots are offered non-blocking; a full buffer drops rather
// than stalling the drain loop. Live snapshots are batched toward the
// backend; every snapshot (fallbacks included) goes to the broadcast hook.
type SnapshotFeed struct {
	proc      *SnapshotProcessor
	metrics   drepo.Metrics
	log       *logger.Logger
	ch        chan *models.IndicatorSnapshot
	stopCh    chan struct{}
	started   bool
	mu        sync.Mutex
	batchSize int
	batchTO   time.Duration
	broadcast func(*models.IndicatorSnapshot)
}

// FeedOption configures SnapshotFeed.
type FeedOption func(*SnapshotFeed)

// WithFeedBuffer sets the intake buffer size.
func WithFeedBuffer(n int) FeedOption {
	return func(f *SnapshotFeed) {
		if n > 0 {
			f.ch = make(chan *models.IndicatorSnapshot, n)
		}
	}
}

// WithFeedBatch sets the backend batch size and flush timeout.
func WithFeedBatch(size int, timeout time.Duration) FeedOption {
	return func(f *SnapshotFeed) {
		if size > 0 {
			f.batchSize = size
		}
		if timeout > 0 {
			f.batchTO = timeout
		}
	}
}

// WithBroadcast sets a hook invoked for every snapshot, live and fallback.
func WithBroadcast(fn func(*models.IndicatorSnapshot)) FeedOption {
	return func(f *SnapshotFeed) {
		f.broadcast = fn
	}
}

// NewSnapshotFeed creates a feed in front of proc.
func NewSnapshotFeed(proc *SnapshotProcessor, metrics drepo.Metrics, log *logger.Logger, opts ...FeedOption) *SnapshotFeed {
	if log == nil {
		log = logger.Nop()
	}
	f := &SnapshotFeed{
		proc:      proc,
		metrics:   metrics,
		log:       log,
		ch:        make(chan *models.IndicatorSnapshot, 1000),
		stopCh:    make(chan struct{}),
		batchSize: 100,
		batchTO:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Offer hands a snapshot to the feed without blocking. A full buffer drops
// the snapshot and records the loss.
func (f *SnapshotFeed) Offer(s *models.IndicatorSnapshot) {
	if s == nil {
		return
	}
	select {
	case f.ch <- s:
	default:
		f.metrics.RecordError("feed_buffer_full")
	}
}

// Start launches the background consumer.
func (f *SnapshotFeed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go f.consume(ctx)
}

// Stop stops the consumer, flushing any buffered batch first.
func (f *SnapshotFeed) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	f.mu.Unlock()
	close(f.stopCh)
}

func (f *SnapshotFeed) consume(ctx context.Context) {
	ticker := time.NewTicker(f.batchTO)
	defer ticker.Stop()

	buf := make([]*models.IndicatorSnapshot, 0, f.batchSize)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := f.proc.ProcessBatch(ctx, buf); err != nil {
			f.log.Error("feed flush failed", logger.Error(err), logger.Int("snapshots", len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-f.stopCh:
			flush()
			return
		case s := <-f.ch:
			if s == nil {
				continue
			}
			if f.broadcast != nil {
				f.broadcast(s)
			}
			// Fallback data feeds the stream but is never archived.
			if s.IsFallbackData {
				continue
			}
			buf = append(buf, s)
			if len(buf) >= f.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
