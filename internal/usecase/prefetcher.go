package usecase

import (
	"context"
	"sync"
	"time"

	"TaPull/internal/domain/models"
	"TaPull/pkg/logger"
)

// Enqueuer is the minimal orchestrator surface the prefetcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, symbol, interval, exchange string) *models.IndicatorSnapshot
}

// Prefetcher keeps the snapshot cache warm by enqueueing the configured
// symbol x interval matrix on a fixed cycle. Deduplication and the cache make
// redundant cycles cheap.
type Prefetcher struct {
	sched     Enqueuer
	symbols   []string
	intervals []string
	exchange  string
	every     time.Duration
	log       *logger.Logger
	stopCh    chan struct{}
	started   bool
	mu        sync.Mutex
}

// NewPrefetcher creates a prefetcher. A zero interval disables it.
func NewPrefetcher(sched Enqueuer, symbols, intervals []string, exchange string, every time.Duration, log *logger.Logger) *Prefetcher {
	if log == nil {
		log = logger.Nop()
	}
	if len(intervals) == 0 {
		intervals = []string{"1h"}
	}
	return &Prefetcher{
		sched:     sched,
		symbols:   symbols,
		intervals: intervals,
		exchange:  exchange,
		every:     every,
		log:       log,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the warm loop. No-op when disabled or already running.
func (p *Prefetcher) Start(ctx context.Context) {
	if p.every <= 0 || len(p.symbols) == 0 {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop stops the warm loop.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

func (p *Prefetcher) run(ctx context.Context) {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle enqueues the whole matrix sequentially. Enqueue blocks per key until
// resolution, so one cycle naturally paces itself to the rate limiter.
func (p *Prefetcher) cycle(ctx context.Context) {
	start := time.Now()
	fallbacks := 0
	for _, symbol := range p.symbols {
		for _, interval := range p.intervals {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			default:
			}
			snap := p.sched.Enqueue(ctx, symbol, interval, p.exchange)
			if snap.IsFallbackData {
				fallbacks++
			}
		}
	}
	p.log.Debug("prefetch cycle complete",
		logger.Int("symbols", len(p.symbols)),
		logger.Int("intervals", len(p.intervals)),
		logger.Int("fallbacks", fallbacks),
		logger.Duration("took", time.Since(start)))
}
