package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"TaPull/internal/domain/models"
	"TaPull/internal/domain/repository"
	"TaPull/internal/service/taapi"
	"TaPull/pkg/logger"
)

type schedulerState int

const (
	stateIdle schedulerState = iota
	stateDraining
)

// authFailureWeight makes credential failures trip the breaker roughly twice
// as fast as ordinary failures.
const authFailureWeight = 2.0

// Fallback reasons surfaced in snapshot Reason fields and metrics labels.
const (
	reasonUnsupported      = "unsupported_symbol"
	reasonCanceled         = "context_canceled"
	reasonCircuitOpen      = "circuit_open"
	reasonRateLimited      = "rate_limited"
	reasonMissingFromBatch = "missing_from_batch"
	reasonThrottled        = "throttled"
	reasonEntitlement      = "entitlement_denied"
	reasonMalformed        = "malformed_symbol"
	reasonAuth             = "auth_failure"
	reasonTransient        = "transient_error"
	reasonForcedReset      = "forced_reset"
)

// SchedulerConfig tunes the drain loop.
type SchedulerConfig struct {
	// RequestTimeout is the per-provider-call deadline. Expiry counts as a
	// transient failure.
	RequestTimeout time.Duration
	// InterCallPause is an extra pause between sequential single calls, on
	// top of the rate limiter spacing.
	InterCallPause time.Duration
	// Exchange is used when the caller omits one.
	Exchange string
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Scheduler is the request orchestrator. It deduplicates concurrent requests
// per (symbol, interval, exchange) key, drains the queue on a single
// goroutine, and resolves every caller exactly once — with live data when the
// provider cooperates and a tagged fallback snapshot when it does not.
// Enqueue never returns an error.
type Scheduler struct {
	mu      sync.Mutex
	state   schedulerState
	queue   []*pendingRequest
	pending map[string]*pendingRequest

	source   repository.IndicatorSource
	cache    *SnapshotCache
	breaker  *CircuitBreaker
	limiter  *RateLimiter
	caps     *CapabilityManager
	fallback *FallbackProvider
	batcher  *BatchAggregator
	metrics  repository.Metrics
	log      *logger.Logger

	requestTimeout time.Duration
	interCallPause time.Duration
	exchange       string
	now            func() time.Time
	seq            atomic.Uint64

	onResolve func(*models.IndicatorSnapshot)
}

// NewScheduler wires an orchestrator instance. Instances share nothing;
// breaker, limiter, queue and capability state are all per-instance.
func NewScheduler(
	source repository.IndicatorSource,
	cache *SnapshotCache,
	breaker *CircuitBreaker,
	limiter *RateLimiter,
	caps *CapabilityManager,
	fallback *FallbackProvider,
	batcher *BatchAggregator,
	metrics repository.Metrics,
	log *logger.Logger,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "binance"
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		pending:        make(map[string]*pendingRequest),
		source:         source,
		cache:          cache,
		breaker:        breaker,
		limiter:        limiter,
		caps:           caps,
		fallback:       fallback,
		batcher:        batcher,
		metrics:        metrics,
		log:            log,
		requestTimeout: cfg.RequestTimeout,
		interCallPause: cfg.InterCallPause,
		exchange:       cfg.Exchange,
		now:            cfg.Now,
	}
}

// SetOnResolve registers a callback invoked for every resolved snapshot
// (live, batch and fallback). Set it before the first Enqueue.
func (s *Scheduler) SetOnResolve(fn func(*models.IndicatorSnapshot)) {
	s.mu.Lock()
	s.onResolve = fn
	s.mu.Unlock()
}

// Enqueue requests the indicator set for a symbol. It always returns a
// snapshot: cached, live, or an explicitly tagged fallback. Failure is
// encoded in the snapshot's Source/IsFallbackData fields, never as an error.
func (s *Scheduler) Enqueue(ctx context.Context, symbol, interval, exchange string) *models.IndicatorSnapshot {
	symbol = NormalizeSymbol(symbol)
	interval = string(repository.NormalizeInterval(interval))
	if exchange == "" {
		exchange = s.exchange
	}
	key := CacheKey(symbol, interval, exchange)

	if snap := s.cache.Get(ctx, key); snap != nil {
		s.metrics.RecordCacheLookup(true)
		return snap
	}
	s.metrics.RecordCacheLookup(false)

	if s.caps.Route(symbol) == RouteFallbackOnly {
		s.metrics.RecordFallback(reasonUnsupported)
		return s.fallback.Build(symbol, interval, exchange, reasonUnsupported)
	}

	s.mu.Lock()
	if p, ok := s.pending[key]; ok {
		ch := p.addWaiter()
		s.mu.Unlock()
		return s.await(ctx, ch, symbol, interval, exchange)
	}

	p := &pendingRequest{
		key:    key,
		symbol: symbol,
		req: repository.SymbolRequest{
			ID:       strconv.FormatUint(s.seq.Add(1), 10),
			Symbol:   ProviderSymbol(symbol),
			Interval: interval,
			Exchange: exchange,
		},
		createdAt: s.now(),
	}
	ch := p.addWaiter()
	s.pending[key] = p
	s.queue = append(s.queue, p)
	s.metrics.RecordQueueDepth(len(s.queue))
	if s.state == stateIdle {
		s.state = stateDraining
		go s.drain()
	}
	s.mu.Unlock()

	return s.await(ctx, ch, symbol, interval, exchange)
}

func (s *Scheduler) await(ctx context.Context, ch <-chan *models.IndicatorSnapshot, symbol, interval, exchange string) *models.IndicatorSnapshot {
	select {
	case snap := <-ch:
		return snap
	case <-ctx.Done():
		// The waiter channel is buffered; the eventual resolution is
		// discarded without blocking the drain loop.
		s.metrics.RecordFallback(reasonCanceled)
		return s.fallback.Build(symbol, interval, exchange, reasonCanceled)
	}
}

// drain is the single consumer of the queue. Exactly one drain runs per
// instance, guarded by the Idle/Draining state under the scheduler mutex.
func (s *Scheduler) drain() {
	ctx := context.Background()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.state = stateIdle
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if !s.breaker.Allow() {
			// Backpressure release valve: an open breaker must never
			// leave callers waiting.
			s.flushAllWithFallback(ctx, reasonCircuitOpen)
			continue
		}
		s.metrics.RecordBreakerOpen(false)

		s.caps.RefreshIfStale(ctx)

		batch := s.nextBatch()
		if len(batch) == 0 {
			continue
		}

		if err := s.limiter.AwaitClearance(ctx); err != nil {
			s.resolveFallback(batch, reasonRateLimited)
			continue
		}

		if len(batch) == 1 {
			s.fetchSingle(ctx, batch[0])
			if s.interCallPause > 0 {
				time.Sleep(s.interCallPause)
			}
			continue
		}
		s.fetchBatch(ctx, batch)
	}
}

// nextBatch pops the next unit of work: a bulk batch when the plan tier
// permits, otherwise the single front request.
func (s *Scheduler) nextBatch() []*pendingRequest {
	limits := s.caps.Tier().Limits()
	if limits.BulkAllowed && s.batcher != nil {
		if d := s.batcher.Delay(); d > 0 {
			time.Sleep(d)
		}
		s.mu.Lock()
		batch, rest := s.batcher.Plan(s.queue, limits.MaxBatchSize)
		s.queue = rest
		s.metrics.RecordQueueDepth(len(s.queue))
		s.mu.Unlock()
		return batch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	s.metrics.RecordQueueDepth(len(s.queue))
	return []*pendingRequest{p}
}

func (s *Scheduler) fetchSingle(ctx context.Context, p *pendingRequest) {
	cctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.source.FetchSymbol(cctx, p.req)
	s.metrics.RecordLatency("fetch_single", time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderCall("single", "error")
		s.handleFailure(ctx, []*pendingRequest{p}, err)
		return
	}

	s.metrics.RecordProviderCall("single", "ok")
	s.breaker.RecordSuccess()
	snap.Symbol = p.symbol
	s.cache.Set(ctx, p.key, snap)
	s.resolve(p, snap)
}

func (s *Scheduler) fetchBatch(ctx context.Context, batch []*pendingRequest) {
	reqs := make([]repository.SymbolRequest, 0, len(batch))
	for _, p := range batch {
		reqs = append(reqs, p.req)
	}

	cctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.source.FetchBulk(cctx, reqs)
	s.metrics.RecordLatency("fetch_bulk", time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderCall("bulk", "error")
		s.handleFailure(ctx, batch, err)
		return
	}

	s.metrics.RecordProviderCall("bulk", "ok")
	s.breaker.RecordSuccess()
	for _, p := range batch {
		snap, ok := results[p.req.ID]
		if !ok {
			// One missing or malformed slice never fails the whole batch.
			s.metrics.RecordFallback(reasonMissingFromBatch)
			s.resolve(p, s.fallback.Build(p.symbol, p.req.Interval, p.req.Exchange, reasonMissingFromBatch))
			continue
		}
		snap.Symbol = p.symbol
		s.cache.Set(ctx, p.key, snap)
		s.resolve(p, snap)
	}
}

// handleFailure is the single place provider failures feed the breaker,
// blacklist and rate limiter.
func (s *Scheduler) handleFailure(ctx context.Context, batch []*pendingRequest, err error) {
	class := taapi.ClassOf(err)
	s.log.Warn("provider call failed",
		logger.Error(err),
		logger.String("class", string(class)),
		logger.Int("requests", len(batch)))
	s.metrics.RecordError(string(class))

	opened := false
	var reason string
	switch class {
	case taapi.ClassThrottled:
		s.limiter.MarkThrottled()
		reason = reasonThrottled
	case taapi.ClassEntitlementDenied:
		for _, p := range batch {
			s.caps.MarkUnsupported(p.symbol)
		}
		if entitled := taapi.EntitledOf(err); len(entitled) > 0 {
			s.caps.ApplyEntitlements(entitled)
		}
		opened = s.breaker.RecordFailure(1)
		reason = reasonEntitlement
	case taapi.ClassMalformedSymbol:
		for _, p := range batch {
			s.caps.MarkUnsupported(p.symbol)
		}
		reason = reasonMalformed
	case taapi.ClassAuthFailure:
		opened = s.breaker.RecordFailure(authFailureWeight)
		reason = reasonAuth
	default:
		opened = s.breaker.RecordFailure(1)
		reason = reasonTransient
	}

	s.resolveFallback(batch, reason)

	if opened {
		s.metrics.RecordBreakerOpen(true)
		s.log.Error("circuit breaker opened", logger.Float64("errors", s.breakerErrors()))
		s.flushAllWithFallback(ctx, reasonCircuitOpen)
	}
}

func (s *Scheduler) breakerErrors() float64 {
	_, errs, _ := s.breaker.State()
	return errs
}

func (s *Scheduler) resolveFallback(batch []*pendingRequest, reason string) {
	for _, p := range batch {
		s.metrics.RecordFallback(reason)
		s.resolve(p, s.fallback.Build(p.symbol, p.req.Interval, p.req.Exchange, reason))
	}
}

// flushAllWithFallback resolves every queued request with a fallback snapshot
// and empties the queue.
func (s *Scheduler) flushAllWithFallback(_ context.Context, reason string) {
	s.mu.Lock()
	q := s.queue
	s.queue = nil
	s.metrics.RecordQueueDepth(0)
	s.mu.Unlock()

	for _, p := range q {
		s.metrics.RecordFallback(reason)
		s.resolve(p, s.fallback.Build(p.symbol, p.req.Interval, p.req.Exchange, reason))
	}
}

// resolve destroys the pending request and fans the snapshot out to every
// waiter exactly once.
func (s *Scheduler) resolve(p *pendingRequest, snap *models.IndicatorSnapshot) {
	s.mu.Lock()
	delete(s.pending, p.key)
	p.complete(snap)
	fn := s.onResolve
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Health reports the operator-facing state summary.
func (s *Scheduler) Health() models.OrchestratorHealth {
	open, errs, reopenAt := s.breaker.State()
	limited, until := s.limiter.State()
	supported, blacklisted := s.caps.Counts()

	s.mu.Lock()
	queueLen := len(s.queue)
	s.mu.Unlock()

	return models.OrchestratorHealth{
		BreakerOpen:       open,
		ConsecutiveErrors: errs,
		BreakerReopenAt:   reopenAt,
		RateLimited:       limited,
		RateLimitedUntil:  until,
		QueueLength:       queueLen,
		CacheSize:         s.cache.Size(),
		PlanTier:          s.caps.Tier(),
		SupportedSymbols:  supported,
		BlacklistedCount:  blacklisted,
	}
}

// ForceReset is the operator escape hatch: clears breaker, rate-limit, cache
// and blacklist state, and drains the queue with fallback data.
func (s *Scheduler) ForceReset(ctx context.Context) {
	s.log.Warn("orchestrator force reset")
	s.breaker.Reset()
	s.limiter.Reset()
	s.cache.Purge()
	s.caps.Reset()
	s.flushAllWithFallback(ctx, reasonForcedReset)
	s.metrics.RecordBreakerOpen(false)
}

// ForceFlush triggers an immediate drain attempt if one is not running.
func (s *Scheduler) ForceFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateIdle && len(s.queue) > 0 {
		s.state = stateDraining
		go s.drain()
	}
}

// noopMetrics keeps the scheduler usable without a recorder.
type noopMetrics struct{}

func (noopMetrics) RecordProviderCall(string, string) {}
func (noopMetrics) RecordCacheLookup(bool)            {}
func (noopMetrics) RecordFallback(string)             {}
func (noopMetrics) RecordBreakerOpen(bool)            {}
func (noopMetrics) RecordQueueDepth(int)              {}
func (noopMetrics) RecordLatency(string, float64)     {}
func (noopMetrics) RecordError(string)                {}
func (noopMetrics) RecordSnapshotSent(string, string) {}
