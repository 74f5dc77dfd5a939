package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"TaPull/internal/domain/models"
	"TaPull/internal/domain/repository"
	"TaPull/internal/service/taapi"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errNoEntitlements = errors.New("entitlements not configured")

type fakeSource struct {
	mu          sync.Mutex
	singleCalls int
	bulkCalls   int
	callOrder   []string
	fetchFn     func(repository.SymbolRequest) (*models.IndicatorSnapshot, error)
	bulkFn      func([]repository.SymbolRequest) (map[string]*models.IndicatorSnapshot, error)
	entitled    []string
}

func liveSnap(req repository.SymbolRequest) *models.IndicatorSnapshot {
	return &models.IndicatorSnapshot{
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Exchange: req.Exchange,
		Values: map[string]float64{
			models.KeyRSI: 65.4,
			models.KeyADX: 31.2,
		},
		Source:             models.SourceLive,
		RealIndicatorCount: 2,
		Timestamp:          time.Now().UTC(),
	}
}

func (f *fakeSource) FetchSymbol(_ context.Context, req repository.SymbolRequest) (*models.IndicatorSnapshot, error) {
	f.mu.Lock()
	f.singleCalls++
	f.callOrder = append(f.callOrder, req.Symbol)
	fn := f.fetchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return liveSnap(req), nil
}

func (f *fakeSource) FetchBulk(_ context.Context, reqs []repository.SymbolRequest) (map[string]*models.IndicatorSnapshot, error) {
	f.mu.Lock()
	f.bulkCalls++
	fn := f.bulkFn
	f.mu.Unlock()
	if fn != nil {
		return fn(reqs)
	}
	out := make(map[string]*models.IndicatorSnapshot, len(reqs))
	for _, req := range reqs {
		snap := liveSnap(req)
		snap.Source = models.SourceBatch
		out[req.ID] = snap
	}
	return out, nil
}

func (f *fakeSource) Entitlements(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entitled == nil {
		return nil, errNoEntitlements
	}
	return f.entitled, nil
}

func (f *fakeSource) calls() (single, bulk int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.singleCalls, f.bulkCalls
}

type envConfig struct {
	ttl        time.Duration
	maxErrors  float64
	resetWin   time.Duration
	minDelay   time.Duration
	cooldown   time.Duration
	batchSize  int
	batchDelay time.Duration
	reqTimeout time.Duration
}

type testEnv struct {
	src     *fakeSource
	clock   *fakeClock
	cache   *SnapshotCache
	breaker *CircuitBreaker
	limiter *RateLimiter
	caps    *CapabilityManager
	sched   *Scheduler
}

func newTestEnv(src *fakeSource, cfg envConfig) *testEnv {
	if cfg.ttl == 0 {
		cfg.ttl = time.Minute
	}
	if cfg.maxErrors == 0 {
		cfg.maxErrors = 5
	}
	if cfg.resetWin == 0 {
		cfg.resetWin = 5 * time.Minute
	}
	if cfg.batchSize == 0 {
		cfg.batchSize = 10
	}
	if cfg.reqTimeout == 0 {
		cfg.reqTimeout = time.Second
	}

	clock := newFakeClock()
	cache := NewSnapshotCache(cfg.ttl, nil, clock.Now)
	breaker := NewCircuitBreaker(cfg.maxErrors, cfg.resetWin, clock.Now)
	limiter := NewRateLimiter(cfg.minDelay, cfg.cooldown, clock.Now)
	caps := NewCapabilityManager(src, 24*time.Hour, nil, clock.Now)
	fallback := NewFallbackProvider(clock.Now)
	batcher := NewBatchAggregator(cfg.batchSize, cfg.batchDelay)
	sched := NewScheduler(src, cache, breaker, limiter, caps, fallback, batcher, nil, nil,
		SchedulerConfig{RequestTimeout: cfg.reqTimeout})

	return &testEnv{
		src:     src,
		clock:   clock,
		cache:   cache,
		breaker: breaker,
		limiter: limiter,
		caps:    caps,
		sched:   sched,
	}
}

func TestEnqueueDeduplicatesConcurrentCallers(t *testing.T) {
	src := &fakeSource{}
	src.fetchFn = func(req repository.SymbolRequest) (*models.IndicatorSnapshot, error) {
		time.Sleep(50 * time.Millisecond) // hold the call so all callers attach
		return liveSnap(req), nil
	}
	env := newTestEnv(src, envConfig{})

	const n = 8
	var wg sync.WaitGroup
	snaps := make([]*models.IndicatorSnapshot, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i] = env.sched.Enqueue(context.Background(), "BTCUSDT", "1h", "binance")
		}(i)
	}
	wg.Wait()

	single, _ := src.calls()
	if single != 1 {
		t.Fatalf("expected exactly 1 provider call, got %d", single)
	}
	for i, snap := range snaps {
		if snap == nil || snap.IsFallbackData {
			t.Fatalf("caller %d got fallback or nil snapshot: %+v", i, snap)
		}
		if snap != snaps[0] {
			t.Fatalf("caller %d got a different snapshot instance", i)
		}
	}
}

func TestCacheHitAndExpiry(t *testing.T) {
	src := &fakeSource{}
	env := newTestEnv(src, envConfig{ttl: time.Minute})
	ctx := context.Background()

	first := env.sched.Enqueue(ctx, "ETHUSDT", "1h", "binance")
	if first.IsFallbackData {
		t.Fatalf("first enqueue should be live, got reason %q", first.Reason)
	}

	second := env.sched.Enqueue(ctx, "ETHUSDT", "1h", "binance")
	if single, _ := src.calls(); single != 1 {
		t.Fatalf("cache hit should not call the provider, calls=%d", single)
	}
	if second != first {
		t.Fatalf("cached snapshot should be returned verbatim")
	}

	env.clock.Advance(time.Minute) // exactly ttl: entry is stale
	third := env.sched.Enqueue(ctx, "ETHUSDT", "1h", "binance")
	if single, _ := src.calls(); single != 2 {
		t.Fatalf("expired entry should trigger a fresh fetch, calls=%d", single)
	}
	if third.IsFallbackData {
		t.Fatalf("refetch should be live")
	}
}

func TestBreakerTripAndRecover(t *testing.T) {
	src := &fakeSource{}
	src.fetchFn = func(repository.SymbolRequest) (*models.IndicatorSnapshot, error) {
		return nil, &taapi.ProviderError{Class: taapi.ClassTransient, Message: "connection refused"}
	}
	env := newTestEnv(src, envConfig{maxErrors: 3, resetWin: 5 * time.Minute})
	ctx := context.Background()

	symbols := []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"}
	for _, sym := range symbols {
		snap := env.sched.Enqueue(ctx, sym, "1h", "binance")
		if !snap.IsFallbackData {
			t.Fatalf("failing provider must yield fallback for %s", sym)
		}
	}
	if open, _, _ := env.breaker.State(); !open {
		t.Fatalf("breaker should be open after 3 consecutive failures")
	}

	before, _ := src.calls()
	snap := env.sched.Enqueue(ctx, "DDDUSDT", "1h", "binance")
	if !snap.IsFallbackData || snap.Reason != "circuit_open" {
		t.Fatalf("open breaker must resolve with circuit_open fallback, got %+v", snap)
	}
	if after, _ := src.calls(); after != before {
		t.Fatalf("open breaker must not call the provider")
	}

	// After the reset window the next enqueue attempts a real call.
	env.clock.Advance(5 * time.Minute)
	src.fetchFn = nil
	recovered := env.sched.Enqueue(ctx, "EEEUSDT", "1h", "binance")
	if recovered.IsFallbackData {
		t.Fatalf("breaker should auto-close after reset window, got reason %q", recovered.Reason)
	}
	if after, _ := src.calls(); after != before+1 {
		t.Fatalf("expected one outbound attempt after recovery, got %d", after-before)
	}
}

func TestBlacklistIntegrity(t *testing.T) {
	src := &fakeSource{}
	transient := true
	src.fetchFn = func(repository.SymbolRequest) (*models.IndicatorSnapshot, error) {
		if transient {
			return nil, &taapi.ProviderError{Class: taapi.ClassTransient, Message: "timeout"}
		}
		return nil, &taapi.ProviderError{Class: taapi.ClassEntitlementDenied, StatusCode: 403, Message: "plan does not allow this symbol"}
	}
	env := newTestEnv(src, envConfig{maxErrors: 50})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.sched.Enqueue(ctx, "DOGEUSDT", "1h", "binance")
	}
	if !env.caps.IsServable("DOGEUSDT") {
		t.Fatalf("transient failures must never blacklist a symbol")
	}

	transient = false
	snap := env.sched.Enqueue(ctx, "DOGEUSDT", "1h", "binance")
	if !snap.IsFallbackData {
		t.Fatalf("entitlement denial must yield fallback")
	}
	if env.caps.IsServable("DOGEUSDT") {
		t.Fatalf("one 403 must blacklist the symbol")
	}

	// Blacklisted symbol short-circuits without touching the queue.
	before, _ := src.calls()
	again := env.sched.Enqueue(ctx, "DOGEUSDT", "1h", "binance")
	if again.Reason != "unsupported_symbol" {
		t.Fatalf("expected unsupported_symbol short-circuit, got %q", again.Reason)
	}
	if after, _ := src.calls(); after != before {
		t.Fatalf("blacklisted symbol must not reach the provider")
	}
}

func TestBatchDemuxMissingSymbol(t *testing.T) {
	symbols := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT"}

	entitled := make([]string, 0, 30)
	for _, s := range symbols {
		entitled = append(entitled, ProviderSymbol(s))
	}
	for i := len(entitled); i < 30; i++ { // 30 symbols => pro tier, bulk allowed
		entitled = append(entitled, fmt.Sprintf("FIL%02d/USDT", i))
	}

	src := &fakeSource{entitled: entitled}
	src.bulkFn = func(reqs []repository.SymbolRequest) (map[string]*models.IndicatorSnapshot, error) {
		out := make(map[string]*models.IndicatorSnapshot, len(reqs))
		for _, req := range reqs {
			if req.Symbol == ProviderSymbol("CUSDT") {
				continue // provider omitted this symbol's result
			}
			snap := liveSnap(req)
			snap.Source = models.SourceBatch
			out[req.ID] = snap
		}
		return out, nil
	}
	env := newTestEnv(src, envConfig{batchSize: 10, batchDelay: 100 * time.Millisecond})
	env.caps.ApplyEntitlements(entitled)

	var wg sync.WaitGroup
	results := make(map[string]*models.IndicatorSnapshot, len(symbols))
	var mu sync.Mutex
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			snap := env.sched.Enqueue(context.Background(), sym, "1h", "binance")
			mu.Lock()
			results[sym] = snap
			mu.Unlock()
		}(sym)
	}
	wg.Wait()

	for _, sym := range symbols {
		snap := results[sym]
		if sym == "CUSDT" {
			if !snap.IsFallbackData || snap.Reason != "missing_from_batch" {
				t.Fatalf("omitted symbol should get missing_from_batch fallback, got %+v", snap)
			}
			continue
		}
		if snap.IsFallbackData {
			t.Fatalf("%s should have live batch data, got reason %q", sym, snap.Reason)
		}
		if snap.Source != models.SourceBatch {
			t.Fatalf("%s expected batch source, got %s", sym, snap.Source)
		}
	}
	if env.caps.IsServable("CUSDT") != true {
		t.Fatalf("a missing batch slice must not blacklist the symbol")
	}
}

func TestRoutingShortCircuitSkipsRateLimiter(t *testing.T) {
	src := &fakeSource{}
	env := newTestEnv(src, envConfig{minDelay: time.Hour})
	env.caps.MarkUnsupported("XRPUSDT")

	done := make(chan *models.IndicatorSnapshot, 1)
	go func() {
		done <- env.sched.Enqueue(context.Background(), "XRPUSDT", "1h", "binance")
	}()

	select {
	case snap := <-done:
		if !snap.IsFallbackData || snap.Reason != "unsupported_symbol" {
			t.Fatalf("expected immediate unsupported fallback, got %+v", snap)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("blacklisted symbol must resolve without waiting on the rate limiter")
	}
	if single, bulk := src.calls(); single != 0 || bulk != 0 {
		t.Fatalf("short-circuit must not reach the provider (single=%d bulk=%d)", single, bulk)
	}
}

func TestNoHangWhenProviderUnreachable(t *testing.T) {
	src := &fakeSource{}
	src.fetchFn = func(repository.SymbolRequest) (*models.IndicatorSnapshot, error) {
		return nil, &taapi.ProviderError{Class: taapi.ClassTransient, Message: "no route to host"}
	}
	env := newTestEnv(src, envConfig{maxErrors: 5})

	const n = 100
	var wg sync.WaitGroup
	fallbacks := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := "S" + string(rune('A'+i%26)) + string(rune('A'+(i/26)%26)) + "USDT"
			snap := env.sched.Enqueue(context.Background(), sym, "1h", "binance")
			fallbacks[i] = snap != nil && snap.IsFallbackData
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("enqueue calls hung with unreachable provider")
	}
	for i, ok := range fallbacks {
		if !ok {
			t.Fatalf("caller %d did not receive a fallback snapshot", i)
		}
	}
}

func TestForceResetResolvesEverything(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{}
	src.fetchFn = func(req repository.SymbolRequest) (*models.IndicatorSnapshot, error) {
		<-block
		return nil, &taapi.ProviderError{Class: taapi.ClassTransient, Message: "aborted"}
	}
	env := newTestEnv(src, envConfig{reqTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	var mu sync.Mutex
	reasons := make([]string, 0, 3)
	for _, sym := range []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			snap := env.sched.Enqueue(context.Background(), sym, "1h", "binance")
			mu.Lock()
			reasons = append(reasons, snap.Reason)
			mu.Unlock()
		}(sym)
	}

	time.Sleep(100 * time.Millisecond) // let the drain pick up the first request
	env.sched.ForceReset(context.Background())
	close(block) // release the in-flight call

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("force reset left callers waiting")
	}

	mu.Lock()
	defer mu.Unlock()
	forced := 0
	for _, r := range reasons {
		if r == "forced_reset" {
			forced++
		}
	}
	if forced < 2 {
		t.Fatalf("queued requests should resolve with forced_reset, reasons=%v", reasons)
	}
}

func TestRateLimitedQueueFailsFast(t *testing.T) {
	src := &fakeSource{}
	env := newTestEnv(src, envConfig{cooldown: time.Hour})
	env.limiter.MarkThrottled()

	snap := env.sched.Enqueue(context.Background(), "BTCUSDT", "1h", "binance")
	if !snap.IsFallbackData || snap.Reason != "rate_limited" {
		t.Fatalf("throttle cooldown should resolve with rate_limited fallback, got %+v", snap)
	}
	if single, _ := src.calls(); single != 0 {
		t.Fatalf("no provider call expected during cooldown, got %d", single)
	}
}
