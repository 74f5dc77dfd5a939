package orchestrator

import (
	"testing"

	"TaPull/internal/domain/repository"
)

func pr(symbol, interval, exchange string) *pendingRequest {
	return &pendingRequest{
		key:    CacheKey(symbol, interval, exchange),
		symbol: symbol,
		req: repository.SymbolRequest{
			ID:       symbol,
			Symbol:   ProviderSymbol(symbol),
			Interval: interval,
			Exchange: exchange,
		},
	}
}

func TestBatchPlanGroupsByIntervalAndExchange(t *testing.T) {
	a := NewBatchAggregator(10, 0)
	queue := []*pendingRequest{
		pr("AUSDT", "1h", "binance"),
		pr("BUSDT", "4h", "binance"), // different interval, stays queued
		pr("CUSDT", "1h", "binance"),
		pr("DUSDT", "1h", "kraken"), // different exchange, stays queued
		pr("EUSDT", "1h", "binance"),
	}

	batch, rest := a.Plan(queue, 10)
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch))
	}
	for i, want := range []string{"AUSDT", "CUSDT", "EUSDT"} {
		if batch[i].symbol != want {
			t.Fatalf("batch[%d] = %s, want %s", i, batch[i].symbol, want)
		}
	}
	if len(rest) != 2 || rest[0].symbol != "BUSDT" || rest[1].symbol != "DUSDT" {
		t.Fatalf("rest should preserve submission order, got %v", symbolsOf(rest))
	}
}

func TestBatchPlanRespectsMaxSize(t *testing.T) {
	a := NewBatchAggregator(10, 0)
	queue := []*pendingRequest{
		pr("AUSDT", "1h", "binance"),
		pr("BUSDT", "1h", "binance"),
		pr("CUSDT", "1h", "binance"),
	}

	batch, rest := a.Plan(queue, 2)
	if len(batch) != 2 || len(rest) != 1 {
		t.Fatalf("maxSize 2: batch=%d rest=%d", len(batch), len(rest))
	}

	// The aggregator's own ceiling also applies.
	small := NewBatchAggregator(1, 0)
	batch, rest = small.Plan(queue, 10)
	if len(batch) != 1 || len(rest) != 2 {
		t.Fatalf("aggregator ceiling 1: batch=%d rest=%d", len(batch), len(rest))
	}
}

func TestBatchPlanEmptyQueue(t *testing.T) {
	a := NewBatchAggregator(5, 0)
	batch, rest := a.Plan(nil, 5)
	if len(batch) != 0 || len(rest) != 0 {
		t.Fatalf("empty queue should plan nothing")
	}
}

func symbolsOf(reqs []*pendingRequest) []string {
	out := make([]string, len(reqs))
	for i, p := range reqs {
		out[i] = p.symbol
	}
	return out
}
