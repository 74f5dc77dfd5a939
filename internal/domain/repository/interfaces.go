package repository

import (
	"context"
	"time"

	"TaPull/internal/domain/models"
)

// SymbolRequest describes one symbol the provider should compute the full
// indicator set for. ID is the correlation id used to demultiplex bulk
// responses; Symbol is in the provider's slash-delimited form.
type SymbolRequest struct {
	ID       string
	Symbol   string
	Interval string
	Exchange string
}

// IndicatorSource abstracts the external indicator provider.
type IndicatorSource interface {
	// FetchSymbol retrieves the full indicator set for one symbol via
	// single-indicator calls.
	FetchSymbol(ctx context.Context, req SymbolRequest) (*models.IndicatorSnapshot, error)
	// FetchBulk retrieves indicator sets for several symbols in one provider
	// call. The result map is keyed by SymbolRequest.ID; a request missing
	// from the map produced no usable data.
	FetchBulk(ctx context.Context, reqs []SymbolRequest) (map[string]*models.IndicatorSnapshot, error)
	// Entitlements returns the provider-form symbols permitted under the
	// active credentials.
	Entitlements(ctx context.Context) ([]string, error)
}

// Publisher delivers resolved snapshots to the downstream pipeline.
type Publisher interface {
	Publish(ctx context.Context, s *models.IndicatorSnapshot) error
	PublishBatch(ctx context.Context, snaps []*models.IndicatorSnapshot) error
	Close() error
}

// Storage archives resolved snapshots.
type Storage interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, s *models.IndicatorSnapshot) error
	StoreBatch(ctx context.Context, snaps []*models.IndicatorSnapshot) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.IndicatorSnapshot, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics records orchestrator and delivery observations.
type Metrics interface {
	RecordProviderCall(mode, outcome string)
	RecordCacheLookup(hit bool)
	RecordFallback(reason string)
	RecordBreakerOpen(open bool)
	RecordQueueDepth(n int)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
	RecordSnapshotSent(backend, symbol string)
}
