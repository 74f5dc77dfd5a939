package orchestrator

import (
	"time"

	"TaPull/internal/domain/models"
)

// FallbackProvider synthesizes neutral, explicitly-tagged snapshots for
// requests that cannot be served with live data. Oscillators read neutral
// (rsi/mfi 50, adx 20 = no trend); trend and volume fields are zeroed so
// downstream scoring discounts them.
type FallbackProvider struct {
	now func() time.Time
}

// NewFallbackProvider creates a fallback provider.
func NewFallbackProvider(now func() time.Time) *FallbackProvider {
	if now == nil {
		now = time.Now
	}
	return &FallbackProvider{now: now}
}

// Build returns a fallback snapshot for the given request, with the reason
// preserved for observability.
func (f *FallbackProvider) Build(symbol, interval, exchange, reason string) *models.IndicatorSnapshot {
	return &models.IndicatorSnapshot{
		Symbol:   symbol,
		Interval: interval,
		Exchange: exchange,
		Values: map[string]float64{
			models.KeyRSI:         50,
			models.KeyMFI:         50,
			models.KeyADX:         20,
			models.KeyMACD:        0,
			models.KeyMACDSignal:  0,
			models.KeyMACDHist:    0,
			models.KeyEMA20:       0,
			models.KeySMA50:       0,
			models.KeyATR:         0,
			models.KeyOBV:         0,
			models.KeyBBandsUpper: 0,
			models.KeyBBandsMid:   0,
			models.KeyBBandsLower: 0,
		},
		Source:             models.SourceFallback,
		IsFallbackData:     true,
		Reason:             reason,
		RealIndicatorCount: 0,
		Timestamp:          f.now().UTC(),
	}
}
