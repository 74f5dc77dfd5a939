package models

import "time"

// SnapshotSource identifies where an IndicatorSnapshot came from.
type SnapshotSource string

const (
	SourceLive     SnapshotSource = "live"
	SourceBatch    SnapshotSource = "batch"
	SourceFallback SnapshotSource = "fallback"
)

// IndicatorSnapshot is the single entity exposed to downstream consumers.
// It is immutable once constructed.
type IndicatorSnapshot struct {
	Symbol             string             `json:"symbol"`
	Interval           string             `json:"interval"`
	Exchange           string             `json:"exchange"`
	Values             map[string]float64 `json:"values"`
	Source             SnapshotSource     `json:"source"`
	IsFallbackData     bool               `json:"is_fallback_data"`
	Reason             string             `json:"reason,omitempty"`
	RealIndicatorCount int                `json:"real_indicator_count"`
	Timestamp          time.Time          `json:"timestamp"`
}

// Indicator value keys present in Values. MACD and BBANDS expand to
// multiple keys from a single provider call.
const (
	KeyRSI         = "rsi"
	KeyMACD        = "macd"
	KeyMACDSignal  = "macd_signal"
	KeyMACDHist    = "macd_hist"
	KeyEMA20       = "ema20"
	KeySMA50       = "sma50"
	KeyADX         = "adx"
	KeyATR         = "atr"
	KeyBBandsUpper = "bbands_upper"
	KeyBBandsMid   = "bbands_middle"
	KeyBBandsLower = "bbands_lower"
	KeyMFI         = "mfi"
	KeyOBV         = "obv"
)

// PlanTier is the provider subscription level detected at runtime.
type PlanTier string

const (
	TierUnknown PlanTier = "unknown"
	TierFree    PlanTier = "free"
	TierBasic   PlanTier = "basic"
	TierPro     PlanTier = "pro"
	TierExpert  PlanTier = "expert"
)

// PlanLimits describes what a tier permits.
type PlanLimits struct {
	BulkAllowed  bool `json:"bulk_allowed"`
	MaxBatchSize int  `json:"max_batch_size"`
}

// Limits returns the entitlements for a tier.
func (t PlanTier) Limits() PlanLimits {
	switch t {
	case TierBasic:
		return PlanLimits{BulkAllowed: true, MaxBatchSize: 5}
	case TierPro:
		return PlanLimits{BulkAllowed: true, MaxBatchSize: 10}
	case TierExpert:
		return PlanLimits{BulkAllowed: true, MaxBatchSize: 20}
	default:
		return PlanLimits{BulkAllowed: false, MaxBatchSize: 1}
	}
}

// OrchestratorHealth is the operator-facing state summary.
type OrchestratorHealth struct {
	BreakerOpen       bool      `json:"breaker_open"`
	ConsecutiveErrors float64   `json:"consecutive_errors"`
	BreakerReopenAt   time.Time `json:"breaker_reopen_at,omitempty"`
	RateLimited       bool      `json:"rate_limited"`
	RateLimitedUntil  time.Time `json:"rate_limited_until,omitempty"`
	QueueLength       int       `json:"queue_length"`
	CacheSize         int       `json:"cache_size"`
	PlanTier          PlanTier  `json:"plan_tier"`
	SupportedSymbols  int       `json:"supported_symbols"`
	BlacklistedCount  int       `json:"blacklisted_count"`
}
