package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"TaPull/internal/domain/models"
	"TaPull/internal/domain/repository"
	"TaPull/pkg/logger"
)

// Route is the capability manager's decision for a symbol.
type Route int

const (
	RouteLive Route = iota
	RouteFallbackOnly
)

// Plan tier boundaries, by entitled-symbol count.
const (
	tierBasicMin  = 5
	tierProMin    = 25
	tierExpertMin = 100
)

// quoteAssets are the quote currencies recognized when converting the compact
// symbol form to the provider's slash form. Longest match wins.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "TUSD", "EUR", "USD", "DAI", "BTC", "ETH", "BNB"}

// NormalizeSymbol converts a provider slash-form symbol to the caller-facing
// compact form: "BTC/USDT" -> "BTCUSDT". Compact input is uppercased and
// returned as is.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

// ProviderSymbol converts a compact symbol to the provider's slash form:
// "BTCUSDT" -> "BTC/USDT". Input already containing a slash is passed through.
func ProviderSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "/") {
		return s
	}
	for _, quote := range quoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "/" + quote
		}
	}
	return s
}

// CapabilityManager discovers which symbols the active credentials permit,
// classifies the plan tier from the entitlement size, and maintains the
// blacklist of symbols confirmed unserviceable. It is the single place that
// converts between the compact and the provider symbol forms.
type CapabilityManager struct {
	mu          sync.Mutex
	supported   map[string]struct{} // compact form
	blacklisted map[string]struct{} // compact form
	tier        models.PlanTier
	fetchedAt   time.Time
	lastAttempt time.Time
	ttl         time.Duration
	source      repository.IndicatorSource
	log         *logger.Logger
	now         func() time.Time
}

// NewCapabilityManager creates a manager that refreshes entitlements from
// source every ttl.
func NewCapabilityManager(source repository.IndicatorSource, ttl time.Duration, log *logger.Logger, now func() time.Time) *CapabilityManager {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CapabilityManager{
		supported:   make(map[string]struct{}),
		blacklisted: make(map[string]struct{}),
		tier:        models.TierUnknown,
		ttl:         ttl,
		source:      source,
		log:         log,
		now:         now,
	}
}

// refreshRetryInterval spaces out refresh attempts after a failure, so a
// broken entitlements endpoint is not hammered from the drain loop.
const refreshRetryInterval = time.Minute

// Refresh queries the provider for the permitted symbol set and reclassifies
// the plan tier. A failed refresh keeps the previous state.
func (m *CapabilityManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	m.lastAttempt = m.now()
	m.mu.Unlock()

	symbols, err := m.source.Entitlements(ctx)
	if err != nil {
		m.log.Warn("entitlement refresh failed", logger.Error(err))
		return err
	}
	m.ApplyEntitlements(symbols)
	return nil
}

// RefreshIfStale refreshes once the entitlement TTL has elapsed.
func (m *CapabilityManager) RefreshIfStale(ctx context.Context) {
	m.mu.Lock()
	now := m.now()
	stale := m.fetchedAt.IsZero() || now.Sub(m.fetchedAt) >= m.ttl
	retryOK := m.lastAttempt.IsZero() || now.Sub(m.lastAttempt) >= refreshRetryInterval
	m.mu.Unlock()
	if stale && retryOK {
		_ = m.Refresh(ctx)
	}
}

// ApplyEntitlements installs a provider-form symbol list as the supported set
// and reclassifies the tier. Blacklisted symbols stay excluded.
func (m *CapabilityManager) ApplyEntitlements(providerSymbols []string) {
	supported := make(map[string]struct{}, len(providerSymbols))
	for _, s := range providerSymbols {
		supported[NormalizeSymbol(s)] = struct{}{}
	}

	m.mu.Lock()
	for s := range m.blacklisted {
		delete(supported, s)
	}
	m.supported = supported
	m.tier = classifyTier(len(providerSymbols))
	m.fetchedAt = m.now()
	tier := m.tier
	m.mu.Unlock()

	m.log.Info("entitlements applied",
		logger.Int("symbols", len(providerSymbols)),
		logger.String("plan_tier", string(tier)))
}

func classifyTier(symbolCount int) models.PlanTier {
	switch {
	case symbolCount >= tierExpertMin:
		return models.TierExpert
	case symbolCount >= tierProMin:
		return models.TierPro
	case symbolCount >= tierBasicMin:
		return models.TierBasic
	default:
		return models.TierFree
	}
}

// IsServable reports whether a compact-form symbol may be sent to the
// provider. Before the first successful entitlement fetch every
// non-blacklisted symbol is assumed servable.
func (m *CapabilityManager) IsServable(symbol string) bool {
	return m.Route(symbol) == RouteLive
}

// Route decides live vs. fallback-only for a compact-form symbol.
func (m *CapabilityManager) Route(symbol string) Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, bad := m.blacklisted[symbol]; bad {
		return RouteFallbackOnly
	}
	if m.fetchedAt.IsZero() {
		return RouteLive
	}
	if _, ok := m.supported[symbol]; !ok {
		return RouteFallbackOnly
	}
	return RouteLive
}

// MarkUnsupported blacklists a compact-form symbol. Called only on a
// confirmed plan-limitation or invalid-symbol response, never on transient
// failures. The supported and blacklisted sets stay disjoint.
func (m *CapabilityManager) MarkUnsupported(symbol string) {
	m.mu.Lock()
	m.blacklisted[symbol] = struct{}{}
	delete(m.supported, symbol)
	m.mu.Unlock()
	m.log.Warn("symbol blacklisted", logger.String("symbol", symbol))
}

// Tier returns the detected plan tier.
func (m *CapabilityManager) Tier() models.PlanTier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier
}

// Counts returns the supported and blacklisted set sizes.
func (m *CapabilityManager) Counts() (supported, blacklisted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.supported), len(m.blacklisted)
}

// Reset clears the blacklist and forces a refresh on next use. The supported
// set is kept so routing stays sane until the refresh lands.
func (m *CapabilityManager) Reset() {
	m.mu.Lock()
	m.blacklisted = make(map[string]struct{})
	m.fetchedAt = time.Time{}
	m.lastAttempt = time.Time{}
	m.mu.Unlock()
}
