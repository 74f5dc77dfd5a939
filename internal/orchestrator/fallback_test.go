package orchestrator

import (
	"testing"

	"TaPull/internal/domain/models"
)

func TestFallbackSnapshotIsNeutralAndTagged(t *testing.T) {
	f := NewFallbackProvider(newFakeClock().Now)
	snap := f.Build("BTCUSDT", "1h", "binance", "transient_error")

	if !snap.IsFallbackData || snap.Source != models.SourceFallback {
		t.Fatalf("fallback must be tagged, got %+v", snap)
	}
	if snap.Reason != "transient_error" {
		t.Fatalf("reason must be preserved, got %q", snap.Reason)
	}
	if snap.RealIndicatorCount != 0 {
		t.Fatalf("fallback carries no real indicators")
	}

	neutral := map[string]float64{
		models.KeyRSI: 50,
		models.KeyMFI: 50,
		models.KeyADX: 20,
	}
	for key, want := range neutral {
		if got := snap.Values[key]; got != want {
			t.Fatalf("%s = %v, want neutral %v", key, got, want)
		}
	}
	for _, key := range []string{
		models.KeyMACD, models.KeyMACDSignal, models.KeyMACDHist,
		models.KeyEMA20, models.KeySMA50, models.KeyATR, models.KeyOBV,
		models.KeyBBandsUpper, models.KeyBBandsMid, models.KeyBBandsLower,
	} {
		if got, ok := snap.Values[key]; !ok || got != 0 {
			t.Fatalf("%s should be zeroed, got %v (present=%v)", key, got, ok)
		}
	}
}
