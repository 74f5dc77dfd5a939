package repository

// Interval represents a provider candle interval.
type Interval string

const (
	I1m  Interval = "1m"
	I5m  Interval = "5m"
	I15m Interval = "15m"
	I30m Interval = "30m"
	I1h  Interval = "1h"
	I2h  Interval = "2h"
	I4h  Interval = "4h"
	I12h Interval = "12h"
	I1d  Interval = "1d"
	I1w  Interval = "1w"
)

// IsValidInterval returns true if iv is a supported interval.
func IsValidInterval(iv Interval) bool {
	switch iv {
	case I1m, I5m, I15m, I30m, I1h, I2h, I4h, I12h, I1d, I1w:
		return true
	default:
		return false
	}
}

// DefaultInterval returns the default interval.
func DefaultInterval() Interval { return I1h }

// NormalizeInterval converts raw string to a valid interval (or default).
// Common aliases used by callers are folded into the provider's forms.
func NormalizeInterval(s string) Interval {
	switch s {
	case "":
		return DefaultInterval()
	case "60m":
		return I1h
	case "1D", "D", "daily":
		return I1d
	case "1W", "W", "weekly":
		return I1w
	}
	iv := Interval(s)
	if IsValidInterval(iv) {
		return iv
	}
	return DefaultInterval()
}
