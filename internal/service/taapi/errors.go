package taapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrorClass partitions provider failures by how the orchestrator must react.
type ErrorClass string

const (
	// ClassThrottled: provider signalled rate limiting. Recoverable and
	// time-bounded; engages the rate limiter, not the breaker.
	ClassThrottled ErrorClass = "throttled"
	// ClassEntitlementDenied: symbol/plan mismatch. Permanent for the
	// session; blacklists the symbol and counts toward the breaker.
	ClassEntitlementDenied ErrorClass = "entitlement_denied"
	// ClassMalformedSymbol: unsupported or invalid symbol. Blacklists only.
	ClassMalformedSymbol ErrorClass = "malformed_symbol"
	// ClassAuthFailure: credential failure. Weighted heavily toward the
	// breaker.
	ClassAuthFailure ErrorClass = "auth_failure"
	// ClassTransient: network, timeout or 5xx. Counts toward the breaker,
	// never blacklists.
	ClassTransient ErrorClass = "transient"
)

// ProviderError is the single typed error the provider client returns.
type ProviderError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	// Entitled holds provider-form symbols parsed out of an entitlement
	// error payload, when the provider reports them that way.
	Entitled []string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Class, e.Message)
}

// ClassOf extracts the error class from err, defaulting to transient for
// anything that is not a ProviderError.
func ClassOf(err error) ErrorClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassTransient
}

// EntitledOf returns entitled symbols embedded in an entitlement error, if any.
func EntitledOf(err error) []string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Entitled
	}
	return nil
}

// Classify maps an HTTP status and error payload (or a transport error) to
// the failure taxonomy. Called once per failed provider request.
func Classify(status int, body []byte, netErr error) *ProviderError {
	if netErr != nil {
		return &ProviderError{Class: ClassTransient, Message: netErr.Error()}
	}

	msg := extractMessage(body)
	switch {
	case status == 429:
		return &ProviderError{Class: ClassThrottled, StatusCode: status, Message: msg}
	case status == 403:
		return &ProviderError{
			Class:      ClassEntitlementDenied,
			StatusCode: status,
			Message:    msg,
			Entitled:   ParseEntitledSymbols(msg),
		}
	case status == 400:
		return &ProviderError{Class: ClassMalformedSymbol, StatusCode: status, Message: msg}
	case status == 401:
		return &ProviderError{Class: ClassAuthFailure, StatusCode: status, Message: msg}
	default:
		return &ProviderError{Class: ClassTransient, StatusCode: status, Message: msg}
	}
}

var symbolPattern = regexp.MustCompile(`[A-Z0-9]{2,10}/[A-Z0-9]{2,10}`)

// ParseEntitledSymbols pulls provider-form symbols out of an entitlement
// error message. Some plans report the permitted set only via error text,
// e.g. "Your plan only allows: BTC/USDT, ETH/USDT, ...".
func ParseEntitledSymbols(msg string) []string {
	matches := symbolPattern.FindAllString(msg, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	const maxLen = 512
	s := string(body)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
