package taapi

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatusTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		netErr error
		class  ErrorClass
	}{
		{"throttled", 429, `{"error":"rate limit exceeded"}`, nil, ClassThrottled},
		{"entitlement", 403, `{"error":"your plan does not allow this symbol"}`, nil, ClassEntitlementDenied},
		{"malformed", 400, `{"error":"symbol not supported"}`, nil, ClassMalformedSymbol},
		{"auth", 401, `{"error":"invalid secret"}`, nil, ClassAuthFailure},
		{"server", 500, `{"error":"internal"}`, nil, ClassTransient},
		{"gateway", 502, "", nil, ClassTransient},
		{"network", 0, "", errors.New("connection refused"), ClassTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pe := Classify(tc.status, []byte(tc.body), tc.netErr)
			if pe.Class != tc.class {
				t.Fatalf("Classify(%d) class = %s, want %s", tc.status, pe.Class, tc.class)
			}
			if tc.netErr == nil && pe.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", pe.StatusCode, tc.status)
			}
		})
	}
}

func TestClassifyExtractsMessage(t *testing.T) {
	pe := Classify(429, []byte(`{"error":"rate limit exceeded"}`), nil)
	if pe.Message != "rate limit exceeded" {
		t.Fatalf("error field not extracted, got %q", pe.Message)
	}
	pe = Classify(500, []byte(`{"message":"try again later"}`), nil)
	if pe.Message != "try again later" {
		t.Fatalf("message field not extracted, got %q", pe.Message)
	}
	pe = Classify(500, []byte("plain text body"), nil)
	if pe.Message != "plain text body" {
		t.Fatalf("non-json body should pass through, got %q", pe.Message)
	}
}

func TestClassify403ParsesEntitledSymbols(t *testing.T) {
	body := `{"error":"Your plan only allows: BTC/USDT, ETH/USDT, BTC/USDT, XRP/USDT"}`
	pe := Classify(403, []byte(body), nil)
	if pe.Class != ClassEntitlementDenied {
		t.Fatalf("class = %s, want entitlement_denied", pe.Class)
	}
	want := []string{"BTC/USDT", "ETH/USDT", "XRP/USDT"}
	if len(pe.Entitled) != len(want) {
		t.Fatalf("entitled = %v, want %v (deduplicated, order preserved)", pe.Entitled, want)
	}
	for i, s := range want {
		if pe.Entitled[i] != s {
			t.Fatalf("entitled[%d] = %s, want %s", i, pe.Entitled[i], s)
		}
	}
}

func TestParseEntitledSymbolsNoMatches(t *testing.T) {
	if got := ParseEntitledSymbols("forbidden"); got != nil {
		t.Fatalf("expected nil for message without symbols, got %v", got)
	}
}

func TestClassOfAndEntitledOf(t *testing.T) {
	pe := &ProviderError{Class: ClassAuthFailure, StatusCode: 401, Message: "bad secret"}
	wrapped := fmt.Errorf("fetch rsi: %w", pe)
	if ClassOf(wrapped) != ClassAuthFailure {
		t.Fatalf("ClassOf should unwrap to the provider error class")
	}
	if ClassOf(errors.New("plain")) != ClassTransient {
		t.Fatalf("non-provider errors default to transient")
	}

	pe = &ProviderError{Class: ClassEntitlementDenied, Entitled: []string{"BTC/USDT"}}
	if got := EntitledOf(fmt.Errorf("wrap: %w", pe)); len(got) != 1 || got[0] != "BTC/USDT" {
		t.Fatalf("EntitledOf = %v", got)
	}
	if EntitledOf(errors.New("plain")) != nil {
		t.Fatalf("EntitledOf on plain error should be nil")
	}
}

func TestProviderErrorString(t *testing.T) {
	pe := &ProviderError{Class: ClassThrottled, StatusCode: 429, Message: "slow down"}
	if got := pe.Error(); got != "provider throttled (status 429): slow down" {
		t.Fatalf("unexpected error string %q", got)
	}
	pe = &ProviderError{Class: ClassTransient, Message: "dial tcp: timeout"}
	if got := pe.Error(); got != "provider transient: dial tcp: timeout" {
		t.Fatalf("unexpected error string %q", got)
	}
}
