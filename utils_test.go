package x402

import (
	"strings"
	"testing"
)

func TestValidatePaymentPayload(t *testing.T) {
	base := func() PaymentPayload {
		return PaymentPayload{
			X402Version: 2,
			Accepted:    PaymentRequirements{Scheme: "exact", Network: "eip155:1"},
			Payload:     map[string]interface{}{"sig": "test"},
		}
	}

	t.Run("valid v2 and v1 payloads pass", func(t *testing.T) {
		if err := ValidatePaymentPayload(base()); err != nil {
			t.Errorf("v2 payload rejected: %v", err)
		}
		v1 := base()
		v1.X402Version = 1
		if err := ValidatePaymentPayload(v1); err != nil {
			t.Errorf("v1 payload rejected: %v", err)
		}
	})

	tests := []struct {
		name    string
		mutate  func(*PaymentPayload)
		wantErr string
	}{
		{"unknown version", func(p *PaymentPayload) { p.X402Version = 3 }, "unsupported x402 version"},
		{"missing scheme", func(p *PaymentPayload) { p.Accepted.Scheme = "" }, "payment scheme is required"},
		{"missing network", func(p *PaymentPayload) { p.Accepted.Network = "" }, "payment network is required"},
		{"missing payload", func(p *PaymentPayload) { p.Payload = nil }, "payment payload is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := base()
			tt.mutate(&payload)
			err := ValidatePaymentPayload(payload)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidatePaymentRequirements(t *testing.T) {
	base := func() PaymentRequirements {
		return PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "1000000",
			PayTo:   "0xrecipient",
		}
	}

	t.Run("complete requirements pass", func(t *testing.T) {
		if err := ValidatePaymentRequirements(base()); err != nil {
			t.Errorf("valid requirements rejected: %v", err)
		}
	})

	t.Run("empty amount is tolerated for v1", func(t *testing.T) {
		req := base()
		req.Amount = ""
		if err := ValidatePaymentRequirements(req); err != nil {
			t.Errorf("v1-style empty amount rejected: %v", err)
		}
	})

	tests := []struct {
		name    string
		mutate  func(*PaymentRequirements)
		wantErr string
	}{
		{"missing scheme", func(r *PaymentRequirements) { r.Scheme = "" }, "payment scheme is required"},
		{"missing network", func(r *PaymentRequirements) { r.Network = "" }, "payment network is required"},
		{"missing asset", func(r *PaymentRequirements) { r.Asset = "" }, "payment asset is required"},
		{"missing recipient", func(r *PaymentRequirements) { r.PayTo = "" }, "payment recipient is required"},
		{"fractional amount", func(r *PaymentRequirements) { r.Amount = "1.5" }, "unsigned decimal integer"},
		{"negative amount", func(r *PaymentRequirements) { r.Amount = "-100" }, "unsigned decimal integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)
			err := ValidatePaymentRequirements(req)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFindByNetworkAndScheme(t *testing.T) {
	table := map[Network]map[string]string{
		"eip155:1":    {"exact": "mainnet-exact", "transfer": "mainnet-transfer"},
		"eip155:8453": {"exact": "base-exact"},
		"eip155:*":    {"wildcard": "any-eip155"},
	}

	tests := []struct {
		name    string
		scheme  string
		network Network
		want    string
	}{
		{"exact network and scheme", "exact", "eip155:1", "mainnet-exact"},
		{"second scheme on same network", "transfer", "eip155:1", "mainnet-transfer"},
		{"other exact network", "exact", "eip155:8453", "base-exact"},
		{"wildcard covers unlisted sibling", "wildcard", "eip155:137", "any-eip155"},
		{"unknown scheme", "nonexistent", "eip155:1", ""},
		{"unknown family", "exact", "solana:mainnet", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findByNetworkAndScheme(table, tt.scheme, tt.network); got != tt.want {
				t.Errorf("findByNetworkAndScheme() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindByNetworkAndScheme_MostSpecificWildcard(t *testing.T) {
	table := map[Network]map[string]string{
		"solana:*":    {"exact": "any-solana"},
		"solana:dev*": {"exact": "solana-dev"},
	}

	// Both wildcards match; the longer (more specific) registration must
	// win regardless of map iteration order.
	for i := 0; i < 20; i++ {
		if got := findByNetworkAndScheme(table, "exact", "solana:devnet"); got != "solana-dev" {
			t.Fatalf("findByNetworkAndScheme() = %q, want solana-dev", got)
		}
	}
	if got := findByNetworkAndScheme(table, "exact", "solana:mainnet"); got != "any-solana" {
		t.Errorf("findByNetworkAndScheme() = %q, want any-solana", got)
	}
}

func TestFindSchemesByNetwork(t *testing.T) {
	table := map[Network]map[string]string{
		"eip155:1": {"exact": "mainnet-exact", "transfer": "mainnet-transfer"},
		"eip155:*": {"wildcard": "any-eip155"},
	}

	t.Run("exact registration wins", func(t *testing.T) {
		schemes := findSchemesByNetwork(table, "eip155:1")
		if len(schemes) != 2 || schemes["exact"] != "mainnet-exact" {
			t.Errorf("wrong scheme set: %v", schemes)
		}
	})

	t.Run("wildcard covers the rest of the family", func(t *testing.T) {
		schemes := findSchemesByNetwork(table, "eip155:137")
		if len(schemes) != 1 || schemes["wildcard"] != "any-eip155" {
			t.Errorf("wrong scheme set: %v", schemes)
		}
	})

	t.Run("foreign family finds nothing", func(t *testing.T) {
		if schemes := findSchemesByNetwork(table, "solana:mainnet"); schemes != nil {
			t.Errorf("expected nil, got %v", schemes)
		}
	})
}

func TestNetworkMatch(t *testing.T) {
	tests := []struct {
		a, b    Network
		matches bool
	}{
		{"eip155:1", "eip155:1", true},
		{"eip155:*", "eip155:8453", true},
		{"eip155:8453", "eip155:*", true},
		{"eip155:1", "solana:mainnet", false},
		{"eip155:1", "eip155:8453", false},
		{"eip155:*", "solana:mainnet", false},
	}
	for _, tt := range tests {
		if got := tt.a.Match(tt.b); got != tt.matches {
			t.Errorf("%s.Match(%s) = %v, want %v", tt.a, tt.b, got, tt.matches)
		}
	}
}
