package x402

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/x402-engine/x402/types"
)

// scriptedSchemeServer is a scheme server whose pricing/enhancement can be
// supplied per test; zero value prices everything at one USDC and tags the
// requirement as enhanced.
type scriptedSchemeServer struct {
	scheme      string
	parsePrice  func(price Price, network Network) (AssetAmount, error)
	enhanceReqs func(ctx context.Context, base types.PaymentRequirements, supported types.SupportedKind, extensions []string) (types.PaymentRequirements, error)
}

func (m *scriptedSchemeServer) Scheme() string { return m.scheme }

func (m *scriptedSchemeServer) ParsePrice(price Price, network Network) (AssetAmount, error) {
	if m.parsePrice != nil {
		return m.parsePrice(price, network)
	}
	return AssetAmount{Asset: "USDC", Amount: "1000000", Extra: map[string]interface{}{}}, nil
}

func (m *scriptedSchemeServer) EnhancePaymentRequirements(ctx context.Context, base types.PaymentRequirements, supported types.SupportedKind, extensions []string) (types.PaymentRequirements, error) {
	if m.enhanceReqs != nil {
		return m.enhanceReqs(ctx, base, supported, extensions)
	}
	enhanced := base
	if enhanced.Extra == nil {
		enhanced.Extra = make(map[string]interface{})
	}
	enhanced.Extra["enhanced"] = true
	return enhanced, nil
}

func TestNewx402ResourceServer(t *testing.T) {
	server := Newx402ResourceServer()
	if server == nil {
		t.Fatal("Expected server to be created")
	}
	if server.schemes == nil || server.facilitatorClients == nil || server.supportedCache == nil {
		t.Fatal("Expected constructor to initialize all tables")
	}
}

func TestServerOptionsWireEverything(t *testing.T) {
	scheme := &scriptedSchemeServer{scheme: "exact"}
	server := Newx402ResourceServer(
		WithFacilitatorClient(&mockFacilitatorClient{
			kinds: []SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:1"}},
		}),
		WithSchemeServer("eip155:1", scheme),
		WithCacheTTL(10*time.Minute),
	)
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if server.schemes["eip155:1"]["exact"] != scheme {
		t.Fatal("Expected scheme server to be registered")
	}
	if server.supportedCache.ttl != 10*time.Minute {
		t.Fatal("Expected cache TTL to be applied")
	}
}

func TestServerInitializeRoutesThroughEveryFacilitator(t *testing.T) {
	ctx := context.Background()

	// Two facilitators, overlapping on eip155:1. The first registered
	// client should win the overlap; the second still covers its own
	// exclusive network.
	first := &mockFacilitatorClient{
		kinds: []SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:1"}},
	}
	second := &mockFacilitatorClient{
		kinds: []SupportedKind{
			{X402Version: 2, Scheme: "exact", Network: "eip155:1"},
			{X402Version: 2, Scheme: "exact", Network: "eip155:8453"},
		},
	}
	server := Newx402ResourceServer(
		WithFacilitatorClient(first),
		WithFacilitatorClient(second),
	)
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for _, network := range []string{"eip155:1", "eip155:8453"} {
		requirements := types.PaymentRequirements{Scheme: "exact", Network: network}
		payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}
		result, err := server.VerifyPayment(ctx, payload, requirements)
		if err != nil || !result.IsValid {
			t.Errorf("verify through %s failed: (%v, %v)", network, result, err)
		}
	}
}

func TestServerBuildPaymentRequirements(t *testing.T) {
	ctx := context.Background()
	server := Newx402ResourceServer(
		WithFacilitatorClient(&mockFacilitatorClient{}),
		WithSchemeServer("eip155:1", &scriptedSchemeServer{
			scheme: "exact",
			parsePrice: func(price Price, network Network) (AssetAmount, error) {
				return AssetAmount{Asset: "USDC", Amount: "5000000", Extra: map[string]interface{}{"decimals": 6}}, nil
			},
		}),
	)
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	requirements, err := server.BuildPaymentRequirements(ctx, ResourceConfig{
		Scheme:            "exact",
		PayTo:             "0xrecipient",
		Price:             "$5.00",
		Network:           "eip155:1",
		MaxTimeoutSeconds: 600,
	}, types.SupportedKind{Scheme: "exact", Network: "eip155:1"}, []string{})
	if err != nil {
		t.Fatalf("BuildPaymentRequirements failed: %v", err)
	}

	if requirements.Scheme != "exact" || requirements.Asset != "USDC" || requirements.Amount != "5000000" {
		t.Errorf("requirement not built from parsed price: %+v", requirements)
	}
	if requirements.MaxTimeoutSeconds != 600 {
		t.Errorf("timeout not carried: %d", requirements.MaxTimeoutSeconds)
	}
	if requirements.Extra["enhanced"] != true {
		t.Error("scheme enhancement did not run")
	}
}

func TestServerBuildPaymentRequirementsUnregisteredScheme(t *testing.T) {
	server := Newx402ResourceServer()

	_, err := server.BuildPaymentRequirements(context.Background(), ResourceConfig{
		Scheme:  "unregistered",
		PayTo:   "0xrecipient",
		Price:   "$5.00",
		Network: "eip155:1",
	}, types.SupportedKind{Scheme: "unregistered", Network: "eip155:1"}, []string{})
	if err == nil {
		t.Fatal("Expected error for unregistered scheme")
	}
	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != ErrCodeUnsupportedScheme {
		t.Fatalf("Expected unsupported_scheme, got %v", err)
	}
}

func TestServerCreatePaymentRequiredResponse(t *testing.T) {
	server := Newx402ResourceServer()

	info := &types.ResourceInfo{
		URL:         "https://api.example.com/resource",
		Description: "Premium API access",
		MimeType:    "application/json",
	}
	response := server.CreatePaymentRequiredResponse(
		[]types.PaymentRequirements{{
			Scheme:  "exact",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "1000000",
			PayTo:   "0xrecipient",
		}},
		info,
		"Custom error message",
		map[string]interface{}{"custom": "extension"},
	)

	if response.X402Version != 2 {
		t.Errorf("Expected version 2, got %d", response.X402Version)
	}
	if response.Error != "Custom error message" {
		t.Errorf("Error not carried: %s", response.Error)
	}
	if response.Resource == nil || response.Resource.URL != info.URL {
		t.Error("Resource info not carried")
	}
	if len(response.Accepts) != 1 {
		t.Errorf("Expected 1 accepts entry, got %d", len(response.Accepts))
	}
	if response.Extensions["custom"] != "extension" {
		t.Error("Extensions not carried")
	}
}

func TestServerVerifyAndSettleDelegateToFacilitator(t *testing.T) {
	ctx := context.Background()
	server := Newx402ResourceServer(WithFacilitatorClient(&mockFacilitatorClient{
		kinds: []SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:1"}},
		verify: func(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
			return &VerifyResponse{IsValid: true, Payer: "0xverifiedpayer"}, nil
		},
		settle: func(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
			return &SettleResponse{Success: true, Transaction: "0xsettledtx", Payer: "0xverifiedpayer", Network: "eip155:1"}, nil
		},
	}))
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	requirements := types.PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:1",
		Asset:   "USDC",
		Amount:  "1000000",
		PayTo:   "0xrecipient",
	}
	payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}

	verified, err := server.VerifyPayment(ctx, payload, requirements)
	if err != nil || !verified.IsValid || verified.Payer != "0xverifiedpayer" {
		t.Fatalf("verify result wrong: (%+v, %v)", verified, err)
	}

	settled, err := server.SettlePayment(ctx, payload, requirements)
	if err != nil || !settled.Success || settled.Transaction != "0xsettledtx" {
		t.Fatalf("settle result wrong: (%+v, %v)", settled, err)
	}
}

func TestServerVerifyWithoutFacilitatorFails(t *testing.T) {
	server := Newx402ResourceServer()

	requirements := types.PaymentRequirements{Scheme: "exact", Network: "eip155:1"}
	payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}

	if _, err := server.VerifyPayment(context.Background(), payload, requirements); err == nil {
		t.Fatal("Expected verify to fail with no facilitator registered")
	}
}

func TestServerFindMatchingRequirements(t *testing.T) {
	server := Newx402ResourceServer()

	available := []types.PaymentRequirements{
		{Scheme: "exact", Network: "eip155:1", Asset: "USDC", Amount: "1000000", PayTo: "0xrecipient1"},
		{Scheme: "transfer", Network: "eip155:8453", Asset: "USDC", Amount: "2000000", PayTo: "0xrecipient2"},
	}

	t.Run("exact field match", func(t *testing.T) {
		matched := server.FindMatchingRequirements(available, types.PaymentPayload{
			X402Version: 2,
			Accepted:    available[1],
		})
		if matched == nil || matched.Scheme != "transfer" {
			t.Fatalf("expected the transfer offer to match, got %+v", matched)
		}
	})

	t.Run("equivalent amount spelling still matches", func(t *testing.T) {
		accepted := available[0]
		accepted.Amount = "01000000"
		matched := server.FindMatchingRequirements(available, types.PaymentPayload{
			X402Version: 2,
			Accepted:    accepted,
		})
		if matched == nil || matched.PayTo != "0xrecipient1" {
			t.Fatalf("numeric amount comparison failed, got %+v", matched)
		}
	})

	t.Run("no match for unknown offer", func(t *testing.T) {
		matched := server.FindMatchingRequirements(available, types.PaymentPayload{
			X402Version: 2,
			Accepted: types.PaymentRequirements{
				Scheme:  "nonexistent",
				Network: "eip155:1",
				Asset:   "USDC",
				Amount:  "3000000",
				PayTo:   "0xrecipient3",
			},
		})
		if matched != nil {
			t.Fatalf("expected no match, got %+v", matched)
		}
	})
}

func TestServerProcessPaymentRequest(t *testing.T) {
	ctx := context.Background()
	server := Newx402ResourceServer(
		WithFacilitatorClient(&mockFacilitatorClient{
			kinds: []SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:1"}},
		}),
		WithSchemeServer("eip155:1", &scriptedSchemeServer{scheme: "exact"}),
	)
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	config := ResourceConfig{
		Scheme:  "exact",
		PayTo:   "0xrecipient",
		Price:   "$1.00",
		Network: "eip155:1",
	}

	t.Run("no payment returns the requirement to challenge with", func(t *testing.T) {
		requirement, verified, err := server.ProcessPaymentRequest(ctx, config, nil)
		if err != nil {
			t.Fatalf("ProcessPaymentRequest failed: %v", err)
		}
		if requirement == nil || verified != nil {
			t.Fatalf("expected (requirement, nil), got (%v, %v)", requirement, verified)
		}
	})

	t.Run("matching payment verifies", func(t *testing.T) {
		built, err := server.BuildPaymentRequirementsFromConfig(ctx, config)
		if err != nil || len(built) == 0 {
			t.Fatalf("failed to build requirements: %v", err)
		}
		payload := types.PaymentPayload{X402Version: 2, Accepted: built[0], Payload: map[string]interface{}{}}

		_, verified, err := server.ProcessPaymentRequest(ctx, config, &payload)
		if err != nil {
			t.Fatalf("ProcessPaymentRequest failed: %v", err)
		}
		if verified == nil || !verified.IsValid {
			t.Fatalf("expected a valid verification, got %+v", verified)
		}
	})

	t.Run("non-matching payment is rejected", func(t *testing.T) {
		payload := types.PaymentPayload{
			X402Version: 2,
			Accepted:    types.PaymentRequirements{Scheme: "exact", Network: "eip155:1", Asset: "OTHER", Amount: "1", PayTo: "0xelse"},
			Payload:     map[string]interface{}{},
		}
		_, _, err := server.ProcessPaymentRequest(ctx, config, &payload)
		if err == nil {
			t.Fatal("expected a mismatched payment to be rejected")
		}
	})
}

func TestSupportedCacheExpiry(t *testing.T) {
	cache := &SupportedCache{
		data:   make(map[string]SupportedResponse),
		expiry: make(map[string]time.Time),
		ttl:    50 * time.Millisecond,
	}
	response := SupportedResponse{
		Kinds: []SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:1"}},
	}

	cache.Set("facilitator", response)
	if got, ok := cache.Get("facilitator"); !ok || len(got.Kinds) != 1 {
		t.Fatal("expected a fresh entry to be returned")
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := cache.Get("facilitator"); ok {
		t.Fatal("expected the entry to expire")
	}
}
