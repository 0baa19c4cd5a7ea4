package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/types"
)

// mockHTTPAdapter is a header map plus fixed request metadata.
type mockHTTPAdapter struct {
	headers map[string]string
	method  string
	path    string
	url     string
	accept  string
	agent   string
}

func (m *mockHTTPAdapter) GetHeader(name string) string {
	for _, key := range []string{name, strings.ToUpper(name), strings.ToLower(name)} {
		if v, ok := m.headers[key]; ok {
			return v
		}
	}
	return ""
}

func (m *mockHTTPAdapter) GetMethod() string { return m.method }
func (m *mockHTTPAdapter) GetPath() string   { return m.path }
func (m *mockHTTPAdapter) GetURL() string    { return m.url }

func (m *mockHTTPAdapter) GetAcceptHeader() string {
	if m.accept == "" {
		return "application/json"
	}
	return m.accept
}

func (m *mockHTTPAdapter) GetUserAgent() string {
	if m.agent == "" {
		return "TestClient/1.0"
	}
	return m.agent
}

// mockSchemeServer prices everything at one USDC.
type mockSchemeServer struct {
	scheme string
}

func (m *mockSchemeServer) Scheme() string { return m.scheme }

func (m *mockSchemeServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return x402.AssetAmount{Asset: "USDC", Amount: "1000000"}, nil
}

func (m *mockSchemeServer) EnhancePaymentRequirements(ctx context.Context, base types.PaymentRequirements, supported types.SupportedKind, extensions []string) (types.PaymentRequirements, error) {
	return base, nil
}

// mockFacilitatorClient is scriptable; the zero value succeeds.
type mockFacilitatorClient struct {
	verify    func(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.VerifyResponse, error)
	settle    func(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.SettleResponse, error)
	supported func(ctx context.Context) (x402.SupportedResponse, error)
}

func (m *mockFacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	if m.verify != nil {
		return m.verify(ctx, payloadBytes, requirementsBytes)
	}
	return &x402.VerifyResponse{IsValid: true, Payer: "0xmock"}, nil
}

func (m *mockFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.SettleResponse, error) {
	if m.settle != nil {
		return m.settle(ctx, payloadBytes, requirementsBytes)
	}
	return &x402.SettleResponse{Success: true, Transaction: "0xmock", Network: "eip155:1", Payer: "0xmock"}, nil
}

func (m *mockFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	if m.supported != nil {
		return m.supported(ctx)
	}
	return x402.SupportedResponse{
		Kinds:      []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:1"}},
		Extensions: []string{},
		Signers:    make(map[string][]string),
	}, nil
}

func (m *mockFacilitatorClient) Identifier() string { return "mock" }

func protectedRoutes() RoutesConfig {
	return RoutesConfig{
		"GET /api/data": RouteConfig{
			Accepts: PaymentOptions{
				{Scheme: "exact", PayTo: "0xtest", Price: "$1.00", Network: "eip155:1"},
			},
			Description: "paid data",
		},
	}
}

func initializedServer(t *testing.T) *x402HTTPResourceServer {
	t.Helper()
	server := Newx402HTTPResourceServer(protectedRoutes(),
		x402.WithFacilitatorClient(&mockFacilitatorClient{}),
	)
	server.Register("eip155:1", &mockSchemeServer{scheme: "exact"})
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return server
}

func requestContext(adapter *mockHTTPAdapter) HTTPRequestContext {
	return HTTPRequestContext{Adapter: adapter, Path: adapter.path, Method: adapter.method}
}

func encodedPaymentFor(t *testing.T, accepted types.PaymentRequirements) string {
	t.Helper()
	payload := types.PaymentPayload{
		X402Version: 2,
		Accepted:    accepted,
		Payload:     map[string]interface{}{"sig": "test"},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestNewx402HTTPResourceServer(t *testing.T) {
	server := Newx402HTTPResourceServer(protectedRoutes())
	if server == nil {
		t.Fatal("Expected server to be created")
	}
	if len(server.compiledRoutes) != 1 {
		t.Fatalf("Expected 1 compiled route, got %d", len(server.compiledRoutes))
	}
}

func TestProcessHTTPRequestRouting(t *testing.T) {
	server := initializedServer(t)

	t.Run("unmatched path passes through", func(t *testing.T) {
		result := server.ProcessHTTPRequest(context.Background(), requestContext(&mockHTTPAdapter{
			method: "GET", path: "/free", url: "https://example.com/free",
		}), nil)
		if result.Type != ResultNoPaymentRequired {
			t.Errorf("Expected pass-through, got %s", result.Type)
		}
	})

	t.Run("wrong method passes through", func(t *testing.T) {
		result := server.ProcessHTTPRequest(context.Background(), requestContext(&mockHTTPAdapter{
			method: "POST", path: "/api/data", url: "https://example.com/api/data",
		}), nil)
		if result.Type != ResultNoPaymentRequired {
			t.Errorf("Expected pass-through for wrong verb, got %s", result.Type)
		}
	})
}

func TestProcessHTTPRequestChallenge(t *testing.T) {
	server := initializedServer(t)

	t.Run("API client gets a JSON 402 with header challenge", func(t *testing.T) {
		result := server.ProcessHTTPRequest(context.Background(), requestContext(&mockHTTPAdapter{
			headers: map[string]string{},
			method:  "GET", path: "/api/data", url: "https://example.com/api/data",
		}), nil)

		if result.Type != ResultPaymentError {
			t.Fatalf("Expected challenge, got %s", result.Type)
		}
		if result.Response.Status != 402 || result.Response.IsHTML {
			t.Errorf("Expected non-HTML 402, got %+v", result.Response)
		}
		header := result.Response.Headers["PAYMENT-REQUIRED"]
		if header == "" {
			t.Fatal("Expected PAYMENT-REQUIRED header")
		}
		decoded, err := decodePaymentRequiredHeader(header)
		if err != nil {
			t.Fatalf("challenge header does not decode: %v", err)
		}
		if len(decoded.Accepts) != 1 || decoded.Accepts[0].Amount != "1000000" {
			t.Errorf("challenge carries wrong accepts: %+v", decoded.Accepts)
		}
	})

	t.Run("browser gets the HTML paywall", func(t *testing.T) {
		result := server.ProcessHTTPRequest(context.Background(), requestContext(&mockHTTPAdapter{
			headers: map[string]string{},
			method:  "GET", path: "/api/data", url: "https://example.com/api/data",
			accept: "text/html,application/xhtml+xml",
			agent:  "Mozilla/5.0 (Macintosh)",
		}), nil)

		if result.Type != ResultPaymentError || !result.Response.IsHTML {
			t.Fatalf("Expected HTML paywall, got %+v", result.Response)
		}
	})
}

func TestProcessHTTPRequestVerifiedFlow(t *testing.T) {
	server := initializedServer(t)
	ctx := context.Background()

	// Learn the exact offer from the challenge, answer it, and confirm the
	// verified result carries everything the transport needs.
	challenge := server.ProcessHTTPRequest(ctx, requestContext(&mockHTTPAdapter{
		headers: map[string]string{},
		method:  "GET", path: "/api/data", url: "https://example.com/api/data",
	}), nil)
	decoded, err := decodePaymentRequiredHeader(challenge.Response.Headers["PAYMENT-REQUIRED"])
	if err != nil {
		t.Fatalf("failed to decode challenge: %v", err)
	}
	accepted := types.PaymentRequirements{
		Scheme:            decoded.Accepts[0].Scheme,
		Network:           string(decoded.Accepts[0].Network),
		Asset:             decoded.Accepts[0].Asset,
		Amount:            decoded.Accepts[0].Amount,
		PayTo:             decoded.Accepts[0].PayTo,
		MaxTimeoutSeconds: decoded.Accepts[0].MaxTimeoutSeconds,
		Extra:             decoded.Accepts[0].Extra,
	}

	result := server.ProcessHTTPRequest(ctx, requestContext(&mockHTTPAdapter{
		headers: map[string]string{"X-PAYMENT": encodedPaymentFor(t, accepted)},
		method:  "GET", path: "/api/data", url: "https://example.com/api/data",
	}), nil)

	if result.Type != ResultPaymentVerified {
		t.Fatalf("Expected verified result, got %s: %+v", result.Type, result.Response)
	}
	if result.PaymentPayload == nil || result.PaymentRequirements == nil {
		t.Fatal("verified result must carry payload and requirement")
	}
	if result.SettlementTiming != SettleAfter {
		t.Errorf("default settlement timing should be after, got %s", result.SettlementTiming)
	}

	settle := server.ProcessSettlement(ctx, *result.PaymentPayload, *result.PaymentRequirements)
	if !settle.Success {
		t.Fatalf("settlement failed: %s", settle.ErrorReason)
	}
	receipt := settle.Headers["X-PAYMENT-RESPONSE"]
	if receipt == "" {
		t.Fatal("Expected X-PAYMENT-RESPONSE header")
	}
	raw, err := base64.StdEncoding.DecodeString(receipt)
	if err != nil {
		t.Fatalf("receipt not base64: %v", err)
	}
	var response x402.SettleResponse
	if err := json.Unmarshal(raw, &response); err != nil || !response.Success {
		t.Fatalf("receipt does not decode to a success: %v %+v", err, response)
	}
}

func TestProcessHTTPRequestRejectsMismatchedPayment(t *testing.T) {
	server := initializedServer(t)

	wrong := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:1", Asset: "USDC", Amount: "5", PayTo: "0xelse",
	}
	result := server.ProcessHTTPRequest(context.Background(), requestContext(&mockHTTPAdapter{
		headers: map[string]string{"X-PAYMENT": encodedPaymentFor(t, wrong)},
		method:  "GET", path: "/api/data", url: "https://example.com/api/data",
	}), nil)

	if result.Type != ResultPaymentError || result.Response.Status != 402 {
		t.Fatalf("Expected 402 for mismatched payment, got %+v", result.Response)
	}
}

func TestRouteConfigSettlementTiming(t *testing.T) {
	routes := RoutesConfig{
		"POST /mint": RouteConfig{
			SettlementTiming: SettleBefore,
			Accepts: PaymentOptions{
				{Scheme: "exact", PayTo: "0xtest", Price: "$1.00", Network: "eip155:1"},
			},
		},
	}
	server := Newx402HTTPResourceServer(routes, x402.WithFacilitatorClient(&mockFacilitatorClient{}))
	server.Register("eip155:1", &mockSchemeServer{scheme: "exact"})
	if err := server.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	accepted := types.PaymentRequirements{
		Scheme: "exact", Network: "eip155:1", Asset: "USDC", Amount: "1000000", PayTo: "0xtest",
	}
	result := server.ProcessHTTPRequest(context.Background(), requestContext(&mockHTTPAdapter{
		headers: map[string]string{"X-PAYMENT": encodedPaymentFor(t, accepted)},
		method:  "POST", path: "/mint", url: "https://example.com/mint",
	}), nil)

	if result.Type != ResultPaymentVerified {
		t.Fatalf("Expected verified result, got %s", result.Type)
	}
	if result.SettlementTiming != SettleBefore {
		t.Errorf("route timing not carried: %s", result.SettlementTiming)
	}
}

func TestParseRoutePattern(t *testing.T) {
	tests := []struct {
		pattern   string
		wantVerb  string
		matches   []string
		unmatched []string
	}{
		{"GET /api/data", "GET", []string{"/api/data"}, []string{"/api/other"}},
		{"/api/data", "*", []string{"/api/data"}, []string{"/api"}},
		{"GET /items/*", "GET", []string{"/items/1", "/items/a/b"}, []string{"/item"}},
		{"GET /users/[id]", "GET", []string{"/users/42"}, []string{"/users/42/posts"}},
	}
	for _, tt := range tests {
		verb, regex := parseRoutePattern(tt.pattern)
		if verb != tt.wantVerb {
			t.Errorf("%q: verb = %s, want %s", tt.pattern, verb, tt.wantVerb)
		}
		for _, path := range tt.matches {
			if !regex.MatchString(path) {
				t.Errorf("%q should match %s", tt.pattern, path)
			}
		}
		for _, path := range tt.unmatched {
			if regex.MatchString(path) {
				t.Errorf("%q should not match %s", tt.pattern, path)
			}
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/data?q=1":     "/api/data",
		"/api//data/":       "/api/data",
		"/api/data#section": "/api/data",
		"/api%2Fdata":       "/api/data",
	}
	for input, want := range tests {
		if got := normalizePath(input); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}
