package unit_test

import (
	"context"
	"strings"
	"testing"

	x402 "github.com/x402-engine/x402"
	x402http "github.com/x402-engine/x402/http"
	"github.com/x402-engine/x402/test/mocks/cash"
)

// browserAdapter mimics a browser request: HTML in the Accept header and
// a Mozilla user agent, which is what flips the server into paywall mode.
type browserAdapter struct {
	method string
	path   string
	url    string
}

func (a *browserAdapter) GetHeader(string) string { return "" }
func (a *browserAdapter) GetMethod() string       { return a.method }
func (a *browserAdapter) GetPath() string         { return a.path }
func (a *browserAdapter) GetURL() string          { return a.url }

func (a *browserAdapter) GetAcceptHeader() string {
	return "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
}

func (a *browserAdapter) GetUserAgent() string {
	return "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
}

// TestHTTPBrowserPaywall checks the content-negotiation fork: a
// browser-looking request with no payment gets the HTML paywall, not the
// JSON challenge.
func TestHTTPBrowserPaywall(t *testing.T) {
	ctx := context.Background()

	routes := x402http.RoutesConfig{
		"/web/protected": {
			Accepts: x402http.PaymentOptions{
				{
					Scheme:  "cash",
					PayTo:   "merchant@example.com",
					Price:   "$5.00",
					Network: "x402:cash",
				},
			},
			Description: "Premium Web Content",
			MimeType:    "text/html",
		},
	}

	facilitator := x402.Newx402Facilitator()
	facilitator.Register([]x402.Network{"x402:cash"}, cash.NewSchemeNetworkFacilitator())

	server := x402http.Newx402HTTPResourceServer(
		routes,
		x402.WithFacilitatorClient(cash.NewFacilitatorClient(facilitator)),
	)
	server.Register("x402:cash", cash.NewSchemeNetworkServer())
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize server: %v", err)
	}

	adapter := &browserAdapter{
		method: "GET",
		path:   "/web/protected",
		url:    "https://example.com/web/protected",
	}
	paywall := &x402http.PaywallConfig{
		AppName:      "Test App",
		AppLogo:      "/logo.png",
		CDPClientKey: "test-key",
		Testnet:      true,
	}

	result := server.ProcessHTTPRequest(ctx, x402http.HTTPRequestContext{
		Adapter: adapter,
		Path:    adapter.path,
		Method:  adapter.method,
	}, paywall)

	if result.Type != x402http.ResultPaymentError {
		t.Fatalf("Expected payment-error result, got %s", result.Type)
	}
	response := result.Response
	if response == nil {
		t.Fatal("Expected response instructions")
	}
	if response.Status != 402 {
		t.Errorf("Expected status 402, got %d", response.Status)
	}
	if !response.IsHTML {
		t.Fatal("Browser request must get the HTML paywall")
	}
	if got := response.Headers["Content-Type"]; got != "text/html" {
		t.Errorf("Expected Content-Type text/html, got %s", got)
	}

	html, ok := response.Body.(string)
	if !ok {
		t.Fatal("Expected HTML body as string")
	}
	for _, want := range []string{"Payment Required", "Premium Web Content", "payment-widget", "test-key"} {
		if !strings.Contains(html, want) {
			t.Errorf("Expected paywall HTML to contain %q", want)
		}
	}
}
