package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/types"
)

// DefaultFacilitatorURL is the public facilitator used when a config names
// none.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// AuthProvider supplies per-endpoint authentication headers for a
// facilitator that requires them.
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders carries one header set per facilitator endpoint.
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures an HTTPFacilitatorClient. Every field is
// optional; the zero value talks to the default public facilitator with a
// 30-second timeout.
type FacilitatorConfig struct {
	URL          string
	HTTPClient   *http.Client
	AuthProvider AuthProvider
	Timeout      time.Duration
	Identifier   string
}

// HTTPFacilitatorClient speaks the facilitator RPC surface (/verify,
// /settle, /supported) over HTTP. It passes payload and requirements
// through as raw JSON, so one client serves both protocol versions.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// NewHTTPFacilitatorClient builds a client from config, filling defaults
// for anything unset.
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	c := &HTTPFacilitatorClient{
		url:          config.URL,
		httpClient:   config.HTTPClient,
		authProvider: config.AuthProvider,
		identifier:   config.Identifier,
	}
	if c.url == "" {
		c.url = DefaultFacilitatorURL
	}
	if c.httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.identifier == "" {
		c.identifier = c.url
	}
	return c
}

// Verify posts the payment to /verify and decodes the verdict.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	return callFacilitator[x402.VerifyResponse](ctx, c, "verify", payloadBytes, requirementsBytes,
		func(h AuthHeaders) map[string]string { return h.Verify })
}

// Settle posts the payment to /settle and decodes the receipt.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.SettleResponse, error) {
	return callFacilitator[x402.SettleResponse](ctx, c, "settle", payloadBytes, requirementsBytes,
		func(h AuthHeaders) map[string]string { return h.Settle })
}

// GetSupported fetches the facilitator's capability listing.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
	if err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
		return x402.SupportedResponse{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return x402.SupportedResponse{}, fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(body))
	}

	var supported x402.SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supported); err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return supported, nil
}

// Identifier names this facilitator in caches and logs.
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// callFacilitator is the shared verify/settle POST path: wrap the raw
// payload and requirements in the RPC envelope, apply auth, and decode a
// response of type T from a 200.
func callFacilitator[T any](
	ctx context.Context,
	c *HTTPFacilitatorClient,
	endpoint string,
	payloadBytes, requirementsBytes []byte,
	pickAuth func(AuthHeaders) map[string]string,
) (*T, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	envelope := map[string]interface{}{
		"x402Version":         version,
		"paymentPayload":      json.RawMessage(payloadBytes),
		"paymentRequirements": json.RawMessage(requirementsBytes),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.applyAuth(ctx, req, pickAuth); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("facilitator %s failed (%d): %s", endpoint, resp.StatusCode, string(respBody))
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return &out, nil
}

// applyAuth sets the endpoint's auth headers on req when a provider is
// configured.
func (c *HTTPFacilitatorClient) applyAuth(
	ctx context.Context,
	req *http.Request,
	pick func(AuthHeaders) map[string]string,
) error {
	if c.authProvider == nil {
		return nil
	}
	headers, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range pick(headers) {
		req.Header.Set(k, v)
	}
	return nil
}
