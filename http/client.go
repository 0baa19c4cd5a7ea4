package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/types"
)

// x402HTTPClient layers header encoding and the pay-on-402 retry loop
// over a protocol client.
type x402HTTPClient struct {
	client *x402.X402Client
}

// Newx402HTTPClient wraps an engine client for HTTP use.
func Newx402HTTPClient(client *x402.X402Client) *x402HTTPClient {
	return &x402HTTPClient{client: client}
}

// upperHeaders re-keys a header map by uppercase name, since callers hand
// us maps with arbitrary casing.
func upperHeaders(headers map[string]string) map[string]string {
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		normalized[strings.ToUpper(k)] = v
	}
	return normalized
}

// EncodePaymentSignatureHeader encodes signed payload bytes into the
// request headers for their protocol version. v2 sets both the protocol
// header and the legacy spelling; v1 predates the legacy spelling.
func (c *x402HTTPClient) EncodePaymentSignatureHeader(payloadBytes []byte) map[string]string {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		panic(fmt.Sprintf("failed to detect version: %v", err))
	}
	encoded := base64.StdEncoding.EncodeToString(payloadBytes)

	switch version {
	case 2:
		return map[string]string{"X-PAYMENT": encoded, "PAYMENT-SIGNATURE": encoded}
	case 1:
		return map[string]string{"X-PAYMENT": encoded}
	default:
		panic(fmt.Sprintf("unsupported x402 version: %d", version))
	}
}

// GetPaymentRequiredResponse decodes a 402 challenge from wherever its
// version put it: the v2 PAYMENT-REQUIRED header, or the v1 body.
func (c *x402HTTPClient) GetPaymentRequiredResponse(headers map[string]string, body []byte) (x402.PaymentRequired, error) {
	if header, ok := upperHeaders(headers)["PAYMENT-REQUIRED"]; ok {
		return decodePaymentRequiredHeader(header)
	}

	if len(body) > 0 {
		var required x402.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil && required.X402Version == 1 {
			return required, nil
		}
	}

	return x402.PaymentRequired{}, fmt.Errorf("no payment required information found in response")
}

// GetPaymentSettleResponse decodes the settlement receipt header,
// accepting the legacy spelling too.
func (c *x402HTTPClient) GetPaymentSettleResponse(headers map[string]string) (*x402.SettleResponse, error) {
	normalized := upperHeaders(headers)
	for _, name := range []string{"X-PAYMENT-RESPONSE", "PAYMENT-RESPONSE"} {
		if header, ok := normalized[name]; ok {
			return decodePaymentResponseHeader(header)
		}
	}
	return nil, fmt.Errorf("payment response header not found")
}

// WrapHTTPClientWithPayment installs the pay-on-402 round tripper into an
// existing http.Client.
func WrapHTTPClientWithPayment(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &PaymentRoundTripper{
		Transport:  transport,
		x402Client: x402Client,
		retryCount: &sync.Map{},
	}
	return client
}

// PaymentRoundTripper retries a 402 response exactly once with a signed
// payment attached.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	x402Client *x402HTTPClient
	retryCount *sync.Map
}

// RoundTrip issues the request; on a 402 it decodes the challenge, signs a
// payment through the engine client, and retries once. A second 402 is
// terminal: the authorization has already been disclosed, so re-signing is
// never attempted.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := fmt.Sprintf("%p", req)
	count, _ := t.retryCount.LoadOrStore(requestID, 0)
	if count.(int) > 1 {
		t.retryCount.Delete(requestID)
		return nil, &x402.PaymentError{
			Code:    x402.ErrCodePaymentAlreadyAttempted,
			Message: "payment retry limit exceeded",
		}
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		t.retryCount.Delete(requestID)
		return resp, nil
	}
	t.retryCount.Store(requestID, count.(int)+1)

	paymentReq, err := t.answerChallenge(req, resp)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	retried, err := t.Transport.RoundTrip(paymentReq)
	t.retryCount.Delete(requestID)

	if err == nil && retried.StatusCode == http.StatusPaymentRequired {
		retried.Body.Close()
		return nil, &x402.PaymentError{
			Code:    x402.ErrCodePaymentAlreadyAttempted,
			Message: "server returned 402 again after a payment was attached",
		}
	}
	return retried, err
}

// answerChallenge consumes a 402 response and builds the retried request
// with a signed payment attached.
func (t *PaymentRoundTripper) answerChallenge(req *http.Request, resp *http.Response) (*http.Request, error) {
	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	version, err := detectPaymentRequiredVersion(headers, body)
	if err != nil {
		return nil, fmt.Errorf("failed to detect payment version: %w", err)
	}

	ctx := req.Context()
	var payloadBytes []byte
	if version == 1 {
		payloadBytes, err = t.signV1(ctx, body)
	} else {
		payloadBytes, err = t.signV2(ctx, headers, body)
	}
	if err != nil {
		return nil, err
	}

	paymentReq := req.Clone(ctx)
	for k, v := range t.x402Client.EncodePaymentSignatureHeader(payloadBytes) {
		paymentReq.Header.Set(k, v)
	}
	paymentReq.Header.Set("Access-Control-Expose-Headers", "X-PAYMENT-RESPONSE")
	return paymentReq, nil
}

// signV1 answers a v1 body-form challenge.
func (t *PaymentRoundTripper) signV1(ctx context.Context, body []byte) ([]byte, error) {
	var required types.PaymentRequiredV1
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, fmt.Errorf("failed to parse V1 payment required: %w", err)
	}

	selected, err := t.x402Client.client.SelectPaymentRequirementsV1(required.Accepts)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill V1 payment requirements: %w", err)
	}
	payload, err := t.x402Client.client.CreatePaymentPayloadV1(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("failed to create V1 payment: %w", err)
	}
	return json.Marshal(payload)
}

// signV2 answers a v2 challenge, preferring the header form.
func (t *PaymentRoundTripper) signV2(ctx context.Context, headers map[string]string, body []byte) ([]byte, error) {
	var required types.PaymentRequired
	if header, ok := upperHeaders(headers)["PAYMENT-REQUIRED"]; ok {
		decoded, err := decodePaymentRequiredHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to decode V2 header: %w", err)
		}
		required = decoded
	} else if len(body) > 0 {
		if err := json.Unmarshal(body, &required); err != nil {
			return nil, fmt.Errorf("failed to parse V2 payment required: %w", err)
		}
	} else {
		return nil, fmt.Errorf("no V2 payment required information found")
	}

	selected, err := t.x402Client.client.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill V2 payment requirements: %w", err)
	}
	payload, err := t.x402Client.client.CreatePaymentPayload(ctx, selected, required.Resource, required.Extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to create V2 payment: %w", err)
	}
	return json.Marshal(payload)
}

// detectPaymentRequiredVersion sniffs which protocol version shaped a 402:
// the PAYMENT-REQUIRED header means v2, a versioned body speaks for
// itself.
func detectPaymentRequiredVersion(headers map[string]string, body []byte) (int, error) {
	if _, ok := upperHeaders(headers)["PAYMENT-REQUIRED"]; ok {
		return 2, nil
	}
	if len(body) > 0 {
		var probe struct {
			X402Version int `json:"x402Version"`
		}
		if err := json.Unmarshal(body, &probe); err == nil {
			switch probe.X402Version {
			case 1, 2:
				return probe.X402Version, nil
			}
		}
	}
	return 0, fmt.Errorf("could not detect x402 version from response")
}

// DoWithPayment runs one request through a payment-aware client.
func (c *x402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: &PaymentRoundTripper{
			Transport:  http.DefaultTransport,
			x402Client: c,
			retryCount: &sync.Map{},
		},
	}
	return client.Do(req.WithContext(ctx))
}

// GetWithPayment is DoWithPayment for a GET.
func (c *x402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment is DoWithPayment for a POST.
func (c *x402HTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// Header codecs shared by both sides of the transport.

func encodePaymentRequiredHeader(required types.PaymentRequired) string {
	data, err := json.Marshal(required)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal payment required: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decodePaymentRequiredHeader(header string) (x402.PaymentRequired, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	var required x402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid payment required JSON: %w", err)
	}
	return required, nil
}

func encodePaymentResponseHeader(response x402.SettleResponse) string {
	data, err := json.Marshal(response)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal settle response: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decodePaymentResponseHeader(header string) (*x402.SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	var response x402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("invalid settle response JSON: %w", err)
	}
	return &response, nil
}
