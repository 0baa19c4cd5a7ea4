package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/types"
)

// HTTPAdapter is the narrow view of an incoming request the engine needs.
// Each web framework (gin, net/http, echo) implements it once.
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// PaywallConfig drives the browser-facing 402 page.
type PaywallConfig struct {
	CDPClientKey         string `json:"cdpClientKey,omitempty"`
	AppName              string `json:"appName,omitempty"`
	AppLogo              string `json:"appLogo,omitempty"`
	SessionTokenEndpoint string `json:"sessionTokenEndpoint,omitempty"`
	CurrentURL           string `json:"currentUrl,omitempty"`
	Testnet              bool   `json:"testnet,omitempty"`
}

// DynamicPayToFunc resolves a route's recipient per request - e.g. a
// marketplace paying each item's seller.
type DynamicPayToFunc func(context.Context, HTTPRequestContext) (string, error)

// DynamicPriceFunc resolves a route's price per request.
type DynamicPriceFunc func(context.Context, HTTPRequestContext) (x402.Price, error)

// UnpaidResponse is a custom body for unpaid API requests - preview data,
// an upgrade prompt, whatever the route wants a 402 to carry.
type UnpaidResponse struct {
	ContentType string
	Body        interface{}
}

// UnpaidResponseBodyFunc produces the UnpaidResponse for one request.
// Browser requests get the paywall regardless; this only affects API
// clients.
type UnpaidResponseBodyFunc func(ctx context.Context, reqCtx HTTPRequestContext) (*UnpaidResponse, error)

// PaymentOption is one way a route can be paid. PayTo and Price accept
// either static values or their Dynamic*Func forms.
type PaymentOption struct {
	Scheme            string                 `json:"scheme"`
	PayTo             interface{}            `json:"payTo"`
	Price             interface{}            `json:"price"`
	Network           x402.Network           `json:"network"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentOptions is the per-route option list.
type PaymentOptions = []PaymentOption

// SettlementTiming selects when a route's payment is settled relative to
// the protected handler.
type SettlementTiming string

const (
	// SettleAfter settles once the handler has produced a non-error
	// response (the default). Lower latency, but the verified
	// authorization stays spendable until settlement lands on chain.
	SettleAfter SettlementTiming = "after"

	// SettleBefore settles before the handler runs: a failed settlement
	// means the handler is never invoked. Side-effectful routes (minting,
	// issuance) should prefer this.
	SettleBefore SettlementTiming = "before"
)

// RouteConfig is one protected route's payment terms.
type RouteConfig struct {
	Accepts PaymentOptions `json:"accepts"`

	// SettlementTiming selects verify→handler→settle (after, default) or
	// verify→settle→handler (before) for this route.
	SettlementTiming SettlementTiming `json:"settlementTiming,omitempty"`

	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	CustomPaywallHTML string                 `json:"customPaywallHtml,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`

	UnpaidResponseBody UnpaidResponseBodyFunc `json:"-"`
}

// RoutesConfig maps route patterns ("GET /api/*", "/page") to their
// configs.
type RoutesConfig map[string]RouteConfig

// CompiledRoute is a route pattern parsed for matching.
type CompiledRoute struct {
	Verb   string
	Regex  *regexp.Regexp
	Config RouteConfig
}

// HTTPRequestContext is the request as the engine sees it.
type HTTPRequestContext struct {
	Adapter       HTTPAdapter
	Path          string
	Method        string
	PaymentHeader string
}

// HTTPResponseInstructions tells the framework adapter what to write.
type HTTPResponseInstructions struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body,omitempty"`
	IsHTML  bool              `json:"isHtml,omitempty"`
}

// HTTPProcessResult is ProcessHTTPRequest's verdict: pass through, respond
// with the challenge/error in Response, or run the handler with the
// verified payment attached.
type HTTPProcessResult struct {
	Type                string
	Response            *HTTPResponseInstructions
	PaymentPayload      *types.PaymentPayload
	PaymentRequirements *types.PaymentRequirements
	SettlementTiming    SettlementTiming
}

const (
	ResultNoPaymentRequired = "no-payment-required"
	ResultPaymentVerified   = "payment-verified"
	ResultPaymentError      = "payment-error"
)

// ProcessSettleResult is ProcessSettlement's verdict, with the receipt
// headers to attach on success.
type ProcessSettleResult struct {
	Success     bool
	Headers     map[string]string
	ErrorReason string
	Transaction string
	Network     x402.Network
	Payer       string
}

// x402HTTPResourceServer layers route matching, content negotiation, and
// header codecs over the protocol engine.
type x402HTTPResourceServer struct {
	*x402.X402ResourceServer
	compiledRoutes []CompiledRoute
}

// Newx402HTTPResourceServer builds the engine and wraps it in one call.
func Newx402HTTPResourceServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *x402HTTPResourceServer {
	return Wrappedx402HTTPResourceServer(routes, x402.Newx402ResourceServer(opts...))
}

// Wrappedx402HTTPResourceServer wraps an existing engine, compiling the
// route table once up front.
func Wrappedx402HTTPResourceServer(routes RoutesConfig, resourceServer *x402.X402ResourceServer) *x402HTTPResourceServer {
	server := &x402HTTPResourceServer{
		X402ResourceServer: resourceServer,
		compiledRoutes:     make([]CompiledRoute, 0, len(routes)),
	}
	for pattern, config := range routes {
		verb, regex := parseRoutePattern(pattern)
		server.compiledRoutes = append(server.compiledRoutes, CompiledRoute{
			Verb:   verb,
			Regex:  regex,
			Config: config,
		})
	}
	return server
}

// resolveOption materializes one PaymentOption for a concrete request,
// invoking its dynamic callbacks where present.
func resolveOption(ctx context.Context, option PaymentOption, reqCtx HTTPRequestContext) (x402.ResourceConfig, error) {
	var payTo string
	switch v := option.PayTo.(type) {
	case DynamicPayToFunc:
		resolved, err := v(ctx, reqCtx)
		if err != nil {
			return x402.ResourceConfig{}, fmt.Errorf("failed to resolve dynamic payTo: %w", err)
		}
		payTo = resolved
	case string:
		payTo = v
	default:
		return x402.ResourceConfig{}, fmt.Errorf("payTo must be string or DynamicPayToFunc, got %T", option.PayTo)
	}

	price := option.Price
	if priceFunc, ok := option.Price.(DynamicPriceFunc); ok {
		resolved, err := priceFunc(ctx, reqCtx)
		if err != nil {
			return x402.ResourceConfig{}, fmt.Errorf("failed to resolve dynamic price: %w", err)
		}
		price = resolved
	}

	return x402.ResourceConfig{
		Scheme:            option.Scheme,
		PayTo:             payTo,
		Price:             price,
		Network:           option.Network,
		MaxTimeoutSeconds: option.MaxTimeoutSeconds,
	}, nil
}

// BuildPaymentRequirementsFromOptions resolves every option of a route
// into concrete requirements for this request.
func (s *x402HTTPResourceServer) BuildPaymentRequirementsFromOptions(ctx context.Context, options []PaymentOption, reqCtx HTTPRequestContext) ([]types.PaymentRequirements, error) {
	all := make([]types.PaymentRequirements, 0, len(options))
	for _, option := range options {
		config, err := resolveOption(ctx, option, reqCtx)
		if err != nil {
			return nil, err
		}
		requirements, err := s.BuildPaymentRequirementsFromConfig(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to build requirements for option %s on %s: %w", option.Scheme, option.Network, err)
		}
		all = append(all, requirements...)
	}
	return all, nil
}

// serverError wraps an internal failure as response instructions.
func serverError(message string) *HTTPResponseInstructions {
	return &HTTPResponseInstructions{
		Status:  500,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    map[string]string{"error": message},
	}
}

// ProcessHTTPRequest is the per-request state machine: match the route,
// build the offer, then either challenge (no payment), reject (bad
// payment), or hand back a verified payment for the transport to settle
// around its handler.
func (s *x402HTTPResourceServer) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, paywallConfig *PaywallConfig) HTTPProcessResult {
	routeConfig := s.getRouteConfig(reqCtx.Path, reqCtx.Method)
	if routeConfig == nil || len(routeConfig.Accepts) == 0 {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	payload, err := s.extractPaymentV2(reqCtx.Adapter)
	if err != nil {
		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: &HTTPResponseInstructions{Status: 400, Body: map[string]string{"error": "Invalid payment"}},
		}
	}

	requirements, err := s.BuildPaymentRequirementsFromOptions(ctx, routeConfig.Accepts, reqCtx)
	if err != nil {
		return HTTPProcessResult{Type: ResultPaymentError, Response: serverError(err.Error())}
	}

	resourceInfo := &types.ResourceInfo{
		URL:         reqCtx.Adapter.GetURL(),
		Description: routeConfig.Description,
		MimeType:    routeConfig.MimeType,
	}
	for i := range requirements {
		if requirements[i].Extra == nil {
			requirements[i].Extra = make(map[string]interface{})
		}
		requirements[i].Extra["resourceUrl"] = resourceInfo.URL
	}

	extensions := s.EnrichPaymentRequiredExtensions(ctx, routeConfig.Extensions, requirements, reqCtx)

	if payload == nil {
		return s.challenge(ctx, reqCtx, routeConfig, requirements, resourceInfo, extensions, paywallConfig)
	}

	matched := s.FindMatchingRequirements(requirements, *payload)
	if matched == nil {
		required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "No matching payment requirements", extensions)
		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.createHTTPResponseV2(required, false, paywallConfig, "", nil),
		}
	}

	if _, err := s.VerifyPayment(ctx, *payload, *matched); err != nil {
		required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, err.Error(), extensions)
		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.createHTTPResponseV2(required, false, paywallConfig, "", nil),
		}
	}

	timing := routeConfig.SettlementTiming
	if timing == "" {
		timing = SettleAfter
	}
	return HTTPProcessResult{
		Type:                ResultPaymentVerified,
		PaymentPayload:      payload,
		PaymentRequirements: matched,
		SettlementTiming:    timing,
	}
}

// challenge produces the 402 for a request that carried no payment,
// honoring the route's custom unpaid body for API clients.
func (s *x402HTTPResourceServer) challenge(
	ctx context.Context,
	reqCtx HTTPRequestContext,
	routeConfig *RouteConfig,
	requirements []types.PaymentRequirements,
	resourceInfo *types.ResourceInfo,
	extensions map[string]interface{},
	paywallConfig *PaywallConfig,
) HTTPProcessResult {
	required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "Payment required", extensions)

	var unpaid *UnpaidResponse
	if routeConfig.UnpaidResponseBody != nil {
		body, err := routeConfig.UnpaidResponseBody(ctx, reqCtx)
		if err != nil {
			return HTTPProcessResult{
				Type:     ResultPaymentError,
				Response: serverError(fmt.Sprintf("Failed to generate unpaid response: %v", err)),
			}
		}
		unpaid = body
	}

	return HTTPProcessResult{
		Type: ResultPaymentError,
		Response: s.createHTTPResponseV2(
			required,
			s.isWebBrowser(reqCtx.Adapter),
			paywallConfig,
			routeConfig.CustomPaywallHTML,
			unpaid,
		),
	}
}

// RequiresPayment reports whether the request matches any protected route.
func (s *x402HTTPResourceServer) RequiresPayment(reqCtx HTTPRequestContext) bool {
	return s.getRouteConfig(reqCtx.Path, reqCtx.Method) != nil
}

// ProcessSettlement settles a verified payment and packages the receipt
// headers, including any extension contributions on a sibling header so
// the base receipt stays exactly {success,transaction,network,payer}.
func (s *x402HTTPResourceServer) ProcessSettlement(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) *ProcessSettleResult {
	settled, err := s.SettlePayment(ctx, payload, requirements)
	if err != nil {
		return &ProcessSettleResult{Success: false, ErrorReason: err.Error()}
	}
	if !settled.Success {
		return &ProcessSettleResult{Success: false, ErrorReason: settled.ErrorReason}
	}

	headers := s.createSettlementHeaders(settled)
	if extInfo := s.EnrichSettlementExtensions(ctx, payload, requirements, settled, nil); len(extInfo) > 0 {
		if encoded, err := json.Marshal(extInfo); err == nil {
			headers["X-PAYMENT-RESPONSE-EXTENSIONS"] = base64.StdEncoding.EncodeToString(encoded)
		} else {
			log.Printf("x402: failed to encode settlement extensions: %v", err)
		}
	}

	return &ProcessSettleResult{
		Success:     true,
		Headers:     headers,
		Transaction: settled.Transaction,
		Network:     settled.Network,
		Payer:       settled.Payer,
	}
}

// getRouteConfig finds the first compiled route matching path and method.
func (s *x402HTTPResourceServer) getRouteConfig(path, method string) *RouteConfig {
	normalized := normalizePath(path)
	method = strings.ToUpper(method)

	for i := range s.compiledRoutes {
		route := &s.compiledRoutes[i]
		if route.Verb != "*" && route.Verb != method {
			continue
		}
		if route.Regex.MatchString(normalized) {
			return &route.Config
		}
	}
	return nil
}

// extractPaymentV2 reads and decodes the payment header. X-PAYMENT is the
// protocol header; PAYMENT-SIGNATURE is accepted for legacy callers. A
// missing header is (nil, nil); only a malformed one errors.
func (s *x402HTTPResourceServer) extractPaymentV2(adapter HTTPAdapter) (*types.PaymentPayload, error) {
	var header string
	for _, name := range []string{"X-PAYMENT", "x-payment", "PAYMENT-SIGNATURE", "payment-signature"} {
		if header = adapter.GetHeader(name); header != "" {
			break
		}
	}
	if header == "" {
		return nil, nil
	}

	jsonBytes, err := decodeBase64Header(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payment header: %w", err)
	}
	version, err := types.DetectVersion(jsonBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}
	if version != 2 {
		return nil, fmt.Errorf("only V2 payments supported, got V%d", version)
	}
	payload, err := types.ToPaymentPayload(jsonBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal V2 payload: %w", err)
	}
	return payload, nil
}

func decodeBase64Header(header string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(header)
}

// isWebBrowser applies the content-negotiation rule: HTML in Accept plus a
// Mozilla user agent selects the paywall.
func (s *x402HTTPResourceServer) isWebBrowser(adapter HTTPAdapter) bool {
	return strings.Contains(adapter.GetAcceptHeader(), "text/html") &&
		strings.Contains(adapter.GetUserAgent(), "Mozilla")
}

// createHTTPResponseV2 renders a 402: HTML paywall for browsers, JSON plus
// the PAYMENT-REQUIRED challenge header for everyone else.
func (s *x402HTTPResourceServer) createHTTPResponseV2(paymentRequired types.PaymentRequired, isWebBrowser bool, paywallConfig *PaywallConfig, customHTML string, unpaidResponse *UnpaidResponse) *HTTPResponseInstructions {
	if isWebBrowser {
		return &HTTPResponseInstructions{
			Status:  402,
			Headers: map[string]string{"Content-Type": "text/html"},
			Body:    s.generatePaywallHTML(paymentRequired, paywallConfig, customHTML),
			IsHTML:  true,
		}
	}

	contentType := "application/json"
	var body interface{}
	if unpaidResponse != nil {
		contentType = unpaidResponse.ContentType
		body = unpaidResponse.Body
	}

	return &HTTPResponseInstructions{
		Status: 402,
		Headers: map[string]string{
			"Content-Type":     contentType,
			"PAYMENT-REQUIRED": encodePaymentRequiredHeader(paymentRequired),
		},
		Body: body,
	}
}

// createSettlementHeaders packages a receipt for the response, exposing it
// across CORS boundaries.
func (s *x402HTTPResourceServer) createSettlementHeaders(response *x402.SettleResponse) map[string]string {
	encoded := encodePaymentResponseHeader(*response)
	return map[string]string{
		"X-PAYMENT-RESPONSE":            encoded,
		"PAYMENT-RESPONSE":              encoded,
		"Access-Control-Expose-Headers": "X-PAYMENT-RESPONSE, X-PAYMENT-RESPONSE-EXTENSIONS",
	}
}

// generatePaywallHTML renders the browser paywall. A route's custom HTML
// short-circuits everything; otherwise a minimal self-contained page with
// an embeddable payment-widget mount point is produced.
func (s *x402HTTPResourceServer) generatePaywallHTML(paymentRequired types.PaymentRequired, config *PaywallConfig, customHTML string) string {
	if customHTML != "" {
		return customHTML
	}

	resourceDesc := ""
	if paymentRequired.Resource != nil {
		resourceDesc = paymentRequired.Resource.Description
		if resourceDesc == "" {
			resourceDesc = paymentRequired.Resource.URL
		}
	}

	var appLogo, appName, cdpClientKey string
	var testnet bool
	if config != nil {
		if config.AppLogo != "" {
			appLogo = fmt.Sprintf(`<img src="%s" alt="%s" style="max-width: 200px; margin-bottom: 20px;">`,
				html.EscapeString(config.AppLogo), html.EscapeString(config.AppName))
		}
		appName = config.AppName
		cdpClientKey = config.CDPClientKey
		testnet = config.Testnet
	}

	requirementsJSON, _ := json.Marshal(paymentRequired)

	return fmt.Sprintf(paywallTemplate,
		appLogo,
		html.EscapeString(resourceDesc),
		displayAmount(paymentRequired),
		html.EscapeString(string(requirementsJSON)),
		html.EscapeString(cdpClientKey),
		html.EscapeString(appName),
		testnet,
	)
}

const paywallTemplate = `<!DOCTYPE html>
<html>
<head>
	<title>Payment Required</title>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<style>
		body {
			font-family: system-ui, -apple-system, sans-serif;
			margin: 0;
			padding: 0;
			background: #f5f5f5;
		}
		.container {
			max-width: 600px;
			margin: 50px auto;
			padding: 20px;
			background: white;
			border-radius: 8px;
			box-shadow: 0 2px 4px rgba(0,0,0,0.1);
		}
		.logo { margin-bottom: 20px; }
		h1 { color: #333; }
		.info { margin: 20px 0; }
		.info p { margin: 10px 0; }
		.amount {
			font-size: 24px;
			font-weight: bold;
			color: #0066cc;
			margin: 20px 0;
		}
		#payment-widget {
			margin-top: 30px;
			padding: 20px;
			border: 1px dashed #ccc;
			border-radius: 4px;
			background: #fafafa;
			text-align: center;
			color: #666;
		}
	</style>
</head>
<body>
	<div class="container">
		%s
		<h1>Payment Required</h1>
		<div class="info">
			<p><strong>Resource:</strong> %s</p>
			<p class="amount">Amount: $%.2f USDC</p>
		</div>
		<div id="payment-widget"
			data-requirements='%s'
			data-cdp-client-key="%s"
			data-app-name="%s"
			data-testnet="%t">
			<p>Loading payment widget...</p>
		</div>
	</div>
</body>
</html>`

// displayAmount converts the first offer's atomic amount to a
// human-readable value, assuming the 6 decimals of the default asset.
func displayAmount(paymentRequired types.PaymentRequired) float64 {
	if len(paymentRequired.Accepts) == 0 {
		return 0
	}
	amount, err := strconv.ParseFloat(paymentRequired.Accepts[0].Amount, 64)
	if err != nil {
		return 0
	}
	return amount / 1e6
}

// parseRoutePattern compiles "VERB /path" patterns. "*" segments match
// across slashes, "[param]" segments match a single path element, and a
// pattern without a verb matches every method.
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	verb := "*"
	path := pattern
	if parts := strings.Fields(pattern); len(parts) == 2 {
		verb = strings.ToUpper(parts[0])
		path = parts[1]
	}

	quoted := regexp.QuoteMeta(path)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*?`)
	quoted = regexp.MustCompile(`\\\[([^\]]+)\\\]`).ReplaceAllString(quoted, `[^/]+`)

	return verb, regexp.MustCompile("^" + quoted + "$")
}

var multiSlash = regexp.MustCompile(`/+`)

// normalizePath canonicalizes a request path before matching: strip query
// and fragment, decode percent-escapes, collapse slashes, drop the
// trailing slash.
func normalizePath(path string) string {
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	path = strings.ReplaceAll(path, `\`, `/`)
	path = multiSlash.ReplaceAllString(path, `/`)
	path = strings.TrimSuffix(path, `/`)
	if path == "" {
		path = "/"
	}
	return path
}
