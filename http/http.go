// Package http carries the transport binding of the payment engine: the
// fetch-wrapping client, the framework-agnostic resource server, and the
// facilitator RPC client. Framework glue (gin) lives one package down and
// builds on the exported surface here.
package http

import (
	x402 "github.com/x402-engine/x402"
)

// Short aliases for the wordier internal names, used by framework
// adapters and most callers.
type (
	HTTPClient = x402HTTPClient
	HTTPServer = x402HTTPResourceServer
)

// NewClient wraps a protocol client with HTTP header handling.
func NewClient(client *x402.X402Client) *x402HTTPClient {
	return Newx402HTTPClient(client)
}

// NewServer builds an HTTP resource server over the given routes.
func NewServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *x402HTTPResourceServer {
	return Newx402HTTPResourceServer(routes, opts...)
}

// NewFacilitatorClient dials a facilitator's HTTP RPC surface.
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}
