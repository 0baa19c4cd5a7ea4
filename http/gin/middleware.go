// Package gin binds the payment engine to the gin framework: an adapter
// over gin's request context, middleware constructors, and the
// response-capture machinery post-settlement delivery needs.
package gin

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/extensions/bazaar"
	x402http "github.com/x402-engine/x402/http"
	"github.com/gin-gonic/gin"
)

// GinAdapter implements x402http.HTTPAdapter over a gin context.
type GinAdapter struct {
	ctx *gin.Context
}

func NewGinAdapter(ctx *gin.Context) *GinAdapter {
	return &GinAdapter{ctx: ctx}
}

func (a *GinAdapter) GetHeader(name string) string { return a.ctx.GetHeader(name) }
func (a *GinAdapter) GetMethod() string            { return a.ctx.Request.Method }
func (a *GinAdapter) GetPath() string              { return a.ctx.Request.URL.Path }
func (a *GinAdapter) GetAcceptHeader() string      { return a.ctx.GetHeader("Accept") }
func (a *GinAdapter) GetUserAgent() string         { return a.ctx.GetHeader("User-Agent") }

// GetURL reconstructs the absolute request URL from scheme, host, and
// path.
func (a *GinAdapter) GetURL() string {
	scheme := "http"
	if a.ctx.Request.TLS != nil {
		scheme = "https"
	}
	host := a.ctx.Request.Host
	if host == "" {
		host = a.ctx.GetHeader("Host")
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, a.ctx.Request.URL.Path)
}

// MiddlewareConfig collects everything the middleware constructors accept.
type MiddlewareConfig struct {
	Routes                 x402http.RoutesConfig
	FacilitatorClients     []x402.FacilitatorClient
	Schemes                []SchemeRegistration
	PaywallConfig          *x402http.PaywallConfig
	SyncFacilitatorOnStart bool
	ErrorHandler           func(*gin.Context, error)
	SettlementHandler      func(*gin.Context, *x402.SettleResponse)
	Timeout                time.Duration
}

// SchemeRegistration pairs a network pattern with its scheme server.
type SchemeRegistration struct {
	Network x402.Network
	Server  x402.SchemeNetworkServer
}

// MiddlewareOption mutates a MiddlewareConfig.
type MiddlewareOption func(*MiddlewareConfig)

func WithFacilitatorClient(client x402.FacilitatorClient) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.FacilitatorClients = append(c.FacilitatorClients, client)
	}
}

func WithScheme(network x402.Network, schemeServer x402.SchemeNetworkServer) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.Schemes = append(c.Schemes, SchemeRegistration{Network: network, Server: schemeServer})
	}
}

func WithPaywallConfig(config *x402http.PaywallConfig) MiddlewareOption {
	return func(c *MiddlewareConfig) { c.PaywallConfig = config }
}

func WithSyncFacilitatorOnStart(sync bool) MiddlewareOption {
	return func(c *MiddlewareConfig) { c.SyncFacilitatorOnStart = sync }
}

func WithErrorHandler(handler func(*gin.Context, error)) MiddlewareOption {
	return func(c *MiddlewareConfig) { c.ErrorHandler = handler }
}

func WithSettlementHandler(handler func(*gin.Context, *x402.SettleResponse)) MiddlewareOption {
	return func(c *MiddlewareConfig) { c.SettlementHandler = handler }
}

func WithTimeout(timeout time.Duration) MiddlewareOption {
	return func(c *MiddlewareConfig) { c.Timeout = timeout }
}

// applyOptions folds opts onto the defaults.
func applyOptions(routes x402http.RoutesConfig, opts []MiddlewareOption) *MiddlewareConfig {
	config := &MiddlewareConfig{
		Routes:                 routes,
		SyncFacilitatorOnStart: true,
		Timeout:                30 * time.Second,
	}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// finishServer registers the discovery extension and optionally syncs
// facilitator capabilities, then returns the handler.
func finishServer(httpServer *x402http.HTTPServer, config *MiddlewareConfig) gin.HandlerFunc {
	httpServer.RegisterExtension(bazaar.BazaarResourceServerExtension)

	if config.SyncFacilitatorOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		if err := httpServer.Initialize(ctx); err != nil {
			fmt.Printf("Warning: failed to initialize x402 server: %v\n", err)
		}
	}
	return paymentHandler(httpServer, config)
}

// PaymentMiddleware builds the middleware around an engine the caller
// already configured.
func PaymentMiddleware(routes x402http.RoutesConfig, server *x402.X402ResourceServer, opts ...MiddlewareOption) gin.HandlerFunc {
	config := applyOptions(routes, opts)
	return finishServer(x402http.Wrappedx402HTTPResourceServer(routes, server), config)
}

// PaymentMiddlewareFromConfig builds the engine internally from the
// provided facilitators and schemes.
func PaymentMiddlewareFromConfig(routes x402http.RoutesConfig, opts ...MiddlewareOption) gin.HandlerFunc {
	config := applyOptions(routes, opts)

	serverOpts := make([]x402.ResourceServerOption, 0, len(config.FacilitatorClients))
	for _, client := range config.FacilitatorClients {
		serverOpts = append(serverOpts, x402.WithFacilitatorClient(client))
	}
	httpServer := x402http.Newx402HTTPResourceServer(config.Routes, serverOpts...)
	for _, scheme := range config.Schemes {
		httpServer.Register(scheme.Network, scheme.Server)
	}

	return finishServer(httpServer, config)
}

// paymentHandler is the request-time middleware body.
func paymentHandler(server *x402http.HTTPServer, config *MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		adapter := NewGinAdapter(c)
		reqCtx := x402http.HTTPRequestContext{
			Adapter: adapter,
			Path:    c.Request.URL.Path,
			Method:  c.Request.Method,
		}

		if !server.RequiresPayment(reqCtx) {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		defer cancel()

		result := server.ProcessHTTPRequest(ctx, reqCtx, config.PaywallConfig)

		switch result.Type {
		case x402http.ResultNoPaymentRequired:
			c.Next()
		case x402http.ResultPaymentError:
			writeInstructions(c, result.Response)
		case x402http.ResultPaymentVerified:
			handlePaymentVerified(c, server, ctx, result, config)
		}
	}
}

// writeInstructions renders an HTTPResponseInstructions and stops the
// chain.
func writeInstructions(c *gin.Context, response *x402http.HTTPResponseInstructions) {
	c.Status(response.Status)
	for key, value := range response.Headers {
		c.Header(key, value)
	}
	if response.IsHTML {
		c.Data(response.Status, "text/html; charset=utf-8", []byte(response.Body.(string)))
	} else {
		c.JSON(response.Status, response.Body)
	}
	c.Abort()
}

// handlePaymentVerified runs the protected handler with settlement on
// whichever side the route's timing selects.
func handlePaymentVerified(c *gin.Context, server *x402http.HTTPServer, ctx context.Context, result x402http.HTTPProcessResult, config *MiddlewareConfig) {
	// Pre-settlement routes charge before the handler runs: a failed
	// settlement means the handler never executes and no side effect
	// happens unpaid.
	if result.SettlementTiming == x402http.SettleBefore {
		settleBeforeHandler(c, server, ctx, result, config)
		return
	}

	// Post-settlement: buffer the handler's response so the receipt
	// headers can still be attached after settlement.
	writer := &responseCapture{
		ResponseWriter: c.Writer,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
	c.Writer = writer

	c.Next()

	if c.IsAborted() {
		return
	}
	c.Writer = writer.ResponseWriter

	// A failed handler is never charged for; replay its response as-is.
	if writer.statusCode >= 400 {
		c.Writer.WriteHeader(writer.statusCode)
		_, _ = c.Writer.Write(writer.body.Bytes())
		return
	}

	settleResult := server.ProcessSettlement(ctx, *result.PaymentPayload, *result.PaymentRequirements)
	if !settleResult.Success {
		reportSettlementFailure(c, settleResult.ErrorReason, config)
		return
	}

	for key, value := range settleResult.Headers {
		c.Header(key, value)
	}
	notifySettlement(c, settleResult, config)

	c.Writer.WriteHeader(writer.statusCode)
	_, _ = c.Writer.Write(writer.body.Bytes())
}

// settleBeforeHandler settles first and only then invokes the protected
// handler. Settlement headers are set before the handler writes anything,
// so the receipt always reaches the client.
func settleBeforeHandler(c *gin.Context, server *x402http.HTTPServer, ctx context.Context, result x402http.HTTPProcessResult, config *MiddlewareConfig) {
	settleResult := server.ProcessSettlement(ctx, *result.PaymentPayload, *result.PaymentRequirements)
	if !settleResult.Success {
		reportSettlementFailure(c, settleResult.ErrorReason, config)
		c.Abort()
		return
	}

	for key, value := range settleResult.Headers {
		c.Header(key, value)
	}
	notifySettlement(c, settleResult, config)

	c.Next()
}

// reportSettlementFailure routes a failed settlement through the custom
// error handler or the default 402.
func reportSettlementFailure(c *gin.Context, errorReason string, config *MiddlewareConfig) {
	if errorReason == "" {
		errorReason = "Settlement failed"
	}
	if config.ErrorHandler != nil {
		config.ErrorHandler(c, fmt.Errorf("settlement failed: %s", errorReason))
		return
	}
	c.JSON(http.StatusPaymentRequired, gin.H{
		"error":   "Settlement failed",
		"details": errorReason,
	})
}

// notifySettlement invokes the optional settlement callback with the
// receipt.
func notifySettlement(c *gin.Context, settleResult *x402http.ProcessSettleResult, config *MiddlewareConfig) {
	if config.SettlementHandler == nil {
		return
	}
	config.SettlementHandler(c, &x402.SettleResponse{
		Success:     true,
		Transaction: settleResult.Transaction,
		Network:     settleResult.Network,
		Payer:       settleResult.Payer,
	})
}

// responseCapture buffers a handler's response so settlement can run
// between the handler and the wire.
type responseCapture struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
	mu         sync.Mutex
}

// WriteHeader records the first status code and ignores the rest,
// matching net/http semantics.
func (w *responseCapture) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeHeaderLocked(code)
}

func (w *responseCapture) writeHeaderLocked(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

// Write buffers body bytes, defaulting the status to 200 the way a real
// ResponseWriter would.
func (w *responseCapture) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.written {
		w.writeHeaderLocked(http.StatusOK)
	}
	return w.body.Write(data)
}

func (w *responseCapture) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}
