package x402

import "context"

// PaymentCallContext is what every resource-server hook sees: the typed
// views of the payload and requirements plus the raw JSON both were
// decoded from, for hooks (discovery cataloging, audit capture) that need
// fields the views hide.
type PaymentCallContext struct {
	Ctx               context.Context
	Payload           PaymentPayloadView
	Requirements      PaymentRequirementsView
	PayloadBytes      []byte
	RequirementsBytes []byte
}

// Verify and settle hooks receive the same context shape; the distinct
// names exist so a hook signature reads as what it intercepts.
type (
	VerifyContext = PaymentCallContext
	SettleContext = PaymentCallContext
)

// VerifyResultContext pairs a completed verification with the call it
// answered.
type VerifyResultContext struct {
	VerifyContext
	Result *VerifyResponse
}

// SettleResultContext pairs a completed settlement with the call it
// answered.
type SettleResultContext struct {
	SettleContext
	Result *SettleResponse
}

// VerifyFailureContext carries the error a verification died with.
type VerifyFailureContext struct {
	VerifyContext
	Error error
}

// SettleFailureContext carries the error a settlement died with.
type SettleFailureContext struct {
	SettleContext
	Error error
}

// ExtensionRequestContext is passed to a ResourceServerExtension's
// EnrichPaymentRequiredResponse hook while building a 402 response.
// TransportContext carries whatever the concrete transport provides (e.g.
// http.HTTPRequestContext); extensions that don't need it ignore it.
type ExtensionRequestContext struct {
	Ctx              context.Context
	Requirements     []PaymentRequirementsView
	TransportContext interface{}
}

// ExtensionSettlementContext is passed to a ResourceServerExtension's
// EnrichSettlementResponse hook after a payment has settled.
type ExtensionSettlementContext struct {
	Ctx              context.Context
	Payload          PaymentPayloadView
	Requirements     PaymentRequirementsView
	Settlement       *SettleResponse
	TransportContext interface{}
}

// BeforeHookResult lets a before-hook veto the operation. Reason becomes
// the rejection the caller sees when Abort is set.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// VerifyFailureHookResult lets a failure hook substitute its own
// VerifyResponse for the error. Recovered false leaves the error
// untouched.
type VerifyFailureHookResult struct {
	Recovered bool
	Result    *VerifyResponse
}

// SettleFailureHookResult is the settlement counterpart of
// VerifyFailureHookResult.
type SettleFailureHookResult struct {
	Recovered bool
	Result    *SettleResponse
}

// The six hook points, in call order. Before-hooks run ahead of the
// facilitator call and may abort; after-hooks observe a success (their
// errors are discarded, never surfaced); failure hooks run when the
// facilitator errored and may recover with a substitute result.
type (
	BeforeVerifyHook    func(VerifyContext) (*BeforeHookResult, error)
	AfterVerifyHook     func(VerifyResultContext) error
	OnVerifyFailureHook func(VerifyFailureContext) (*VerifyFailureHookResult, error)
	BeforeSettleHook    func(SettleContext) (*BeforeHookResult, error)
	AfterSettleHook     func(SettleResultContext) error
	OnSettleFailureHook func(SettleFailureContext) (*SettleFailureHookResult, error)
)

// WithBeforeVerifyHook registers hook at construction time.
func WithBeforeVerifyHook(hook BeforeVerifyHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	}
}

// WithAfterVerifyHook registers hook at construction time.
func WithAfterVerifyHook(hook AfterVerifyHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	}
}

// WithOnVerifyFailureHook registers hook at construction time.
func WithOnVerifyFailureHook(hook OnVerifyFailureHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	}
}

// WithBeforeSettleHook registers hook at construction time.
func WithBeforeSettleHook(hook BeforeSettleHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	}
}

// WithAfterSettleHook registers hook at construction time.
func WithAfterSettleHook(hook AfterSettleHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.afterSettleHooks = append(s.afterSettleHooks, hook)
	}
}

// WithOnSettleFailureHook registers hook at construction time.
func WithOnSettleFailureHook(hook OnSettleFailureHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	}
}
