package x402

import "context"

// PaymentCreationContext is handed to every client-side hook around payload
// creation: which protocol version is being produced and which offered
// requirement the selector settled on.
type PaymentCreationContext struct {
	Ctx                  context.Context
	Version              int
	SelectedRequirements PaymentRequirementsView
}

// PaymentCreatedContext adds the signed payload once creation succeeded.
type PaymentCreatedContext struct {
	PaymentCreationContext
	Payload PaymentPayloadView
}

// PaymentCreationFailureContext adds the error creation died with.
type PaymentCreationFailureContext struct {
	PaymentCreationContext
	Error error
}

// BeforePaymentCreationHookResult is a before-hook's verdict: Abort asks to
// veto signing and Reason says why.
type BeforePaymentCreationHookResult struct {
	Abort  bool
	Reason string
}

// PaymentCreationFailureHookResult is a failure hook's answer: Recovered
// with a substitute Payload, e.g. one from a secondary signer.
type PaymentCreationFailureHookResult struct {
	Recovered bool
	Payload   PaymentPayloadView
}

// The three client hook signatures. The client stores hooks registered
// through these options or its On* methods, but CreatePaymentPayload and
// CreatePaymentPayloadV1 do not invoke them: no registered hook runs,
// aborts, observes or recovers a payload creation.
type (
	BeforePaymentCreationHook    func(PaymentCreationContext) (*BeforePaymentCreationHookResult, error)
	AfterPaymentCreationHook     func(PaymentCreatedContext) error
	OnPaymentCreationFailureHook func(PaymentCreationFailureContext) (*PaymentCreationFailureHookResult, error)
)

// WithBeforePaymentCreationHook registers hook at construction time.
func WithBeforePaymentCreationHook(hook BeforePaymentCreationHook) ClientOption {
	return func(c *x402Client) {
		c.beforePaymentCreationHooks = append(c.beforePaymentCreationHooks, hook)
	}
}

// WithAfterPaymentCreationHook registers hook at construction time.
func WithAfterPaymentCreationHook(hook AfterPaymentCreationHook) ClientOption {
	return func(c *x402Client) {
		c.afterPaymentCreationHooks = append(c.afterPaymentCreationHooks, hook)
	}
}

// WithOnPaymentCreationFailureHook registers hook at construction time.
func WithOnPaymentCreationFailureHook(hook OnPaymentCreationFailureHook) ClientOption {
	return func(c *x402Client) {
		c.onPaymentCreationFailureHooks = append(c.onPaymentCreationFailureHooks, hook)
	}
}
