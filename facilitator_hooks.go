package x402

import "context"

// FacilitatorCallContext is what every facilitator hook sees: the typed
// views of the payload and requirements plus the raw JSON both were decoded
// from. The raw bytes matter because version-agnostic views deliberately
// hide fields (extensions, scheme payloads) that some hooks - discovery
// cataloging in particular - still need to read.
type FacilitatorCallContext struct {
	Ctx               context.Context
	Payload           PaymentPayloadView
	Requirements      PaymentRequirementsView
	PayloadBytes      []byte
	RequirementsBytes []byte
}

// Verify and settle hooks receive the same context shape; the distinct
// names exist so a hook signature reads as what it intercepts.
type (
	FacilitatorVerifyContext = FacilitatorCallContext
	FacilitatorSettleContext = FacilitatorCallContext
)

// FacilitatorVerifyResultContext pairs a completed verification with the
// call it answered.
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result *VerifyResponse
}

// FacilitatorSettleResultContext pairs a completed settlement with the
// call it answered.
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result *SettleResponse
}

// FacilitatorVerifyFailureContext carries the error a verification died
// with, for failure hooks that want to recover or record it.
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error error
}

// FacilitatorSettleFailureContext is the settlement counterpart of
// FacilitatorVerifyFailureContext.
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error error
}

// FacilitatorBeforeHookResult lets a before-hook veto the operation.
// Reason becomes the rejection the caller sees when Abort is set.
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Reason string
}

// FacilitatorVerifyFailureHookResult lets a failure hook substitute its
// own VerifyResponse for the error. Recovered false leaves the error
// untouched.
type FacilitatorVerifyFailureHookResult struct {
	Recovered bool
	Result    *VerifyResponse
}

// FacilitatorSettleFailureHookResult is the settlement counterpart of
// FacilitatorVerifyFailureHookResult.
type FacilitatorSettleFailureHookResult struct {
	Recovered bool
	Result    *SettleResponse
}

// The six hook points, in call order. Before-hooks run ahead of the scheme
// dispatch and may abort; after-hooks observe a success (their errors are
// discarded, never surfaced); failure hooks run when the scheme errored and
// may recover with a substitute result.
type (
	FacilitatorBeforeVerifyHook    func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error)
	FacilitatorAfterVerifyHook     func(FacilitatorVerifyResultContext) error
	FacilitatorOnVerifyFailureHook func(FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureHookResult, error)
	FacilitatorBeforeSettleHook    func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)
	FacilitatorAfterSettleHook     func(FacilitatorSettleResultContext) error
	FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error)
)
