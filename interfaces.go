package x402

import (
	"context"

	"github.com/x402-engine/x402/types"
)

// MoneyParser converts a decimal amount (e.g. 1.50 for $1.50) to an
// AssetAmount for a given network. Returns nil, nil if this parser doesn't
// know how to handle the conversion, letting the caller fall through to the
// next registered parser or the scheme's own default.
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

// facilitatorMeta is the part of a facilitator-side scheme that doesn't
// depend on protocol version: what chain family it serves and which
// addresses it signs with. SchemeNetworkFacilitatorV1 and
// SchemeNetworkFacilitator both embed it so the shared /supported-response
// bookkeeping in facilitator.go (CaipFamily/GetExtra/GetSigners grouping)
// can operate on either through one interface.
type facilitatorMeta interface {
	Scheme() string

	// CaipFamily reports the CAIP namespace pattern this facilitator serves,
	// e.g. "eip155:*" for EVM or "solana:*" for SVM. Used to group signers
	// by blockchain family in the supported response.
	CaipFamily() string

	// GetExtra returns scheme-specific metadata for the /supported response,
	// or nil if the scheme has none (most EVM schemes; SVM schemes report a
	// feePayer here).
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the addresses this facilitator signs or pays gas
	// with on network - facilitator wallets for EVM, fee payers for SVM.
	// Multiple addresses support key rotation and load balancing.
	GetSigners(network Network) []string
}

// ============================================================================
// V1 interfaces (legacy, explicitly versioned)
// ============================================================================

// SchemeNetworkClientV1 is implemented by client-side V1 payment mechanisms.
type SchemeNetworkClientV1 interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirementsV1) (types.PaymentPayloadV1, error)
}

// SchemeNetworkFacilitatorV1 is implemented by facilitator-side V1 payment
// mechanisms.
type SchemeNetworkFacilitatorV1 interface {
	facilitatorMeta
	Verify(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error)
}

// No SchemeNetworkServerV1: V1 resource servers were never part of this
// SDK, only facilitator-side V1 interop for legacy clients.

// ============================================================================
// V2 interfaces (current, default, no version suffix)
// ============================================================================

// SchemeNetworkClient is implemented by client-side payment mechanisms.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error)
}

// SchemeNetworkServer is implemented by server-side payment mechanisms: it
// turns a route's advertised Price into an AssetAmount and fills in any
// scheme-specific fields a PaymentRequirements needs before it's offered to
// a client.
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price Price, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements types.PaymentRequirements,
		supportedKind types.SupportedKind,
		extensions []string,
	) (types.PaymentRequirements, error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment
// mechanisms.
type SchemeNetworkFacilitator interface {
	facilitatorMeta
	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error)
}

// ============================================================================
// FacilitatorClient (network boundary - bytes in, typed results out)
// ============================================================================

// FacilitatorClient is implemented by anything a resource server or client
// can call as a remote facilitator: an in-process X402Facilitator, or an
// http.Client hitting a remote facilitator's /verify, /settle, /supported
// routes. Payloads cross this boundary as bytes because the caller doesn't
// necessarily know the protocol version; the implementation detects it and
// routes to the typed V1 or V2 path internally.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)

	// GetSupported returns supported payment kinds in flat-array form, each
	// element carrying its own x402Version for backward compatibility with
	// V1-only clients.
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
