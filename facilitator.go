package x402

import (
	"context"
	"fmt"
	"sync"

	"github.com/x402-engine/x402/types"
)

// schemeData pairs a registered facilitator mechanism with the networks it
// was registered for. facilitator is either a SchemeNetworkFacilitatorV1 or
// a SchemeNetworkFacilitator depending on which array it lives in; the type
// switch happens at lookup time via lookupFacilitator's type parameter.
type schemeData struct {
	facilitator interface{}
	networks    map[Network]bool
	pattern     Network
}

// x402Facilitator dispatches Verify/Settle calls to whichever registered
// scheme mechanism matches a payment's (scheme, network) pair, running the
// configured lifecycle hooks around the call. It speaks both protocol
// versions at once: a single facilitator can serve V1 clients still on the
// legacy wire format and V2 clients on the current one, routed by
// types.DetectVersion rather than by separate server instances.
type x402Facilitator struct {
	mu sync.RWMutex

	schemesV1  []*schemeData
	schemes    []*schemeData
	extensions []string

	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

func Newx402Facilitator() *x402Facilitator {
	return &x402Facilitator{
		schemesV1:  []*schemeData{},
		schemes:    []*schemeData{},
		extensions: []string{},
	}
}

// RegisterV1 registers a legacy facilitator mechanism for one or more
// networks. The networks are remembered here so GetSupported can list them
// later without the caller repeating itself.
func (f *x402Facilitator) RegisterV1(networks []Network, facilitator SchemeNetworkFacilitatorV1) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.schemesV1 = append(f.schemesV1, &schemeData{
		facilitator: facilitator,
		networks:    networkSet(networks),
		pattern:     derivePattern(networks),
	})
	return f
}

// Register registers a facilitator mechanism for one or more networks.
func (f *x402Facilitator) Register(networks []Network, facilitator SchemeNetworkFacilitator) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.schemes = append(f.schemes, &schemeData{
		facilitator: facilitator,
		networks:    networkSet(networks),
		pattern:     derivePattern(networks),
	})
	return f
}

// RegisterExtension declares a protocol extension this facilitator
// supports, surfaced in GetSupported so clients know to offer extension
// fields (e.g. gas sponsorship) in their payloads.
func (f *x402Facilitator) RegisterExtension(extension string) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}
	f.extensions = append(f.extensions, extension)
	return f
}

func networkSet(networks []Network) map[Network]bool {
	set := make(map[Network]bool, len(networks))
	for _, network := range networks {
		set[network] = true
	}
	return set
}

// ============================================================================
// Hook registration
// ============================================================================

func (f *x402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *x402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *x402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *x402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *x402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *x402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core payment methods (network boundary: bytes in, version detected, typed
// mechanism invoked)
// ============================================================================

// Verify detects the protocol version carried in payloadBytes and routes to
// the matching registered mechanism, running the before/after/failure hooks
// around the call either way.
func (f *x402Facilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, NewVerifyError("invalid_version", "", "", err)
	}

	switch version {
	case ProtocolVersionV1:
		payload, err := types.ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return nil, NewVerifyError("invalid_v1_payload", "", "", err)
		}
		requirements, err := types.ToPaymentRequirementsV1(requirementsBytes)
		if err != nil {
			return nil, NewVerifyError("invalid_v1_requirements", "", "", err)
		}
		return f.runVerify(ctx, *payload, *requirements, payloadBytes, requirementsBytes, func() (*VerifyResponse, error) {
			return f.verifyV1(ctx, *payload, *requirements)
		})

	case ProtocolVersion:
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return nil, NewVerifyError("invalid_v2_payload", "", "", err)
		}
		requirements, err := types.ToPaymentRequirements(requirementsBytes)
		if err != nil {
			return nil, NewVerifyError("invalid_v2_requirements", "", "", err)
		}
		return f.runVerify(ctx, *payload, *requirements, payloadBytes, requirementsBytes, func() (*VerifyResponse, error) {
			return f.verifyV2(ctx, *payload, *requirements)
		})

	default:
		return nil, NewVerifyError(fmt.Sprintf("unsupported_version_%d", version), "", "", nil)
	}
}

// runVerify carries the hook pipeline that's identical for V1 and V2:
// before-hooks (which may abort), the mechanism call itself, then either
// failure hooks (which may recover a response) or after-hooks. Only the
// unmarshaling and mechanism lookup differ by version, which Verify handles
// before calling in.
func (f *x402Facilitator) runVerify(
	ctx context.Context,
	payload PaymentPayloadView,
	requirements PaymentRequirementsView,
	payloadBytes, requirementsBytes []byte,
	mechanism func() (*VerifyResponse, error),
) (*VerifyResponse, error) {
	hookCtx := FacilitatorVerifyContext{
		Ctx:               ctx,
		Payload:           payload,
		Requirements:      requirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}
	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewVerifyError(result.Reason, "", "", nil)
		}
	}

	verifyResult, verifyErr := mechanism()
	if verifyErr != nil {
		failureCtx := FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hookCtx, Error: verifyErr}
		for _, hook := range f.onVerifyFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return nil, verifyErr
	}

	resultCtx := FacilitatorVerifyResultContext{FacilitatorVerifyContext: hookCtx, Result: verifyResult}
	for _, hook := range f.afterVerifyHooks {
		_ = hook(resultCtx)
	}
	return verifyResult, nil
}

// Settle detects the protocol version carried in payloadBytes and routes to
// the matching registered mechanism, mirroring Verify's hook pipeline.
func (f *x402Facilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, NewSettleError("invalid_version", "", "", "", err)
	}

	switch version {
	case ProtocolVersionV1:
		payload, err := types.ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return nil, NewSettleError("invalid_v1_payload", "", "", "", err)
		}
		requirements, err := types.ToPaymentRequirementsV1(requirementsBytes)
		if err != nil {
			return nil, NewSettleError("invalid_v1_requirements", "", "", "", err)
		}
		return f.runSettle(ctx, *payload, *requirements, payloadBytes, requirementsBytes, func() (*SettleResponse, error) {
			return f.settleV1(ctx, *payload, *requirements)
		})

	case ProtocolVersion:
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return nil, NewSettleError("invalid_v2_payload", "", "", "", err)
		}
		requirements, err := types.ToPaymentRequirements(requirementsBytes)
		if err != nil {
			return nil, NewSettleError("invalid_v2_requirements", "", "", "", err)
		}
		return f.runSettle(ctx, *payload, *requirements, payloadBytes, requirementsBytes, func() (*SettleResponse, error) {
			return f.settleV2(ctx, *payload, *requirements)
		})

	default:
		return nil, NewSettleError(fmt.Sprintf("unsupported_version_%d", version), "", "", "", nil)
	}
}

func (f *x402Facilitator) runSettle(
	ctx context.Context,
	payload PaymentPayloadView,
	requirements PaymentRequirementsView,
	payloadBytes, requirementsBytes []byte,
	mechanism func() (*SettleResponse, error),
) (*SettleResponse, error) {
	hookCtx := FacilitatorSettleContext{
		Ctx:               ctx,
		Payload:           payload,
		Requirements:      requirements,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
	}
	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, NewSettleError(result.Reason, "", "", "", nil)
		}
	}

	settleResult, settleErr := mechanism()
	if settleErr != nil {
		failureCtx := FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Error: settleErr}
		for _, hook := range f.onSettleFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return nil, settleErr
	}

	resultCtx := FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: settleResult}
	for _, hook := range f.afterSettleHooks {
		_ = hook(resultCtx)
	}
	return settleResult, nil
}

// ============================================================================
// Internal typed dispatch (called after version detection and hooks)
// ============================================================================

// lookupFacilitator finds the registered mechanism of type F whose Scheme
// matches scheme and whose registration covers network, either as an exact
// network or a wildcard pattern. An exact network registration wins over
// any wildcard match; among wildcard matches the earliest registration
// wins. F is SchemeNetworkFacilitatorV1 or SchemeNetworkFacilitator
// depending on which array is passed in - both satisfy facilitatorMeta,
// which is all this needs.
func lookupFacilitator[F facilitatorMeta](entries []*schemeData, scheme string, network Network) (F, bool) {
	var wildcard F
	found := false
	for _, data := range entries {
		facilitator, ok := data.facilitator.(F)
		if !ok || facilitator.Scheme() != scheme {
			continue
		}
		if data.networks[network] {
			return facilitator, true
		}
		if !found && matchesSchemeData(data, network) {
			wildcard, found = facilitator, true
		}
	}
	return wildcard, found
}

func (f *x402Facilitator) verifyV1(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	network := Network(requirements.Network)
	facilitator, ok := lookupFacilitator[SchemeNetworkFacilitatorV1](f.schemesV1, requirements.Scheme, network)
	if !ok {
		return nil, NewVerifyError("no_facilitator_for_network", "", network, fmt.Errorf("no facilitator for scheme %s on network %s", requirements.Scheme, network))
	}
	return facilitator.Verify(ctx, payload, requirements)
}

func (f *x402Facilitator) verifyV2(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	network := Network(requirements.Network)
	facilitator, ok := lookupFacilitator[SchemeNetworkFacilitator](f.schemes, requirements.Scheme, network)
	if !ok {
		return nil, NewVerifyError("no_facilitator_for_network", "", network, fmt.Errorf("no facilitator for scheme %s on network %s", requirements.Scheme, network))
	}
	return facilitator.Verify(ctx, payload, requirements)
}

func (f *x402Facilitator) settleV1(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	network := Network(requirements.Network)
	facilitator, ok := lookupFacilitator[SchemeNetworkFacilitatorV1](f.schemesV1, requirements.Scheme, network)
	if !ok {
		return nil, NewSettleError("no_facilitator_for_network", "", network, "", fmt.Errorf("no facilitator for scheme %s on network %s", requirements.Scheme, network))
	}
	return facilitator.Settle(ctx, payload, requirements)
}

func (f *x402Facilitator) settleV2(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	network := Network(requirements.Network)
	facilitator, ok := lookupFacilitator[SchemeNetworkFacilitator](f.schemes, requirements.Scheme, network)
	if !ok {
		return nil, NewSettleError("no_facilitator_for_network", "", network, "", fmt.Errorf("no facilitator for scheme %s on network %s", requirements.Scheme, network))
	}
	return facilitator.Settle(ctx, payload, requirements)
}

// GetSupported reports every (scheme, network) pair registered via Register
// or RegisterV1, in the flat-array form where each kind carries its own
// x402Version - this is what lets a V1-only client and a V2 client read the
// same /supported response.
func (f *x402Facilitator) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []SupportedKind
	signersByFamily := make(map[string]map[string]bool)

	collect := func(data *schemeData, facilitator facilitatorMeta, version int) {
		scheme := facilitator.Scheme()
		family := facilitator.CaipFamily()
		if signersByFamily[family] == nil {
			signersByFamily[family] = make(map[string]bool)
		}

		for network := range data.networks {
			kind := SupportedKind{
				X402Version: version,
				Scheme:      scheme,
				Network:     string(network),
				Extra:       facilitator.GetExtra(network),
			}
			kinds = append(kinds, kind)

			for _, signer := range facilitator.GetSigners(network) {
				signersByFamily[family][signer] = true
			}
		}
	}

	for _, data := range f.schemesV1 {
		collect(data, data.facilitator.(SchemeNetworkFacilitatorV1), ProtocolVersionV1)
	}
	for _, data := range f.schemes {
		collect(data, data.facilitator.(SchemeNetworkFacilitator), ProtocolVersion)
	}

	signers := make(map[string][]string, len(signersByFamily))
	for family, signerSet := range signersByFamily {
		signerList := make([]string, 0, len(signerSet))
		for signer := range signerSet {
			signerList = append(signerList, signer)
		}
		signers[family] = signerList
	}

	return SupportedResponse{
		Kinds:      kinds,
		Extensions: f.extensions,
		Signers:    signers,
	}
}

// derivePattern collapses a registration's networks into the single
// wildcard pattern matchesSchemeData checks a candidate network against.
// When every network shares a namespace ("eip155:8453", "eip155:84532")
// this is the namespace wildcard ("eip155:*"); mixed-namespace
// registrations fall back to the first network, which only ever matches
// exactly.
func derivePattern(networks []Network) Network {
	if len(networks) == 0 {
		return ""
	}

	namespace, _, err := networks[0].Parse()
	if err != nil {
		return networks[0]
	}
	for _, network := range networks[1:] {
		ns, _, err := network.Parse()
		if err != nil || ns != namespace {
			return networks[0]
		}
	}
	return Network(namespace + ":*")
}

// matchesSchemeData reports whether network was registered on data, either
// as one of the exact networks passed to Register/RegisterV1 or via the
// derived wildcard pattern.
func matchesSchemeData(data *schemeData, network Network) bool {
	if data.networks[network] {
		return true
	}
	return network.Match(data.pattern)
}
