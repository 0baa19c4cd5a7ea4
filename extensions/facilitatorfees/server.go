package facilitatorfees

import (
	"fmt"
	"math/big"

	x402 "github.com/x402-engine/x402"
	x402types "github.com/x402-engine/x402/types"
)

// resourceServerExtension signs each of a route's declared quote templates
// at 402-build time and, once a client has indicated which facilitator it
// paid through, echoes the fee actually charged at settlement time.
type resourceServerExtension struct {
	signers map[string]Signer // facilitatorId -> signer
}

// NewResourceServerExtension builds the facilitator-fees extension. signers
// maps a facilitatorId (as it will appear in QuoteTemplate.FacilitatorID and
// a client's FeeBid) to the Signer that attests to its quotes.
func NewResourceServerExtension(signers map[string]Signer) x402types.ResourceServerExtension {
	return &resourceServerExtension{signers: signers}
}

func (e *resourceServerExtension) Key() string { return Key }

func (e *resourceServerExtension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	return declaration
}

func (e *resourceServerExtension) EnrichPaymentRequiredResponse(declaration interface{}, context interface{}) (x402types.ExtensionInfo, error) {
	decl, ok := declaration.(Declaration)
	if !ok || len(decl.Options) == 0 {
		return x402types.ExtensionInfo{}, nil
	}

	options := make([]FeeQuoteOption, 0, len(decl.Options))
	for _, tmpl := range decl.Options {
		signer, ok := e.signers[tmpl.FacilitatorID]
		if !ok {
			return x402types.ExtensionInfo{}, fmt.Errorf("facilitatorfees: no signer configured for facilitator %q", tmpl.FacilitatorID)
		}
		signature, err := signer.Sign(tmpl.Quote)
		if err != nil {
			return x402types.ExtensionInfo{}, fmt.Errorf("facilitatorfees: sign quote for %q: %w", tmpl.FacilitatorID, err)
		}
		options = append(options, FeeQuoteOption{
			FacilitatorID: tmpl.FacilitatorID,
			FacilitatorFeeQuote: SignedFeeQuote{
				Quote:     tmpl.Quote,
				Algorithm: signer.Algorithm(),
				Signature: signature,
			},
			MaxFacilitatorFee: tmpl.MaxFacilitatorFee,
		})
	}

	return x402types.ExtensionInfo{Info: options}, nil
}

func (e *resourceServerExtension) EnrichSettlementResponse(declaration interface{}, context interface{}) (x402types.ExtensionInfo, error) {
	settleCtx, ok := context.(x402.ExtensionSettlementContext)
	if !ok || settleCtx.Settlement == nil || !settleCtx.Settlement.Success {
		return x402types.ExtensionInfo{}, nil
	}

	decl, ok := declaration.(Declaration)
	if !ok || len(decl.Options) == 0 {
		return x402types.ExtensionInfo{}, nil
	}

	bid, ok := bidFromPayload(settleCtx.Payload)
	if !ok {
		return x402types.ExtensionInfo{}, nil
	}

	var selected *QuoteTemplate
	for i := range decl.Options {
		if decl.Options[i].FacilitatorID == bid.FacilitatorID {
			selected = &decl.Options[i]
			break
		}
	}
	if selected == nil {
		return x402types.ExtensionInfo{}, fmt.Errorf("facilitatorfees: client bid %q does not match an advertised facilitator", bid.FacilitatorID)
	}

	amount, ok := new(big.Int).SetString(settleCtx.Requirements.GetAmount(), 10)
	if !ok {
		return x402types.ExtensionInfo{}, fmt.Errorf("facilitatorfees: invalid settlement amount %q", settleCtx.Requirements.GetAmount())
	}

	fee, err := ComputeFee(selected.Quote, amount)
	if err != nil {
		return x402types.ExtensionInfo{}, err
	}
	if selected.MaxFacilitatorFee != "" {
		if max, ok := new(big.Int).SetString(selected.MaxFacilitatorFee, 10); ok && fee.Cmp(max) > 0 {
			fee = max
		}
	}

	return x402types.ExtensionInfo{Info: SettlementFee{
		FacilitatorID:      bid.FacilitatorID,
		FacilitatorFeePaid: fee.String(),
	}}, nil
}

// bidFromPayload extracts a client's FeeBid from the full payload struct a
// PaymentPayloadView hides behind its interface. Extensions type-assert back
// to the concrete type as an escape hatch, the same way PayloadBytes serves
// that purpose for verify/settle hooks.
func bidFromPayload(view x402.PaymentPayloadView) (FeeBid, bool) {
	payload, ok := view.(x402types.PaymentPayload)
	if !ok {
		return FeeBid{}, false
	}
	raw, ok := payload.Extensions[Key]
	if !ok {
		return FeeBid{}, false
	}
	switch bid := raw.(type) {
	case FeeBid:
		return bid, true
	case map[string]interface{}:
		id, _ := bid["facilitatorId"].(string)
		if id == "" {
			return FeeBid{}, false
		}
		return FeeBid{FacilitatorID: id}, true
	default:
		return FeeBid{}, false
	}
}
