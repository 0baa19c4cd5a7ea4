package offerreceipt

import (
	"fmt"
	"time"

	x402 "github.com/x402-engine/x402"
	x402types "github.com/x402-engine/x402/types"
)

// resourceServerExtension implements x402types.ResourceServerExtension,
// signing one Offer per requirement at 402-build time and a Receipt at
// settlement. Declaration unmarshalling happens through the generic
// map[string]interface{} shape the engine hands hooks, since extension
// declarations are free-form by contract.
type resourceServerExtension struct {
	signer Signer
}

// NewResourceServerExtension builds the offer-receipt extension for a
// resource server. The signer determines both the algorithm advertised in
// signed offers/receipts and the key material used to produce them.
func NewResourceServerExtension(signer Signer) x402types.ResourceServerExtension {
	return &resourceServerExtension{signer: signer}
}

func (e *resourceServerExtension) Key() string { return Key }

// EnrichDeclaration fills in the algorithm/kid the configured signer actually
// uses, so a hand-written route declaration doesn't have to duplicate it.
func (e *resourceServerExtension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	decl, _ := toDeclaration(declaration)
	decl.Algorithm = e.signer.Algorithm()
	decl.KeyID = e.signer.KeyID()
	return decl
}

func (e *resourceServerExtension) EnrichPaymentRequiredResponse(declaration interface{}, context interface{}) (x402types.ExtensionInfo, error) {
	reqCtx, ok := context.(x402.ExtensionRequestContext)
	if !ok || len(reqCtx.Requirements) == 0 {
		return x402types.ExtensionInfo{}, nil
	}

	offers := make([]SignedOffer, 0, len(reqCtx.Requirements))
	for _, r := range reqCtx.Requirements {
		offer := Offer{
			Scheme:            r.GetScheme(),
			Network:           r.GetNetwork(),
			Asset:             r.GetAsset(),
			Amount:            r.GetAmount(),
			PayTo:             r.GetPayTo(),
			MaxTimeoutSeconds: r.GetMaxTimeoutSeconds(),
			IssuedAt:          time.Now().Unix(),
		}
		signature, err := e.signer.SignOffer(offer)
		if err != nil {
			return x402types.ExtensionInfo{}, fmt.Errorf("offerreceipt: sign offer: %w", err)
		}
		offers = append(offers, SignedOffer{
			Offer:     offer,
			Algorithm: e.signer.Algorithm(),
			KeyID:     e.signer.KeyID(),
			Signature: signature,
		})
	}

	return x402types.ExtensionInfo{Info: offers}, nil
}

func (e *resourceServerExtension) EnrichSettlementResponse(declaration interface{}, context interface{}) (x402types.ExtensionInfo, error) {
	settleCtx, ok := context.(x402.ExtensionSettlementContext)
	if !ok || settleCtx.Settlement == nil {
		return x402types.ExtensionInfo{}, nil
	}

	decl, _ := toDeclaration(declaration)

	receipt := Receipt{
		Success:   settleCtx.Settlement.Success,
		Network:   string(settleCtx.Settlement.Network),
		Payer:     settleCtx.Settlement.Payer,
		SettledAt: time.Now().Unix(),
	}
	if decl.IncludeTxHash {
		receipt.Transaction = settleCtx.Settlement.Transaction
	}

	signature, err := e.signer.SignReceipt(receipt)
	if err != nil {
		return x402types.ExtensionInfo{}, fmt.Errorf("offerreceipt: sign receipt: %w", err)
	}

	return x402types.ExtensionInfo{Info: SignedReceipt{
		Receipt:   receipt,
		Algorithm: e.signer.Algorithm(),
		KeyID:     e.signer.KeyID(),
		Signature: signature,
	}}, nil
}

// toDeclaration best-efforts a Declaration out of whatever a route's
// Extensions map holds for this key: either an already-typed Declaration, or
// the map[string]interface{} shape JSON unmarshalling (or a map literal
// written by hand) produces.
func toDeclaration(declaration interface{}) (Declaration, bool) {
	switch v := declaration.(type) {
	case Declaration:
		return v, true
	case map[string]interface{}:
		decl := Declaration{}
		if alg, ok := v["algorithm"].(string); ok {
			decl.Algorithm = Algorithm(alg)
		}
		if kid, ok := v["kid"].(string); ok {
			decl.KeyID = kid
		}
		if includeTx, ok := v["includeTxHash"].(bool); ok {
			decl.IncludeTxHash = includeTx
		}
		return decl, true
	default:
		return Declaration{}, false
	}
}
