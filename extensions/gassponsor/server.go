package gassponsor

import x402types "github.com/x402-engine/x402/types"

// resourceServerExtension publishes a route's Declaration unchanged; there
// is nothing further to attach to a 402 or a settlement response beyond the
// spender address a route already declared, so both response hooks are
// no-ops. Permit validation happens facilitator-side, in Validate.
type resourceServerExtension struct{}

// ResourceServerExtension is the shared no-op x402types.ResourceServerExtension
// value routes register to opt into gas sponsoring.
var ResourceServerExtension x402types.ResourceServerExtension = &resourceServerExtension{}

func (e *resourceServerExtension) Key() string { return Key }

func (e *resourceServerExtension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	return declaration
}

func (e *resourceServerExtension) EnrichPaymentRequiredResponse(declaration interface{}, context interface{}) (x402types.ExtensionInfo, error) {
	return x402types.ExtensionInfo{}, nil
}

func (e *resourceServerExtension) EnrichSettlementResponse(declaration interface{}, context interface{}) (x402types.ExtensionInfo, error) {
	return x402types.ExtensionInfo{}, nil
}
