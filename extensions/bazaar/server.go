package bazaar

import (
	"github.com/x402-engine/x402/extensions/types"
	"github.com/x402-engine/x402/http"
	x402types "github.com/x402-engine/x402/types"
)

type bazaarResourceServerExtension struct{}

func (e *bazaarResourceServerExtension) Key() string {
	return types.BAZAAR
}

func (e *bazaarResourceServerExtension) EnrichDeclaration(
	declaration interface{},
	transportContext interface{},
) interface{} {
	httpContext, ok := transportContext.(http.HTTPRequestContext)
	if !ok {
		return declaration
	}

	extension, ok := declaration.(types.DiscoveryExtension)
	if !ok {
		return declaration
	}

	method := httpContext.Method

	if queryInput, ok := extension.Info.Input.(types.QueryInput); ok {
		queryInput.Method = types.QueryParamMethods(method)
		extension.Info.Input = queryInput
	} else if bodyInput, ok := extension.Info.Input.(types.BodyInput); ok {
		bodyInput.Method = types.BodyMethods(method)
		extension.Info.Input = bodyInput
	}

	if inputSchema, ok := extension.Schema["properties"].(map[string]interface{}); ok {
		if input, ok := inputSchema["input"].(map[string]interface{}); ok {
			if required, ok := input["required"].([]string); ok {
				hasMethod := false
				for _, r := range required {
					if r == "method" {
						hasMethod = true
						break
					}
				}
				if !hasMethod {
					input["required"] = append(required, "method")
				}
			}
		}
	}

	return extension
}

// EnrichPaymentRequiredResponse is a no-op: bazaar contributes its discovery
// document through EnrichDeclaration (folded into a route's Extensions by
// the caller before the 402 is built), not through a separate 402 hook.
func (e *bazaarResourceServerExtension) EnrichPaymentRequiredResponse(
	declaration interface{},
	context interface{},
) (x402types.ExtensionInfo, error) {
	return x402types.ExtensionInfo{}, nil
}

// EnrichSettlementResponse is a no-op: discovery metadata is a 402-time
// concern only, nothing to add once a payment has settled.
func (e *bazaarResourceServerExtension) EnrichSettlementResponse(
	declaration interface{},
	context interface{},
) (x402types.ExtensionInfo, error) {
	return x402types.ExtensionInfo{}, nil
}

var BazaarResourceServerExtension = &bazaarResourceServerExtension{}
