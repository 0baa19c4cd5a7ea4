package bazaar

import (
	"encoding/json"
	"fmt"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/extensions/types"
	v1 "github.com/x402-engine/x402/extensions/v1"
	x402types "github.com/x402-engine/x402/types"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult is the outcome of checking a declaration's info
// against its own schema.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateDiscoveryExtension checks that a declaration's info actually
// satisfies the schema it ships with. Self-consistency is the whole
// game here: an indexer can't trust a description whose own example
// fails its own schema.
func ValidateDiscoveryExtension(extension types.DiscoveryExtension) ValidationResult {
	schemaJSON, err := json.Marshal(extension.Schema)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("Failed to marshal schema: %v", err)}}
	}
	infoJSON, err := json.Marshal(extension.Info)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("Failed to marshal info: %v", err)}}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(infoJSON),
	)
	if err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)}}
	}
	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{Errors: errs}
}

// DiscoveredResource is an indexable endpoint pulled out of protocol
// traffic: where it lives, how to call it, and which protocol version
// described it.
type DiscoveredResource struct {
	ResourceURL   string
	Method        string
	X402Version   int
	DiscoveryInfo *types.DiscoveryInfo
}

// finishDiscovery turns a (resourceURL, info) pair into the final
// DiscoveredResource, or nil when there was nothing discoverable.
func finishDiscovery(resourceURL string, info *types.DiscoveryInfo, version int) (*DiscoveredResource, error) {
	if info == nil {
		return nil, nil
	}

	method := "UNKNOWN"
	switch input := info.Input.(type) {
	case types.QueryInput:
		method = string(input.Method)
	case types.BodyInput:
		method = string(input.Method)
	}
	if method == "UNKNOWN" {
		return nil, fmt.Errorf("failed to extract method from discovery info")
	}

	return &DiscoveredResource{
		ResourceURL:   resourceURL,
		Method:        method,
		X402Version:   version,
		DiscoveryInfo: info,
	}, nil
}

// decodeDeclaration decodes and optionally validates the bazaar entry of
// an extensions map. A map without a bazaar entry yields (nil, nil).
func decodeDeclaration(extensions map[string]interface{}, validate bool) (*types.DiscoveryInfo, error) {
	raw, ok := extensions[types.BAZAAR]
	if !ok {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bazaar extension: %w", err)
	}
	var extension types.DiscoveryExtension
	if err := json.Unmarshal(encoded, &extension); err != nil {
		return nil, fmt.Errorf("v2 discovery extension extraction failed: %w", err)
	}
	if validate {
		if result := ValidateDiscoveryExtension(extension); !result.Valid {
			return nil, fmt.Errorf("v2 discovery extension validation failed: %s", result.Errors)
		}
	}
	return &extension.Info, nil
}

// ExtractDiscoveredResourceFromPaymentPayload reads discovery data out of
// a payment a facilitator is processing. v2 clients echo the server's
// declaration in the payload's extensions; v1 servers embedded it in the
// requirements' outputSchema. Returns nil without error when the payment
// simply isn't discoverable.
func ExtractDiscoveredResourceFromPaymentPayload(
	payloadBytes []byte,
	requirementsBytes []byte,
	validate bool,
) (*DiscoveredResource, error) {
	version, err := x402types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}

	switch version {
	case 2:
		var payload x402.PaymentPayload
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal v2 payload: %w", err)
		}
		var resourceURL string
		if payload.Resource != nil {
			resourceURL = payload.Resource.URL
		}
		info, err := decodeDeclaration(payload.Extensions, validate)
		if err != nil {
			return nil, err
		}
		return finishDiscovery(resourceURL, info, version)

	case 1:
		var requirements x402types.PaymentRequirementsV1
		if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
			return nil, fmt.Errorf("failed to unmarshal v1 requirements: %w", err)
		}
		info, err := v1.ExtractDiscoveryInfoV1(requirements)
		if err != nil {
			return nil, fmt.Errorf("v1 discovery extraction failed: %w", err)
		}
		return finishDiscovery(requirements.Resource, info, version)

	default:
		return nil, fmt.Errorf("unsupported version: %d", version)
	}
}

// ExtractDiscoveredResourceFromPaymentRequired reads discovery data out
// of a 402 response a client received. Same version split as the payload
// path; v1 keeps its data on the first accepts entry.
func ExtractDiscoveredResourceFromPaymentRequired(
	paymentRequiredBytes []byte,
	validate bool,
) (*DiscoveredResource, error) {
	version, err := x402types.DetectVersion(paymentRequiredBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}

	switch version {
	case 2:
		var required x402types.PaymentRequired
		if err := json.Unmarshal(paymentRequiredBytes, &required); err != nil {
			return nil, fmt.Errorf("failed to unmarshal v2 payment required: %w", err)
		}
		var resourceURL string
		if required.Resource != nil {
			resourceURL = required.Resource.URL
		}
		info, err := decodeDeclaration(required.Extensions, validate)
		if err != nil {
			return nil, err
		}
		return finishDiscovery(resourceURL, info, version)

	case 1:
		var required x402types.PaymentRequiredV1
		if err := json.Unmarshal(paymentRequiredBytes, &required); err != nil {
			return nil, fmt.Errorf("failed to unmarshal v1 payment required: %w", err)
		}
		if len(required.Accepts) == 0 {
			return nil, nil
		}
		info, err := v1.ExtractDiscoveryInfoV1(required.Accepts[0])
		if err != nil {
			return nil, fmt.Errorf("v1 discovery extraction failed: %w", err)
		}
		return finishDiscovery(required.Accepts[0].Resource, info, version)

	default:
		return nil, fmt.Errorf("unsupported version: %d", version)
	}
}

// ExtractDiscoveryInfoFromExtension returns an already-decoded
// extension's info, optionally validating first.
func ExtractDiscoveryInfoFromExtension(
	extension types.DiscoveryExtension,
	validate bool,
) (*types.DiscoveryInfo, error) {
	if validate {
		if result := ValidateDiscoveryExtension(extension); !result.Valid {
			msg := "Unknown error"
			if len(result.Errors) > 0 {
				msg = result.Errors[0]
				for _, extra := range result.Errors[1:] {
					msg += ", " + extra
				}
			}
			return nil, fmt.Errorf("invalid discovery extension: %s", msg)
		}
	}
	return &extension.Info, nil
}

// ValidateAndExtract validates and, on success, hands back the info in
// one call.
func ValidateAndExtract(extension types.DiscoveryExtension) struct {
	Valid  bool
	Info   *types.DiscoveryInfo
	Errors []string
} {
	result := ValidateDiscoveryExtension(extension)
	out := struct {
		Valid  bool
		Info   *types.DiscoveryInfo
		Errors []string
	}{Valid: result.Valid, Errors: result.Errors}
	if result.Valid {
		out.Info = &extension.Info
	}
	return out
}
