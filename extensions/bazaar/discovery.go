package bazaar

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DiscoveryDocument is the directory-listing shape a resource server
// publishes so bazaar-style indexers can enumerate its paid endpoints
// without probing each one for a 402.
type DiscoveryDocument struct {
	X402Version       string        `json:"x402Version"`
	DiscoveryDocument ResourceIndex `json:"discoveryDocument"`
}

// ResourceIndex maps resource paths to their advertised payment terms.
type ResourceIndex struct {
	Resources map[string]ResourceEntry `json:"resources"`
}

// ResourceEntry is one advertised resource: the requirements a caller can
// pay against plus an optional human description.
type ResourceEntry struct {
	Accepts     []ResourceAccept `json:"accepts"`
	Description string           `json:"description,omitempty"`
}

// ResourceAccept is the subset of PaymentRequirements fields a discovery
// entry must carry to be indexable. Unknown fields are permitted and
// ignored so documents round-trip future requirement fields.
type ResourceAccept struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	PayTo             string `json:"payTo,omitempty"`
	Description       string `json:"description,omitempty"`
	MimeType          string `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
}

// DocumentValidationResult separates hard failures from advisories: a
// document with only warnings is still considered valid.
type DocumentValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// discoveryDocumentSchema is the structural envelope every document must
// satisfy before per-entry semantic checks run. Field-level formats
// (network form, amount digits, asset encoding) are checked in code since
// they depend on which rail the entry targets.
const discoveryDocumentSchema = `{
	"type": "object",
	"required": ["x402Version", "discoveryDocument"],
	"properties": {
		"x402Version": {"type": "string"},
		"discoveryDocument": {
			"type": "object",
			"required": ["resources"],
			"properties": {
				"resources": {
					"type": "object",
					"additionalProperties": {
						"type": "object",
						"required": ["accepts"],
						"properties": {
							"accepts": {"type": "array", "minItems": 1},
							"description": {"type": "string"}
						}
					}
				}
			}
		}
	}
}`

var (
	evmAddressRe    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	base58AddressRe = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	decimalAmountRe = regexp.MustCompile(`^[0-9]+$`)
)

// knownSchemes is the set of scheme tags an indexer can act on today.
var knownSchemes = map[string]struct{}{
	"exact": {},
}

// ValidateDiscoveryDocumentBytes parses and validates raw document JSON.
// Parse failures and schema violations are errors; entry-level style
// issues (missing descriptions, legacy btc-lightning-* network aliases)
// are warnings; a network outside CAIP-2 colon form is an error.
func ValidateDiscoveryDocumentBytes(data []byte) DocumentValidationResult {
	schemaResult, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(discoveryDocumentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return DocumentValidationResult{
			Errors: []string{fmt.Sprintf("document is not valid JSON: %v", err)},
		}
	}
	if !schemaResult.Valid() {
		result := DocumentValidationResult{}
		for _, desc := range schemaResult.Errors() {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return result
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return DocumentValidationResult{
			Errors: []string{fmt.Sprintf("failed to decode document: %v", err)},
		}
	}
	return ValidateDiscoveryDocument(doc)
}

// ValidateDiscoveryDocument runs the per-entry semantic checks on an
// already-decoded document.
func ValidateDiscoveryDocument(doc DiscoveryDocument) DocumentValidationResult {
	result := DocumentValidationResult{}

	if doc.X402Version != "2" {
		result.Errors = append(result.Errors, fmt.Sprintf(`x402Version must be "2", got %q`, doc.X402Version))
	}
	if len(doc.DiscoveryDocument.Resources) == 0 {
		result.Warnings = append(result.Warnings, "discovery document lists no resources")
	}

	// Deterministic report ordering regardless of map iteration order.
	paths := make([]string, 0, len(doc.DiscoveryDocument.Resources))
	for path := range doc.DiscoveryDocument.Resources {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := doc.DiscoveryDocument.Resources[path]
		if !strings.HasPrefix(path, "/") {
			result.Errors = append(result.Errors, fmt.Sprintf("resource path %q must start with /", path))
		}
		if entry.Description == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("resource %s has no description", path))
		}
		if len(entry.Accepts) == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("resource %s has an empty accepts list", path))
			continue
		}
		for i, accept := range entry.Accepts {
			validateAccept(path, i, accept, &result)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func validateAccept(path string, index int, accept ResourceAccept, result *DocumentValidationResult) {
	label := fmt.Sprintf("resource %s accepts[%d]", path, index)

	if _, ok := knownSchemes[accept.Scheme]; !ok {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: unknown scheme %q", label, accept.Scheme))
	}

	// "btc-lightning-*" predates the colon form and is still accepted by
	// the lightning scheme's network table, so it only warns.
	switch {
	case strings.Contains(accept.Network, ":"):
	case strings.HasPrefix(accept.Network, "btc-lightning-"):
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: network %q uses a legacy alias, prefer the lightning:* form", label, accept.Network))
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("%s: network %q is not in CAIP-2 colon form", label, accept.Network))
	}

	if !decimalAmountRe.MatchString(accept.MaxAmountRequired) {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: maxAmountRequired %q is not a decimal integer string", label, accept.MaxAmountRequired))
	}

	switch {
	case strings.HasPrefix(accept.Network, "eip155:"):
		if !evmAddressRe.MatchString(accept.Asset) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: asset %q is not a valid EVM address", label, accept.Asset))
		}
		if accept.PayTo != "" && !evmAddressRe.MatchString(accept.PayTo) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: payTo %q is not a valid EVM address", label, accept.PayTo))
		}
	case strings.HasPrefix(accept.Network, "solana:"):
		if !base58AddressRe.MatchString(accept.Asset) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: asset %q is not a valid base58 address", label, accept.Asset))
		}
		if accept.PayTo != "" && !base58AddressRe.MatchString(accept.PayTo) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: payTo %q is not a valid base58 address", label, accept.PayTo))
		}
	default:
		// XRP and Lightning assets are symbolic (drops, sats) rather than
		// contract addresses, so only emptiness is worth flagging.
		if accept.Asset == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: asset is empty", label))
		}
	}
}
