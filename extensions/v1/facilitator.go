// Package v1 adapts legacy discovery data to the current extension
// shapes. Old servers smuggled endpoint descriptions through the
// requirements' outputSchema field under several competing spellings;
// this package normalizes all of them.
package v1

import (
	"encoding/json"
	"strings"

	"github.com/x402-engine/x402/extensions/types"
)

// V1OutputSchema is the legacy outputSchema envelope: endpoint shape
// under input, response schema under output.
type V1OutputSchema struct {
	Input  map[string]interface{} `json:"input"`
	Output interface{}            `json:"output,omitempty"`
}

// asMap coerces requirements of any representation (struct or map) to a
// generic map. Failure means "nothing to discover", never an error.
func asMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// firstMap returns the first of keys present in m as a map.
func firstMap(m map[string]interface{}, keys ...string) map[string]interface{} {
	for _, key := range keys {
		if sub, ok := m[key].(map[string]interface{}); ok {
			return sub
		}
	}
	return nil
}

// firstValue returns the first of keys present in m, regardless of type.
func firstValue(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// ExtractDiscoveryInfoV1 lifts a legacy outputSchema into the current
// DiscoveryInfo shape. Anything that doesn't look like a discoverable
// http endpoint - wrong type tag, no method, discoverable:false, or no
// outputSchema at all - comes back as (nil, nil): absence, not failure.
func ExtractDiscoveryInfoV1(paymentRequirements interface{}) (*types.DiscoveryInfo, error) {
	reqMap := asMap(paymentRequirements)
	if reqMap == nil {
		return nil, nil
	}
	schema := firstMap(reqMap, "outputSchema")
	if schema == nil {
		return nil, nil
	}
	input := firstMap(schema, "input")
	if input == nil {
		return nil, nil
	}

	if inputType, _ := input["type"].(string); inputType != "http" {
		return nil, nil
	}
	method, ok := input["method"].(string)
	if !ok {
		return nil, nil
	}
	method = strings.ToUpper(method)

	// discoverable defaults to true; only an explicit false hides the
	// endpoint.
	if flag, ok := input["discoverable"].(bool); ok && !flag {
		return nil, nil
	}

	headers := legacyHeaders(input)

	var output *types.OutputInfo
	if raw, ok := schema["output"]; ok && raw != nil {
		output = &types.OutputInfo{Type: "json", Example: raw}
	}

	switch {
	case types.IsQueryMethod(method):
		return &types.DiscoveryInfo{
			Input: types.QueryInput{
				Type:        "http",
				Method:      types.QueryParamMethods(method),
				QueryParams: legacyQueryParams(input),
				Headers:     headers,
			},
			Output: output,
		}, nil
	case types.IsBodyMethod(method):
		body, bodyType := legacyBody(input)
		return &types.DiscoveryInfo{
			Input: types.BodyInput{
				Type:        "http",
				Method:      types.BodyMethods(method),
				BodyType:    bodyType,
				Body:        body,
				QueryParams: legacyQueryParams(input),
				Headers:     headers,
			},
			Output: output,
		}, nil
	default:
		return nil, nil
	}
}

// legacyHeaders collects header names from whichever spelling the v1
// producer used. headerFields variants carried schemas, so only the keys
// survive; the plain headers form kept string values.
func legacyHeaders(input map[string]interface{}) map[string]string {
	if fields := firstMap(input, "headerFields", "header_fields"); fields != nil {
		headers := make(map[string]string, len(fields))
		for k := range fields {
			headers[k] = ""
		}
		return headers
	}
	if plain := firstMap(input, "headers"); plain != nil {
		headers := make(map[string]string, len(plain))
		for k, v := range plain {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
		return headers
	}
	return nil
}

// legacyQueryParams finds query parameters under their v1 spellings.
func legacyQueryParams(input map[string]interface{}) map[string]interface{} {
	return firstMap(input, "queryParams", "query_params", "query", "params")
}

// legacyBody finds the body description and its content type under their
// v1 spellings, defaulting to an empty JSON body.
func legacyBody(input map[string]interface{}) (interface{}, types.BodyType) {
	bodyType := types.BodyTypeJSON
	if s, ok := input["bodyType"].(string); ok {
		bodyType = normalizeBodyType(s)
	} else if s, ok := input["body_type"].(string); ok {
		bodyType = normalizeBodyType(s)
	}

	body, ok := firstValue(input, "bodyFields", "body_fields", "bodyParams", "body", "data", "properties")
	if !ok {
		body = map[string]interface{}{}
	}
	return body, bodyType
}

func normalizeBodyType(s string) types.BodyType {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "form"), strings.Contains(s, "multipart"):
		return types.BodyTypeFormData
	case strings.Contains(s, "text"), strings.Contains(s, "plain"):
		return types.BodyTypeText
	default:
		return types.BodyTypeJSON
	}
}

// IsDiscoverableV1 reports whether requirements carry usable discovery
// info.
func IsDiscoverableV1(paymentRequirements interface{}) bool {
	info, _ := ExtractDiscoveryInfoV1(paymentRequirements)
	return info != nil
}

// ExtractResourceMetadataV1 pulls the resource fields v1 embedded
// directly in the requirements (url, description, mimeType).
func ExtractResourceMetadataV1(paymentRequirements interface{}) map[string]string {
	reqMap := asMap(paymentRequirements)
	result := make(map[string]string)
	if reqMap == nil {
		return result
	}
	if url, ok := reqMap["resource"].(string); ok {
		result["url"] = url
	}
	if description, ok := reqMap["description"].(string); ok {
		result["description"] = description
	}
	if mimeType, ok := reqMap["mimeType"].(string); ok {
		result["mimeType"] = mimeType
	}
	return result
}
