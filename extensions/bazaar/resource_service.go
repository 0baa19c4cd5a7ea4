package bazaar

import (
	"fmt"

	"github.com/x402-engine/x402/extensions/types"
)

// DeclareDiscoveryExtension builds the discovery declaration a resource
// server attaches to its 402 responses: an example of how to call the
// endpoint (info) plus the JSON Schema that validates that example
// (schema). Query-style methods describe their query parameters;
// body-style methods describe their body and its content type.
func DeclareDiscoveryExtension(
	method interface{},
	input interface{},
	inputSchema types.JSONSchema,
	bodyType types.BodyType,
	output *types.OutputConfig,
) (types.DiscoveryExtension, error) {
	var methodStr string
	switch m := method.(type) {
	case types.QueryParamMethods:
		methodStr = string(m)
	case types.BodyMethods:
		methodStr = string(m)
	case string:
		methodStr = m
	default:
		return types.DiscoveryExtension{}, fmt.Errorf("unsupported method type: %T", method)
	}

	if inputSchema == nil {
		inputSchema = types.JSONSchema{"properties": map[string]interface{}{}}
	}

	switch {
	case types.IsQueryMethod(methodStr):
		return declareQueryEndpoint(types.QueryParamMethods(methodStr), input, inputSchema, output), nil
	case types.IsBodyMethod(methodStr):
		if bodyType == "" {
			bodyType = types.BodyTypeJSON
		}
		return declareBodyEndpoint(types.BodyMethods(methodStr), input, inputSchema, bodyType, output), nil
	default:
		return types.DiscoveryExtension{}, fmt.Errorf("unsupported HTTP method: %s", methodStr)
	}
}

func declareQueryEndpoint(
	method types.QueryParamMethods,
	input interface{},
	inputSchema types.JSONSchema,
	output *types.OutputConfig,
) types.DiscoveryExtension {
	queryParams, _ := input.(map[string]interface{})

	inputProps := map[string]interface{}{
		"type":   map[string]interface{}{"type": "string", "const": "http"},
		"method": map[string]interface{}{"type": "string", "enum": []string{string(method)}},
	}
	if len(inputSchema) > 0 {
		queryParamsSchema := map[string]interface{}{"type": "object"}
		for k, v := range inputSchema {
			queryParamsSchema[k] = v
		}
		inputProps["queryParams"] = queryParamsSchema
	}

	return types.DiscoveryExtension{
		Info: types.DiscoveryInfo{
			Input: types.QueryInput{
				Type:        "http",
				Method:      method,
				QueryParams: queryParams,
			},
			Output: outputInfo(output),
		},
		Schema: envelopeSchema(inputProps, []string{"type", "method"}, output),
	}
}

func declareBodyEndpoint(
	method types.BodyMethods,
	input interface{},
	inputSchema types.JSONSchema,
	bodyType types.BodyType,
	output *types.OutputConfig,
) types.DiscoveryExtension {
	inputProps := map[string]interface{}{
		"type":     map[string]interface{}{"type": "string", "const": "http"},
		"method":   map[string]interface{}{"type": "string", "enum": []string{string(method)}},
		"bodyType": map[string]interface{}{"type": "string", "enum": []string{"json", "form-data", "text"}},
		"body":     inputSchema,
	}

	return types.DiscoveryExtension{
		Info: types.DiscoveryInfo{
			Input: types.BodyInput{
				Type:     "http",
				Method:   method,
				BodyType: bodyType,
				Body:     input,
			},
			Output: outputInfo(output),
		},
		Schema: envelopeSchema(inputProps, []string{"type", "method", "bodyType", "body"}, output),
	}
}

// outputInfo wraps an output example as the json-typed OutputInfo the
// info side carries, or nil when no example was declared.
func outputInfo(output *types.OutputConfig) *types.OutputInfo {
	if output == nil || output.Example == nil {
		return nil
	}
	return &types.OutputInfo{Type: "json", Example: output.Example}
}

// envelopeSchema assembles the declaration's validating schema: a 2020-12
// document requiring an input object with the given properties, plus an
// output section mirroring the declared example when one exists.
func envelopeSchema(inputProps map[string]interface{}, requiredInput []string, output *types.OutputConfig) types.JSONSchema {
	properties := map[string]interface{}{
		"input": map[string]interface{}{
			"type":                 "object",
			"properties":           inputProps,
			"required":             requiredInput,
			"additionalProperties": false,
		},
	}

	if output != nil && output.Example != nil {
		exampleSchema := map[string]interface{}{"type": "object"}
		for k, v := range output.Schema {
			exampleSchema[k] = v
		}
		properties["output"] = map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type":    map[string]interface{}{"type": "string"},
				"example": exampleSchema,
			},
			"required": []string{"type"},
		}
	}

	return types.JSONSchema{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": properties,
		"required":   []string{"input"},
	}
}
