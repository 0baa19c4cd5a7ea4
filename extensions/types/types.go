// Package types defines the shared shapes used by the discovery ("bazaar")
// extension: how a resource describes its HTTP call contract (method,
// input, output) alongside the JSON Schema a client can validate against.
package types

import (
	"encoding/json"
	"strings"
)

// BAZAAR is the extension key servers and facilitators use to store
// discovery metadata inside a PaymentRequirements/PaymentPayload Extensions map.
const BAZAAR = "bazaar"

// QueryParamMethods are HTTP methods whose input travels in the query string.
type QueryParamMethods string

const (
	MethodGET    QueryParamMethods = "GET"
	MethodHEAD   QueryParamMethods = "HEAD"
	MethodDELETE QueryParamMethods = "DELETE"
)

// BodyMethods are HTTP methods whose input travels in the request body.
type BodyMethods string

const (
	MethodPOST  BodyMethods = "POST"
	MethodPUT   BodyMethods = "PUT"
	MethodPATCH BodyMethods = "PATCH"
)

// BodyType identifies the encoding of a body-method's payload.
type BodyType string

const (
	BodyTypeJSON     BodyType = "json"
	BodyTypeFormData BodyType = "form-data"
	BodyTypeText     BodyType = "text"
)

// IsQueryMethod reports whether method belongs in the query-param family.
func IsQueryMethod(method string) bool {
	switch QueryParamMethods(method) {
	case MethodGET, MethodHEAD, MethodDELETE:
		return true
	default:
		return false
	}
}

// IsBodyMethod reports whether method belongs in the body family.
func IsBodyMethod(method string) bool {
	switch BodyMethods(method) {
	case MethodPOST, MethodPUT, MethodPATCH:
		return true
	default:
		return false
	}
}

// JSONSchema is a draft 2020-12 JSON Schema document expressed as a map.
type JSONSchema map[string]interface{}

// QueryInput describes how to call an endpoint whose input is query params.
type QueryInput struct {
	Type        string                 `json:"type"`
	Method      QueryParamMethods      `json:"method"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// BodyInput describes how to call an endpoint whose input is a request body.
type BodyInput struct {
	Type     string      `json:"type"`
	Method   BodyMethods `json:"method"`
	BodyType BodyType    `json:"bodyType"`
	Body     interface{} `json:"body,omitempty"`

	// Some endpoints take query parameters and headers alongside a body;
	// legacy discovery data in particular carried both.
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// OutputInfo describes the shape of a successful response.
type OutputInfo struct {
	Type    string      `json:"type"`
	Example interface{} `json:"example,omitempty"`
}

// DiscoveryInfo is the resource-facing description of how to call an
// endpoint. Input holds either a QueryInput or a BodyInput.
type DiscoveryInfo struct {
	Input  interface{} `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// UnmarshalJSON restores the typed Input: the method field decides whether
// the input decodes as a QueryInput or a BodyInput, so consumers can
// type-switch on decoded declarations the same way they do on freshly
// declared ones. An unrecognized method keeps the raw map form.
func (d *DiscoveryInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Input  json.RawMessage `json:"input"`
		Output *OutputInfo     `json:"output,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Output = raw.Output
	if len(raw.Input) == 0 {
		return nil
	}

	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw.Input, &probe); err != nil {
		return err
	}

	switch method := strings.ToUpper(probe.Method); {
	case IsQueryMethod(method):
		var input QueryInput
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		d.Input = input
	case IsBodyMethod(method):
		var input BodyInput
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		d.Input = input
	default:
		var generic map[string]interface{}
		if err := json.Unmarshal(raw.Input, &generic); err != nil {
			return err
		}
		d.Input = generic
	}
	return nil
}

// QueryDiscoveryInfo is DiscoveryInfo specialized to query-method input.
type QueryDiscoveryInfo struct {
	Input  QueryInput  `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// BodyDiscoveryInfo is DiscoveryInfo specialized to body-method input.
type BodyDiscoveryInfo struct {
	Input  BodyInput   `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// DiscoveryExtension pairs a DiscoveryInfo with the JSON Schema that
// validates it, and is what gets placed under the bazaar extension key.
type DiscoveryExtension struct {
	Info   DiscoveryInfo `json:"info"`
	Schema JSONSchema    `json:"schema"`
}

// QueryDiscoveryExtension and BodyDiscoveryExtension are the method-family
// specialized shapes producers build before they're folded into a
// DiscoveryExtension.
type QueryDiscoveryExtension = DiscoveryExtension
type BodyDiscoveryExtension = DiscoveryExtension

// OutputConfig is the optional output declaration passed to
// DeclareDiscoveryExtension.
type OutputConfig struct {
	Example interface{} `json:"example,omitempty"`
	Schema  JSONSchema  `json:"schema,omitempty"`
}
