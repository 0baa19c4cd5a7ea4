package bazaar

// The discovery shapes live in extensions/types so the v1 compatibility
// package can share them without importing bazaar; this file re-exports
// them under the package most callers actually import.
import "github.com/x402-engine/x402/extensions/types"

// BAZAAR is the extension key declarations are filed under.
const BAZAAR = types.BAZAAR

const (
	MethodGET    = types.MethodGET
	MethodHEAD   = types.MethodHEAD
	MethodDELETE = types.MethodDELETE
	MethodPOST   = types.MethodPOST
	MethodPUT    = types.MethodPUT
	MethodPATCH  = types.MethodPATCH
)

const (
	BodyTypeJSON     = types.BodyTypeJSON
	BodyTypeFormData = types.BodyTypeFormData
	BodyTypeText     = types.BodyTypeText
)

type (
	QueryParamMethods       = types.QueryParamMethods
	BodyMethods             = types.BodyMethods
	BodyType                = types.BodyType
	QueryDiscoveryInfo      = types.QueryDiscoveryInfo
	QueryInput              = types.QueryInput
	BodyDiscoveryInfo       = types.BodyDiscoveryInfo
	BodyInput               = types.BodyInput
	OutputInfo              = types.OutputInfo
	DiscoveryInfo           = types.DiscoveryInfo
	JSONSchema              = types.JSONSchema
	QueryDiscoveryExtension = types.QueryDiscoveryExtension
	BodyDiscoveryExtension  = types.BodyDiscoveryExtension
	DiscoveryExtension      = types.DiscoveryExtension
	OutputConfig            = types.OutputConfig
)

var (
	IsQueryMethod = types.IsQueryMethod
	IsBodyMethod  = types.IsBodyMethod
)
