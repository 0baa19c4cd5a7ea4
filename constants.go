package x402

// Version is the SDK version, surfaced in user-agent strings and the
// facilitator's /supported metadata.
const Version = "2.0.0"

// Protocol version numbers as they appear in the wire-level x402Version
// field. facilitator.go's version switch and types.DetectVersion both key
// off these rather than bare 1/2 literals.
const (
	ProtocolVersionV1 = 1
	ProtocolVersion   = 2
)

// x402Client, x402ResourceServer, and x402Facilitator stay unexported so
// that every constructor (Newx402Client, NewResourceServer,
// Newx402Facilitator) is the only way to obtain one - the zero value of
// each has nil maps/slices that the methods on it assume are initialized.
// The aliases below give external packages a name to write in struct
// fields and function signatures without reaching for the unexported type
// or stuttering as x402.x402Client.
type (
	X402Client         = x402Client
	X402ResourceServer = x402ResourceServer
	X402Facilitator    = x402Facilitator
)
