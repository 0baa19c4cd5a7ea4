// Package bazaar implements the discovery extension: resource servers
// describe how their paid endpoints are called, and facilitators or
// clients harvest those descriptions into an index.
//
// A declaration has two halves. The info half carries the concrete
// calling convention - method, query parameters or body shape, an output
// example. The schema half is a JSON Schema the info must itself satisfy,
// which is what lets an indexer validate a declaration without trusting
// the server that published it.
//
// Servers build declarations with DeclareDiscoveryExtension and attach
// them to 402 responses under the BAZAAR key. Facilitators pull them back
// out of payment traffic with ExtractDiscoveredResourceFromPaymentPayload;
// clients use ExtractDiscoveredResourceFromPaymentRequired on 402 bodies.
// Both handle the legacy v1 placement (requirements.outputSchema, see the
// extensions/v1 package) transparently.
//
// The package also defines the discovery *document* - a server's full
// directory of paid resources - and its validation; the validate CLI is a
// thin wrapper around ValidateDiscoveryDocumentBytes.
package bazaar
