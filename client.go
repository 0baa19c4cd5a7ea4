package x402

import (
	"context"
	"fmt"
	"sync"

	"github.com/x402-engine/x402/types"
)

// x402Client is the wallet side of the protocol: given a set of offered
// PaymentRequirements it picks one (via requirementsSelector, filtered
// through policies) and asks the matching registered mechanism to produce a
// signed payload for it. Like x402Facilitator it keeps separate V1 and V2
// registration tables so one client can pay both legacy and current servers.
type x402Client struct {
	mu sync.RWMutex

	schemesV1 map[Network]map[string]SchemeNetworkClientV1
	schemes   map[Network]map[string]SchemeNetworkClient

	requirementsSelector PaymentRequirementsSelector
	policies             []PaymentPolicy

	beforePaymentCreationHooks    []BeforePaymentCreationHook
	afterPaymentCreationHooks     []AfterPaymentCreationHook
	onPaymentCreationFailureHooks []OnPaymentCreationFailureHook
}

// ClientOption configures a x402Client at construction time.
type ClientOption func(*x402Client)

// WithPaymentSelector overrides DefaultPaymentSelector - e.g. to prefer the
// cheapest offered requirement rather than the server's first.
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *x402Client) {
		c.requirementsSelector = selector
	}
}

// WithPolicy registers a policy at construction time, equivalent to calling
// RegisterPolicy immediately after Newx402Client.
func WithPolicy(policy PaymentPolicy) ClientOption {
	return func(c *x402Client) {
		c.policies = append(c.policies, policy)
	}
}

func Newx402Client(opts ...ClientOption) *x402Client {
	c := &x402Client{
		schemesV1:            make(map[Network]map[string]SchemeNetworkClientV1),
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: DefaultPaymentSelector,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *x402Client) RegisterV1(network Network, client SchemeNetworkClientV1) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemesV1[network] == nil {
		c.schemesV1[network] = make(map[string]SchemeNetworkClientV1)
	}
	c.schemesV1[network][client.Scheme()] = client
	return c
}

func (c *x402Client) Register(network Network, client SchemeNetworkClient) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client
	return c
}

// RegisterPolicy registers a policy that filters or reorders offered
// requirements before selection - e.g. a spending-cap wallet policy.
func (c *x402Client) RegisterPolicy(policy PaymentPolicy) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, policy)
	return c
}

func (c *x402Client) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforePaymentCreationHooks = append(c.beforePaymentCreationHooks, hook)
	return c
}

func (c *x402Client) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterPaymentCreationHooks = append(c.afterPaymentCreationHooks, hook)
	return c
}

func (c *x402Client) OnPaymentCreationFailure(hook OnPaymentCreationFailureHook) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPaymentCreationFailureHooks = append(c.onPaymentCreationFailureHooks, hook)
	return c
}

// selectPaymentRequirements picks which of the offered requirements to pay,
// shared by SelectPaymentRequirementsV1 and SelectPaymentRequirements: it
// narrows to the requirements this client has a registered mechanism for
// (by network, with wildcard matching, and scheme), runs the configured
// policies over the narrowed set, then asks requirementsSelector to make
// the final pick. T carries the version-specific requirements type; C is
// the version-specific registered-client type, only needed to type the
// registration table being checked against.
func selectPaymentRequirements[T PaymentRequirementsView, C any](
	c *x402Client,
	schemesByNetwork map[Network]map[string]C,
	requirements []T,
) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []T
	for _, req := range requirements {
		schemes := findSchemesByNetwork(schemesByNetwork, Network(req.GetNetwork()))
		if schemes == nil {
			continue
		}
		if _, ok := schemes[req.GetScheme()]; ok {
			supported = append(supported, req)
		}
	}

	var zero T
	if len(supported) == 0 {
		return zero, &PaymentError{Code: ErrCodeUnsupportedScheme, Message: "no supported payment schemes available"}
	}

	filtered := toViews(supported)
	for _, policy := range c.policies {
		filtered = policy(filtered)
		if len(filtered) == 0 {
			return zero, &PaymentError{Code: ErrCodePaymentExceedsPolicy, Message: "no offered payment requirement fits the configured spending policy"}
		}
	}

	return fromView[T](c.requirementsSelector(filtered)), nil
}

func (c *x402Client) SelectPaymentRequirementsV1(requirements []types.PaymentRequirementsV1) (types.PaymentRequirementsV1, error) {
	return selectPaymentRequirements(c, c.schemesV1, requirements)
}

func (c *x402Client) SelectPaymentRequirements(requirements []types.PaymentRequirements) (types.PaymentRequirements, error) {
	return selectPaymentRequirements(c, c.schemes, requirements)
}

// lookupClient finds the registered mechanism for scheme on network,
// matching wildcard registrations the same way the facilitator side does.
func lookupClient[C any](schemesByNetwork map[Network]map[string]C, scheme string, network Network) (C, error) {
	var zero C
	schemes := findSchemesByNetwork(schemesByNetwork, network)
	if schemes == nil {
		return zero, &PaymentError{Code: ErrCodeUnsupportedScheme, Message: fmt.Sprintf("no client registered for network %s", network)}
	}
	client, ok := schemes[scheme]
	if !ok {
		return zero, &PaymentError{Code: ErrCodeUnsupportedScheme, Message: fmt.Sprintf("no client registered for scheme %s on network %s", scheme, network)}
	}
	return client, nil
}

func (c *x402Client) CreatePaymentPayloadV1(ctx context.Context, requirements types.PaymentRequirementsV1) (types.PaymentPayloadV1, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	client, err := lookupClient(c.schemesV1, requirements.Scheme, Network(requirements.Network))
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}
	return client.CreatePaymentPayload(ctx, requirements)
}

// CreatePaymentPayload asks the registered mechanism for requirements.Scheme
// on requirements.Network to produce a signed payload, then wraps it with
// the accepted requirement, the resource it's paying for, and any
// extensions the caller wants attached - the parts the mechanism itself
// doesn't know about.
func (c *x402Client) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
	resource *types.ResourceInfo,
	extensions map[string]interface{},
) (types.PaymentPayload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	client, err := lookupClient(c.schemes, requirements.Scheme, Network(requirements.Network))
	if err != nil {
		return types.PaymentPayload{}, err
	}

	partial, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	partial.Accepted = requirements
	partial.Resource = resource
	partial.Extensions = extensions
	return partial, nil
}

// GetRegisteredSchemes reports every (network, scheme) pair registered on
// this client, keyed by protocol version - used by diagnostics/debug
// endpoints, not by the payment flow itself.
func (c *x402Client) GetRegisteredSchemes() map[int][]struct {
	Network Network
	Scheme  string
} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[int][]struct {
		Network Network
		Scheme  string
	})

	for network, schemes := range c.schemesV1 {
		for scheme := range schemes {
			result[ProtocolVersionV1] = append(result[ProtocolVersionV1], struct {
				Network Network
				Scheme  string
			}{Network: network, Scheme: scheme})
		}
	}

	for network, schemes := range c.schemes {
		for scheme := range schemes {
			result[ProtocolVersion] = append(result[ProtocolVersion], struct {
				Network Network
				Scheme  string
			}{Network: network, Scheme: scheme})
		}
	}

	return result
}
