package gin

import (
	"time"

	x402 "github.com/x402-engine/x402"
	x402http "github.com/x402-engine/x402/http"
	"github.com/gin-gonic/gin"
)

// Config is the struct form of the middleware configuration, for callers
// who prefer one literal over a chain of variadic options.
type Config struct {
	// Routes maps HTTP patterns to payment requirements.
	Routes x402http.RoutesConfig

	// Facilitator and Facilitators both feed the same list; set whichever
	// reads better (single client vs. fallback set).
	Facilitator  x402.FacilitatorClient
	Facilitators []x402.FacilitatorClient

	// Schemes to register with the server.
	Schemes []SchemeConfig

	// PaywallConfig drives the browser-facing 402 page.
	PaywallConfig *x402http.PaywallConfig

	// SyncFacilitatorOnStart queries each facilitator's supported kinds
	// at construction. Defaults to true whenever facilitators are given.
	SyncFacilitatorOnStart bool

	// Timeout bounds each payment operation. Defaults to 30 seconds.
	Timeout time.Duration

	ErrorHandler      func(*gin.Context, error)
	SettlementHandler func(*gin.Context, *x402.SettleResponse)
}

// SchemeConfig pairs a network pattern with its scheme server.
type SchemeConfig struct {
	Network x402.Network
	Server  x402.SchemeNetworkServer
}

// X402Payment translates a Config into the option-based middleware
// constructor.
func X402Payment(config Config) gin.HandlerFunc {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	facilitators := config.Facilitators
	if config.Facilitator != nil {
		facilitators = append([]x402.FacilitatorClient{config.Facilitator}, facilitators...)
	}

	// With facilitators configured, syncing their capabilities up front is
	// the only way SVM fee payers reach the requirements, so it defaults
	// on; without any, there is nothing to sync.
	syncOnStart := config.SyncFacilitatorOnStart || len(facilitators) > 0

	opts := []MiddlewareOption{
		WithSyncFacilitatorOnStart(syncOnStart),
		WithTimeout(config.Timeout),
	}
	for _, facilitator := range facilitators {
		opts = append(opts, WithFacilitatorClient(facilitator))
	}
	for _, scheme := range config.Schemes {
		opts = append(opts, WithScheme(scheme.Network, scheme.Server))
	}
	if config.PaywallConfig != nil {
		opts = append(opts, WithPaywallConfig(config.PaywallConfig))
	}
	if config.ErrorHandler != nil {
		opts = append(opts, WithErrorHandler(config.ErrorHandler))
	}
	if config.SettlementHandler != nil {
		opts = append(opts, WithSettlementHandler(config.SettlementHandler))
	}

	return PaymentMiddlewareFromConfig(config.Routes, opts...)
}

// SimpleX402Payment protects every route at one price through one
// facilitator - the smallest possible setup.
func SimpleX402Payment(payTo string, price string, network x402.Network, facilitatorURL string) gin.HandlerFunc {
	routes := x402http.RoutesConfig{
		"*": {
			Accepts: []x402http.PaymentOption{
				{
					Scheme:  "exact",
					PayTo:   payTo,
					Price:   x402.Price(price),
					Network: network,
				},
			},
		},
	}

	return X402Payment(Config{
		Routes: routes,
		Facilitator: x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
			URL: facilitatorURL,
		}),
		SyncFacilitatorOnStart: true,
	})
}
