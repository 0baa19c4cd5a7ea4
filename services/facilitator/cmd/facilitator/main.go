package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/extensions/facilitatorfees"
	evm "github.com/x402-engine/x402/mechanisms/evm/exact/facilitator"
	lightningmech "github.com/x402-engine/x402/mechanisms/lightning"
	lightning "github.com/x402-engine/x402/mechanisms/lightning/exact/facilitator"
	svm "github.com/x402-engine/x402/mechanisms/svm/exact/facilitator"
	xrpmech "github.com/x402-engine/x402/mechanisms/xrp"
	xrp "github.com/x402-engine/x402/mechanisms/xrp/exact/facilitator"
	"github.com/x402-engine/x402/services/facilitator/internal/cache"
	"github.com/x402-engine/x402/services/facilitator/internal/config"
	"github.com/x402-engine/x402/services/facilitator/internal/server"
	evmsigner "github.com/x402-engine/x402/signers/evm"
	lightningsigner "github.com/x402-engine/x402/signers/lightning"
	svmsigner "github.com/x402-engine/x402/signers/svm"
	xrpsigner "github.com/x402-engine/x402/signers/xrp"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting X402 Facilitator Service")
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Port: %d", cfg.Port)

	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		log.Printf("Continuing without Redis (rate limiting and settle idempotency disabled)")
		redisClient = nil
	} else {
		log.Printf("Redis connected: %s", cfg.RedisURL)
	}

	facilitator, err := setupFacilitator(cfg)
	if err != nil {
		log.Fatalf("Failed to setup facilitator: %v", err)
	}

	srv := server.New(facilitator, redisClient, setupFeeQuotes(cfg), cfg)
	srv.Start()
}

// setupFacilitator registers every rail the configuration has credentials
// for. Each rail degrades independently: a missing key disables that rail
// with a warning rather than refusing to start, and only a configuration
// with no rails at all is fatal.
func setupFacilitator(cfg *config.Config) (server.Facilitator, error) {
	facilitator := x402.Newx402Facilitator()
	var rails []string

	if networks := setupEvm(cfg, facilitator); len(networks) > 0 {
		rails = append(rails, "EVM")
	}
	if setupSvm(cfg, facilitator) {
		rails = append(rails, "Solana")
	}
	if setupXrp(cfg, facilitator) {
		rails = append(rails, "XRP Ledger")
	}
	setupLightning(cfg, facilitator)
	rails = append(rails, "Lightning")

	if len(rails) == 1 {
		// Lightning alone means no key material was configured anywhere.
		return nil, fmt.Errorf("no networks configured - at least one private key is required")
	}
	log.Printf("Configured rails: %v", rails)

	registerObservers(facilitator)
	return facilitator, nil
}

// setupEvm registers exact-EVM over every chain with an RPC endpoint,
// sharing one signer key across them.
func setupEvm(cfg *config.Config, facilitator *x402.X402Facilitator) []x402.Network {
	if cfg.EvmPrivateKey == "" {
		log.Printf("Warning: EVM_PRIVATE_KEY not set, EVM chains disabled")
		return nil
	}

	endpoints := map[x402.Network]string{
		"eip155:1":     cfg.EthRPC,
		"eip155:42161": cfg.ArbitrumRPC,
		"eip155:8453":  cfg.BaseRPC,
		"eip155:10":    cfg.OptimismRPC,
	}
	var networks []x402.Network
	var anyRPC string
	for network, rpc := range endpoints {
		if rpc != "" {
			networks = append(networks, network)
			anyRPC = rpc
		}
	}
	if len(networks) == 0 {
		log.Printf("Warning: No RPC endpoint configured for EVM chains")
		return nil
	}

	signer, err := evmsigner.NewFacilitatorSigner(cfg.EvmPrivateKey, anyRPC)
	if err != nil {
		log.Printf("Warning: failed to create EVM signer: %v", err)
		return nil
	}
	facilitator.Register(networks, evm.NewExactEvmScheme(signer, &evm.ExactEvmSchemeConfig{}))
	log.Printf("EVM facilitator address: %s", signer.GetAddresses()[0])
	return networks
}

// setupSvm registers exact-SVM with the facilitator acting as fee payer.
func setupSvm(cfg *config.Config, facilitator *x402.X402Facilitator) bool {
	if cfg.SvmPrivateKey == "" || cfg.SolanaRPC == "" {
		log.Printf("Warning: SVM_PRIVATE_KEY/SOLANA_RPC not set, Solana disabled")
		return false
	}

	signer, err := svmsigner.NewFacilitatorSigner(cfg.SvmPrivateKey, map[string]string{
		"solana:mainnet": cfg.SolanaRPC,
		"solana:devnet":  cfg.SolanaRPC,
	})
	if err != nil {
		log.Printf("Warning: failed to create SVM signer: %v", err)
		return false
	}
	facilitator.Register([]x402.Network{"solana:mainnet", "solana:devnet"}, svm.NewExactSvmScheme(signer))
	return true
}

// setupXrp registers exact-XRP. Unlike the other rails the XRP
// facilitator holds no key material: it relays already-signed
// transactions and reads ledger state.
func setupXrp(cfg *config.Config, facilitator *x402.X402Facilitator) bool {
	if cfg.XrpRPC == "" {
		log.Printf("Warning: XRP_RPC not set, XRP Ledger disabled")
		return false
	}

	rpc, err := xrpsigner.NewFacilitatorRPC(cfg.XrpRPC)
	if err != nil {
		log.Printf("Warning: failed to create XRP RPC client: %v", err)
		return false
	}
	networks := make([]x402.Network, 0, len(xrpmech.NetworkConfigs))
	for network := range xrpmech.NetworkConfigs {
		networks = append(networks, x402.Network(network))
	}
	facilitator.Register(networks, xrp.NewExactXrpScheme(rpc, nil))
	return true
}

// setupLightning always registers the rail: verification is purely
// structural. Settlement additionally needs LND credentials, absent which
// Settle reports the lookup as unconfigured rather than faking success.
func setupLightning(cfg *config.Config, facilitator *x402.X402Facilitator) {
	var lookup lightningmech.InvoiceLookup
	if cfg.LndAddress != "" {
		lnd, err := lightningsigner.NewLNDClient(cfg.LndAddress)
		if err != nil {
			log.Printf("Warning: failed to connect to LND: %v", err)
		} else {
			lookup = lnd
		}
	} else {
		log.Printf("Warning: LND_ADDRESS not set, Lightning settlement disabled (verify-only)")
	}

	networks := make([]x402.Network, 0, len(lightningmech.NetworkConfigs))
	for network := range lightningmech.NetworkConfigs {
		networks = append(networks, x402.Network(network))
	}
	facilitator.Register(networks, lightning.NewExactLightningScheme(lightningsigner.NewDecoder(), lookup))
}

// registerObservers wires the operational log lines onto the hook points.
func registerObservers(facilitator *x402.X402Facilitator) {
	facilitator.OnAfterVerify(func(ctx x402.FacilitatorVerifyResultContext) error {
		log.Printf("Payment verified: payer=%s valid=%v", ctx.Result.Payer, ctx.Result.IsValid)
		return nil
	})
	facilitator.OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
		log.Printf("Payment settled: tx=%s payer=%s", ctx.Result.Transaction, ctx.Result.Payer)
		return nil
	})
	facilitator.OnVerifyFailure(func(ctx x402.FacilitatorVerifyFailureContext) (*x402.FacilitatorVerifyFailureHookResult, error) {
		log.Printf("Verify failed: error=%v", ctx.Error)
		return nil, nil
	})
	facilitator.OnSettleFailure(func(ctx x402.FacilitatorSettleFailureContext) (*x402.FacilitatorSettleFailureHookResult, error) {
		log.Printf("Settle failed: error=%v", ctx.Error)
		return nil, nil
	})
}

// setupFeeQuotes builds the /x402/fee-quote signing configuration. Quotes
// are signed with the facilitator's EVM key under EIP-191, so the endpoint
// requires both a facilitator identity and that key.
func setupFeeQuotes(cfg *config.Config) *server.FeeQuoteConfig {
	if cfg.FacilitatorID == "" || cfg.EvmPrivateKey == "" {
		log.Printf("Warning: FACILITATOR_ID/EVM_PRIVATE_KEY not set, fee quotes disabled")
		return nil
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.EvmPrivateKey, "0x"))
	if err != nil {
		log.Printf("Warning: failed to parse EVM key for fee quotes: %v", err)
		return nil
	}

	return &server.FeeQuoteConfig{
		FacilitatorID: cfg.FacilitatorID,
		Signer:        facilitatorfees.NewEIP191Signer(privateKey),
		BPS:           cfg.FeeQuoteBPS,
		MinFee:        cfg.FeeQuoteMin,
		MaxFee:        cfg.FeeQuoteMax,
		TTL:           cfg.FeeQuoteTTL,
	}
}
