package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the facilitator service
type Config struct {
	// Server
	Port        int
	Environment string

	// Redis
	RedisURL string

	// Rate Limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// EVM Configuration
	EvmPrivateKey string
	EthRPC        string
	ArbitrumRPC   string
	BaseRPC       string
	OptimismRPC   string
	InkRPC        string
	BerachainRPC  string
	UnichainRPC   string

	// Solana Configuration
	SvmPrivateKey string
	SolanaRPC     string

	// XRP Ledger Configuration
	XrpSeed       string
	XrpRPC        string
	XrpTestnetRPC string

	// Lightning Configuration
	LndAddress  string
	LndMacaroon string
	LndTLSCert  string

	// Fee Quote Configuration (facilitator-fees extension)
	FacilitatorID string
	FeeQuoteBPS   int
	FeeQuoteMin   string
	FeeQuoteMax   string
	FeeQuoteTTL   time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// Server
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		// Rate Limiting
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 1000),
		RateLimitWindow:   time.Duration(getEnvInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		// EVM Configuration
		EvmPrivateKey: getEnv("EVM_PRIVATE_KEY", ""),
		EthRPC:        getEnv("ETH_RPC", "https://eth.llamarpc.com"),
		ArbitrumRPC:   getEnv("ARBITRUM_RPC", "https://arb1.arbitrum.io/rpc"),
		BaseRPC:       getEnv("BASE_RPC", "https://mainnet.base.org"),
		OptimismRPC:   getEnv("OPTIMISM_RPC", "https://mainnet.optimism.io"),
		InkRPC:        getEnv("INK_RPC", "https://rpc-gel.inkonchain.com"),
		BerachainRPC:  getEnv("BERACHAIN_RPC", "https://bartio.rpc.berachain.com"),
		UnichainRPC:   getEnv("UNICHAIN_RPC", "https://mainnet.unichain.org"),

		// Solana Configuration
		SvmPrivateKey: getEnv("SVM_PRIVATE_KEY", ""),
		SolanaRPC:     getEnv("SOLANA_RPC", "https://api.mainnet-beta.solana.com"),

		// XRP Ledger Configuration
		XrpSeed:       getEnv("XRP_SEED", ""),
		XrpRPC:        getEnv("XRP_RPC", "https://xrplcluster.com"),
		XrpTestnetRPC: getEnv("XRP_TESTNET_RPC", "https://s.altnet.rippletest.net:51234"),

		// Lightning Configuration
		LndAddress:  getEnv("LND_ADDRESS", ""),
		LndMacaroon: getEnv("LND_MACAROON", ""),
		LndTLSCert:  getEnv("LND_TLS_CERT", ""),

		// Fee Quote Configuration
		FacilitatorID: getEnv("FACILITATOR_ID", ""),
		FeeQuoteBPS:   getEnvInt("FEE_QUOTE_BPS", 0),
		FeeQuoteMin:   getEnv("FEE_QUOTE_MIN", ""),
		FeeQuoteMax:   getEnv("FEE_QUOTE_MAX", ""),
		FeeQuoteTTL:   time.Duration(getEnvInt("FEE_QUOTE_TTL", 300)) * time.Second,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
