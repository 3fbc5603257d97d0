// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/kmw384/paygate/internal/validation"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Chain RPC endpoints
	BaseRPCURL   string
	SolanaRPCURL string

	// Payment settings
	RecipientWalletBase   string // 0x address receiving USDC on Base
	RecipientWalletSolana string // base58 token-account owner on Solana
	USDCContract          string // ERC-20 contract on Base
	USDCMint              string // SPL mint on Solana
	PriceUSD              string // price per request in USD (e.g. "0.005")

	// Rate limiting
	RateLimit  int
	RateWindow time.Duration

	// Outbound fetch
	FetchTimeout    time.Duration
	FetchMaxRetries int
	FetchBackoff    time.Duration

	// Chain verification
	VerifyTimeout time.Duration

	// Observability
	OTLPEndpoint string
}

// Defaults target the test networks both chains expose publicly.
const (
	DefaultBaseRPCURL   = "https://sepolia.base.org"
	DefaultSolanaRPCURL = "https://api.devnet.solana.com"
	DefaultUSDCContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"  // Base Sepolia USDC
	DefaultUSDCMint     = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU" // Solana devnet USDC
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultPriceUSD     = "0.005"
	DefaultRateLimit    = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		BaseRPCURL:            getEnv("BASE_RPC_URL", DefaultBaseRPCURL),
		SolanaRPCURL:          getEnv("SOLANA_RPC_URL", DefaultSolanaRPCURL),
		RecipientWalletBase:   os.Getenv("RECIPIENT_WALLET_BASE"),
		RecipientWalletSolana: os.Getenv("RECIPIENT_WALLET_SOLANA"),
		USDCContract:          getEnv("USDC_CONTRACT", DefaultUSDCContract),
		USDCMint:              getEnv("USDC_MINT", DefaultUSDCMint),
		PriceUSD:              getEnv("PRICE_USD", DefaultPriceUSD),
		RateLimit:             int(getEnvInt64("RATE_LIMIT", DefaultRateLimit)),
		RateWindow:            time.Duration(getEnvInt64("RATE_WINDOW_SECONDS", 60)) * time.Second,
		FetchTimeout:          time.Duration(getEnvInt64("FETCH_TIMEOUT_MS", 10000)) * time.Millisecond,
		FetchMaxRetries:       int(getEnvInt64("FETCH_MAX_RETRIES", 2)),
		FetchBackoff:          time.Duration(getEnvInt64("FETCH_BACKOFF_MS", 250)) * time.Millisecond,
		VerifyTimeout:         time.Duration(getEnvInt64("VERIFY_TIMEOUT_MS", 15000)) * time.Millisecond,
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RecipientWalletBase == "" && c.RecipientWalletSolana == "" {
		return fmt.Errorf("at least one of RECIPIENT_WALLET_BASE or RECIPIENT_WALLET_SOLANA is required")
	}

	if c.RecipientWalletBase != "" && !validation.IsValidEthAddress(c.RecipientWalletBase) {
		return fmt.Errorf("RECIPIENT_WALLET_BASE must be a 0x-prefixed 40 hex char address")
	}

	if c.BaseRPCURL == "" {
		return fmt.Errorf("BASE_RPC_URL is required")
	}
	if c.SolanaRPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL is required")
	}

	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("RATE_WINDOW_SECONDS must be positive")
	}

	return nil
}

// Networks returns the payment networks that have a configured recipient.
func (c *Config) Networks() []string {
	var nets []string
	if c.RecipientWalletSolana != "" {
		nets = append(nets, "solana")
	}
	if c.RecipientWalletBase != "" {
		nets = append(nets, "base")
	}
	return nets
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
