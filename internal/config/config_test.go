package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "RECIPIENT_WALLET_BASE", "0x1234567890123456789012345678901234567890")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultBaseRPCURL, cfg.BaseRPCURL)
	assert.Equal(t, DefaultSolanaRPCURL, cfg.SolanaRPCURL)
	assert.Equal(t, DefaultUSDCContract, cfg.USDCContract)
	assert.Equal(t, DefaultPriceUSD, cfg.PriceUSD)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateWindow)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2, cfg.FetchMaxRetries)
}

func TestLoad_MissingRecipients(t *testing.T) {
	setEnv(t, "RECIPIENT_WALLET_BASE", "")
	setEnv(t, "RECIPIENT_WALLET_SOLANA", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RECIPIENT_WALLET")
}

func TestLoad_InvalidBaseRecipient(t *testing.T) {
	setEnv(t, "RECIPIENT_WALLET_BASE", "not-an-address")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "0x-prefixed")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		RecipientWalletBase: "0x1234567890123456789012345678901234567890",
		BaseRPCURL:          DefaultBaseRPCURL,
		SolanaRPCURL:        DefaultSolanaRPCURL,
		RateLimit:           60,
		RateWindow:          time.Minute,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "solana-only recipient is enough",
			mutate:  func(c *Config) { c.RecipientWalletBase = ""; c.RecipientWalletSolana = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin" },
			wantErr: "",
		},
		{
			name:    "missing both recipients",
			mutate:  func(c *Config) { c.RecipientWalletBase = "" },
			wantErr: "RECIPIENT_WALLET",
		},
		{
			name:    "missing base RPC URL",
			mutate:  func(c *Config) { c.BaseRPCURL = "" },
			wantErr: "BASE_RPC_URL",
		},
		{
			name:    "missing solana RPC URL",
			mutate:  func(c *Config) { c.SolanaRPCURL = "" },
			wantErr: "SOLANA_RPC_URL",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimit = 0 },
			wantErr: "RATE_LIMIT",
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.RateWindow = 0 },
			wantErr: "RATE_WINDOW_SECONDS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_Networks(t *testing.T) {
	cfg := Config{RecipientWalletBase: "0xabc"}
	assert.Equal(t, []string{"base"}, cfg.Networks())

	cfg.RecipientWalletSolana = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	assert.Equal(t, []string{"solana", "base"}, cfg.Networks())
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}
