package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("MAX_IN_FLIGHT_USD", "")

	cfg := Load()

	assert.Equal(t, "leveldb", cfg.Store.Backend)
	assert.True(t, cfg.Switch.MaxInFlightUSD.Equal(decimal.NewFromFloat(0.1)))
	assert.True(t, cfg.Switch.DefaultSlippage.Equal(decimal.NewFromFloat(0.01)))
	assert.Equal(t, 10*time.Second, cfg.Switch.IdleTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "REDIS")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("MAX_IN_FLIGHT_USD", "2.5")
	t.Setenv("STREAM_IDLE_TIMEOUT", "3s")

	cfg := Load()

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "cache:6379", cfg.Store.RedisURL)
	assert.True(t, cfg.Switch.MaxInFlightUSD.Equal(decimal.NewFromFloat(2.5)))
	assert.Equal(t, 3*time.Second, cfg.Switch.IdleTimeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_BACKEND", "memory")
	cfg := Load()
	assert.NoError(t, cfg.Validate())

	cfg.Store.EncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	assert.NoError(t, cfg.Validate())

	cfg.Server.TLSCertFile = "certs/server.crt"
	assert.Error(t, cfg.Validate())
	cfg.Server.TLSKeyFile = "certs/server.key"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Backend = "etcd"
	cfg.Store.EncryptionKey = "abcd"
	cfg.Switch.DefaultSlippage = decimal.NewFromInt(1)
	err := cfg.Validate()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "STORE_BACKEND")
		assert.Contains(t, err.Error(), "STATE_ENCRYPTION_KEY")
		assert.Contains(t, err.Error(), "DEFAULT_SLIPPAGE")
	}
}
