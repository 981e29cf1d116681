// Package config loads and validates service configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validate ensures critical configuration is present and sane.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Server.Port) == "" {
		problems = append(problems, "SERVER_PORT")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		problems = append(problems, "SERVER_TLS_CERT/SERVER_TLS_KEY")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" || c.Auth.JWTSecret == "change-this-secret" {
		problems = append(problems, "JWT_SECRET")
	}

	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "JWT_TOKEN_TTL")
	}

	switch c.Store.Backend {
	case "memory":
	case "leveldb":
		if strings.TrimSpace(c.Store.Path) == "" {
			problems = append(problems, "STORE_PATH")
		}
	case "redis":
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			problems = append(problems, "REDIS_URL")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.PostgresURL) == "" {
			problems = append(problems, "DATABASE_URL")
		}
	default:
		problems = append(problems, "STORE_BACKEND")
	}

	if key := strings.TrimPrefix(c.Store.EncryptionKey, "0x"); key != "" {
		if b, err := hex.DecodeString(key); err != nil || len(b) != 32 {
			problems = append(problems, "STATE_ENCRYPTION_KEY")
		}
	}

	if !c.Switch.MaxInFlightUSD.IsPositive() {
		problems = append(problems, "MAX_IN_FLIGHT_USD")
	}
	if c.Switch.DefaultSlippage.IsNegative() || c.Switch.DefaultSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		problems = append(problems, "DEFAULT_SLIPPAGE")
	}
	if c.Switch.IdleTimeout <= 0 {
		problems = append(problems, "STREAM_IDLE_TIMEOUT")
	}
	if c.Switch.PacketExpiry <= 0 {
		problems = append(problems, "PACKET_EXPIRY")
	}

	switch c.Rates.Provider {
	case "coincap", "static":
	default:
		problems = append(problems, "RATES_PROVIDER")
	}

	switch c.Connectors.Network {
	case "mainnet", "testnet", "local":
	default:
		problems = append(problems, "CONNECTOR_NETWORK")
	}

	if len(problems) > 0 {
		return fmt.Errorf("missing or invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
