// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Store      StoreConfig
	Switch     SwitchConfig
	Rates      RatesConfig
	Ethereum   EthereumConfig
	XRP        XRPConfig
	Connectors ConnectorsConfig
	LogLevel   string
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type StoreConfig struct {
	// Backend is one of memory, leveldb, redis, postgres.
	Backend       string
	Path          string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	PostgresURL   string
	// EncryptionKey, hex encoded, seals credential secrets in the state document.
	EncryptionKey string
}

type SwitchConfig struct {
	MaxInFlightUSD  decimal.Decimal
	DefaultSlippage decimal.Decimal
	IdleTimeout     time.Duration
	PacketExpiry    time.Duration
	CreditBackoff   time.Duration
}

type RatesConfig struct {
	// Provider is coincap or static.
	Provider        string
	RefreshInterval time.Duration
	CoinCapURL      string

	// StaticPrices is a comma separated ASSET=USD list used by the static provider.
	StaticPrices string
}

type EthereumConfig struct {
	RPCURL string
}

type XRPConfig struct {
	ServerURL string
}

type ConnectorsConfig struct {
	// Network selects the remote connector directory: mainnet, testnet or local.
	Network string
}

// Load reads configuration from the environment, after merging an optional
// .env file found in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			Port:         getEnv("SERVER_PORT", "7770"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 2*time.Minute),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			TLSCertFile:  getEnv("SERVER_TLS_CERT", ""),
			TLSKeyFile:   getEnv("SERVER_TLS_KEY", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "change-this-secret"),
			TokenTTL:  getDurationEnv("JWT_TOKEN_TTL", 24*time.Hour),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", "leveldb")),
			Path:          getEnv("STORE_PATH", "./data/switch"),
			RedisURL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getIntEnv("REDIS_DB", 0),
			PostgresURL:   getEnv("DATABASE_URL", ""),
			EncryptionKey: getEnv("STATE_ENCRYPTION_KEY", ""),
		},
		Switch: SwitchConfig{
			MaxInFlightUSD:  getDecimalEnv("MAX_IN_FLIGHT_USD", decimal.NewFromFloat(0.1)),
			DefaultSlippage: getDecimalEnv("DEFAULT_SLIPPAGE", decimal.NewFromFloat(0.01)),
			IdleTimeout:     getDurationEnv("STREAM_IDLE_TIMEOUT", 10*time.Second),
			PacketExpiry:    getDurationEnv("PACKET_EXPIRY", 5*time.Second),
			CreditBackoff:   getDurationEnv("CREDIT_BACKOFF", 20*time.Millisecond),
		},
		Rates: RatesConfig{
			Provider:        strings.ToLower(getEnv("RATES_PROVIDER", "coincap")),
			RefreshInterval: getDurationEnv("RATES_REFRESH_INTERVAL", 30*time.Second),
			CoinCapURL:      getEnv("COINCAP_URL", "https://api.coincap.io/v2/assets"),
			StaticPrices:    getEnv("RATES_STATIC_PRICES", "BTC=60000,ETH=3000,XRP=0.5"),
		},
		Ethereum: EthereumConfig{
			RPCURL: getEnv("ETHEREUM_RPC_URL", ""),
		},
		XRP: XRPConfig{
			ServerURL: getEnv("XRP_SERVER_URL", "wss://s.altnet.rippletest.net:51233"),
		},
		Connectors: ConnectorsConfig{
			Network: strings.ToLower(getEnv("CONNECTOR_NETWORK", "testnet")),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
