// ==============================================================================
// SWITCH DAEMON MAIN - cmd/switchd/main.go
// ==============================================================================
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"

	"ilpsdk/internal/api"
	"ilpsdk/internal/auth"
	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/internal/engine"
	"ilpsdk/internal/funding"
	"ilpsdk/internal/handler"
	"ilpsdk/internal/middleware"
	"ilpsdk/internal/rates"
	"ilpsdk/internal/security"
	"ilpsdk/internal/stream"
	"ilpsdk/pkg/config"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/metrics"
	"ilpsdk/pkg/store"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithWriter("switchd", cfg.LogLevel, os.Stdout)

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// switchd token <operator> prints a bearer token for the API
	if len(os.Args) == 3 && os.Args[1] == "token" {
		tok, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(os.Args[2])
		if err != nil {
			log.Fatal("Failed to issue token", map[string]interface{}{
				"error": err.Error(),
			})
		}
		_ = json.NewEncoder(os.Stdout).Encode(tok)
		return
	}

	log.Info("Starting switch", map[string]interface{}{
		"port":    cfg.Server.Port,
		"network": cfg.Connectors.Network,
		"store":   cfg.Store.Backend,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal("Failed to open store", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer st.Close()

	var redisClient *redis.Client
	if r, ok := st.(*store.Redis); ok {
		redisClient = r.Client()
	}

	// Exchange rates
	oracle, err := newRateService(cfg, redisClient, log)
	if err != nil {
		log.Fatal("Failed to configure rates", map[string]interface{}{
			"error": err.Error(),
		})
	}
	oracle.Start(ctx, cfg.Rates.RefreshInterval)
	defer oracle.Stop()

	engines, err := engine.NewRegistry(cfg.Connectors.Network)
	if err != nil {
		log.Fatal("Failed to load settlement engines", map[string]interface{}{
			"error": err.Error(),
		})
	}

	var sealer *security.Sealer
	if cfg.Store.EncryptionKey != "" {
		if sealer, err = security.NewSealer(cfg.Store.EncryptionKey); err != nil {
			log.Fatal("Invalid state encryption key", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	m := metrics.New()
	credentials := credential.NewRegistry(credential.DefaultDialers(cfg.Ethereum.RPCURL, cfg.XRP.ServerURL), log)

	state, err := api.NewState(api.Options{
		Store:       st,
		Sealer:      sealer,
		Engines:     engines,
		Credentials: credentials,
		Oracle:      oracle,
		Streams: stream.New(oracle, stream.Options{
			IdleTimeout:   cfg.Switch.IdleTimeout,
			PacketExpiry:  cfg.Switch.PacketExpiry,
			CreditBackoff: cfg.Switch.CreditBackoff,
			Logger:        log,
			Metrics:       m,
		}),
		Funding:         funding.NewService(newChannelManagers(ctx, cfg, log), log),
		Transports:      api.WebSocketTransports(log),
		MaxInFlightUSD:  cfg.Switch.MaxInFlightUSD,
		DefaultSlippage: &cfg.Switch.DefaultSlippage,
		Logger:          log,
		Metrics:         m,
	})
	if err != nil {
		log.Fatal("Failed to build switch state", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if err := state.Load(ctx); err != nil {
		log.Fatal("Failed to restore switch state", map[string]interface{}{
			"error": err.Error(),
		})
	}
	log.Info("Switch state restored", map[string]interface{}{
		"uplinks":     len(state.Uplinks()),
		"credentials": len(state.Credentials().List()),
	})

	opts := handler.RouterOptions{
		State:     state,
		JWTSecret: cfg.Auth.JWTSecret,
		Logger:    log,
		Metrics:   m,
	}
	if redisClient != nil {
		opts.RateLimiter = middleware.NewRateLimiter(redisClient, 120, time.Minute)
		opts.Idempotency = middleware.NewIdempotencyMiddleware(redisClient, 24*time.Hour)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.NewRouter(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Switch API started", map[string]interface{}{
			"address": srv.Addr,
			"tls":     cfg.Server.TLSCertFile != "",
		})
		var err error
		if cfg.Server.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down switch...", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Switch API forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := state.Close(shutdownCtx); err != nil {
		log.Error("Failed to close switch state", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Switch stopped gracefully", nil)
}

// newRateService prefers CoinCap and falls back to the configured static
// prices. Prices are shared through Redis when the store runs on Redis.
func newRateService(cfg *config.Config, redisClient *redis.Client, log logger.Logger) (*rates.Service, error) {
	static, err := rates.ParseStaticPrices(cfg.Rates.StaticPrices)
	if err != nil {
		return nil, err
	}

	var providers []rates.PriceProvider
	if cfg.Rates.Provider == "coincap" {
		providers = append(providers, rates.NewCoinCapProvider(cfg.Rates.CoinCapURL))
	}
	providers = append(providers, rates.NewStaticProvider(static))

	var cache rates.PriceCache
	if redisClient != nil {
		cache = rates.NewRedisPriceCache(redisClient)
	}

	return rates.NewService(providers, cache, engine.Assets(), log), nil
}

// newChannelManagers wires on-chain funding for the backends that have a
// client configured. Lightning channels are managed on the node itself.
func newChannelManagers(ctx context.Context, cfg *config.Config, log logger.Logger) map[domain.SettlementType]funding.ChannelManager {
	managers := map[domain.SettlementType]funding.ChannelManager{
		domain.XrpPaychan: funding.NewXrpManager(funding.DefaultXrpFeeDrops, nil),
	}

	if cfg.Ethereum.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.Ethereum.RPCURL)
		if err != nil {
			log.Warn("Ethereum funding disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			managers[domain.Machinomy] = funding.NewEthereumManager(client, nil)
		}
	}
	return managers
}
