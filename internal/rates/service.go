// Package rates implements USD price retrieval, caching, and cross-asset conversion.
//
// ==============================================================================
// RATE ORACLE - internal/rates/service.go
// ==============================================================================
package rates

import (
	"context"
	"strings"
	"sync"
	"time"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"

	"github.com/shopspring/decimal"
)

// Price is the USD value of one exchange unit of an asset.
type Price struct {
	AssetCode string          `json:"asset_code"`
	USD       decimal.Decimal `json:"usd"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Oracle converts amounts between units using the latest known prices.
type Oracle interface {
	Convert(amount decimal.Decimal, from, to domain.Unit) (decimal.Decimal, error)
}

// Service keeps an in-memory price table refreshed from providers.
// Convert only reads the table and never waits on a refresh.
type Service struct {
	providers []PriceProvider
	cache     PriceCache
	assets    []string
	cacheTTL  time.Duration
	logger    logger.Logger

	mu     sync.RWMutex
	prices map[string]*Price

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewService constructs a rate Service for the given assets.
func NewService(providers []PriceProvider, cache PriceCache, assets []string, log logger.Logger) *Service {
	return &Service{
		providers: providers,
		cache:     cache,
		assets:    assets,
		cacheTTL:  10 * time.Minute,
		logger:    log,
		prices:    make(map[string]*Price),
		stop:      make(chan struct{}),
	}
}

// Start warms the table from the distributed cache, performs one refresh and
// then refreshes every interval until Stop.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	s.warmFromCache(ctx)
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("Initial rate refresh failed", map[string]interface{}{"error": err.Error()})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Refresh(context.Background()); err != nil {
					s.logger.Warn("Rate refresh failed", map[string]interface{}{"error": err.Error()})
				}
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Refresh asks each provider in order until every asset has a price.
func (s *Service) Refresh(ctx context.Context) error {
	missing := append([]string(nil), s.assets...)

	for _, provider := range s.providers {
		if len(missing) == 0 {
			break
		}
		prices, err := provider.Prices(ctx, missing)
		if err != nil {
			s.logger.Warn("Provider failed", map[string]interface{}{
				"provider": provider.Name(),
				"error":    err.Error(),
			})
			continue
		}

		var still []string
		for _, asset := range missing {
			usd, ok := prices[asset]
			if !ok || !usd.IsPositive() {
				still = append(still, asset)
				continue
			}
			s.store(ctx, &Price{AssetCode: asset, USD: usd, Source: provider.Name(), UpdatedAt: time.Now()})
		}
		missing = still
	}

	if len(missing) > 0 {
		return errors.Wrap(errors.ErrRateNotAvailable, "no price for "+strings.Join(missing, ","))
	}
	return nil
}

func (s *Service) store(ctx context.Context, p *Price) {
	s.mu.Lock()
	s.prices[p.AssetCode] = p
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(ctx, p, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache price", map[string]interface{}{
				"asset": p.AssetCode,
				"error": err.Error(),
			})
		}
	}
}

func (s *Service) warmFromCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	for _, asset := range s.assets {
		p, err := s.cache.Get(ctx, asset)
		if err != nil || p == nil {
			continue
		}
		s.mu.Lock()
		if _, ok := s.prices[asset]; !ok {
			s.prices[asset] = p
		}
		s.mu.Unlock()
	}
}

// USD is the reference asset all prices are quoted in.
const USD = "USD"

// Price returns the latest USD price of an asset.
func (s *Service) Price(asset string) (*Price, error) {
	if asset == USD {
		return &Price{AssetCode: USD, USD: decimal.NewFromInt(1), Source: "reference"}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[asset]
	if !ok {
		return nil, errors.Wrap(errors.ErrRateNotAvailable, asset)
	}
	return p, nil
}

// Convert converts an amount between units, through USD if the assets differ.
func (s *Service) Convert(amount decimal.Decimal, from, to domain.Unit) (decimal.Decimal, error) {
	if from.AssetCode == to.AssetCode {
		return domain.Rescale(amount, from, to), nil
	}

	src, err := s.Price(from.AssetCode)
	if err != nil {
		return decimal.Zero, err
	}
	dst, err := s.Price(to.AssetCode)
	if err != nil {
		return decimal.Zero, err
	}

	usd := amount.Shift(-from.Scale).Mul(src.USD)
	return usd.Div(dst.USD).Shift(to.Scale), nil
}

// PriceCache is a distributed cache for prices.
type PriceCache interface {
	Get(ctx context.Context, asset string) (*Price, error)
	Set(ctx context.Context, price *Price, ttl time.Duration) error
}

// PriceProvider supplies USD prices for asset codes.
type PriceProvider interface {
	Name() string
	Prices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error)
}
