package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPriceCache struct {
	mock.Mock
}

func (m *MockPriceCache) Get(ctx context.Context, asset string) (*Price, error) {
	args := m.Called(ctx, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Price), args.Error(1)
}

func (m *MockPriceCache) Set(ctx context.Context, price *Price, ttl time.Duration) error {
	args := m.Called(ctx, price, ttl)
	return args.Error(0)
}

type failingProvider struct{}

func (failingProvider) Name() string { return "Failing" }
func (failingProvider) Prices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return nil, assert.AnError
}

func staticService(t *testing.T) *Service {
	prices, err := ParseStaticPrices("BTC=60000, ETH=3000,XRP=0.5")
	require.NoError(t, err)
	s := NewService([]PriceProvider{failingProvider{}, NewStaticProvider(prices)}, nil,
		[]string{"BTC", "ETH", "XRP"}, logger.NewNop())
	require.NoError(t, s.Refresh(context.Background()))
	return s
}

func TestConvertAcrossAssets(t *testing.T) {
	s := staticService(t)

	sat := domain.Unit{AssetCode: "BTC", Scale: 8}
	gwei := domain.Unit{AssetCode: "ETH", Scale: 9}

	// 1000 sat = 0.00001 BTC = 0.6 USD = 0.0002 ETH = 200000 gwei
	out, err := s.Convert(decimal.NewFromInt(1000), sat, gwei)
	require.NoError(t, err)
	assert.True(t, out.Equal(decimal.NewFromInt(200000)), out.String())

	// Same asset only rescales.
	out, err = s.Convert(decimal.NewFromInt(1), domain.Unit{AssetCode: "BTC"}, sat)
	require.NoError(t, err)
	assert.True(t, out.Equal(decimal.NewFromInt(100000000)))

	_, err = s.Convert(decimal.NewFromInt(1), domain.Unit{AssetCode: "DOGE"}, sat)
	assert.ErrorIs(t, err, errors.ErrRateNotAvailable)
}

func TestRefreshReportsMissingAssets(t *testing.T) {
	s := NewService([]PriceProvider{NewStaticProvider(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1)})},
		nil, []string{"BTC", "XRP"}, logger.NewNop())
	err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, errors.ErrRateNotAvailable)

	p, err := s.Price("BTC")
	require.NoError(t, err)
	assert.Equal(t, "Static", p.Source)
}

func TestWarmFromCache(t *testing.T) {
	cache := new(MockPriceCache)
	cache.On("Get", mock.Anything, "XRP").Return(&Price{AssetCode: "XRP", USD: decimal.NewFromFloat(0.4)}, nil)
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	s := NewService([]PriceProvider{failingProvider{}}, cache, []string{"XRP"}, logger.NewNop())
	s.Start(context.Background(), time.Hour)
	defer s.Stop()

	p, err := s.Price("XRP")
	require.NoError(t, err)
	assert.True(t, p.USD.Equal(decimal.NewFromFloat(0.4)))
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoinCapProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bitcoin,xrp", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"bitcoin","symbol":"BTC","priceUsd":"61234.5"},{"id":"xrp","symbol":"XRP","priceUsd":"0.52"}]}`))
	}))
	defer srv.Close()

	p := NewCoinCapProvider(srv.URL)
	prices, err := p.Prices(context.Background(), []string{"BTC", "XRP"})
	require.NoError(t, err)
	assert.True(t, prices["BTC"].Equal(decimal.RequireFromString("61234.5")))
	assert.True(t, prices["XRP"].Equal(decimal.RequireFromString("0.52")))
}

func TestParseStaticPricesRejectsGarbage(t *testing.T) {
	_, err := ParseStaticPrices("BTC")
	assert.Error(t, err)
	_, err = ParseStaticPrices("BTC=abc")
	assert.Error(t, err)
}

func TestConvertFromUSD(t *testing.T) {
	s := staticService(t)
	out, err := s.Convert(decimal.NewFromFloat(0.1), domain.Unit{AssetCode: USD}, domain.Unit{AssetCode: "XRP", Scale: 9})
	require.NoError(t, err)
	assert.True(t, out.Equal(decimal.NewFromInt(200000000)), out.String())
}
