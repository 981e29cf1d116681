// ==============================================================================
// PRICE PROVIDERS - internal/rates/providers.go
// ==============================================================================
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StaticProvider serves fixed prices, for local networks and tests.
type StaticProvider struct {
	prices map[string]decimal.Decimal
}

func NewStaticProvider(prices map[string]decimal.Decimal) *StaticProvider {
	return &StaticProvider{prices: prices}
}

// ParseStaticPrices parses "BTC=60000,ETH=3000".
func ParseStaticPrices(spec string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid static price %q", part)
		}
		usd, err := decimal.NewFromString(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid static price %q: %w", part, err)
		}
		prices[strings.ToUpper(strings.TrimSpace(kv[0]))] = usd
	}
	return prices, nil
}

func (p *StaticProvider) Name() string {
	return "Static"
}

func (p *StaticProvider) Prices(_ context.Context, assets []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(assets))
	for _, a := range assets {
		if usd, ok := p.prices[a]; ok {
			out[a] = usd
		}
	}
	return out, nil
}

var coinCapIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"XRP": "xrp",
}

// CoinCapProvider fetches USD prices from the CoinCap assets API.
type CoinCapProvider struct {
	baseURL string
	client  *http.Client
}

func NewCoinCapProvider(baseURL string) *CoinCapProvider {
	return &CoinCapProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *CoinCapProvider) Name() string {
	return "CoinCap"
}

type coinCapResponse struct {
	Data []struct {
		ID       string `json:"id"`
		Symbol   string `json:"symbol"`
		PriceUsd string `json:"priceUsd"`
	} `json:"data"`
}

func (p *CoinCapProvider) Prices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	var ids []string
	for _, a := range assets {
		if id, ok := coinCapIDs[a]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	u := p.baseURL + "?ids=" + url.QueryEscape(strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coincap returned status %d", resp.StatusCode)
	}

	var body coinCapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode prices: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(body.Data))
	for _, asset := range body.Data {
		usd, err := decimal.NewFromString(asset.PriceUsd)
		if err != nil {
			continue
		}
		out[strings.ToUpper(asset.Symbol)] = usd
	}
	return out, nil
}
