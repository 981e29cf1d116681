package rates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisPriceCache struct {
	client *redis.Client
}

func NewRedisPriceCache(client *redis.Client) PriceCache {
	return &RedisPriceCache{client: client}
}

func priceKey(asset string) string {
	return "ilpsdk:price:" + asset
}

func (c *RedisPriceCache) Get(ctx context.Context, asset string) (*Price, error) {
	data, err := c.client.Get(ctx, priceKey(asset)).Result()
	if err != nil {
		return nil, err
	}

	var p Price
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}

	return &p, nil
}

func (c *RedisPriceCache) Set(ctx context.Context, p *Price, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, priceKey(p.AssetCode), data, ttl).Err()
}
