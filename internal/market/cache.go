package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"cointrack/internal/model"
)

const coinKeyPrefix = "coin:"

// Cache holds the last known coin snapshots in Redis. Entries have no TTL:
// a stale price is the designed fallback when the feed is down, so snapshots
// are only ever overwritten, never expired.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

type cachedCoin struct {
	ID                       string `json:"id"`
	Symbol                   string `json:"symbol"`
	Name                     string `json:"name"`
	CurrentPrice             string `json:"current_price"`
	PriceChange24h           string `json:"price_change_24h"`
	PriceChangePercentage24h string `json:"price_change_percentage_24h"`
	MarketCap                int64  `json:"market_cap"`
	MarketCapRank            int    `json:"market_cap_rank"`
	High24h                  string `json:"high_24h"`
	Low24h                   string `json:"low_24h"`
	LastUpdated              int64  `json:"last_updated"`
}

func encodeCoin(coin model.Coin) ([]byte, error) {
	return json.Marshal(cachedCoin{
		ID:                       coin.ID,
		Symbol:                   coin.Symbol,
		Name:                     coin.Name,
		CurrentPrice:             coin.CurrentPrice.String(),
		PriceChange24h:           coin.PriceChange24h.String(),
		PriceChangePercentage24h: coin.PriceChangePercentage24h.String(),
		MarketCap:                coin.MarketCap,
		MarketCapRank:            coin.MarketCapRank,
		High24h:                  coin.High24h.String(),
		Low24h:                   coin.Low24h.String(),
		LastUpdated:              coin.LastUpdated.Unix(),
	})
}

func decodeCoin(raw string) (model.Coin, error) {
	var c cachedCoin
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return model.Coin{}, fmt.Errorf("decode cached coin: %w", err)
	}
	coin := model.Coin{
		ID:            c.ID,
		Symbol:        c.Symbol,
		Name:          c.Name,
		MarketCap:     c.MarketCap,
		MarketCapRank: c.MarketCapRank,
		LastUpdated:   time.Unix(c.LastUpdated, 0),
	}
	var err error
	if coin.CurrentPrice, err = decimal.NewFromString(c.CurrentPrice); err != nil {
		return model.Coin{}, fmt.Errorf("decode cached price: %w", err)
	}
	if coin.PriceChange24h, err = decimal.NewFromString(c.PriceChange24h); err != nil {
		return model.Coin{}, fmt.Errorf("decode cached price change: %w", err)
	}
	if coin.PriceChangePercentage24h, err = decimal.NewFromString(c.PriceChangePercentage24h); err != nil {
		return model.Coin{}, fmt.Errorf("decode cached price change pct: %w", err)
	}
	if coin.High24h, err = decimal.NewFromString(c.High24h); err != nil {
		return model.Coin{}, fmt.Errorf("decode cached high: %w", err)
	}
	if coin.Low24h, err = decimal.NewFromString(c.Low24h); err != nil {
		return model.Coin{}, fmt.Errorf("decode cached low: %w", err)
	}
	return coin, nil
}

// PutCoins stores snapshots for all given coins.
func (c *Cache) PutCoins(ctx context.Context, coins []model.Coin) error {
	pipe := c.client.Pipeline()
	for _, coin := range coins {
		raw, err := encodeCoin(coin)
		if err != nil {
			return err
		}
		pipe.Set(ctx, coinKeyPrefix+coin.ID, raw, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Coin returns the last known snapshot for the given coin ID.
func (c *Cache) Coin(ctx context.Context, id string) (model.Coin, error) {
	raw, err := c.client.Get(ctx, coinKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return model.Coin{}, model.ErrCoinNotFound
	}
	if err != nil {
		return model.Coin{}, err
	}
	return decodeCoin(raw)
}

// Coins returns every cached snapshot.
func (c *Cache) Coins(ctx context.Context) ([]model.Coin, error) {
	keys, err := c.scanKeys(ctx, coinKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	coins := make([]model.Coin, 0, len(keys))
	for _, key := range keys {
		raw, err := c.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		coin, err := decodeCoin(raw)
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

// UpdatePrice overwrites just the current price of a cached coin. Used by the
// live ticker stream; a coin never seen by the feed is skipped.
func (c *Cache) UpdatePrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error {
	coin, err := c.Coin(ctx, id)
	if errors.Is(err, model.ErrCoinNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	coin.CurrentPrice = price
	coin.LastUpdated = at
	return c.PutCoins(ctx, []model.Coin{coin})
}

func (c *Cache) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		found, next, err := c.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, found...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
