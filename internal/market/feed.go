package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cointrack/internal/model"
)

// Feed is the read-only market data source.
type Feed interface {
	ListCoins(ctx context.Context) ([]model.Coin, error)
	GetCoin(ctx context.Context, id string) (model.Coin, error)
}

// CachingFeed serves coins from the remote feed and falls back to the last
// known cached snapshots when the remote is unavailable. The feed is
// best-effort: a portfolio read must not fail just because the upstream is down.
type CachingFeed struct {
	logger *slog.Logger
	client *CoinGeckoClient
	cache  *Cache
}

func NewCachingFeed(logger *slog.Logger, client *CoinGeckoClient, cache *Cache) *CachingFeed {
	return &CachingFeed{logger: logger, client: client, cache: cache}
}

// ListCoins fetches the market snapshot and primes the cache. On a remote
// failure it serves whatever the cache last saw.
func (f *CachingFeed) ListCoins(ctx context.Context) ([]model.Coin, error) {
	coins, err := f.client.ListCoins(ctx)
	if err != nil {
		f.logger.Warn("price feed unavailable, serving cached snapshots", "error", err)
		cached, cacheErr := f.cache.Coins(ctx)
		if cacheErr != nil || len(cached) == 0 {
			return nil, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
		}
		return cached, nil
	}
	if err := f.cache.PutCoins(ctx, coins); err != nil {
		f.logger.Warn("failed to cache coin snapshots", "error", err)
	}
	return coins, nil
}

// GetCoin resolves a single coin, preferring the cache (which the live ticker
// stream keeps fresh) and falling back to the remote feed on a miss.
func (f *CachingFeed) GetCoin(ctx context.Context, id string) (model.Coin, error) {
	coin, err := f.cache.Coin(ctx, id)
	if err == nil {
		return coin, nil
	}
	if !errors.Is(err, model.ErrCoinNotFound) {
		f.logger.Warn("price cache lookup failed", "coin", id, "error", err)
	}

	coin, err = f.client.GetCoin(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrCoinNotFound) {
			return model.Coin{}, err
		}
		return model.Coin{}, fmt.Errorf("%w: %v", model.ErrPriceUnavailable, err)
	}
	if cacheErr := f.cache.PutCoins(ctx, []model.Coin{coin}); cacheErr != nil {
		f.logger.Warn("failed to cache coin snapshot", "coin", id, "error", cacheErr)
	}
	return coin, nil
}
