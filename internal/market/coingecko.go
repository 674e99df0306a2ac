package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"cointrack/internal/model"
)

var feedRequestErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "price_feed_request_errors_total",
	Help: "Total number of failed requests to the remote price feed",
})

func init() {
	prometheus.MustRegister(feedRequestErrors)
}

// CoinGeckoClient fetches market snapshots from the CoinGecko REST API.
type CoinGeckoClient struct {
	baseURL    string
	vsCurrency string
	perPage    int
	http       *http.Client
}

func NewCoinGeckoClient(baseURL, vsCurrency string, perPage int, timeout time.Duration) *CoinGeckoClient {
	if perPage <= 0 {
		perPage = 100
	}
	return &CoinGeckoClient{
		baseURL:    baseURL,
		vsCurrency: vsCurrency,
		perPage:    perPage,
		http:       &http.Client{Timeout: timeout},
	}
}

type coinMarketDTO struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	CurrentPrice             float64 `json:"current_price"`
	MarketCap                int64   `json:"market_cap"`
	MarketCapRank            int     `json:"market_cap_rank"`
	PriceChange24h           float64 `json:"price_change_24h"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	High24h                  float64 `json:"high_24h"`
	Low24h                   float64 `json:"low_24h"`
	LastUpdated              string  `json:"last_updated"`
}

func (d coinMarketDTO) toDomain() model.Coin {
	coin := model.Coin{
		ID:                       d.ID,
		Symbol:                   d.Symbol,
		Name:                     d.Name,
		CurrentPrice:             decimal.NewFromFloat(d.CurrentPrice),
		PriceChange24h:           decimal.NewFromFloat(d.PriceChange24h),
		PriceChangePercentage24h: decimal.NewFromFloat(d.PriceChangePercentage24h),
		MarketCap:                d.MarketCap,
		MarketCapRank:            d.MarketCapRank,
		High24h:                  decimal.NewFromFloat(d.High24h),
		Low24h:                   decimal.NewFromFloat(d.Low24h),
	}
	if t, err := time.Parse(time.RFC3339, d.LastUpdated); err == nil {
		coin.LastUpdated = t
	}
	return coin
}

// ListCoins returns the top coins by market cap.
func (c *CoinGeckoClient) ListCoins(ctx context.Context) ([]model.Coin, error) {
	q := url.Values{}
	q.Set("vs_currency", c.vsCurrency)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("page", "1")
	q.Set("price_change_percentage", "24h")
	return c.fetchMarkets(ctx, q)
}

// GetCoin returns a single coin snapshot by feed ID.
func (c *CoinGeckoClient) GetCoin(ctx context.Context, id string) (model.Coin, error) {
	q := url.Values{}
	q.Set("vs_currency", c.vsCurrency)
	q.Set("ids", id)
	coins, err := c.fetchMarkets(ctx, q)
	if err != nil {
		return model.Coin{}, err
	}
	if len(coins) == 0 {
		return model.Coin{}, model.ErrCoinNotFound
	}
	return coins[0], nil
}

func (c *CoinGeckoClient) fetchMarkets(ctx context.Context, q url.Values) ([]model.Coin, error) {
	reqURL := fmt.Sprintf("%s/coins/markets?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		feedRequestErrors.Inc()
		return nil, fmt.Errorf("price feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		feedRequestErrors.Inc()
		return nil, fmt.Errorf("price feed http %d", resp.StatusCode)
	}

	var dtos []coinMarketDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		feedRequestErrors.Inc()
		return nil, fmt.Errorf("decode price feed response: %w", err)
	}

	coins := make([]model.Coin, 0, len(dtos))
	for _, d := range dtos {
		coins = append(coins, d.toDomain())
	}
	return coins, nil
}
