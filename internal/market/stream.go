package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Stream keeps cached prices fresh between REST refreshes by following the
// Binance combined ticker stream for a configured set of symbols.
type Stream struct {
	logger  *slog.Logger
	cache   *Cache
	symbols map[string]string // exchange symbol -> feed coin ID
	baseURL string
}

func NewStream(logger *slog.Logger, cache *Cache, symbols map[string]string) *Stream {
	// Exchange messages carry uppercase symbols and the subscription URL
	// wants lowercase, so keys are normalized once here.
	normalized := make(map[string]string, len(symbols))
	for sym, coinID := range symbols {
		normalized[strings.ToLower(sym)] = coinID
	}
	return &Stream{
		logger:  logger,
		cache:   cache,
		symbols: normalized,
		baseURL: "wss://stream.binance.com:9443/stream",
	}
}

func (s *Stream) streamURL() string {
	parts := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		parts = append(parts, sym+"@ticker")
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s?streams=%s", s.baseURL, strings.Join(parts, "/"))
}

type combinedStreamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol    string `json:"s"`
		LastPrice string `json:"c"`
	} `json:"data"`
}

// Start connects to the ticker stream and updates the price cache until the
// context is cancelled, reconnecting with capped backoff on failure.
func (s *Stream) Start(ctx context.Context) error {
	if len(s.symbols) == 0 {
		s.logger.Info("Stream: no symbols configured, live ticker disabled")
		return nil
	}
	wsURL := s.streamURL()
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stream: context cancelled, shutting down")
			return nil
		default:
			s.logger.Info("Stream: connecting to WebSocket", "url", wsURL, "backoff", backoff)
			c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				s.logger.Error("Stream: WebSocket connection failed", "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
					backoff *= 2
					if backoff > 16*time.Second {
						backoff = 16 * time.Second
					}
				}
				continue
			}

			// Reset backoff on successful connection
			backoff = time.Second
			s.logger.Info("Stream: connected successfully")

			s.readLoop(ctx, c)
			c.Close()
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, c *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stream: context cancelled, closing connection")
			return
		default:
			_, message, err := c.ReadMessage()
			if err != nil {
				s.logger.Error("Stream: failed to read message", "error", err)
				return
			}

			var msg combinedStreamMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				s.logger.Warn("Stream: failed to parse message", "error", err)
				continue
			}

			coinID, ok := s.symbols[strings.ToLower(msg.Data.Symbol)]
			if !ok || msg.Data.LastPrice == "" {
				continue
			}
			price, err := decimal.NewFromString(msg.Data.LastPrice)
			if err != nil {
				s.logger.Warn("Stream: failed to parse price", "symbol", msg.Data.Symbol, "error", err)
				continue
			}

			if err := s.cache.UpdatePrice(ctx, coinID, price, time.Now()); err != nil {
				s.logger.Warn("Stream: failed to update cached price", "coin", coinID, "error", err)
				continue
			}
			s.logger.Debug("Stream: updated cached price", "coin", coinID, "price", price)
		}
	}
}
