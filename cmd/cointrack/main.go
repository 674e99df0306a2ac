package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"cointrack/internal/alert"
	"cointrack/internal/api"
	"cointrack/internal/config"
	"cointrack/internal/database"
	"cointrack/internal/market"
	"cointrack/internal/notify"
	"cointrack/internal/portfolio"
	"cointrack/internal/watchlist"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("cannot load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database.URL())
	if err != nil {
		logger.Error("cannot connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Error("cannot run migrations", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	cache := market.NewCache(rdb)
	client := market.NewCoinGeckoClient(cfg.Market.BaseURL, cfg.Market.VsCurrency, cfg.Market.PerPage, cfg.Market.RequestTimeout)
	feed := market.NewCachingFeed(logger, client, cache)

	if len(cfg.Market.StreamCoinIDs) > 0 {
		stream := market.NewStream(logger, cache, cfg.Market.StreamCoinIDs)
		go func() {
			if err := stream.Start(ctx); err != nil {
				logger.Error("price stream stopped", "error", err)
			}
		}()
	}

	go refreshLoop(ctx, logger, feed, cfg.Market.RefreshInterval)

	notifier := notify.NewLogNotifier(logger)
	ledgerRepo := database.NewPostgresLedgerRepository(pool)
	alertRepo := database.NewPostgresAlertRepository(pool)
	watchRepo := database.NewPostgresWatchlistRepository(pool)

	portfolioSvc := portfolio.NewService(logger, ledgerRepo, feed, notifier)
	watchlistSvc := watchlist.NewService(logger, watchRepo)
	evaluator := alert.NewEvaluator(logger, alertRepo, notifier)

	scheduler := alert.NewScheduler(logger, feed, evaluator, cfg.Alerts.CheckInterval)
	scheduler.Start()
	defer scheduler.Stop()

	server := api.NewServer(logger, feed, portfolioSvc, evaluator, watchlistSvc)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
}

// refreshLoop keeps the cached market snapshot warm so portfolio reads and
// alert checks do not depend on the remote feed being up at that moment.
func refreshLoop(ctx context.Context, logger *slog.Logger, feed market.Feed, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := feed.ListCoins(ctx); err != nil {
			logger.Warn("market refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
