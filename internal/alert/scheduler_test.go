package alert

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"cointrack/internal/model"
)

type stubFeed struct {
	coins []model.Coin
}

func (f *stubFeed) ListCoins(ctx context.Context) ([]model.Coin, error) {
	return f.coins, nil
}

func (f *stubFeed) GetCoin(ctx context.Context, id string) (model.Coin, error) {
	for _, c := range f.coins {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Coin{}, model.ErrCoinNotFound
}

func TestScheduler_RunsImmediatelyOnStart(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	repo := new(MockAlertRepository)
	notifier := new(MockNotifier)

	notified := make(chan struct{}, 1)
	repo.On("ListActiveByCoin", mock.Anything, "bitcoin").Return([]model.PriceAlert{
		activeAlert("a1", "bitcoin", "50", model.AlertAbove),
	}, nil)
	repo.On("MarkTriggered", mock.Anything, "a1", mock.Anything).Return(nil).Once()
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		select {
		case notified <- struct{}{}:
		default:
		}
	}).Return(nil)

	feed := &stubFeed{coins: []model.Coin{
		{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: dec("100")},
	}}
	evaluator := NewEvaluator(logger, repo, notifier)
	scheduler := NewScheduler(logger, feed, evaluator, time.Hour)

	scheduler.Start()
	defer scheduler.Stop()

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("alert evaluation did not run on start")
	}
	repo.AssertExpectations(t)
}

// slowFeed blocks each coin refresh and records when it is done, so the test
// can tell whether Stop waited for the in-flight run.
type slowFeed struct {
	delay    time.Duration
	finished atomic.Bool
}

func (f *slowFeed) ListCoins(ctx context.Context) ([]model.Coin, error) {
	time.Sleep(f.delay)
	f.finished.Store(true)
	return nil, model.ErrPriceUnavailable
}

func (f *slowFeed) GetCoin(ctx context.Context, id string) (model.Coin, error) {
	return model.Coin{}, model.ErrCoinNotFound
}

func TestScheduler_StopWaitsForRunningEvaluation(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	evaluator := NewEvaluator(logger, new(MockAlertRepository), new(MockNotifier))

	feed := &slowFeed{delay: 200 * time.Millisecond}
	scheduler := NewScheduler(logger, feed, evaluator, time.Hour)

	scheduler.Start()
	scheduler.Stop()

	assert.True(t, feed.finished.Load(), "Stop returned while the evaluation was still running")
}
