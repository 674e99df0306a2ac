package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cointrack/internal/market"
)

// Scheduler runs alert evaluation on a fixed interval, plus one immediate
// run at start. Overlapping runs are skipped rather than queued: if an
// evaluation is still in flight when the next tick fires, the tick is dropped
// and the work happens at the tick after.
type Scheduler struct {
	logger    *slog.Logger
	feed      market.Feed
	evaluator *Evaluator
	interval  time.Duration
	cron      *cron.Cron
	job       cron.Job
	wg        sync.WaitGroup
}

func NewScheduler(logger *slog.Logger, feed market.Feed, evaluator *Evaluator, interval time.Duration) *Scheduler {
	s := &Scheduler{
		logger:    logger,
		feed:      feed,
		evaluator: evaluator,
		interval:  interval,
	}
	cronLog := &cronLogger{logger: logger}
	s.job = cron.NewChain(cron.SkipIfStillRunning(cronLog)).Then(cron.FuncJob(s.run))
	s.cron = cron.New(cron.WithLogger(cronLog))
	return s
}

// Start schedules the periodic evaluation and kicks off an immediate run.
func (s *Scheduler) Start() {
	s.cron.Schedule(cron.Every(s.interval), s.job)
	s.cron.Start()
	// The immediate run is outside cron's tracking, so it gets its own
	// wait group for Stop to block on.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.job.Run()
	}()
	s.logger.Info("alert scheduler started", "interval", s.interval)
}

// Stop halts scheduling and waits for a running evaluation to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("alert scheduler stopped")
}

// run refreshes coins and evaluates alerts. A failed refresh is not retried
// here; the next scheduled tick retries naturally.
func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	coins, err := s.feed.ListCoins(ctx)
	if err != nil {
		s.logger.Error("alert run skipped, could not fetch coins", "error", err)
		return
	}

	triggers := s.evaluator.Evaluate(ctx, coins)
	s.logger.Info("alert evaluation completed", "coins", len(coins), "triggered", len(triggers))
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	l.logger.Error(msg, args...)
}
