package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
	"go.uber.org/zap"
)

const defaultIntervalMinutes = 10

// Scheduler runs one cron entry per active strategy at that strategy's own
// interval. SkipIfStillRunning guarantees a symbol's job is never re-entered
// while a previous invocation is still in flight; different symbols run
// concurrently on the cron worker pool.
type Scheduler struct {
	cron        *cron.Cron
	coordinator *usecase.ExecutionCoordinator
	strategies  domain.StrategyRepository
	logger      *zap.Logger
	reloadEvery time.Duration

	mu      sync.Mutex
	jobs    map[string]jobSpec // strategy ID -> registered job, for change detection
	running bool
}

// jobSpec is what the closure registered with cron captured; a change in
// either field forces a re-registration.
type jobSpec struct {
	entry   cron.EntryID
	symbol  string
	minutes int
}

func New(coordinator *usecase.ExecutionCoordinator, strategies domain.StrategyRepository, reloadEvery time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		coordinator: coordinator,
		strategies:  strategies,
		logger:      logger,
		reloadEvery: reloadEvery,
		jobs:        make(map[string]jobSpec),
	}
}

// Start loads the initial job set, starts cron and the reload loop. The
// reload loop picks up strategies created or changed through the API.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.reloadEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Reload(ctx); err != nil {
					s.logger.Error("scheduler reload failed", zap.Error(err))
				}
			}
		}
	}()

	s.logger.Info("scheduler started", zap.Int("jobs", s.ActiveJobs()))
	return nil
}

// Reload diffs the active strategy set against the registered jobs: new
// strategies get entries, removed or deactivated ones are dropped, interval
// or symbol changes are re-registered.
func (s *Scheduler) Reload(ctx context.Context) error {
	active, err := s.strategies.ListActiveStrategies(ctx)
	if err != nil {
		return fmt.Errorf("list active strategies: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(active))
	for _, rs := range active {
		seen[rs.ID] = true
		minutes := rs.Execution.IntervalMinutes
		if minutes <= 0 {
			minutes = defaultIntervalMinutes
		}

		if prev, ok := s.jobs[rs.ID]; ok {
			if prev.minutes == minutes && prev.symbol == rs.Symbol {
				continue
			}
			s.cron.Remove(prev.entry)
		}

		symbol := rs.Symbol
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", minutes), func() {
			s.coordinator.RunScheduled(context.Background(), symbol)
		})
		if err != nil {
			s.logger.Error("register job failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		s.jobs[rs.ID] = jobSpec{entry: id, symbol: symbol, minutes: minutes}
		s.logger.Info("job registered", zap.String("symbol", symbol), zap.Int("interval_minutes", minutes))
	}

	for id, job := range s.jobs {
		if !seen[id] {
			s.cron.Remove(job.entry)
			delete(s.jobs, id)
			s.logger.Info("job removed", zap.String("strategy_id", id))
		}
	}
	return nil
}

// ActiveJobs reports the number of registered strategy jobs.
func (s *Scheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Running reports scheduler liveness for the health endpoint.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop halts cron and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}
