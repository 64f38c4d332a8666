package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
	"go.uber.org/zap"
)

// stubStrategies serves a mutable active set; the other repository methods
// are never reached from Reload.
type stubStrategies struct {
	active []*domain.RuleSet
}

func (s *stubStrategies) SaveStrategy(ctx context.Context, rs *domain.RuleSet) error    { return nil }
func (s *stubStrategies) ReplaceStrategy(ctx context.Context, rs *domain.RuleSet) error { return nil }
func (s *stubStrategies) GetStrategy(ctx context.Context, userID, exchangeID, token string) (*domain.RuleSet, error) {
	return nil, domain.ErrStrategyNotFound
}
func (s *stubStrategies) GetStrategyBySymbol(ctx context.Context, symbol string) (*domain.RuleSet, error) {
	return nil, domain.ErrStrategyNotFound
}
func (s *stubStrategies) ListStrategies(ctx context.Context) ([]*domain.RuleSet, error) {
	return s.active, nil
}
func (s *stubStrategies) ListActiveStrategies(ctx context.Context) ([]*domain.RuleSet, error) {
	return s.active, nil
}
func (s *stubStrategies) SetStrategyActive(ctx context.Context, id string, active bool) error {
	return nil
}
func (s *stubStrategies) DeleteStrategy(ctx context.Context, id string) error { return nil }

type stubProvider struct{}

func (stubProvider) Get(exchangeID string) (domain.Exchange, error) {
	return nil, errors.New("no adapter")
}
func (stubProvider) All() map[string]domain.Exchange { return nil }

func newTestScheduler(repo *stubStrategies) *Scheduler {
	logger := zap.NewNop()
	coordinator := usecase.NewExecutionCoordinator(
		repo, nil, nil, nil, nil,
		usecase.NewStrategyStateEngine(),
		usecase.NewAllocationEngine(usecase.DefaultAllocationConfig()),
		stubProvider{}, logger)
	return New(coordinator, repo, time.Minute, logger)
}

func strategyJob(id, symbol string, minutes int) *domain.RuleSet {
	return &domain.RuleSet{
		ID:        id,
		Symbol:    symbol,
		Active:    true,
		Execution: domain.ExecutionRule{IntervalMinutes: minutes},
	}
}

func TestReloadRegistersAndRemovesJobs(t *testing.T) {
	repo := &stubStrategies{active: []*domain.RuleSet{strategyJob("s1", "BTCUSDT", 5)}}
	s := newTestScheduler(repo)

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 1, s.ActiveJobs())

	repo.active = nil
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 0, s.ActiveJobs())
}

func TestReloadKeepsUnchangedJob(t *testing.T) {
	repo := &stubStrategies{active: []*domain.RuleSet{strategyJob("s1", "BTCUSDT", 5)}}
	s := newTestScheduler(repo)

	require.NoError(t, s.Reload(context.Background()))
	before := s.jobs["s1"].entry

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, before, s.jobs["s1"].entry)
}

func TestReloadReRegistersOnIntervalChange(t *testing.T) {
	repo := &stubStrategies{active: []*domain.RuleSet{strategyJob("s1", "BTCUSDT", 5)}}
	s := newTestScheduler(repo)

	require.NoError(t, s.Reload(context.Background()))
	before := s.jobs["s1"]

	repo.active = []*domain.RuleSet{strategyJob("s1", "BTCUSDT", 15)}
	require.NoError(t, s.Reload(context.Background()))

	after := s.jobs["s1"]
	assert.NotEqual(t, before.entry, after.entry)
	assert.Equal(t, 15, after.minutes)
	assert.Equal(t, 1, s.ActiveJobs())
}

func TestReloadReRegistersOnSymbolChange(t *testing.T) {
	repo := &stubStrategies{active: []*domain.RuleSet{strategyJob("s1", "BTCUSDT", 5)}}
	s := newTestScheduler(repo)

	require.NoError(t, s.Reload(context.Background()))
	before := s.jobs["s1"]

	// Same interval, renamed pair: the closure captured the old symbol, so
	// the job must be re-registered.
	repo.active = []*domain.RuleSet{strategyJob("s1", "ETHUSDT", 5)}
	require.NoError(t, s.Reload(context.Background()))

	after := s.jobs["s1"]
	assert.NotEqual(t, before.entry, after.entry)
	assert.Equal(t, "ETHUSDT", after.symbol)
	assert.Equal(t, 1, s.ActiveJobs())
}
