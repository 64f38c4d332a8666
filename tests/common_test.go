package tests

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
	"go.uber.org/zap"
)

// MockExchange serves canned prices and records every order it fills.
type MockExchange struct {
	mu       sync.Mutex
	prices   map[string]float64
	quote    float64 // free USDT balance
	OrderErr error

	Orders []MockOrder
	nextID int
}

type MockOrder struct {
	Symbol string
	Side   string
	Amount float64 // quote for buys, base for sells
	Price  float64
}

func NewMockExchange(quoteBalance float64) *MockExchange {
	return &MockExchange{
		prices: make(map[string]float64),
		quote:  quoteBalance,
	}
}

func (m *MockExchange) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *MockExchange) Name() string { return "mock" }

func (m *MockExchange) FetchTicker(_ context.Context, symbol string) (*domain.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return &domain.Ticker{Symbol: symbol, Last: price, QuoteVolume: 1e9}, nil
}

func (m *MockExchange) FetchCandles(_ context.Context, _, _ string, _ int) ([]domain.Candle, error) {
	return nil, nil
}

func (m *MockExchange) fill(symbol, side string, amount float64) (*domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	price := m.prices[symbol]
	m.nextID++
	m.Orders = append(m.Orders, MockOrder{Symbol: symbol, Side: side, Amount: amount, Price: price})

	result := &domain.OrderResult{
		ID:      fmt.Sprintf("mock-%d", m.nextID),
		Status:  "filled",
		Average: price,
	}
	if side == "BUY" {
		result.Filled = amount / price
		result.Cost = amount
		m.quote -= amount
	} else {
		result.Filled = amount
		result.Cost = amount * price
		m.quote += result.Cost
	}
	return result, nil
}

func (m *MockExchange) CreateMarketBuyOrder(_ context.Context, symbol string, quoteAmount float64) (*domain.OrderResult, error) {
	return m.fill(symbol, "BUY", quoteAmount)
}

func (m *MockExchange) CreateMarketSellOrder(_ context.Context, symbol string, amount float64) (*domain.OrderResult, error) {
	return m.fill(symbol, "SELL", amount)
}

func (m *MockExchange) CreateLimitBuyOrder(_ context.Context, symbol string, amount, price float64) (*domain.OrderResult, error) {
	return m.fill(symbol, "BUY", amount*price)
}

func (m *MockExchange) CreateLimitSellOrder(_ context.Context, symbol string, amount, _ float64) (*domain.OrderResult, error) {
	return m.fill(symbol, "SELL", amount)
}

func (m *MockExchange) FetchBalances(_ context.Context) ([]domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []domain.Balance{{Asset: "USDT", Free: m.quote, Total: m.quote}}, nil
}

type mockProvider struct {
	ex domain.Exchange
}

func (p *mockProvider) Get(id string) (domain.Exchange, error) {
	if id != "mock" {
		return nil, fmt.Errorf("exchange %q is not configured", id)
	}
	return p.ex, nil
}

func (p *mockProvider) All() map[string]domain.Exchange {
	return map[string]domain.Exchange{"mock": p.ex}
}

// Scenario wires the full stack over an in-memory store and a mock exchange.
type Scenario struct {
	t           *testing.T
	ctx         context.Context
	Store       *storage.SQLiteStore
	Exchange    *MockExchange
	States      *usecase.StrategyStateEngine
	Coordinator *usecase.ExecutionCoordinator

	userID     string
	exchangeID string
}

func NewScenario(t *testing.T) *Scenario {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ex := NewMockExchange(1000)
	states := usecase.NewStrategyStateEngine()
	coordinator := usecase.NewExecutionCoordinator(
		store, store,
		usecase.NewPositionTracker(store, store),
		store,
		usecase.NewRiskTracker(store),
		states,
		usecase.NewAllocationEngine(usecase.DefaultAllocationConfig()),
		&mockProvider{ex: ex},
		zap.NewNop(),
	)

	return &Scenario{
		t:           t,
		ctx:         context.Background(),
		Store:       store,
		Exchange:    ex,
		States:      states,
		Coordinator: coordinator,
		userID:      "u1",
		exchangeID:  "mock",
	}
}

func (s *Scenario) AddStrategy(rs domain.RuleSet) *domain.RuleSet {
	s.t.Helper()
	rs.UserID = s.userID
	rs.ExchangeID = s.exchangeID
	out, err := domain.NewRuleSet(rs)
	require.NoError(s.t, err)
	require.NoError(s.t, s.Store.SaveStrategy(s.ctx, out))
	return out
}

// Tick sets the price and runs one evaluation cycle for the symbol. SetLast
// keeps the snapshot cache warm so consecutive ticks see the new price.
func (s *Scenario) Tick(symbol string, price float64) usecase.CycleResult {
	s.t.Helper()
	s.Exchange.SetPrice(symbol, price)
	s.Coordinator.PriceSource(s.exchangeID).SetLast(symbol, price)

	results, err := s.Coordinator.RunCycle(s.ctx, domain.ExecutorScheduler, symbol)
	require.NoError(s.t, err)
	require.Len(s.t, results, 1)
	return results[0]
}

func (s *Scenario) Position(token string) *domain.Position {
	s.t.Helper()
	pos, err := s.Store.GetPosition(s.ctx, s.userID, s.exchangeID, token)
	require.NoError(s.t, err)
	return pos
}

func (s *Scenario) AssertOrderCount(n int) {
	s.t.Helper()
	require.Len(s.t, s.Exchange.Orders, n)
}

func (s *Scenario) LastOrder() MockOrder {
	s.t.Helper()
	require.NotEmpty(s.t, s.Exchange.Orders)
	return s.Exchange.Orders[len(s.Exchange.Orders)-1]
}

func (s *Scenario) AuditCount(symbol string) int {
	s.t.Helper()
	records, err := s.Store.ListExecutions(s.ctx, symbol, 1000)
	require.NoError(s.t, err)
	return len(records)
}
