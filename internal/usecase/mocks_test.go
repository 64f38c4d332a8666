package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// In-memory fakes shared by the usecase tests.

type memStore struct {
	mu         sync.Mutex
	strategies map[string]*domain.RuleSet // by ID
	positions  map[string]*domain.Position
	logs       []*domain.ExecutionRecord
	pnl        []*domain.RealizedPnL

	pnlErr error
}

func newMemStore() *memStore {
	return &memStore{
		strategies: make(map[string]*domain.RuleSet),
		positions:  make(map[string]*domain.Position),
	}
}

func posKey(userID, exchangeID, token string) string {
	return userID + "/" + exchangeID + "/" + token
}

func (m *memStore) SaveStrategy(_ context.Context, rs *domain.RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[rs.ID] = rs
	return nil
}

func (m *memStore) ReplaceStrategy(ctx context.Context, rs *domain.RuleSet) error {
	return m.SaveStrategy(ctx, rs)
}

func (m *memStore) GetStrategy(_ context.Context, userID, exchangeID, token string) (*domain.RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rs := range m.strategies {
		if rs.UserID == userID && rs.ExchangeID == exchangeID && rs.Token == token {
			return rs, nil
		}
	}
	return nil, domain.ErrStrategyNotFound
}

func (m *memStore) GetStrategyBySymbol(_ context.Context, symbol string) (*domain.RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rs := range m.strategies {
		if rs.Symbol == symbol {
			return rs, nil
		}
	}
	return nil, domain.ErrStrategyNotFound
}

func (m *memStore) ListStrategies(_ context.Context) ([]*domain.RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.RuleSet, 0, len(m.strategies))
	for _, rs := range m.strategies {
		out = append(out, rs)
	}
	return out, nil
}

func (m *memStore) ListActiveStrategies(ctx context.Context) ([]*domain.RuleSet, error) {
	all, _ := m.ListStrategies(ctx)
	out := make([]*domain.RuleSet, 0, len(all))
	for _, rs := range all {
		if rs.Active {
			out = append(out, rs)
		}
	}
	return out, nil
}

func (m *memStore) SetStrategyActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.strategies[id]
	if !ok {
		return domain.ErrStrategyNotFound
	}
	rs.Active = active
	return nil
}

func (m *memStore) DeleteStrategy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strategies[id]; !ok {
		return domain.ErrStrategyNotFound
	}
	delete(m.strategies, id)
	return nil
}

func (m *memStore) SavePosition(_ context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.positions[posKey(p.UserID, p.ExchangeID, p.Token)] = &cp
	return nil
}

func (m *memStore) GetPosition(_ context.Context, userID, exchangeID, token string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[posKey(userID, exchangeID, token)]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) AppendExecution(_ context.Context, rec *domain.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, rec)
	return nil
}

func (m *memStore) ListExecutions(_ context.Context, symbol string, limit int) ([]*domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExecutionRecord
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol == "" || m.logs[i].Symbol == symbol {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *memStore) SaveRealizedPnL(_ context.Context, entry *domain.RealizedPnL) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pnlErr != nil {
		return m.pnlErr
	}
	m.pnl = append(m.pnl, entry)
	return nil
}

func (m *memStore) SumRealizedPnL(_ context.Context, userID, exchangeID, token string, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0.0
	for _, e := range m.pnl {
		if e.UserID == userID && e.ExchangeID == exchangeID && e.Token == token && !e.CreatedAt.Before(since) {
			sum += e.Amount
		}
	}
	return sum, nil
}

// fakeExchange returns canned data and records placed orders.
type fakeExchange struct {
	mu       sync.Mutex
	name     string
	tickers  map[string]*domain.Ticker
	candles  map[string][]domain.Candle
	balances []domain.Balance

	orderErr   error
	balanceErr error
	tickerErr  error
	orders     []placedOrder
	nextID     int
}

type placedOrder struct {
	symbol string
	side   string
	amount float64 // quote for market buys, base for sells
}

func newFakeExchange(name string) *fakeExchange {
	return &fakeExchange{
		name:    name,
		tickers: make(map[string]*domain.Ticker),
		candles: make(map[string][]domain.Candle),
	}
}

func (f *fakeExchange) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers[symbol] = &domain.Ticker{Symbol: symbol, Last: price, QuoteVolume: 1e9}
}

func (f *fakeExchange) Name() string { return f.name }

func (f *fakeExchange) FetchTicker(_ context.Context, symbol string) (*domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickerErr != nil {
		return nil, f.tickerErr
	}
	t, ok := f.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("no ticker for %s", symbol)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeExchange) FetchCandles(_ context.Context, symbol, _ string, _ int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candles[symbol], nil
}

func (f *fakeExchange) fill(symbol, side string, amount float64, price float64) (*domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.nextID++
	f.orders = append(f.orders, placedOrder{symbol: symbol, side: side, amount: amount})

	result := &domain.OrderResult{
		ID:      fmt.Sprintf("ord-%d", f.nextID),
		Status:  "filled",
		Average: price,
	}
	if side == "BUY" {
		// amount is quote currency
		result.Filled = amount / price
		result.Cost = amount
	} else {
		result.Filled = amount
		result.Cost = amount * price
	}
	return result, nil
}

func (f *fakeExchange) lastPrice(symbol string) float64 {
	t, ok := f.tickers[symbol]
	if !ok {
		return 0
	}
	return t.Last
}

func (f *fakeExchange) CreateMarketBuyOrder(_ context.Context, symbol string, quoteAmount float64) (*domain.OrderResult, error) {
	return f.fill(symbol, "BUY", quoteAmount, f.lastPrice(symbol))
}

func (f *fakeExchange) CreateMarketSellOrder(_ context.Context, symbol string, amount float64) (*domain.OrderResult, error) {
	return f.fill(symbol, "SELL", amount, f.lastPrice(symbol))
}

func (f *fakeExchange) CreateLimitBuyOrder(_ context.Context, symbol string, amount, price float64) (*domain.OrderResult, error) {
	return f.fill(symbol, "BUY", amount*price, price)
}

func (f *fakeExchange) CreateLimitSellOrder(_ context.Context, symbol string, amount, price float64) (*domain.OrderResult, error) {
	return f.fill(symbol, "SELL", amount, price)
}

func (f *fakeExchange) FetchBalances(_ context.Context) ([]domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	out := make([]domain.Balance, len(f.balances))
	copy(out, f.balances)
	return out, nil
}

// fakeProvider satisfies ExchangeProvider over a fixed adapter map.
type fakeProvider struct {
	adapters map[string]domain.Exchange
}

func (p *fakeProvider) Get(exchangeID string) (domain.Exchange, error) {
	ex, ok := p.adapters[exchangeID]
	if !ok {
		return nil, fmt.Errorf("exchange %q is not configured", exchangeID)
	}
	return ex, nil
}

func (p *fakeProvider) All() map[string]domain.Exchange {
	return p.adapters
}
