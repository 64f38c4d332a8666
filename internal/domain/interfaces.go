package domain

import (
	"context"
	"time"
)

// Exchange is the external order-placement and market-data collaborator.
type Exchange interface {
	Name() string
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	CreateMarketBuyOrder(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error)
	CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (*OrderResult, error)
	CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*OrderResult, error)
	CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*OrderResult, error)
	FetchBalances(ctx context.Context) ([]Balance, error)
}

// StrategyRepository stores rule sets keyed by (user, exchange, token).
type StrategyRepository interface {
	SaveStrategy(ctx context.Context, rs *RuleSet) error
	ReplaceStrategy(ctx context.Context, rs *RuleSet) error
	GetStrategy(ctx context.Context, userID, exchangeID, token string) (*RuleSet, error)
	GetStrategyBySymbol(ctx context.Context, symbol string) (*RuleSet, error)
	ListStrategies(ctx context.Context) ([]*RuleSet, error)
	ListActiveStrategies(ctx context.Context) ([]*RuleSet, error)
	SetStrategyActive(ctx context.Context, id string, active bool) error
	DeleteStrategy(ctx context.Context, id string) error
}

// PositionRepository stores positions keyed by the same triple as strategies.
type PositionRepository interface {
	SavePosition(ctx context.Context, p *Position) error
	GetPosition(ctx context.Context, userID, exchangeID, token string) (*Position, error)
}

// ExecutionLogRepository is append-only; records are never mutated.
type ExecutionLogRepository interface {
	AppendExecution(ctx context.Context, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, symbol string, limit int) ([]*ExecutionRecord, error)
}

// PnLRepository stores realized profit-and-loss events for the circuit
// breaker windows.
type PnLRepository interface {
	SaveRealizedPnL(ctx context.Context, entry *RealizedPnL) error
	SumRealizedPnL(ctx context.Context, userID, exchangeID, token string, since time.Time) (float64, error)
}
