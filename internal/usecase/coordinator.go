package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// CycleState models the coordinator's per-symbol state machine:
// IDLE -> EVALUATING -> (BUYING|SELLING|SKIPPED) -> LOGGED -> IDLE.
type CycleState string

const (
	StateIdle       CycleState = "IDLE"
	StateEvaluating CycleState = "EVALUATING"
	StateBuying     CycleState = "BUYING"
	StateSelling    CycleState = "SELLING"
	StateSkipped    CycleState = "SKIPPED"
	StateLogged     CycleState = "LOGGED"
)

// ExchangeProvider resolves the exchange adapter for a strategy.
type ExchangeProvider interface {
	Get(exchangeID string) (domain.Exchange, error)
	All() map[string]domain.Exchange
}

// CycleResult summarizes one evaluation cycle for one symbol.
type CycleResult struct {
	Symbol   string                `json:"symbol"`
	Decision domain.Decision       `json:"decision"`
	Outcome  string                `json:"outcome"`
	OrderID  string                `json:"order_id,omitempty"`
	Amount   float64               `json:"amount,omitempty"`
	Error    string                `json:"error,omitempty"`
	Snapshot domain.MarketSnapshot `json:"snapshot"`
}

// ExecutionCoordinator drives PriceService -> TriggerEvaluator ->
// AllocationEngine -> order placement -> PositionTracker -> audit log.
// Order placement failures are absorbed into the audit record and never
// retried within a cycle; the next tick re-evaluates from scratch.
type ExecutionCoordinator struct {
	strategies domain.StrategyRepository
	positions  domain.PositionRepository
	tracker    *PositionTracker
	logs       domain.ExecutionLogRepository
	risk       *RiskTracker
	evaluator  *TriggerEvaluator
	states     *StrategyStateEngine
	allocator  *AllocationEngine
	exchanges  ExchangeProvider
	prices     map[string]*PriceService
	logger     *zap.Logger
	quoteAsset string
	now        func() time.Time
}

func NewExecutionCoordinator(
	strategies domain.StrategyRepository,
	positions domain.PositionRepository,
	tracker *PositionTracker,
	logs domain.ExecutionLogRepository,
	risk *RiskTracker,
	states *StrategyStateEngine,
	allocator *AllocationEngine,
	exchanges ExchangeProvider,
	logger *zap.Logger,
) *ExecutionCoordinator {
	prices := make(map[string]*PriceService)
	for id, ex := range exchanges.All() {
		prices[id] = NewPriceService(ex, logger.Named("prices."+id))
	}
	return &ExecutionCoordinator{
		strategies: strategies,
		positions:  positions,
		tracker:    tracker,
		logs:       logs,
		risk:       risk,
		evaluator:  NewTriggerEvaluator(states),
		states:     states,
		allocator:  allocator,
		exchanges:  exchanges,
		prices:     prices,
		logger:     logger,
		quoteAsset: "USDT",
		now:        time.Now,
	}
}

// PriceSource exposes the per-exchange price service (web handlers use it).
func (c *ExecutionCoordinator) PriceSource(exchangeID string) *PriceService {
	return c.prices[exchangeID]
}

// evaluation is one strategy's intermediate result within a cycle.
type evaluation struct {
	rs       *domain.RuleSet
	pos      *domain.Position
	snap     domain.MarketSnapshot
	decision domain.Decision
	err      error
}

// RunCycle executes one evaluation cycle. With no symbols it covers every
// active strategy as a batch sharing one balance snapshot per exchange; with
// symbols it covers exactly those. Exactly one audit record is written per
// covered symbol, whatever the outcome.
func (c *ExecutionCoordinator) RunCycle(ctx context.Context, executor domain.Executor, symbols ...string) ([]CycleResult, error) {
	var ruleSets []*domain.RuleSet
	if len(symbols) == 0 {
		var err error
		ruleSets, err = c.strategies.ListActiveStrategies(ctx)
		if err != nil {
			return nil, fmt.Errorf("list strategies: %w", err)
		}
	} else {
		for _, sym := range symbols {
			rs, err := c.strategies.GetStrategyBySymbol(ctx, sym)
			if err != nil {
				return nil, fmt.Errorf("strategy for %s: %w", sym, err)
			}
			ruleSets = append(ruleSets, rs)
		}
	}

	evals := make([]evaluation, 0, len(ruleSets))
	for _, rs := range ruleSets {
		evals = append(evals, c.evaluate(ctx, rs))
	}

	allocations := c.allocateBuys(ctx, evals)

	results := make([]CycleResult, 0, len(evals))
	for _, ev := range evals {
		results = append(results, c.execute(ctx, executor, ev, allocations))
	}
	return results, nil
}

// RunScheduled is the scheduler entry point for one strategy. Unexpected
// panics are absorbed so a bad cycle never kills the scheduler thread.
func (c *ExecutionCoordinator) RunScheduled(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cycle panicked", zap.String("symbol", symbol), zap.Any("panic", r))
		}
	}()
	if _, err := c.RunCycle(ctx, domain.ExecutorScheduler, symbol); err != nil {
		c.logger.Error("scheduled cycle failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

func (c *ExecutionCoordinator) evaluate(ctx context.Context, rs *domain.RuleSet) evaluation {
	ev := evaluation{rs: rs}

	prices, ok := c.prices[rs.ExchangeID]
	if !ok {
		ev.err = fmt.Errorf("no exchange adapter for %q", rs.ExchangeID)
		return ev
	}

	snap, err := prices.Snapshot(ctx, rs.Symbol)
	if err != nil {
		ev.err = err
		return ev
	}
	ev.snap = snap

	pos, err := c.positions.GetPosition(ctx, rs.UserID, rs.ExchangeID, rs.Token)
	if err != nil && !errors.Is(err, domain.ErrPositionNotFound) {
		ev.err = fmt.Errorf("load position: %w", err)
		return ev
	}
	ev.pos = pos

	losses, err := c.risk.LossWindows(ctx, rs.UserID, rs.ExchangeID, rs.Token, c.now())
	if err != nil {
		ev.err = err
		return ev
	}

	ev.decision = c.evaluator.Evaluate(rs, pos, snap, losses, c.now())
	return ev
}

// allocateBuys snapshots each exchange's quote balance once and runs the
// batch allocation over all buy decisions on that exchange.
func (c *ExecutionCoordinator) allocateBuys(ctx context.Context, evals []evaluation) map[string]float64 {
	byExchange := make(map[string][]Candidate)
	for _, ev := range evals {
		if ev.err == nil && ev.decision.Action == domain.ActionBuy {
			byExchange[ev.rs.ExchangeID] = append(byExchange[ev.rs.ExchangeID], Candidate{
				Symbol:          ev.rs.Symbol,
				Decision:        ev.decision,
				MaxOrderPercent: ev.rs.Execution.MaxOrderPercent,
				MinOrderUSD:     ev.rs.Execution.MinOrderUSD,
			})
		}
	}

	out := make(map[string]float64)
	for exchangeID, candidates := range byExchange {
		balance, err := c.quoteBalance(ctx, exchangeID)
		if err != nil {
			c.logger.Error("fetch balance failed, skipping buys",
				zap.String("exchange", exchangeID), zap.Error(err))
			continue
		}
		for symbol, amount := range c.allocator.Allocate(balance, candidates) {
			out[symbol] = amount
		}
	}
	return out
}

func (c *ExecutionCoordinator) quoteBalance(ctx context.Context, exchangeID string) (float64, error) {
	ex, err := c.exchanges.Get(exchangeID)
	if err != nil {
		return 0, err
	}
	balances, err := ex.FetchBalances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == c.quoteAsset {
			return b.Free, nil
		}
	}
	return 0, nil
}

func (c *ExecutionCoordinator) execute(ctx context.Context, executor domain.Executor, ev evaluation, allocations map[string]float64) CycleResult {
	state := StateEvaluating
	result := CycleResult{Symbol: symbolOf(ev), Decision: ev.decision, Snapshot: ev.snap}

	switch {
	case ev.err != nil:
		state = StateSkipped
		result.Outcome = domain.OutcomeError
		result.Error = ev.err.Error()

	case ev.decision.Action == domain.ActionHold:
		state = StateSkipped
		result.Outcome = domain.OutcomeSkipped
		if ev.decision.Reason == domain.ReasonCircuitBroken {
			c.deactivate(ctx, ev.rs)
		}

	case ev.decision.Action == domain.ActionSell:
		state = StateSelling
		c.executeSell(ctx, ev, &result)

	case ev.decision.Action == domain.ActionBuy:
		state = StateBuying
		c.executeBuy(ctx, ev, allocations, &result)
	}

	c.logger.Debug("cycle transition",
		zap.String("symbol", result.Symbol),
		zap.String("state", string(state)),
		zap.String("outcome", result.Outcome))

	c.writeLog(ctx, executor, ev, result)
	return result
}

func (c *ExecutionCoordinator) executeSell(ctx context.Context, ev evaluation, result *CycleResult) {
	rs := ev.rs
	if ev.pos == nil || !ev.pos.IsActive || ev.pos.Amount <= 0 {
		result.Outcome = domain.OutcomeSkipped
		result.Error = domain.ErrInsufficientPosition.Error()
		return
	}

	amount := ev.pos.Amount * ev.decision.QuantityPercent / 100
	if ev.decision.QuantityPercent >= 100 {
		amount = ev.pos.Amount
	}

	ex, err := c.exchanges.Get(rs.ExchangeID)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Error = err.Error()
		return
	}

	order, err := ex.CreateMarketSellOrder(ctx, rs.Symbol, amount)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Error = err.Error()
		return
	}

	fill := domain.Fill{
		OrderID: order.ID,
		Amount:  order.Filled,
		Price:   order.Average,
		Cost:    order.Cost,
		Time:    c.now(),
	}
	pos, realized, err := c.tracker.RecordSell(ctx, rs.UserID, rs.ExchangeID, rs.Token, fill)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Error = err.Error()
		return
	}

	if !pos.IsActive {
		// Full lifecycle reset: executed levels and trailing state are
		// cleared so a re-entry starts clean.
		c.states.ResetState(rs.ID)
	} else if ev.decision.LevelIndex >= 0 {
		c.states.UpdateState(rs.ID, func(st *StrategyState) {
			st.ExecutedTPLevels[ev.decision.LevelIndex] = true
		})
	}
	c.stampAction(rs, domain.ActionSell)

	c.logger.Info("sell executed",
		zap.String("symbol", rs.Symbol),
		zap.String("reason", ev.decision.Reason),
		zap.Float64("amount", fill.Amount),
		zap.Float64("realized_pnl", realized))

	result.Outcome = domain.OutcomeSuccess
	result.OrderID = order.ID
	result.Amount = order.Filled
}

func (c *ExecutionCoordinator) executeBuy(ctx context.Context, ev evaluation, allocations map[string]float64, result *CycleResult) {
	rs := ev.rs
	quoteAmount, ok := allocations[rs.Symbol]
	if !ok || quoteAmount <= 0 {
		result.Outcome = domain.OutcomeSkipped
		result.Error = "allocation below minimum order size"
		return
	}

	ex, err := c.exchanges.Get(rs.ExchangeID)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Error = err.Error()
		return
	}

	order, err := ex.CreateMarketBuyOrder(ctx, rs.Symbol, quoteAmount)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Error = err.Error()
		return
	}

	fill := domain.Fill{
		OrderID: order.ID,
		Amount:  order.Filled,
		Price:   order.Average,
		Cost:    order.Cost,
		Time:    c.now(),
	}
	if _, err := c.tracker.RecordBuy(ctx, rs.UserID, rs.ExchangeID, rs.Token, fill); err != nil {
		result.Outcome = domain.OutcomeError
		result.Error = err.Error()
		return
	}

	if ev.decision.LevelIndex >= 0 {
		c.states.UpdateState(rs.ID, func(st *StrategyState) {
			st.ExecutedDCALevels[ev.decision.LevelIndex] = true
		})
	}
	c.stampAction(rs, domain.ActionBuy)

	c.logger.Info("buy executed",
		zap.String("symbol", rs.Symbol),
		zap.String("reason", ev.decision.Reason),
		zap.Float64("quote_amount", quoteAmount),
		zap.Float64("filled", order.Filled))

	result.Outcome = domain.OutcomeSuccess
	result.OrderID = order.ID
	result.Amount = order.Filled
}

// stampAction records the last action and arms the cooldown gate.
func (c *ExecutionCoordinator) stampAction(rs *domain.RuleSet, action domain.Action) {
	c.states.UpdateState(rs.ID, func(st *StrategyState) {
		st.LastAction = action
		if !rs.Cooldown.Enabled {
			return
		}
		minutes := rs.Cooldown.MinutesAfterBuy
		if action == domain.ActionSell {
			minutes = rs.Cooldown.MinutesAfterSell
		}
		if minutes > 0 {
			st.CooldownUntil = c.now().Add(time.Duration(minutes) * time.Minute)
		}
	})
}

func (c *ExecutionCoordinator) deactivate(ctx context.Context, rs *domain.RuleSet) {
	if err := c.strategies.SetStrategyActive(ctx, rs.ID, false); err != nil {
		c.logger.Error("deactivate strategy failed", zap.String("symbol", rs.Symbol), zap.Error(err))
		return
	}
	c.logger.Warn("strategy deactivated by circuit breaker", zap.String("symbol", rs.Symbol))
}

// writeLog appends the audit record. This happens for success, skip and
// error alike; a failure to log is itself only logged.
func (c *ExecutionCoordinator) writeLog(ctx context.Context, executor domain.Executor, ev evaluation, result CycleResult) {
	rec := &domain.ExecutionRecord{
		ID:        uuid.NewString(),
		Executor:  executor,
		Action:    result.Decision.Action,
		Reason:    result.Decision.Reason,
		Outcome:   result.Outcome,
		OrderID:   result.OrderID,
		Amount:    result.Amount,
		Price:     result.Snapshot.Price,
		Error:     result.Error,
		Snapshot:  result.Snapshot,
		CreatedAt: c.now(),
	}
	if ev.rs != nil {
		rec.UserID = ev.rs.UserID
		rec.ExchangeID = ev.rs.ExchangeID
		rec.Token = ev.rs.Token
		rec.Symbol = ev.rs.Symbol
	}
	if rec.Action == "" {
		rec.Action = domain.ActionHold
	}
	if err := c.logs.AppendExecution(ctx, rec); err != nil {
		c.logger.Error("append execution log failed", zap.String("symbol", rec.Symbol), zap.Error(err))
	}
}

func symbolOf(ev evaluation) string {
	if ev.rs != nil {
		return ev.rs.Symbol
	}
	return ""
}
