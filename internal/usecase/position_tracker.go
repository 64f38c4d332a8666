package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// Amounts below this are treated as a fully closed position.
const closeEpsilon = 1e-8

// PositionTracker maintains the running weighted-average entry price and
// quantity per (user, exchange, token), and records realized PnL on sells.
type PositionTracker struct {
	positions domain.PositionRepository
	pnl       domain.PnLRepository
}

func NewPositionTracker(positions domain.PositionRepository, pnl domain.PnLRepository) *PositionTracker {
	return &PositionTracker{positions: positions, pnl: pnl}
}

// RecordBuy applies an executed buy fill. A first buy creates the position
// with entry price equal to the fill price; later buys fold into the
// weighted average.
func (t *PositionTracker) RecordBuy(ctx context.Context, userID, exchangeID, token string, fill domain.Fill) (*domain.Position, error) {
	pos, err := t.positions.GetPosition(ctx, userID, exchangeID, token)
	if err != nil {
		if !errors.Is(err, domain.ErrPositionNotFound) {
			return nil, fmt.Errorf("load position: %w", err)
		}
		pos = &domain.Position{UserID: userID, ExchangeID: exchangeID, Token: token}
	}

	if !pos.IsActive || pos.Amount <= closeEpsilon {
		pos.Amount = fill.Amount
		pos.EntryPrice = fill.Price
		pos.TotalInvested = fill.Cost
	} else {
		pos.EntryPrice = (pos.EntryPrice*pos.Amount + fill.Price*fill.Amount) / (pos.Amount + fill.Amount)
		pos.Amount += fill.Amount
		pos.TotalInvested += fill.Cost
	}
	pos.IsActive = true
	pos.Purchases = append(pos.Purchases, fill)
	pos.UpdatedAt = time.Now()

	if err := t.positions.SavePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}
	return pos, nil
}

// RecordSell applies an executed sell fill and returns the realized PnL.
// A partial sell scales TotalInvested proportionally and leaves EntryPrice
// unchanged; selling everything (within epsilon) closes the position.
func (t *PositionTracker) RecordSell(ctx context.Context, userID, exchangeID, token string, fill domain.Fill) (*domain.Position, float64, error) {
	pos, err := t.positions.GetPosition(ctx, userID, exchangeID, token)
	if err != nil {
		if errors.Is(err, domain.ErrPositionNotFound) {
			return nil, 0, domain.ErrInsufficientPosition
		}
		return nil, 0, fmt.Errorf("load position: %w", err)
	}
	if !pos.IsActive || fill.Amount > pos.Amount+closeEpsilon {
		return nil, 0, domain.ErrInsufficientPosition
	}

	realized := fill.Cost - fill.Amount*pos.EntryPrice

	remaining := pos.Amount - fill.Amount
	if remaining <= closeEpsilon {
		pos.Amount = 0
		pos.TotalInvested = 0
		pos.IsActive = false
	} else {
		pos.TotalInvested = pos.TotalInvested * remaining / pos.Amount
		pos.Amount = remaining
	}
	pos.Sales = append(pos.Sales, fill)
	pos.UpdatedAt = time.Now()

	if err := t.positions.SavePosition(ctx, pos); err != nil {
		return nil, 0, fmt.Errorf("save position: %w", err)
	}

	entry := &domain.RealizedPnL{
		UserID:     userID,
		ExchangeID: exchangeID,
		Token:      token,
		Amount:     realized,
		CreatedAt:  time.Now(),
	}
	if err := t.pnl.SaveRealizedPnL(ctx, entry); err != nil {
		return nil, 0, fmt.Errorf("save realized pnl: %w", err)
	}

	return pos, realized, nil
}
