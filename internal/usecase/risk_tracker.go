package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// RiskTracker sums realized PnL over the circuit-breaker windows. Windows
// are calendar-based in UTC: day since midnight, week since Monday, month
// since the 1st.
type RiskTracker struct {
	pnl domain.PnLRepository
}

func NewRiskTracker(pnl domain.PnLRepository) *RiskTracker {
	return &RiskTracker{pnl: pnl}
}

func (t *RiskTracker) LossWindows(ctx context.Context, userID, exchangeID, token string, now time.Time) (LossWindows, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week started the previous Monday
	}
	weekStart := dayStart.AddDate(0, 0, -(weekday - 1))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var out LossWindows
	var err error
	if out.Daily, err = t.pnl.SumRealizedPnL(ctx, userID, exchangeID, token, dayStart); err != nil {
		return out, fmt.Errorf("sum daily pnl: %w", err)
	}
	if out.Weekly, err = t.pnl.SumRealizedPnL(ctx, userID, exchangeID, token, weekStart); err != nil {
		return out, fmt.Errorf("sum weekly pnl: %w", err)
	}
	if out.Monthly, err = t.pnl.SumRealizedPnL(ctx, userID, exchangeID, token, monthStart); err != nil {
		return out, fmt.Errorf("sum monthly pnl: %w", err)
	}
	return out, nil
}
