package usecase

import (
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// LossWindows carries realized PnL sums for the circuit-breaker windows.
// Values are signed: a losing window is negative.
type LossWindows struct {
	Daily   float64
	Weekly  float64
	Monthly float64
}

// TriggerEvaluator turns (rule set, position, market snapshot) into a single
// Decision. Checks run in a fixed order and the first match wins, so sell
// conditions always foreclose buy conditions within one cycle.
type TriggerEvaluator struct {
	states *StrategyStateEngine
}

func NewTriggerEvaluator(states *StrategyStateEngine) *TriggerEvaluator {
	return &TriggerEvaluator{states: states}
}

// Evaluate returns exactly one decision. It mutates only the trailing-stop
// ratchet and the dip anchor; executed-level marks and cooldown stamps are
// applied by the coordinator after the order actually fills, so a failed
// order is re-evaluated from scratch on the next cycle.
func (e *TriggerEvaluator) Evaluate(rs *domain.RuleSet, pos *domain.Position, snap domain.MarketSnapshot, losses LossWindows, now time.Time) domain.Decision {
	var decision domain.Decision

	e.states.UpdateState(rs.ID, func(st *StrategyState) {
		decision = e.evaluate(rs, pos, snap, losses, now, st)
	})

	return decision
}

func (e *TriggerEvaluator) evaluate(rs *domain.RuleSet, pos *domain.Position, snap domain.MarketSnapshot, losses LossWindows, now time.Time, st *StrategyState) domain.Decision {
	// 1. Cooldown gate
	if now.Before(st.CooldownUntil) {
		return domain.Hold(domain.ReasonCooldown)
	}

	// 2. Circuit breaker
	if breached(rs.Risk, losses) {
		return domain.Hold(domain.ReasonCircuitBroken)
	}

	// 3. Trading hours / blackout gate
	if rs.Hours.Enabled && !withinHours(rs.Hours, now) {
		return domain.Hold(domain.ReasonOutsideHours)
	}
	for _, b := range rs.Blackouts {
		if !now.Before(b.Start) && now.Before(b.End) {
			return domain.Hold(domain.ReasonBlackout)
		}
	}

	hasPosition := pos != nil && pos.IsActive && pos.Amount > 0

	refPrice := st.AnchorPrice
	if hasPosition {
		refPrice = pos.EntryPrice
	} else if refPrice == 0 {
		// First evaluation without a position: anchor the dip reference at
		// the current price. Buys measure drops against this anchor until a
		// position exists.
		st.AnchorPrice = snap.Price
		refPrice = snap.Price
	}
	if refPrice == 0 {
		return domain.Hold(domain.ReasonNoTrigger)
	}

	priceChangePct := (snap.Price - refPrice) / refPrice * 100

	if hasPosition {
		// 4. Trailing stop
		if rs.StopLoss.Enabled && rs.StopLoss.TrailingEnabled {
			if snap.Price > st.HighestPriceSeen {
				st.HighestPriceSeen = snap.Price
			}
			if !st.TrailingActive {
				peakGainPct := (st.HighestPriceSeen - pos.EntryPrice) / pos.EntryPrice * 100
				if peakGainPct >= rs.StopLoss.TrailingActivationPercent {
					st.TrailingActive = true
					st.TrailingActivatedAt = now
				}
			}
			if st.TrailingActive {
				drawdownPct := (st.HighestPriceSeen - snap.Price) / st.HighestPriceSeen * 100
				if drawdownPct >= rs.StopLoss.TrailingPercent {
					return domain.Sell(domain.ReasonTrailingStop, 100, -1)
				}
			}
		}

		// 5. Take-profit levels, ascending, each fires once per lifetime
		for i, lvl := range rs.TakeProfitLevels {
			if !lvl.Enabled || st.ExecutedTPLevels[i] {
				continue
			}
			if priceChangePct >= lvl.Percent {
				return domain.Sell(domain.ReasonTakeProfit, lvl.QuantityPercent, i)
			}
		}

		// 6. Stop loss (hard)
		if rs.StopLoss.Enabled && priceChangePct <= -rs.StopLoss.Percent {
			return domain.Sell(domain.ReasonStopLoss, 100, -1)
		}
	}

	// 7. Buy dip / DCA
	if rs.BuyDip.Enabled {
		if rs.BuyDip.DCAEnabled {
			for i, lvl := range rs.BuyDip.DCALevels {
				if st.ExecutedDCALevels[i] {
					continue
				}
				if priceChangePct <= -lvl.Percent {
					return e.filterBuy(rs, snap, domain.Buy(domain.ReasonDCABuy, lvl.QuantityPercent, i))
				}
			}
		} else if !hasPosition && priceChangePct <= -rs.BuyDip.Percent {
			return e.filterBuy(rs, snap, domain.Buy(domain.ReasonBuyDip, 100, -1))
		}
	}

	return domain.Hold(domain.ReasonNoTrigger)
}

// filterBuy applies the secondary entry filters to a buy that would
// otherwise fire.
func (e *TriggerEvaluator) filterBuy(rs *domain.RuleSet, snap domain.MarketSnapshot, d domain.Decision) domain.Decision {
	if rs.Volume.Enabled && snap.QuoteVolume24h < rs.Volume.MinQuoteVolume24h {
		return domain.Hold(domain.ReasonLowVolume)
	}
	if rs.Indicators.RSIEnabled && snap.RSI > 0 && snap.RSI > rs.Indicators.Oversold {
		return domain.Hold(domain.ReasonRSIFilter)
	}
	return d
}

func breached(limits *domain.RiskLimits, losses LossWindows) bool {
	if limits == nil {
		return false
	}
	if limits.MaxDailyLossUSD > 0 && -losses.Daily >= limits.MaxDailyLossUSD {
		return true
	}
	if limits.MaxWeeklyLossUSD > 0 && -losses.Weekly >= limits.MaxWeeklyLossUSD {
		return true
	}
	if limits.MaxMonthlyLossUSD > 0 && -losses.Monthly >= limits.MaxMonthlyLossUSD {
		return true
	}
	return false
}

func withinHours(h domain.TradingHours, now time.Time) bool {
	if len(h.Weekdays) > 0 {
		ok := false
		for _, d := range h.Weekdays {
			if now.Weekday() == d {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return now.Hour() >= h.StartHour && now.Hour() < h.EndHour
}
