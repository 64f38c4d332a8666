package domain

import (
	"math"
	"sort"
	"time"
)

const quantitySumTolerance = 1e-9

// TakeProfitLevel sells QuantityPercent of the position once the gain from
// entry reaches Percent. Each level fires at most once per position lifetime.
type TakeProfitLevel struct {
	Percent         float64 `json:"percent"`
	QuantityPercent float64 `json:"quantity_percent"`
	Enabled         bool    `json:"enabled"`
}

// DCALevel buys QuantityPercent of the planned allocation once the drop from
// entry reaches Percent (stored as a positive magnitude).
type DCALevel struct {
	Percent         float64 `json:"percent"`
	QuantityPercent float64 `json:"quantity_percent"`
}

type StopLossRule struct {
	Percent                   float64 `json:"percent"` // positive magnitude
	Enabled                   bool    `json:"enabled"`
	TrailingEnabled           bool    `json:"trailing_enabled"`
	TrailingPercent           float64 `json:"trailing_percent"`
	TrailingActivationPercent float64 `json:"trailing_activation_percent"`
}

type BuyDipRule struct {
	Percent    float64    `json:"percent"` // positive magnitude
	Enabled    bool       `json:"enabled"`
	DCAEnabled bool       `json:"dca_enabled"`
	DCALevels  []DCALevel `json:"dca_levels,omitempty"`
}

// RiskLimits are cumulative realized-loss circuit breakers. A zero limit
// means the window is not enforced.
type RiskLimits struct {
	MaxDailyLossUSD   float64 `json:"max_daily_loss_usd"`
	MaxWeeklyLossUSD  float64 `json:"max_weekly_loss_usd"`
	MaxMonthlyLossUSD float64 `json:"max_monthly_loss_usd"`
}

type CooldownRule struct {
	Enabled          bool `json:"enabled"`
	MinutesAfterBuy  int  `json:"minutes_after_buy"`
	MinutesAfterSell int  `json:"minutes_after_sell"`
}

// TradingHours gates evaluation to [StartHour, EndHour) on the listed
// weekdays. An empty weekday list means every day.
type TradingHours struct {
	Enabled   bool           `json:"enabled"`
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
}

// BlackoutPeriod suspends evaluation inside [Start, End).
type BlackoutPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type VolumeRule struct {
	Enabled           bool    `json:"enabled"`
	MinQuoteVolume24h float64 `json:"min_quote_volume_24h"`
}

type IndicatorRule struct {
	RSIEnabled bool    `json:"rsi_enabled"`
	RSIPeriod  int     `json:"rsi_period"`
	Oversold   float64 `json:"oversold"`
	Overbought float64 `json:"overbought"`
}

type ExecutionRule struct {
	MinOrderUSD     float64 `json:"min_order_usd"`
	MaxOrderPercent float64 `json:"max_order_percent"`
	IntervalMinutes int     `json:"interval_minutes"`
}

// RuleSet is the validated strategy configuration for one
// (user, exchange, token) triple. Instances are only constructed through
// NewRuleSet so a stored rule set always satisfies the sum invariants.
type RuleSet struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	ExchangeID string `json:"exchange_id"`
	Token      string `json:"token"`  // base asset, e.g. "BTC"
	Symbol     string `json:"symbol"` // exchange pair, e.g. "BTCUSDT"
	Active     bool   `json:"active"`

	TakeProfitLevels []TakeProfitLevel `json:"take_profit_levels"`
	StopLoss         StopLossRule      `json:"stop_loss"`
	BuyDip           BuyDipRule        `json:"buy_dip"`
	Risk             *RiskLimits       `json:"risk,omitempty"`
	Cooldown         CooldownRule      `json:"cooldown"`
	Hours            TradingHours      `json:"trading_hours"`
	Blackouts        []BlackoutPeriod  `json:"blackout_periods,omitempty"`
	Volume           VolumeRule        `json:"volume_check"`
	Indicators       IndicatorRule     `json:"indicators"`
	Execution        ExecutionRule     `json:"execution"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRuleSet normalizes and validates a rule set. Levels are sorted
// ascending by percent so evaluation can walk them in order.
func NewRuleSet(rs RuleSet) (*RuleSet, error) {
	sort.SliceStable(rs.TakeProfitLevels, func(i, j int) bool {
		return rs.TakeProfitLevels[i].Percent < rs.TakeProfitLevels[j].Percent
	})
	sort.SliceStable(rs.BuyDip.DCALevels, func(i, j int) bool {
		return rs.BuyDip.DCALevels[i].Percent < rs.BuyDip.DCALevels[j].Percent
	})
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks every invariant the evaluator depends on.
func (r *RuleSet) Validate() error {
	if r.UserID == "" {
		return NewValidationError("user_id", "must not be empty")
	}
	if r.ExchangeID == "" {
		return NewValidationError("exchange_id", "must not be empty")
	}
	if r.Token == "" {
		return NewValidationError("token", "must not be empty")
	}
	if r.Symbol == "" {
		return NewValidationError("symbol", "must not be empty")
	}

	if len(r.TakeProfitLevels) > 0 {
		sum := 0.0
		anyEnabled := false
		for i, lvl := range r.TakeProfitLevels {
			if lvl.Percent <= 0 {
				return NewValidationError("take_profit_levels", "level %d: percent must be positive, got %v", i, lvl.Percent)
			}
			if lvl.QuantityPercent <= 0 || lvl.QuantityPercent > 100 {
				return NewValidationError("take_profit_levels", "level %d: quantity_percent must be in (0,100], got %v", i, lvl.QuantityPercent)
			}
			if lvl.Enabled {
				anyEnabled = true
				sum += lvl.QuantityPercent
			}
		}
		if anyEnabled && math.Abs(sum-100) > quantitySumTolerance {
			return NewValidationError("take_profit_levels", "enabled quantity_percent must sum to 100, got %v", sum)
		}
	}

	if r.StopLoss.Enabled && r.StopLoss.Percent <= 0 {
		return NewValidationError("stop_loss.percent", "must be a positive magnitude, got %v", r.StopLoss.Percent)
	}
	if r.StopLoss.TrailingEnabled {
		if r.StopLoss.TrailingPercent <= 0 || r.StopLoss.TrailingPercent >= 100 {
			return NewValidationError("stop_loss.trailing_percent", "must be in (0,100), got %v", r.StopLoss.TrailingPercent)
		}
		if r.StopLoss.TrailingActivationPercent <= 0 {
			return NewValidationError("stop_loss.trailing_activation_percent", "must be positive, got %v", r.StopLoss.TrailingActivationPercent)
		}
	}

	if r.BuyDip.Enabled && !r.BuyDip.DCAEnabled && r.BuyDip.Percent <= 0 {
		return NewValidationError("buy_dip.percent", "must be a positive magnitude, got %v", r.BuyDip.Percent)
	}
	if r.BuyDip.DCAEnabled {
		if len(r.BuyDip.DCALevels) == 0 {
			return NewValidationError("buy_dip.dca_levels", "dca_enabled requires at least one level")
		}
		sum := 0.0
		for i, lvl := range r.BuyDip.DCALevels {
			if lvl.Percent <= 0 {
				return NewValidationError("buy_dip.dca_levels", "level %d: percent must be positive, got %v", i, lvl.Percent)
			}
			if lvl.QuantityPercent <= 0 || lvl.QuantityPercent > 100 {
				return NewValidationError("buy_dip.dca_levels", "level %d: quantity_percent must be in (0,100], got %v", i, lvl.QuantityPercent)
			}
			sum += lvl.QuantityPercent
		}
		if math.Abs(sum-100) > quantitySumTolerance {
			return NewValidationError("buy_dip.dca_levels", "quantity_percent must sum to 100, got %v", sum)
		}
	}

	if r.Risk != nil {
		if r.Risk.MaxDailyLossUSD < 0 || r.Risk.MaxWeeklyLossUSD < 0 || r.Risk.MaxMonthlyLossUSD < 0 {
			return NewValidationError("risk", "loss limits must not be negative")
		}
	}

	if r.Cooldown.Enabled && (r.Cooldown.MinutesAfterBuy < 0 || r.Cooldown.MinutesAfterSell < 0) {
		return NewValidationError("cooldown", "minutes must not be negative")
	}

	if r.Hours.Enabled {
		if r.Hours.StartHour < 0 || r.Hours.EndHour > 24 || r.Hours.StartHour >= r.Hours.EndHour {
			return NewValidationError("trading_hours", "require 0 <= start_hour < end_hour <= 24, got [%d,%d)", r.Hours.StartHour, r.Hours.EndHour)
		}
		for _, d := range r.Hours.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return NewValidationError("trading_hours.weekdays", "invalid weekday %d", d)
			}
		}
	}

	for i, b := range r.Blackouts {
		if !b.Start.Before(b.End) {
			return NewValidationError("blackout_periods", "period %d: start must be before end", i)
		}
	}

	if r.Indicators.RSIEnabled {
		if r.Indicators.RSIPeriod <= 1 {
			return NewValidationError("indicators.rsi_period", "must be greater than 1, got %d", r.Indicators.RSIPeriod)
		}
		if r.Indicators.Oversold >= r.Indicators.Overbought {
			return NewValidationError("indicators", "oversold (%v) must be below overbought (%v)", r.Indicators.Oversold, r.Indicators.Overbought)
		}
	}

	if r.Execution.MinOrderUSD < 0 {
		return NewValidationError("execution.min_order_usd", "must not be negative")
	}
	if r.Execution.MaxOrderPercent < 0 || r.Execution.MaxOrderPercent > 100 {
		return NewValidationError("execution.max_order_percent", "must be in [0,100], got %v", r.Execution.MaxOrderPercent)
	}
	if r.Execution.IntervalMinutes < 0 {
		return NewValidationError("execution.interval_minutes", "must not be negative")
	}

	return nil
}

// LegacyConfig is the flat v1 strategy shape: one buy percent, one sell
// percent, no levels. Persisted documents in this shape are converted once at
// the load boundary; the rest of the system only sees RuleSet.
type LegacyConfig struct {
	UserID          string  `json:"user_id"`
	ExchangeID      string  `json:"exchange_id"`
	Token           string  `json:"token"`
	Symbol          string  `json:"symbol"`
	BuyPercent      float64 `json:"buy_percent"`
	SellPercent     float64 `json:"sell_percent"`
	StopLossPercent float64 `json:"stop_loss_percent"`
	CooldownMinutes int     `json:"cooldown_minutes"`
	IntervalMinutes int     `json:"interval_minutes"`
	Active          bool    `json:"active"`
}

// NormalizeLegacy converts a v1 config into the canonical RuleSet: the single
// sell percent becomes one take-profit level carrying 100% of the position,
// the single buy percent becomes a plain dip rule.
func NormalizeLegacy(v1 LegacyConfig) (*RuleSet, error) {
	rs := RuleSet{
		UserID:     v1.UserID,
		ExchangeID: v1.ExchangeID,
		Token:      v1.Token,
		Symbol:     v1.Symbol,
		Active:     v1.Active,
		Cooldown: CooldownRule{
			Enabled:          v1.CooldownMinutes > 0,
			MinutesAfterBuy:  v1.CooldownMinutes,
			MinutesAfterSell: v1.CooldownMinutes,
		},
		Execution: ExecutionRule{IntervalMinutes: v1.IntervalMinutes},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if v1.SellPercent > 0 {
		rs.TakeProfitLevels = []TakeProfitLevel{{Percent: v1.SellPercent, QuantityPercent: 100, Enabled: true}}
	}
	if v1.BuyPercent > 0 {
		rs.BuyDip = BuyDipRule{Percent: v1.BuyPercent, Enabled: true}
	}
	if v1.StopLossPercent > 0 {
		rs.StopLoss = StopLossRule{Percent: v1.StopLossPercent, Enabled: true}
	}
	return NewRuleSet(rs)
}
