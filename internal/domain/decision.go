package domain

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Decision reasons. Reasons are stable strings because they end up in the
// audit log and in HTTP responses.
const (
	ReasonCooldown      = "cooldown"
	ReasonCircuitBroken = "circuit_broken"
	ReasonOutsideHours  = "outside_trading_hours"
	ReasonBlackout      = "blackout"
	ReasonLowVolume     = "low_volume"
	ReasonRSIFilter     = "rsi_filter"
	ReasonTrailingStop  = "trailing_stop"
	ReasonTakeProfit    = "take_profit"
	ReasonStopLoss      = "stop_loss"
	ReasonDCABuy        = "dca_buy"
	ReasonBuyDip        = "buy_dip"
	ReasonNoTrigger     = "no_trigger"
)

// Decision is the output of one trigger evaluation. QuantityPercent is a
// fraction of the position for sells and of the allocatable balance for buys.
// LevelIndex is -1 unless the decision came from a take-profit or DCA level.
type Decision struct {
	Action          Action  `json:"action"`
	Reason          string  `json:"reason"`
	QuantityPercent float64 `json:"quantity_percent"`
	LevelIndex      int     `json:"level_index"`
}

func Hold(reason string) Decision {
	return Decision{Action: ActionHold, Reason: reason, LevelIndex: -1}
}

func Sell(reason string, quantityPercent float64, levelIndex int) Decision {
	return Decision{Action: ActionSell, Reason: reason, QuantityPercent: quantityPercent, LevelIndex: levelIndex}
}

func Buy(reason string, quantityPercent float64, levelIndex int) Decision {
	return Decision{Action: ActionBuy, Reason: reason, QuantityPercent: quantityPercent, LevelIndex: levelIndex}
}
