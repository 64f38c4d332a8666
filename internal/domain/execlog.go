package domain

import "time"

type Executor string

const (
	ExecutorScheduler Executor = "scheduler"
	ExecutorUser      Executor = "user"
)

// Cycle outcome recorded in the audit log.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// MarketSnapshot is the market view an evaluation was made against.
type MarketSnapshot struct {
	Price          float64   `json:"price"`
	Change1h       float64   `json:"change_1h"`
	Change4h       float64   `json:"change_4h"`
	Change24h      float64   `json:"change_24h"`
	QuoteVolume24h float64   `json:"quote_volume_24h"`
	RSI            float64   `json:"rsi,omitempty"` // zero when not computed
	Time           time.Time `json:"time"`
}

// ExecutionRecord is one append-only audit entry: exactly one per evaluation
// cycle per symbol, written for success, skip and error alike.
type ExecutionRecord struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	ExchangeID string         `json:"exchange_id"`
	Token      string         `json:"token"`
	Symbol     string         `json:"symbol"`
	Executor   Executor       `json:"executor"`
	Action     Action         `json:"action"`
	Reason     string         `json:"reason"`
	Outcome    string         `json:"outcome"`
	OrderID    string         `json:"order_id,omitempty"`
	Amount     float64        `json:"amount"`
	Price      float64        `json:"price"`
	Error      string         `json:"error,omitempty"`
	Snapshot   MarketSnapshot `json:"snapshot"`
	CreatedAt  time.Time      `json:"created_at"`
}
