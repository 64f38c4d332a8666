package domain

import "time"

// Fill is one executed buy or sell attached to a position.
type Fill struct {
	OrderID string    `json:"order_id"`
	Amount  float64   `json:"amount"`
	Price   float64   `json:"price"`
	Cost    float64   `json:"cost"`
	Time    time.Time `json:"time"`
}

// Position tracks the running holding for one (user, exchange, token).
// EntryPrice is the weighted average across purchases; partial sells scale
// TotalInvested proportionally and leave EntryPrice untouched.
type Position struct {
	UserID        string    `json:"user_id"`
	ExchangeID    string    `json:"exchange_id"`
	Token         string    `json:"token"`
	Amount        float64   `json:"amount"`
	EntryPrice    float64   `json:"entry_price"`
	TotalInvested float64   `json:"total_invested"`
	Purchases     []Fill    `json:"purchases,omitempty"`
	Sales         []Fill    `json:"sales,omitempty"`
	IsActive      bool      `json:"is_active"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RealizedPnL is one realized profit-or-loss event, recorded on every sell.
// The circuit breaker sums these over daily/weekly/monthly windows.
type RealizedPnL struct {
	UserID     string    `json:"user_id"`
	ExchangeID string    `json:"exchange_id"`
	Token      string    `json:"token"`
	Amount     float64   `json:"amount"` // quote currency, negative on loss
	CreatedAt  time.Time `json:"created_at"`
}
