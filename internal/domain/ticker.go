package domain

// Ticker mirrors the common exchange ticker payload.
type Ticker struct {
	Symbol      string  `json:"symbol"`
	Last        float64 `json:"last"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	BaseVolume  float64 `json:"base_volume"`
	QuoteVolume float64 `json:"quote_volume"`
	Percentage  float64 `json:"percentage"` // 24h change
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// OrderResult is the outcome of a placed order.
type OrderResult struct {
	ID      string  `json:"id"`
	Status  string  `json:"status"`
	Filled  float64 `json:"filled"`
	Average float64 `json:"average"`
	Cost    float64 `json:"cost"`
}

// Balance is one asset holding on an exchange account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}
