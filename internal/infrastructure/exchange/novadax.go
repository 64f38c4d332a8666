package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const NovadaxBaseURL = "https://api.novadax.com"

// NovadaxAdapter implements domain.Exchange against the NovaDAX REST API.
// NovaDAX has no usable public stream, so price updates come from polling
// only.
type NovadaxAdapter struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

var _ domain.Exchange = (*NovadaxAdapter)(nil)

func NewNovadaxAdapter(apiKey, secretKey string, rateLimit float64, burst int, logger *zap.Logger) *NovadaxAdapter {
	if rateLimit <= 0 {
		rateLimit = 5
	}
	if burst <= 0 {
		burst = 2
	}
	return &NovadaxAdapter{
		client:    resty.New().SetBaseURL(NovadaxBaseURL).SetTimeout(10 * time.Second),
		apiKey:    apiKey,
		secretKey: secretKey,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(rateLimit), burst),
	}
}

func (n *NovadaxAdapter) Name() string { return "novadax" }

// envelope is the common NovaDAX response wrapper. Code "A10000" means
// success, anything else is an error.
type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// novaSymbol converts the internal concatenated form (BTCUSDT) to the
// underscore form NovaDAX expects (BTC_USDT).
func novaSymbol(symbol string) string {
	if strings.Contains(symbol, "_") {
		return symbol
	}
	for _, quote := range []string{"USDT", "BTC", "BRL"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "_" + quote
		}
	}
	return symbol
}

// sign builds the NovaDAX signature: METHOD\npath\nsorted-query-or-md5(body)\ntimestamp.
func (n *NovadaxAdapter) sign(method, path, payload string, timestamp int64) string {
	toSign := fmt.Sprintf("%s\n%s\n%s\n%d", method, path, payload, timestamp)
	h := hmac.New(sha256.New, []byte(n.secretKey))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (n *NovadaxAdapter) do(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := n.client.R().SetContext(ctx)

	signed := n.apiKey != ""
	if signed {
		timestamp := time.Now().UnixMilli()
		var payload string
		if method == "GET" {
			// query params sorted by key
			keys := make([]string, 0, len(query))
			for k := range query {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, k+"="+query.Get(k))
			}
			payload = strings.Join(parts, "&")
		} else {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			sum := md5.Sum(raw)
			payload = hex.EncodeToString(sum[:])
			req.SetBody(raw).SetHeader("Content-Type", "application/json")
		}
		req.SetHeader("X-Nova-Access-Key", n.apiKey).
			SetHeader("X-Nova-Timestamp", strconv.FormatInt(timestamp, 10)).
			SetHeader("X-Nova-Signature", n.sign(method, path, payload, timestamp))
	} else if body != nil {
		req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}

	var env envelope
	req.SetResult(&env).SetError(&env)

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &domain.ExchangeError{Exchange: n.Name(), Message: "request failed", Err: err}
	}
	if resp.IsError() || (env.Code != "" && env.Code != "A10000") {
		return nil, n.mapError(resp.StatusCode(), env)
	}
	return env.Data, nil
}

func (n *NovadaxAdapter) mapError(status int, env envelope) error {
	exErr := &domain.ExchangeError{
		Exchange: n.Name(),
		Code:     env.Code,
		Message:  env.Message,
	}
	switch env.Code {
	case "A30007":
		exErr.Err = domain.ErrInsufficientFunds
	case "A10002", "A10003", "A10004", "A10005":
		exErr.Err = domain.ErrAuthentication
	case "A30001", "A30002", "A30003", "A30004":
		exErr.Err = domain.ErrInvalidOrder
	}
	if exErr.Message == "" {
		exErr.Message = fmt.Sprintf("http status %d", status)
	}
	return exErr
}

func (n *NovadaxAdapter) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	query := url.Values{}
	query.Set("symbol", novaSymbol(symbol))

	data, err := n.do(ctx, "GET", "/v1/market/ticker", query, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}

	var raw struct {
		Symbol         string `json:"symbol"`
		LastPrice      string `json:"lastPrice"`
		Bid            string `json:"bid"`
		Ask            string `json:"ask"`
		Open24h        string `json:"open24h"`
		High24h        string `json:"high24h"`
		Low24h         string `json:"low24h"`
		BaseVolume24h  string `json:"baseVolume24h"`
		QuoteVolume24h string `json:"quoteVolume24h"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode ticker %s: %w", symbol, err)
	}

	t := &domain.Ticker{Symbol: symbol}
	t.Last = parseF(raw.LastPrice)
	t.Bid = parseF(raw.Bid)
	t.Ask = parseF(raw.Ask)
	t.Open = parseF(raw.Open24h)
	t.High = parseF(raw.High24h)
	t.Low = parseF(raw.Low24h)
	t.BaseVolume = parseF(raw.BaseVolume24h)
	t.QuoteVolume = parseF(raw.QuoteVolume24h)
	if t.Open > 0 {
		t.Percentage = (t.Last - t.Open) / t.Open * 100
	}
	return t, nil
}

// novaUnit maps interval notation to the kline unit names NovaDAX uses.
func novaUnit(interval string) string {
	switch interval {
	case "1m":
		return "ONE_MIN"
	case "5m":
		return "FIVE_MIN"
	case "15m":
		return "FIFTEEN_MIN"
	case "30m":
		return "HALF_HOU"
	case "1d":
		return "ONE_DAY"
	default:
		return "ONE_HOU"
	}
}

func intervalSeconds(interval string) int64 {
	switch interval {
	case "1m":
		return 60
	case "5m":
		return 300
	case "15m":
		return 900
	case "30m":
		return 1800
	case "1d":
		return 86400
	default:
		return 3600
	}
}

func (n *NovadaxAdapter) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	now := time.Now().Unix()
	query := url.Values{}
	query.Set("symbol", novaSymbol(symbol))
	query.Set("unit", novaUnit(interval))
	query.Set("from", strconv.FormatInt(now-int64(limit)*intervalSeconds(interval), 10))
	query.Set("to", strconv.FormatInt(now, 10))

	data, err := n.do(ctx, "GET", "/v1/market/kline/history", query, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}

	var raw []struct {
		Score      int64   `json:"score"`
		OpenPrice  float64 `json:"openPrice"`
		HighPrice  float64 `json:"highPrice"`
		LowPrice   float64 `json:"lowPrice"`
		ClosePrice float64 `json:"closePrice"`
		Amount     float64 `json:"amount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode candles %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, row := range raw {
		candles = append(candles, domain.Candle{
			Time:   row.Score,
			Open:   row.OpenPrice,
			High:   row.HighPrice,
			Low:    row.LowPrice,
			Close:  row.ClosePrice,
			Volume: row.Amount,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}

type novaOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	FilledAmount string `json:"filledAmount"`
	FilledValue  string `json:"filledValue"`
	AveragePrice string `json:"averagePrice"`
}

func (n *NovadaxAdapter) placeOrder(ctx context.Context, body map[string]string) (*domain.OrderResult, error) {
	data, err := n.do(ctx, "POST", "/v1/orders/create", nil, body)
	if err != nil {
		n.logger.Error("order failed",
			zap.String("symbol", body["symbol"]),
			zap.String("side", body["side"]),
			zap.Error(err),
		)
		return nil, err
	}

	var raw novaOrder
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	result := &domain.OrderResult{
		ID:      raw.ID,
		Status:  strings.ToLower(raw.Status),
		Filled:  parseF(raw.FilledAmount),
		Average: parseF(raw.AveragePrice),
		Cost:    parseF(raw.FilledValue),
	}
	n.logger.Info("order placed",
		zap.String("symbol", body["symbol"]),
		zap.String("side", body["side"]),
		zap.String("order_id", result.ID),
		zap.Float64("filled", result.Filled),
	)
	return result, nil
}

// CreateMarketBuyOrder spends quoteAmount of the quote currency; NovaDAX
// market buys take "value" instead of an amount.
func (n *NovadaxAdapter) CreateMarketBuyOrder(ctx context.Context, symbol string, quoteAmount float64) (*domain.OrderResult, error) {
	return n.placeOrder(ctx, map[string]string{
		"symbol": novaSymbol(symbol),
		"type":   "MARKET",
		"side":   "BUY",
		"value":  formatF(quoteAmount),
	})
}

func (n *NovadaxAdapter) CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (*domain.OrderResult, error) {
	return n.placeOrder(ctx, map[string]string{
		"symbol": novaSymbol(symbol),
		"type":   "MARKET",
		"side":   "SELL",
		"amount": formatF(amount),
	})
}

func (n *NovadaxAdapter) CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*domain.OrderResult, error) {
	return n.placeOrder(ctx, map[string]string{
		"symbol": novaSymbol(symbol),
		"type":   "LIMIT",
		"side":   "BUY",
		"amount": formatF(amount),
		"price":  formatF(price),
	})
}

func (n *NovadaxAdapter) CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*domain.OrderResult, error) {
	return n.placeOrder(ctx, map[string]string{
		"symbol": novaSymbol(symbol),
		"type":   "LIMIT",
		"side":   "SELL",
		"amount": formatF(amount),
		"price":  formatF(price),
	})
}

func (n *NovadaxAdapter) FetchBalances(ctx context.Context) ([]domain.Balance, error) {
	data, err := n.do(ctx, "GET", "/v1/account/getBalance", url.Values{}, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	var raw []struct {
		Currency  string `json:"currency"`
		Balance   string `json:"balance"`
		Hold      string `json:"hold"`
		Available string `json:"available"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}

	balances := make([]domain.Balance, 0, len(raw))
	for _, b := range raw {
		total := parseF(b.Balance)
		if total == 0 {
			continue
		}
		balances = append(balances, domain.Balance{
			Asset:  b.Currency,
			Free:   parseF(b.Available),
			Locked: parseF(b.Hold),
			Total:  total,
		})
	}
	return balances, nil
}
