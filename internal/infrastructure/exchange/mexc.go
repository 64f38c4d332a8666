package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MexcBaseURL = "https://api.mexc.com"
	MexcWSURL   = "wss://wbs.mexc.com/ws"

	recvWindow = "5000"
)

// apiError is the error envelope MEXC returns on non-2xx responses.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// MexcAdapter implements domain.Exchange against the MEXC spot v3 API.
type MexcAdapter struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter

	wsURL     string
	wsConn    *websocket.Conn
	callbacks []func(symbol string, price float64)
	mu        sync.Mutex
}

var _ domain.Exchange = (*MexcAdapter)(nil)

func NewMexcAdapter(apiKey, secretKey string, rateLimit float64, burst int, logger *zap.Logger) *MexcAdapter {
	if rateLimit <= 0 {
		rateLimit = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &MexcAdapter{
		client:    resty.New().SetBaseURL(MexcBaseURL).SetTimeout(10 * time.Second),
		apiKey:    apiKey,
		secretKey: secretKey,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(rateLimit), burst),
		wsURL:     MexcWSURL,
	}
}

func (m *MexcAdapter) Name() string { return "mexc" }

// sign creates a HMAC-SHA256 signature over the encoded query string.
func (m *MexcAdapter) sign(data string) string {
	h := hmac.New(sha256.New, []byte(m.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func (m *MexcAdapter) do(ctx context.Context, method, path string, req *resty.Request) (*resty.Response, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return nil, &domain.ExchangeError{Exchange: m.Name(), Message: "request failed", Err: err}
	}
	if resp.IsError() {
		return nil, m.mapError(resp)
	}
	return resp, nil
}

// mapError translates the MEXC error envelope into domain errors so the
// caller can branch on the cause instead of parsing strings.
func (m *MexcAdapter) mapError(resp *resty.Response) error {
	var e apiError
	_ = json.Unmarshal(resp.Body(), &e)

	exErr := &domain.ExchangeError{
		Exchange: m.Name(),
		Code:     strconv.Itoa(e.Code),
		Message:  e.Msg,
	}
	switch {
	case e.Code == 30004 || e.Code == 30005:
		exErr.Err = domain.ErrInsufficientFunds
	case e.Code == 700002 || resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		exErr.Err = domain.ErrAuthentication
	case e.Code == 30002 || e.Code == 30003:
		exErr.Err = domain.ErrInvalidOrder
	}
	if exErr.Message == "" {
		exErr.Message = resp.Status()
	}
	return exErr
}

// signedRequest builds a request with timestamp, recvWindow and signature
// appended to the query string, the way the v3 API expects.
func (m *MexcAdapter) signedRequest(params url.Values) *resty.Request {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	query += "&signature=" + m.sign(query)

	return m.client.R().
		SetHeader("X-MEXC-APIKEY", m.apiKey).
		SetQueryString(query)
}

func (m *MexcAdapter) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	var raw struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		OpenPrice          string `json:"openPrice"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}

	req := m.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&raw)
	if _, err := m.do(ctx, "GET", "/api/v3/ticker/24hr", req); err != nil {
		return nil, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}

	t := &domain.Ticker{Symbol: raw.Symbol}
	t.Last = parseF(raw.LastPrice)
	t.Bid = parseF(raw.BidPrice)
	t.Ask = parseF(raw.AskPrice)
	t.Open = parseF(raw.OpenPrice)
	t.High = parseF(raw.HighPrice)
	t.Low = parseF(raw.LowPrice)
	t.BaseVolume = parseF(raw.Volume)
	t.QuoteVolume = parseF(raw.QuoteVolume)
	// MEXC reports the ratio (0.05), not percent
	t.Percentage = parseF(raw.PriceChangePercent) * 100
	return t, nil
}

func (m *MexcAdapter) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	var raw [][]json.RawMessage

	req := m.client.R().
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": mexcInterval(interval),
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw)
	if _, err := m.do(ctx, "GET", "/api/v3/klines", req); err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, row := range raw {
		// [openTime, open, high, low, close, volume, closeTime, quoteVolume]
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Time:   openTime / 1000,
			Open:   parseRawF(row[1]),
			High:   parseRawF(row[2]),
			Low:    parseRawF(row[3]),
			Close:  parseRawF(row[4]),
			Volume: parseRawF(row[5]),
		})
	}
	return candles, nil
}

type orderResponse struct {
	OrderID             string `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Price               string `json:"price"`
}

func (m *MexcAdapter) placeOrder(ctx context.Context, params url.Values) (*domain.OrderResult, error) {
	var raw orderResponse
	req := m.signedRequest(params).SetResult(&raw)
	if _, err := m.do(ctx, "POST", "/api/v3/order", req); err != nil {
		m.logger.Error("order failed",
			zap.String("symbol", params.Get("symbol")),
			zap.String("side", params.Get("side")),
			zap.Error(err),
		)
		return nil, err
	}

	result := &domain.OrderResult{
		ID:     raw.OrderID,
		Status: strings.ToLower(raw.Status),
		Filled: parseF(raw.ExecutedQty),
		Cost:   parseF(raw.CummulativeQuoteQty),
	}
	if result.Filled > 0 {
		result.Average = result.Cost / result.Filled
	}
	m.logger.Info("order placed",
		zap.String("symbol", params.Get("symbol")),
		zap.String("side", params.Get("side")),
		zap.String("order_id", result.ID),
		zap.Float64("filled", result.Filled),
	)
	return result, nil
}

// CreateMarketBuyOrder spends quoteAmount of the quote currency at market.
func (m *MexcAdapter) CreateMarketBuyOrder(ctx context.Context, symbol string, quoteAmount float64) (*domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "BUY")
	params.Set("type", "MARKET")
	params.Set("quoteOrderQty", formatF(quoteAmount))
	return m.placeOrder(ctx, params)
}

func (m *MexcAdapter) CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (*domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "SELL")
	params.Set("type", "MARKET")
	params.Set("quantity", formatF(amount))
	return m.placeOrder(ctx, params)
}

func (m *MexcAdapter) CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "BUY")
	params.Set("type", "LIMIT")
	params.Set("quantity", formatF(amount))
	params.Set("price", formatF(price))
	return m.placeOrder(ctx, params)
}

func (m *MexcAdapter) CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "SELL")
	params.Set("type", "LIMIT")
	params.Set("quantity", formatF(amount))
	params.Set("price", formatF(price))
	return m.placeOrder(ctx, params)
}

func (m *MexcAdapter) FetchBalances(ctx context.Context) ([]domain.Balance, error) {
	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}

	req := m.signedRequest(url.Values{}).SetResult(&raw)
	if _, err := m.do(ctx, "GET", "/api/v3/account", req); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	balances := make([]domain.Balance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		free := parseF(b.Free)
		locked := parseF(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, domain.Balance{
			Asset:  b.Asset,
			Free:   free,
			Locked: locked,
			Total:  free + locked,
		})
	}
	return balances, nil
}

// --- WebSocket ---

// OnPriceUpdate registers a callback invoked on every deal pushed over the
// public stream.
func (m *MexcAdapter) OnPriceUpdate(callback func(symbol string, price float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

func (m *MexcAdapter) ConnectWS(symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.wsConn != nil {
		return m.subscribe(symbols)
	}

	c, _, err := websocket.DefaultDialer.Dial(m.wsURL, nil)
	if err != nil {
		return err
	}
	m.wsConn = c

	go m.readLoop(c)
	go m.pingLoop(c)

	return m.subscribe(symbols)
}

func (m *MexcAdapter) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = "spot@public.deals.v3.api@" + s
	}
	return m.wsConn.WriteJSON(map[string]interface{}{
		"method": "SUBSCRIPTION",
		"params": params,
	})
}

// pingLoop keeps the stream alive; MEXC drops idle connections after 60s.
func (m *MexcAdapter) pingLoop(c *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		if m.wsConn != c {
			m.mu.Unlock()
			return
		}
		err := c.WriteJSON(map[string]string{"method": "PING"})
		m.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (m *MexcAdapter) readLoop(c *websocket.Conn) {
	defer func() {
		c.Close()
		m.mu.Lock()
		if m.wsConn == c {
			m.wsConn = nil
		}
		m.mu.Unlock()
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			m.logger.Warn("websocket read error", zap.Error(err))
			return
		}

		var event struct {
			Channel string `json:"c"`
			Symbol  string `json:"s"`
			Data    struct {
				Deals []struct {
					Price string `json:"p"`
				} `json:"deals"`
			} `json:"d"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if !strings.Contains(event.Channel, "public.deals") || len(event.Data.Deals) == 0 {
			continue
		}

		price := parseF(event.Data.Deals[len(event.Data.Deals)-1].Price)
		if price <= 0 {
			continue
		}

		m.mu.Lock()
		callbacks := make([]func(string, float64), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, cb := range callbacks {
			cb(event.Symbol, price)
		}
	}
}

// mexcInterval maps common interval notation to the v3 kline values.
func mexcInterval(interval string) string {
	switch interval {
	case "1h":
		return "60m"
	case "1d":
		return "1d"
	default:
		return interval
	}
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseRawF(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseF(s)
	}
	var f float64
	_ = json.Unmarshal(raw, &f)
	return f
}

func formatF(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
