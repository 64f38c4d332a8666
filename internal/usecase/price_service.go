package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultSnapshotTTL = 2 * time.Second
	candleInterval     = "1h"
	candleLimit        = 25 // 24h of hourly candles plus the running one
	defaultRSIPeriod   = 14
)

// PriceService supplies market snapshots: last price, 1h/4h/24h variation
// and RSI. A short-TTL cache sits in front of the exchange so a burst of
// evaluations in one cycle does not hammer the ticker endpoint; a websocket
// stream may keep the cached price warm through SetLast.
type PriceService struct {
	exchange domain.Exchange
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string]cachedSnapshot
	ttl   time.Duration
}

type cachedSnapshot struct {
	snap domain.MarketSnapshot
	at   time.Time
}

func NewPriceService(exchange domain.Exchange, logger *zap.Logger) *PriceService {
	return &PriceService{
		exchange: exchange,
		logger:   logger,
		cache:    make(map[string]cachedSnapshot),
		ttl:      defaultSnapshotTTL,
	}
}

// SetLast updates the cached price for a symbol from a live stream. The
// variation fields keep their last computed values.
func (s *PriceService) SetLast(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[symbol]
	if !ok {
		return
	}
	c.snap.Price = price
	c.snap.Time = time.Now()
	c.at = time.Now()
	s.cache[symbol] = c
}

// LastPrice returns the cached price, zero when unknown.
func (s *PriceService) LastPrice(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[symbol].snap.Price
}

// Snapshot returns the current market view for a symbol, from cache when
// fresh enough.
func (s *PriceService) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	s.mu.RLock()
	c, ok := s.cache[symbol]
	s.mu.RUnlock()
	if ok && time.Since(c.at) < s.ttl {
		return c.snap, nil
	}

	ticker, err := s.exchange.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}

	snap := domain.MarketSnapshot{
		Price:          ticker.Last,
		Change24h:      ticker.Percentage,
		QuoteVolume24h: ticker.QuoteVolume,
		Time:           time.Now(),
	}

	candles, err := s.exchange.FetchCandles(ctx, symbol, candleInterval, candleLimit)
	if err != nil {
		// Variations degrade gracefully; the price itself is still usable.
		s.logger.Warn("fetch candles failed, snapshot without variations",
			zap.String("symbol", symbol), zap.Error(err))
	} else {
		snap.Change1h = variation(ticker.Last, closeAgo(candles, 1))
		snap.Change4h = variation(ticker.Last, closeAgo(candles, 4))
		if snap.Change24h == 0 {
			snap.Change24h = variation(ticker.Last, closeAgo(candles, 24))
		}
		snap.RSI = rsi(candles, defaultRSIPeriod)
	}

	s.mu.Lock()
	s.cache[symbol] = cachedSnapshot{snap: snap, at: time.Now()}
	s.mu.Unlock()

	return snap, nil
}

// closeAgo returns the close of the completed candle n intervals back, or
// zero when there is not enough history.
func closeAgo(candles []domain.Candle, n int) float64 {
	idx := len(candles) - 1 - n
	if idx < 0 || idx >= len(candles) {
		return 0
	}
	return candles[idx].Close
}

func variation(current, past float64) float64 {
	if past == 0 {
		return 0
	}
	return (current - past) / past * 100
}

// rsi computes the Wilder-smoothed RSI over candle closes. Returns zero when
// there is not enough history.
func rsi(candles []domain.Candle, period int) float64 {
	if period <= 1 || len(candles) < period+1 {
		return 0
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
