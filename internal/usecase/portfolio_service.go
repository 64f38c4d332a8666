package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

// AssetValue is one holding valued in the quote currency.
type AssetValue struct {
	domain.Balance
	Price    float64 `json:"price"`
	USDValue float64 `json:"usd_value"`
}

// ExchangeBalances is one exchange's slice of the portfolio. A failed
// exchange reports its error and contributes nothing; the rest of the
// aggregation still succeeds.
type ExchangeBalances struct {
	Exchange string       `json:"exchange"`
	Assets   []AssetValue `json:"assets"`
	TotalUSD float64      `json:"total_usd"`
	Error    string       `json:"error,omitempty"`
}

type PortfolioSummary struct {
	Exchanges []ExchangeBalances `json:"exchanges"`
	TotalUSD  float64            `json:"total_usd"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// PortfolioService aggregates balances across every registered exchange.
// Exchanges are queried concurrently; a slow or failing exchange delays or
// degrades only its own slice.
type PortfolioService struct {
	exchanges ExchangeProvider
	logger    *zap.Logger
	quote     string
}

func NewPortfolioService(exchanges ExchangeProvider, logger *zap.Logger) *PortfolioService {
	return &PortfolioService{exchanges: exchanges, logger: logger, quote: "USDT"}
}

func (s *PortfolioService) Aggregate(ctx context.Context) *PortfolioSummary {
	all := s.exchanges.All()

	var wg sync.WaitGroup
	var mu sync.Mutex
	summary := &PortfolioSummary{FetchedAt: time.Now()}

	for id, ex := range all {
		wg.Add(1)
		go func(id string, ex domain.Exchange) {
			defer wg.Done()
			eb := s.fetchOne(ctx, id, ex)
			mu.Lock()
			summary.Exchanges = append(summary.Exchanges, eb)
			summary.TotalUSD += eb.TotalUSD
			mu.Unlock()
		}(id, ex)
	}
	wg.Wait()

	sort.Slice(summary.Exchanges, func(i, j int) bool {
		return summary.Exchanges[i].Exchange < summary.Exchanges[j].Exchange
	})
	return summary
}

func (s *PortfolioService) fetchOne(ctx context.Context, id string, ex domain.Exchange) ExchangeBalances {
	eb := ExchangeBalances{Exchange: id}

	balances, err := ex.FetchBalances(ctx)
	if err != nil {
		s.logger.Warn("portfolio fetch failed", zap.String("exchange", id), zap.Error(err))
		eb.Error = err.Error()
		return eb
	}

	for _, b := range balances {
		if b.Total <= 0 {
			continue
		}
		av := AssetValue{Balance: b}
		if b.Asset == s.quote {
			av.Price = 1
			av.USDValue = b.Total
		} else {
			ticker, err := ex.FetchTicker(ctx, b.Asset+s.quote)
			if err != nil {
				// Unpriceable dust still shows up, just without a valuation.
				s.logger.Debug("no ticker for asset", zap.String("exchange", id), zap.String("asset", b.Asset))
			} else {
				av.Price = ticker.Last
				av.USDValue = b.Total * ticker.Last
			}
		}
		eb.Assets = append(eb.Assets, av)
		eb.TotalUSD += av.USDValue
	}

	sort.Slice(eb.Assets, func(i, j int) bool { return eb.Assets[i].USDValue > eb.Assets[j].USDValue })
	return eb
}
