package usecase

import (
	"sort"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// AllocationConfig carries the global safety caps for buy sizing.
type AllocationConfig struct {
	MaxPercentPerTrade float64 // ceiling on any single requested percent
	LowBalanceFloorUSD float64 // below this, go all-in on one candidate
	MinOrderUSD        float64 // allocations below this are dropped
}

func DefaultAllocationConfig() AllocationConfig {
	return AllocationConfig{
		MaxPercentPerTrade: 30,
		LowBalanceFloorUSD: 15,
		MinOrderUSD:        5,
	}
}

// Candidate is one buy-eligible symbol in an allocation pass. The per-strategy
// execution limits travel with the candidate; zero values mean "no override"
// and only the global caps apply.
type Candidate struct {
	Symbol          string
	Decision        domain.Decision
	MaxOrderPercent float64
	MinOrderUSD     float64
}

// AllocationEngine distributes a cash balance across qualifying buy
// candidates. The computation is a batch over one balance snapshot: every
// percentage applies to the same input balance, never to a balance depleted
// by earlier candidates in the same pass.
type AllocationEngine struct {
	cfg AllocationConfig
}

func NewAllocationEngine(cfg AllocationConfig) *AllocationEngine {
	if cfg.MaxPercentPerTrade <= 0 {
		cfg.MaxPercentPerTrade = 30
	}
	return &AllocationEngine{cfg: cfg}
}

// Allocate returns symbol -> quote-currency investment. Zero candidates or a
// non-positive balance yield an empty allocation.
func (e *AllocationEngine) Allocate(cashBalance float64, candidates []Candidate) map[string]float64 {
	out := make(map[string]float64)
	if cashBalance <= 0 {
		return out
	}

	buys := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Decision.Action == domain.ActionBuy {
			buys = append(buys, c)
		}
	}
	if len(buys) == 0 {
		return out
	}

	// Low-balance all-in: a tiny account gets fully committed to the single
	// best candidate rather than leaving an un-investable dust balance.
	if cashBalance < e.cfg.LowBalanceFloorUSD {
		best := pickBest(buys)
		if cashBalance >= e.minOrderFor(best) {
			out[best.Symbol] = cashBalance
		}
		return out
	}

	for _, c := range buys {
		pct := c.Decision.QuantityPercent
		if cap := e.maxPercentFor(c); pct > cap {
			pct = cap
		}
		amount := cashBalance * pct / 100
		if amount < e.minOrderFor(c) {
			continue
		}
		out[c.Symbol] = amount
	}
	return out
}

// maxPercentFor returns the stricter of the global and per-strategy caps.
func (e *AllocationEngine) maxPercentFor(c Candidate) float64 {
	cap := e.cfg.MaxPercentPerTrade
	if c.MaxOrderPercent > 0 && c.MaxOrderPercent < cap {
		cap = c.MaxOrderPercent
	}
	return cap
}

// minOrderFor returns the higher of the global and per-strategy floors.
func (e *AllocationEngine) minOrderFor(c Candidate) float64 {
	min := e.cfg.MinOrderUSD
	if c.MinOrderUSD > min {
		min = c.MinOrderUSD
	}
	return min
}

// pickBest prefers the highest requested percent, ties broken by symbol so
// the choice is deterministic.
func pickBest(buys []Candidate) Candidate {
	sorted := make([]Candidate, len(buys))
	copy(sorted, buys)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Decision.QuantityPercent != sorted[j].Decision.QuantityPercent {
			return sorted[i].Decision.QuantityPercent > sorted[j].Decision.QuantityPercent
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})
	return sorted[0]
}
