package usecase

import (
	"sync"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// StrategyState is the runtime state of one strategy instance: which
// take-profit and DCA levels have fired this position lifetime, the trailing
// stop ratchet, and the cooldown gate.
type StrategyState struct {
	ExecutedTPLevels  map[int]bool
	ExecutedDCALevels map[int]bool

	TrailingActive      bool
	HighestPriceSeen    float64
	TrailingActivatedAt time.Time

	AnchorPrice   float64 // dip reference when no position exists
	CooldownUntil time.Time
	LastAction    domain.Action
}

func newStrategyState() *StrategyState {
	return &StrategyState{
		ExecutedTPLevels:  make(map[int]bool),
		ExecutedDCALevels: make(map[int]bool),
	}
}

func (s *StrategyState) copy() StrategyState {
	out := *s
	out.ExecutedTPLevels = make(map[int]bool, len(s.ExecutedTPLevels))
	for k, v := range s.ExecutedTPLevels {
		out.ExecutedTPLevels[k] = v
	}
	out.ExecutedDCALevels = make(map[int]bool, len(s.ExecutedDCALevels))
	for k, v := range s.ExecutedDCALevels {
		out.ExecutedDCALevels[k] = v
	}
	return out
}

// StrategyStateEngine holds runtime state per strategy ID behind a mutex.
// State is process-local; a restart starts every strategy clean.
type StrategyStateEngine struct {
	mu     sync.RWMutex
	states map[string]*StrategyState
}

func NewStrategyStateEngine() *StrategyStateEngine {
	return &StrategyStateEngine{states: make(map[string]*StrategyState)}
}

// GetState returns a copy of the state for external inspection.
func (e *StrategyStateEngine) GetState(strategyID string) StrategyState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.states[strategyID]; ok {
		return s.copy()
	}
	return *newStrategyState()
}

// UpdateState runs fn against the live state, creating it if needed.
func (e *StrategyStateEngine) UpdateState(strategyID string, fn func(*StrategyState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[strategyID]
	if !ok {
		s = newStrategyState()
		e.states[strategyID] = s
	}
	fn(s)
}

// ResetState drops all runtime state for a strategy. Called on full position
// close so a re-entry starts a fresh lifecycle.
func (e *StrategyStateEngine) ResetState(strategyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, strategyID)
}
