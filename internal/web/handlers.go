package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

const defaultLogLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbStatus := "ok"
	if err := s.store.Ping(ctx); err != nil {
		dbStatus = err.Error()
	}

	exchanges := make([]string, 0)
	for id := range s.exchanges.All() {
		exchanges = append(exchanges, id)
	}

	payload := map[string]interface{}{
		"scheduler_running": s.scheduler.Running(),
		"active_jobs":       s.scheduler.ActiveJobs(),
		"database":          dbStatus,
		"exchanges":         exchanges,
		"time":              time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if dbStatus != "ok" || !s.scheduler.Running() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, payload)
}

// handleOrder triggers one manual evaluation cycle. Without a pair it runs
// the batch over all active strategies; with a pair, just that one.
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pair string `json:"pair"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
			return
		}
	}

	var symbols []string
	if req.Pair != "" {
		if _, err := s.strategies.GetStrategyBySymbol(r.Context(), req.Pair); err != nil {
			if errors.Is(err, domain.ErrStrategyNotFound) {
				s.writeError(w, http.StatusNotFound, "CONFIG_NOT_FOUND", "no strategy configured for "+req.Pair)
				return
			}
			s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		symbols = []string{req.Pair}
	}

	results, err := s.coordinator.RunCycle(r.Context(), domain.ExecutorUser, symbols...)
	if err != nil {
		s.logger.Error("Manual cycle failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "CYCLE_FAILED", err.Error())
		return
	}

	// Per-symbol outcomes; a single failed symbol does not fail the request
	// but is surfaced in the batch status.
	status := "success"
	for _, res := range results {
		if res.Outcome == domain.OutcomeError {
			status = "error"
			break
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"results": results,
	})
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.strategies.ListStrategies(r.Context())
	if err != nil {
		s.logger.Error("Failed to list strategies", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if configs == nil {
		configs = []*domain.RuleSet{}
	}
	s.writeJSON(w, http.StatusOK, configs)
}

// decodeRuleSet parses and validates a rule set body. Flat v1 payloads
// (buy_percent/sell_percent, no levels) are normalized into the canonical
// shape here, at the boundary.
func decodeRuleSet(r *http.Request) (*domain.RuleSet, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, domain.NewValidationError("body", "invalid JSON payload")
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	if _, legacy := raw["buy_percent"]; legacy {
		var v1 domain.LegacyConfig
		if err := json.Unmarshal(buf, &v1); err != nil {
			return nil, domain.NewValidationError("body", "invalid legacy payload")
		}
		return domain.NormalizeLegacy(v1)
	}

	var rs domain.RuleSet
	if err := json.Unmarshal(buf, &rs); err != nil {
		return nil, domain.NewValidationError("body", "invalid payload")
	}
	return domain.NewRuleSet(rs)
}

// writeRuleSetError maps validation failures to 400 with field detail.
func (s *Server) writeRuleSetError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"code":  "VALIDATION_FAILED",
			"field": vErr.Field,
			"error": vErr.Reason,
		})
		return
	}
	s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	rs, err := decodeRuleSet(r)
	if err != nil {
		s.writeRuleSetError(w, err)
		return
	}

	now := time.Now().UTC()
	rs.ID = uuid.NewString()
	rs.CreatedAt = now
	rs.UpdatedAt = now

	if err := s.strategies.SaveStrategy(r.Context(), rs); err != nil {
		s.logger.Error("Failed to save strategy", zap.String("symbol", rs.Symbol), zap.Error(err))
		if errors.Is(err, domain.ErrStrategyExists) {
			s.writeError(w, http.StatusConflict, "CONFIG_EXISTS", err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	s.logger.Info("Strategy created", zap.String("symbol", rs.Symbol), zap.String("id", rs.ID))
	s.writeJSON(w, http.StatusCreated, rs)
}

func (s *Server) handleReplaceConfig(w http.ResponseWriter, r *http.Request) {
	pair := r.PathValue("pair")

	existing, err := s.strategies.GetStrategyBySymbol(r.Context(), pair)
	if err != nil {
		if errors.Is(err, domain.ErrStrategyNotFound) {
			s.writeError(w, http.StatusNotFound, "CONFIG_NOT_FOUND", "no strategy configured for "+pair)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	rs, err := decodeRuleSet(r)
	if err != nil {
		s.writeRuleSetError(w, err)
		return
	}

	rs.ID = existing.ID
	rs.CreatedAt = existing.CreatedAt
	rs.UpdatedAt = time.Now().UTC()

	if err := s.strategies.ReplaceStrategy(r.Context(), rs); err != nil {
		s.logger.Error("Failed to replace strategy", zap.String("symbol", pair), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	s.logger.Info("Strategy replaced", zap.String("symbol", pair))
	s.writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	pair := r.PathValue("pair")

	existing, err := s.strategies.GetStrategyBySymbol(r.Context(), pair)
	if err != nil {
		if errors.Is(err, domain.ErrStrategyNotFound) {
			s.writeError(w, http.StatusNotFound, "CONFIG_NOT_FOUND", "no strategy configured for "+pair)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if err := s.strategies.DeleteStrategy(r.Context(), existing.ID); err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	s.logger.Info("Strategy deleted", zap.String("symbol", pair))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePortfolioBalances(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.portfolio.Aggregate(r.Context()))
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.logs.ListExecutions(r.Context(), pair, limit)
	if err != nil {
		s.logger.Error("Failed to list executions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if records == nil {
		records = []*domain.ExecutionRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}
