package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
	"go.uber.org/zap"
)

// SchedulerStatus is what the health endpoint needs to know about the
// scheduler.
type SchedulerStatus interface {
	Running() bool
	ActiveJobs() int
}

// Pinger reports store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router      *http.ServeMux
	server      *http.Server
	strategies  domain.StrategyRepository
	logs        domain.ExecutionLogRepository
	coordinator *usecase.ExecutionCoordinator
	portfolio   *usecase.PortfolioService
	scheduler   SchedulerStatus
	store       Pinger
	exchanges   usecase.ExchangeProvider
	jwtSecret   string
	logger      *zap.Logger
}

func NewServer(
	port int,
	strategies domain.StrategyRepository,
	logs domain.ExecutionLogRepository,
	coordinator *usecase.ExecutionCoordinator,
	portfolio *usecase.PortfolioService,
	scheduler SchedulerStatus,
	store Pinger,
	exchanges usecase.ExchangeProvider,
	jwtSecret string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:      http.NewServeMux(),
		strategies:  strategies,
		logs:        logs,
		coordinator: coordinator,
		portfolio:   portfolio,
		scheduler:   scheduler,
		store:       store,
		exchanges:   exchanges,
		jwtSecret:   jwtSecret,
		logger:      logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Health
	s.router.HandleFunc("GET /health", s.handleHealth)

	// Manual cycle
	s.router.HandleFunc("POST /order", s.authenticated(s.handleOrder))

	// Strategy configs
	s.router.HandleFunc("GET /configs", s.handleListConfigs)
	s.router.HandleFunc("POST /configs", s.authenticated(s.handleCreateConfig))
	s.router.HandleFunc("PUT /configs/{pair}", s.authenticated(s.handleReplaceConfig))
	s.router.HandleFunc("DELETE /configs/{pair}", s.authenticated(s.handleDeleteConfig))

	// Portfolio
	s.router.HandleFunc("GET /portfolio/balances", s.handlePortfolioBalances)

	// Execution log
	s.router.HandleFunc("GET /logs", s.handleListLogs)
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{
		"code":  code,
		"error": message,
	})
}
