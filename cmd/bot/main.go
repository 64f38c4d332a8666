package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_trade_bot/internal/config"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_bot/internal/scheduler"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
	"github.com/vitos/crypto_trade_bot/internal/web"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if cfg.Logger.File != "" {
		log, err = logger.NewFileLogger(cfg.Logger.Level, cfg.Logger.File)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	registry, err := exchange.NewRegistry(cfg, log)
	if err != nil {
		log.Fatal("Failed to init exchanges", zap.Error(err))
	}

	states := usecase.NewStrategyStateEngine()
	tracker := usecase.NewPositionTracker(store, store)
	risk := usecase.NewRiskTracker(store)
	allocator := usecase.NewAllocationEngine(usecase.AllocationConfig{
		MaxPercentPerTrade: cfg.Allocation.MaxPercentPerTrade,
		LowBalanceFloorUSD: cfg.Allocation.LowBalanceFloorUSD,
		MinOrderUSD:        cfg.Allocation.MinOrderUSD,
	})
	coordinator := usecase.NewExecutionCoordinator(
		store, store, tracker, store, risk, states, allocator, registry, log.Named("coordinator"))
	portfolio := usecase.NewPortfolioService(registry, log.Named("portfolio"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Websocket price feed keeps the snapshot cache warm for exchanges that
	// stream; the snapshot path falls back to REST for the rest.
	if mexc, ok := registry.All()["mexc"].(*exchange.MexcAdapter); ok {
		mexc.OnPriceUpdate(func(symbol string, price float64) {
			if ps := coordinator.PriceSource("mexc"); ps != nil {
				ps.SetLast(symbol, price)
			}
		})
		go subscribeLoop(ctx, mexc, store, log)
	}

	sched := scheduler.New(coordinator, store,
		time.Duration(cfg.Scheduler.ReloadSeconds)*time.Second, log.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	server := web.NewServer(cfg.Server.Port, store, store, coordinator, portfolio,
		sched, store, registry, cfg.Auth.JWTSecret, log.Named("web"))

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}

// subscribeLoop keeps the websocket subscription in sync with the active
// strategy set, subscribing to symbols as strategies appear.
func subscribeLoop(ctx context.Context, mexc *exchange.MexcAdapter, store *storage.SQLiteStore, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	subscribed := make(map[string]bool)

	for {
		strategies, err := store.ListActiveStrategies(ctx)
		if err != nil {
			log.Error("Failed to list strategies for subscription", zap.Error(err))
		} else {
			var toSubscribe []string
			for _, rs := range strategies {
				if rs.ExchangeID == "mexc" && !subscribed[rs.Symbol] {
					toSubscribe = append(toSubscribe, rs.Symbol)
					subscribed[rs.Symbol] = true
				}
			}
			if len(toSubscribe) > 0 {
				log.Info("Subscribing to new symbols", zap.Strings("symbols", toSubscribe))
				if err := mexc.ConnectWS(toSubscribe); err != nil {
					log.Error("Failed to subscribe", zap.Error(err))
					for _, s := range toSubscribe {
						delete(subscribed, s)
					}
				}
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
