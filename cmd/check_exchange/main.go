package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_trade_bot/internal/config"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/logger"
)

// Connectivity check for every configured exchange: a public call (ticker)
// and a signed call (balances) per adapter.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger("warn", cfg.Logger.Format)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	registry, err := exchange.NewRegistry(cfg, log)
	if err != nil {
		fmt.Printf("Failed to init exchanges: %v\n", err)
		os.Exit(1)
	}

	symbol := "BTCUSDT"
	if len(os.Args) > 1 {
		symbol = os.Args[1]
	}

	ctx := context.Background()
	failed := false

	for id, ex := range registry.All() {
		fmt.Printf("Testing %s...\n", id)

		ticker, err := ex.FetchTicker(ctx, symbol)
		if err != nil {
			fmt.Printf("❌ [%s] Failed to fetch ticker: %v\n", id, err)
			failed = true
		} else {
			fmt.Printf("✅ [%s] Ticker %s: last=%f bid=%f ask=%f\n", id, symbol, ticker.Last, ticker.Bid, ticker.Ask)
		}

		balances, err := ex.FetchBalances(ctx)
		if err != nil {
			fmt.Printf("❌ [%s] Failed to fetch balances: %v\n", id, err)
			failed = true
			continue
		}
		fmt.Printf("✅ [%s] Account reachable, %d non-zero balances\n", id, len(balances))
		for _, b := range balances {
			fmt.Printf("   %s: free=%f locked=%f\n", b.Asset, b.Free, b.Locked)
		}
	}

	if failed {
		os.Exit(1)
	}
}
