package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/storage"
)

// Seeds a sample BTC strategy for local development: a three-step
// take-profit ladder, a hard stop and DCA buys on the way down.
func main() {
	store, err := storage.NewSQLiteStore("data/bot.db")
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	rs, err := domain.NewRuleSet(domain.RuleSet{
		ID:         uuid.NewString(),
		UserID:     "dev",
		ExchangeID: "mexc",
		Token:      "BTC",
		Symbol:     "BTCUSDT",
		Active:     true,
		TakeProfitLevels: []domain.TakeProfitLevel{
			{Percent: 3, QuantityPercent: 30, Enabled: true},
			{Percent: 6, QuantityPercent: 30, Enabled: true},
			{Percent: 10, QuantityPercent: 40, Enabled: true},
		},
		StopLoss: domain.StopLossRule{Percent: 8, Enabled: true},
		BuyDip: domain.BuyDipRule{
			Enabled:    true,
			DCAEnabled: true,
			DCALevels: []domain.DCALevel{
				{Percent: 3, QuantityPercent: 50},
				{Percent: 6, QuantityPercent: 50},
			},
		},
		Cooldown:  domain.CooldownRule{Enabled: true, MinutesAfterBuy: 30, MinutesAfterSell: 30},
		Execution: domain.ExecutionRule{MinOrderUSD: 5, MaxOrderPercent: 30, IntervalMinutes: 10},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		log.Fatalf("Invalid seed strategy: %v", err)
	}

	if err := store.ReplaceStrategy(context.Background(), rs); err != nil {
		log.Fatalf("Failed to save strategy: %v", err)
	}

	fmt.Printf("✅ Seed strategy saved\n")
	fmt.Printf("ID: %s\n", rs.ID)
	fmt.Printf("Symbol: %s (every %d minutes)\n", rs.Symbol, rs.Execution.IntervalMinutes)
	fmt.Printf("TP ladder: +3%% (30%%), +6%% (30%%), +10%% (40%%)\n")
	fmt.Printf("Stop loss: -8%%, DCA: -3%% / -6%%\n")
}
