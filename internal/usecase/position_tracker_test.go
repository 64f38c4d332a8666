package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_bot/internal/domain"
)

func fill(amount, price float64) domain.Fill {
	return domain.Fill{
		OrderID: "ord",
		Amount:  amount,
		Price:   price,
		Cost:    amount * price,
		Time:    time.Now(),
	}
}

func TestRecordBuyCreatesPosition(t *testing.T) {
	store := newMemStore()
	tracker := NewPositionTracker(store, store)
	ctx := context.Background()

	pos, err := tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(2, 100))
	require.NoError(t, err)

	assert.Equal(t, 2.0, pos.Amount)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 200.0, pos.TotalInvested)
	assert.True(t, pos.IsActive)
	assert.Len(t, pos.Purchases, 1)
}

func TestRecordBuyWeightedAverage(t *testing.T) {
	store := newMemStore()
	tracker := NewPositionTracker(store, store)
	ctx := context.Background()

	_, err := tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(1, 100))
	require.NoError(t, err)
	pos, err := tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(1, 50))
	require.NoError(t, err)

	assert.Equal(t, 2.0, pos.Amount)
	assert.Equal(t, 75.0, pos.EntryPrice)
	assert.Equal(t, 150.0, pos.TotalInvested)
}

func TestRecordSellPartialScalesInvested(t *testing.T) {
	store := newMemStore()
	tracker := NewPositionTracker(store, store)
	ctx := context.Background()

	_, err := tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(2, 100))
	require.NoError(t, err)

	pos, realized, err := tracker.RecordSell(ctx, "u1", "mexc", "BTC", fill(1, 120))
	require.NoError(t, err)

	// Sold 1 @ 120 against entry 100 -> +20 realized.
	assert.Equal(t, 20.0, realized)
	assert.Equal(t, 1.0, pos.Amount)
	// TotalInvested scales by remaining/amount, entry price is untouched.
	assert.Equal(t, 100.0, pos.TotalInvested)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.True(t, pos.IsActive)

	require.Len(t, store.pnl, 1)
	assert.Equal(t, 20.0, store.pnl[0].Amount)
}

func TestRecordSellFullClosesPosition(t *testing.T) {
	store := newMemStore()
	tracker := NewPositionTracker(store, store)
	ctx := context.Background()

	_, err := tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(2, 100))
	require.NoError(t, err)

	pos, realized, err := tracker.RecordSell(ctx, "u1", "mexc", "BTC", fill(2, 90))
	require.NoError(t, err)

	assert.Equal(t, -20.0, realized)
	assert.Equal(t, 0.0, pos.Amount)
	assert.Equal(t, 0.0, pos.TotalInvested)
	assert.False(t, pos.IsActive)
}

func TestRecordSellEpsilonRemainderCloses(t *testing.T) {
	store := newMemStore()
	tracker := NewPositionTracker(store, store)
	ctx := context.Background()

	_, err := tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(1, 100))
	require.NoError(t, err)

	// Fill rounding leaves a remainder far below the close epsilon.
	pos, _, err := tracker.RecordSell(ctx, "u1", "mexc", "BTC", fill(1-1e-12, 100))
	require.NoError(t, err)
	assert.False(t, pos.IsActive)
	assert.Equal(t, 0.0, pos.Amount)
}

func TestRecordSellInsufficientPosition(t *testing.T) {
	store := newMemStore()
	tracker := NewPositionTracker(store, store)
	ctx := context.Background()

	// No position at all.
	_, _, err := tracker.RecordSell(ctx, "u1", "mexc", "BTC", fill(1, 100))
	assert.ErrorIs(t, err, domain.ErrInsufficientPosition)

	// Selling more than held.
	_, err = tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(1, 100))
	require.NoError(t, err)
	_, _, err = tracker.RecordSell(ctx, "u1", "mexc", "BTC", fill(2, 100))
	assert.ErrorIs(t, err, domain.ErrInsufficientPosition)

	// Closed position cannot be sold again.
	_, _, err = tracker.RecordSell(ctx, "u1", "mexc", "BTC", fill(1, 100))
	require.NoError(t, err)
	_, _, err = tracker.RecordSell(ctx, "u1", "mexc", "BTC", fill(1, 100))
	assert.ErrorIs(t, err, domain.ErrInsufficientPosition)
}

func TestRecordBuyAfterCloseStartsFresh(t *testing.T) {
	store := newMemStore()
	tracker := NewPositionTracker(store, store)
	ctx := context.Background()

	_, err := tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(1, 100))
	require.NoError(t, err)
	_, _, err = tracker.RecordSell(ctx, "u1", "mexc", "BTC", fill(1, 110))
	require.NoError(t, err)

	pos, err := tracker.RecordBuy(ctx, "u1", "mexc", "BTC", fill(1, 50))
	require.NoError(t, err)
	assert.Equal(t, 50.0, pos.EntryPrice)
	assert.Equal(t, 1.0, pos.Amount)
	assert.Equal(t, 50.0, pos.TotalInvested)
}
