package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingbot/fundingbot/internal/arb"
)

func TestFeeCache_SetGetRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewFeeCache(mr.Addr(), "", 0)
	defer cache.Close()

	ctx := context.Background()
	now := time.Now()
	fs := arb.FeeStructure{Venue: "binance", TakerBySpot: 0.001, TakerByPerp: 0.0004, CachedAt: now}

	require.NoError(t, cache.Set(ctx, "binance", fs))

	got, ok := cache.Get(ctx, "binance", now)
	require.True(t, ok)
	assert.Equal(t, fs.Venue, got.Venue)
	assert.InDelta(t, fs.TakerByPerp, got.TakerByPerp, 1e-9)
}

func TestFeeCache_Get_MissReturnsFalse(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewFeeCache(mr.Addr(), "", 0)
	defer cache.Close()

	_, ok := cache.Get(context.Background(), "bybit", time.Now())
	assert.False(t, ok)
}

func TestFeeCache_Get_ExpiredPast24h(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewFeeCache(mr.Addr(), "", 0)
	defer cache.Close()

	ctx := context.Background()
	cachedAt := time.Now().Add(-25 * time.Hour)
	fs := arb.FeeStructure{Venue: "okx", CachedAt: cachedAt}
	require.NoError(t, cache.Set(ctx, "okx", fs))

	mr.FastForward(25 * time.Hour)

	_, ok := cache.Get(ctx, "okx", time.Now())
	assert.False(t, ok)
}
