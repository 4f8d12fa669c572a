package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bodega/backend/internal/domain"
)

func newRedisCache(t *testing.T) (*RedisReportCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := NewRedisReportCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()))
	return c, mr
}

func TestNoopReportCacheNeverHits(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &domain.SalesReport{TotalSales: decimal.NewFromInt(5)}, time.Minute))
	_, ok, err := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	key := "bodega:report:test:1:2024-02-15"

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := &domain.SalesReport{
		Sales:      []domain.DailyPoint{{Day: "2024-03-15", Label: "15/03", Amount: decimal.RequireFromString("10.50")}},
		TotalSales: decimal.RequireFromString("10.50"),
	}
	require.NoError(t, c.Set(ctx, key, want, time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.TotalSales.Equal(want.TotalSales))
	require.Len(t, got.Sales, 1)
	assert.Equal(t, "15/03", got.Sales[0].Label)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire with its ttl")
}

func TestRedisReportCacheDropsUndecodableEntry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	key := "bodega:report:test:2:2024-02-15"

	require.NoError(t, mr.Set(key, "{not json"))

	_, ok, err := c.Get(ctx, key)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(key), "corrupt entry should be deleted")
}

func TestRedisReportCacheSkipsNil(t *testing.T) {
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(context.Background(), "bodega:report:nil", nil, time.Minute))
	assert.False(t, mr.Exists("bodega:report:nil"))
}
