package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(context.Background(), mr.Addr(), "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return mr, rc
}

func TestRedisCache_PredictionRoundTrip(t *testing.T) {
	mr, rc := setupRedis(t)
	ctx := context.Background()

	_, ok, err := rc.GetPrediction(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rc.SetPrediction(ctx, "k", "High"))
	label, ok, err := rc.GetPrediction(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "High", label)

	mr.FastForward(2 * time.Minute)
	_, ok, err = rc.GetPrediction(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_Counters(t *testing.T) {
	_, rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.CountPrediction(ctx, "High"))
	require.NoError(t, rc.CountPrediction(ctx, "High"))
	require.NoError(t, rc.CountPrediction(ctx, "Low"))

	total, err := rc.GetCounter(ctx, TotalPredictionsKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	counts, err := rc.LabelCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"High": 2, "Low": 1}, counts)

	missing, err := rc.GetCounter(ctx, "absent")
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisCache(ctx, "127.0.0.1:1", "", 0, 0)
	assert.Error(t, err)
}

func TestTiered_LocalOnly(t *testing.T) {
	tc, err := NewTiered(2, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := tc.Get(ctx, "a")
	assert.False(t, ok)

	tc.Set(ctx, "a", "Low")
	tc.Set(ctx, "b", "Medium")
	tc.Set(ctx, "c", "High")

	_, ok = tc.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted")
	label, ok := tc.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, "High", label)
	assert.Equal(t, 2, tc.Len())
}

func TestTiered_FallsBackToRedis(t *testing.T) {
	_, rc := setupRedis(t)
	ctx := context.Background()

	writer, err := NewTiered(8, rc, nil)
	require.NoError(t, err)
	writer.Set(ctx, "k", "Medium")

	reader, err := NewTiered(8, rc, nil)
	require.NoError(t, err)
	label, ok := reader.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "Medium", label)
	assert.Equal(t, 1, reader.Len())
}

func TestTiered_RedisDownStillServesLocal(t *testing.T) {
	mr, rc := setupRedis(t)
	ctx := context.Background()

	tc, err := NewTiered(8, rc, nil)
	require.NoError(t, err)
	tc.Set(ctx, "k", "Low")
	mr.Close()

	label, ok := tc.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "Low", label)

	_, ok = tc.Get(ctx, "other")
	assert.False(t, ok)
}
