package runtimekv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanap/DescGen-sub000/internal/storage"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db)
}

func TestSetGetDelete(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var got payload
	ok, err := kv.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok, "missing key is not an error")

	require.NoError(t, kv.Set(ctx, "k1", payload{Name: "weather", Count: 3}))

	ok, err = kv.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload{Name: "weather", Count: 3}, got)

	// Overwrite.
	require.NoError(t, kv.Set(ctx, "k1", payload{Name: "weather", Count: 4}))
	_, err = kv.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Count)

	require.NoError(t, kv.Delete(ctx, "k1"))
	ok, err = kv.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op.
	require.NoError(t, kv.Delete(ctx, "k1"))
}

func TestHeartbeatHealth(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, kv.Healthy(ctx, now, time.Minute), "no heartbeat recorded yet")

	require.NoError(t, kv.SetHeartbeat(ctx, now))

	assert.True(t, kv.Healthy(ctx, now.Add(30*time.Second), time.Minute))
	assert.False(t, kv.Healthy(ctx, now.Add(2*time.Minute), time.Minute))
}

func TestHeartbeatMaxAgeFloor(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, kv.SetHeartbeat(ctx, now))

	// A sub-floor maxAge is raised to 30s, so a 10s-old heartbeat is healthy.
	assert.True(t, kv.Healthy(ctx, now.Add(10*time.Second), time.Second))
	assert.False(t, kv.Healthy(ctx, now.Add(31*time.Second), time.Second))
}

func TestFlushCycleMetrics(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.FlushCycleMetrics(ctx, map[string]int{"calls_executed": 7}))

	var snapshot map[string]int
	ok, err := kv.Get(ctx, KeyLastCycleMetrics, &snapshot)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, snapshot["calls_executed"])
}
