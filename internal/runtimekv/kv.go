// Package runtimekv provides the generic JSON key-value table used for
// heartbeats, cycle metrics, cooldown timers, and cached upstream results.
// Each key's semantics are owned by its caller; there are no cross-key
// invariants.
package runtimekv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/seanap/DescGen-sub000/internal/storage"
)

// Well-known keys.
const (
	KeyHeartbeat        = "worker:heartbeat"
	KeyLastCycleMetrics = "cycle:last_metrics"
)

// minHeartbeatAge is the floor applied to heartbeat staleness checks.
const minHeartbeatAge = 30 * time.Second

// KV provides typed access to the runtime_kv table.
type KV struct {
	store *storage.Store
}

// New creates a KV accessor.
func New(store *storage.Store) *KV {
	return &KV{store: store}
}

// Set stores val under key as JSON.
func (k *KV) Set(ctx context.Context, key string, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}

	err = k.store.Write(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO runtime_kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(data), time.Now().UTC(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

// Get unmarshals the value stored under key into dest. It returns false
// with no error when the key does not exist.
func (k *KV) Get(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := k.store.Read(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &raw, `SELECT value FROM runtime_kv WHERE key = ?`, key)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("unmarshal value for key %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (k *KV) Delete(ctx context.Context, key string) error {
	err := k.store.Write(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx, `DELETE FROM runtime_kv WHERE key = ?`, key)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

// SetHeartbeat records the worker liveness timestamp. Called on every
// scheduler tick.
func (k *KV) SetHeartbeat(ctx context.Context, now time.Time) error {
	return k.Set(ctx, KeyHeartbeat, now.UTC())
}

// Healthy reports whether a heartbeat exists and is no older than maxAge
// (floored at 30 seconds). It is a pure liveness signal, independent of job
// outcomes.
func (k *KV) Healthy(ctx context.Context, now time.Time, maxAge time.Duration) bool {
	if maxAge < minHeartbeatAge {
		maxAge = minHeartbeatAge
	}

	var beat time.Time
	ok, err := k.Get(ctx, KeyHeartbeat, &beat)
	if err != nil || !ok {
		return false
	}
	return now.Sub(beat) <= maxAge
}

// FlushCycleMetrics stores the end-of-cycle aggregate snapshot.
func (k *KV) FlushCycleMetrics(ctx context.Context, snapshot any) error {
	return k.Set(ctx, KeyLastCycleMetrics, snapshot)
}
