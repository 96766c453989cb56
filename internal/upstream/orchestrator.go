package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/seanap/DescGen-sub000/internal/logger"
	"github.com/seanap/DescGen-sub000/internal/metrics"
	"github.com/seanap/DescGen-sub000/internal/runtimekv"
)

// Orchestrator holds the shared machinery behind guarded upstream calls:
// the KV store for cross-cycle state, per-service rate limiters, metrics,
// and the clock/sleep seams tests replace.
type Orchestrator struct {
	kv  *runtimekv.KV
	log logger.Logger
	met *metrics.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateRPS  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. rateRPS caps executed attempts per service;
// zero disables rate limiting.
func New(kv *runtimekv.KV, met *metrics.Metrics, log logger.Logger, rateRPS int) *Orchestrator {
	return &Orchestrator{
		kv:       kv,
		log:      log,
		met:      met,
		limiters: make(map[string]*rate.Limiter),
		rateRPS:  rateRPS,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (o *Orchestrator) limiter(service string) *rate.Limiter {
	if o.rateRPS <= 0 {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	lim, ok := o.limiters[service]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(o.rateRPS), o.rateRPS)
		o.limiters[service] = lim
	}
	return lim
}

// cacheEntry is a cached upstream result with its own timestamp; the TTL is
// supplied by the reader, so differently-configured call sites can share an
// entry.
type cacheEntry struct {
	CachedAt time.Time       `json:"cached_at"`
	Value    json.RawMessage `json:"value"`
}

func cacheKVKey(service, cacheKey string) string {
	sum := sha256.Sum256([]byte(cacheKey))
	return cacheKeyPrefix + service + ":" + hex.EncodeToString(sum[:8])
}

// Call runs an optional upstream call through the full policy chain: cache,
// budget, cooldown, then retry-with-backoff. Optional failures are absorbed;
// the caller always gets a tagged Result and proceeds with degraded data on
// anything but CallOK.
func Call[T any](
	ctx context.Context,
	o *Orchestrator,
	cycle *CycleState,
	spec CallSpec,
	fn func(context.Context) (T, error),
) Result[T] {
	// 1. Cache.
	if cached, hit := cacheLookup[T](ctx, o, cycle, spec); hit {
		return Result[T]{Status: CallOK, Value: cached, FromCache: true}
	}

	// 2. Budget.
	if cycle != nil && !cycle.consumeBudgetSlot() {
		cycle.recordSkip(spec.Service, SkipBudget)
		o.met.UpstreamCalls.WithLabelValues(spec.Service, "skipped_budget").Inc()
		o.recordHealth(ctx, spec.Service, "skipped_budget", 0, nil)
		o.log.Debug("Optional call skipped, budget exhausted",
			logger.String("upstream", spec.Service))
		return Result[T]{Status: CallSkipped, Reason: SkipBudget}
	}

	// 3. Cooldown. The budget slot consumed above is refunded: no attempt
	// was actually made.
	if o.CoolingDown(ctx, spec.Service) {
		if cycle != nil {
			cycle.refundBudgetSlot()
			cycle.recordSkip(spec.Service, SkipCooldown)
		}
		o.met.UpstreamCalls.WithLabelValues(spec.Service, "skipped_cooldown").Inc()
		o.recordHealth(ctx, spec.Service, "skipped_cooldown", 0, nil)
		o.log.Debug("Optional call skipped, service cooling down",
			logger.String("upstream", spec.Service))
		return Result[T]{Status: CallSkipped, Reason: SkipCooldown}
	}

	// 4. Execute with retry.
	value, dur, err := execute(ctx, o, spec, fn)
	if err != nil {
		o.openCooldown(ctx, spec, err)
		if cycle != nil {
			cycle.recordCall(spec.Service, false, dur, string(CallFailed))
		}
		o.met.UpstreamCalls.WithLabelValues(spec.Service, "error").Inc()
		o.recordHealth(ctx, spec.Service, "error", dur, err)
		return Result[T]{Status: CallFailed, Err: err}
	}

	o.onSuccess(ctx, spec, value, dur)
	if cycle != nil {
		cycle.recordCall(spec.Service, false, dur, string(CallOK))
	}
	return Result[T]{Status: CallOK, Value: value}
}

// CallRequired runs a required call: retry-with-backoff only, no cache,
// budget, or cooldown policy. On exhaustion it returns a hard error the
// caller must surface as the job outcome.
func CallRequired[T any](
	ctx context.Context,
	o *Orchestrator,
	cycle *CycleState,
	spec CallSpec,
	fn func(context.Context) (T, error),
) (T, error) {
	value, dur, err := execute(ctx, o, spec, fn)
	if err != nil {
		if cycle != nil {
			cycle.recordCall(spec.Service, true, dur, string(CallFailed))
		}
		o.met.UpstreamCalls.WithLabelValues(spec.Service, "error").Inc()
		o.recordHealth(ctx, spec.Service, "error", dur, err)
		var zero T
		return zero, fmt.Errorf("required call to %s: %w", spec.Service, err)
	}

	if cycle != nil {
		cycle.recordCall(spec.Service, true, dur, string(CallOK))
	}
	o.met.UpstreamCalls.WithLabelValues(spec.Service, "ok").Inc()
	o.met.UpstreamDuration.WithLabelValues(spec.Service).Observe(dur.Seconds())
	o.recordHealth(ctx, spec.Service, "ok", dur, nil)
	return value, nil
}

// cacheLookup returns the cached value when present and fresh. An expired
// entry is deleted and counted as a miss.
func cacheLookup[T any](ctx context.Context, o *Orchestrator, cycle *CycleState, spec CallSpec) (T, bool) {
	var zero T
	if spec.CacheKey == "" || spec.CacheTTL <= 0 {
		return zero, false
	}

	key := cacheKVKey(spec.Service, spec.CacheKey)
	var entry cacheEntry
	ok, err := o.kv.Get(ctx, key, &entry)
	if err != nil || !ok {
		return zero, false
	}

	if o.now().Sub(entry.CachedAt) > spec.CacheTTL {
		if delErr := o.kv.Delete(ctx, key); delErr != nil {
			o.log.Warn("Failed to evict expired cache entry", errField(spec.Service, delErr)...)
		}
		if cycle != nil {
			cycle.recordCacheMiss(spec.Service)
		}
		o.met.CacheMisses.WithLabelValues(spec.Service).Inc()
		return zero, false
	}

	var value T
	if err := json.Unmarshal(entry.Value, &value); err != nil {
		o.log.Warn("Failed to decode cached value", errField(spec.Service, err)...)
		return zero, false
	}

	if cycle != nil {
		cycle.recordCacheHit(spec.Service)
	}
	o.met.CacheHits.WithLabelValues(spec.Service).Inc()
	return value, true
}

// execute runs fn up to RetryCount+1 times with linear backoff between
// failed attempts. It never holds a store transaction across a sleep.
func execute[T any](
	ctx context.Context,
	o *Orchestrator,
	spec CallSpec,
	fn func(context.Context) (T, error),
) (T, time.Duration, error) {
	var (
		zero    T
		lastErr error
		dur     time.Duration
	)

	attempts := spec.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if lim := o.limiter(spec.Service); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return zero, dur, fmt.Errorf("rate limiter: %w", err)
			}
		}

		start := o.now()
		value, err := fn(ctx)
		dur = o.now().Sub(start)

		if err == nil {
			return value, dur, nil
		}
		lastErr = err

		o.log.Debug("Upstream attempt failed",
			logger.String("upstream", spec.Service),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", attempts),
			logger.Error(err),
		)

		if attempt < attempts && spec.Backoff > 0 {
			if sleepErr := o.sleep(ctx, spec.Backoff*time.Duration(attempt)); sleepErr != nil {
				return zero, dur, fmt.Errorf("backoff interrupted: %w", sleepErr)
			}
		}
	}

	return zero, dur, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// onSuccess resets the failure/cooldown record, stores the cache entry, and
// records metrics after a successful optional call.
func (o *Orchestrator) onSuccess(ctx context.Context, spec CallSpec, value any, dur time.Duration) {
	o.clearCooldown(ctx, spec.Service)

	if spec.CacheKey != "" && spec.CacheTTL > 0 {
		raw, err := json.Marshal(value)
		if err != nil {
			o.log.Warn("Failed to encode value for cache", errField(spec.Service, err)...)
		} else if setErr := o.kv.Set(ctx, cacheKVKey(spec.Service, spec.CacheKey), cacheEntry{
			CachedAt: o.now(),
			Value:    raw,
		}); setErr != nil {
			o.log.Warn("Failed to store cache entry", errField(spec.Service, setErr)...)
		}
	}

	o.met.UpstreamCalls.WithLabelValues(spec.Service, "ok").Inc()
	o.met.UpstreamDuration.WithLabelValues(spec.Service).Observe(dur.Seconds())
	o.recordHealth(ctx, spec.Service, "ok", dur, nil)
}

// openCooldown bumps the persistent failure counter and opens an
// exponentially growing cooldown window, capped at CooldownMax. Only full
// retry exhaustion lands here; a transient blip that a retry absorbed never
// triggers a cooldown.
func (o *Orchestrator) openCooldown(ctx context.Context, spec CallSpec, callErr error) {
	if spec.CooldownBase <= 0 {
		return
	}

	state := o.loadCooldown(ctx, spec.Service)
	state.Failures++

	delay := spec.CooldownBase << (state.Failures - 1)
	if spec.CooldownMax > 0 && (delay > spec.CooldownMax || delay <= 0) {
		delay = spec.CooldownMax
	}
	state.CooldownUntil = o.now().Add(delay)

	o.storeCooldown(ctx, spec.Service, state)
	o.met.Cooldowns.WithLabelValues(spec.Service).Inc()

	o.log.Warn("Upstream service entering cooldown",
		logger.String("upstream", spec.Service),
		logger.Int("failures", state.Failures),
		logger.Duration("cooldown", delay),
		logger.Error(callErr),
	)
}

func errField(service string, err error) []logger.Field {
	return []logger.Field{logger.String("upstream", service), logger.Error(err)}
}
