// Package upstream wraps every outbound call to a rate-limited or flaky
// third-party service with cache, budget, cooldown, and retry-with-backoff
// policies, using the runtime KV store for cross-cycle state.
package upstream

import "time"

// CallStatus tags the result of a guarded call. Callers pattern-match on it
// instead of overloading a nil value.
type CallStatus string

// Call result statuses.
const (
	CallOK      CallStatus = "ok"
	CallSkipped CallStatus = "skipped"
	CallFailed  CallStatus = "failed"
)

// SkipReason explains why an optional call was not attempted.
type SkipReason string

// Skip reasons.
const (
	SkipBudget   SkipReason = "budget"
	SkipCooldown SkipReason = "cooldown"
)

// Result is the tagged outcome of an optional call: Ok(value), Skipped
// (reason), or Failed(error, absorbed). Failed results never propagate as
// errors from the optional path; the caller proceeds with degraded data.
type Result[T any] struct {
	Status    CallStatus
	Value     T
	Reason    SkipReason
	Err       error
	FromCache bool
}

// OK reports whether the call produced a usable value.
func (r Result[T]) OK() bool {
	return r.Status == CallOK
}

// CallSpec configures one guarded call. Zero values disable the
// corresponding policy; configuration is supplied by the caller at each
// call site, there is no global policy singleton.
type CallSpec struct {
	// Service names the upstream dependency; it keys cooldown state, cached
	// results, health counters, and the rate limiter.
	Service string

	// CacheKey + CacheTTL enable result caching. An empty key or zero TTL
	// disables the cache check.
	CacheKey string
	CacheTTL time.Duration

	// RetryCount is the number of retries after the initial attempt.
	RetryCount int
	// Backoff is the base sleep between attempts; the actual sleep grows
	// linearly with the attempt number.
	Backoff time.Duration

	// CooldownBase and CooldownMax bound the exponential cooldown window
	// opened after full retry exhaustion.
	CooldownBase time.Duration
	CooldownMax  time.Duration
}
