package upstream

import (
	"context"
	"time"
)

// KV key prefixes for persisted per-service state.
const (
	cooldownKeyPrefix = "service:cooldown:"
	healthKeyPrefix   = "service:health:"
	cacheKeyPrefix    = "service:cache:"
)

// cooldownState is the persisted failure/cooldown record per service.
type cooldownState struct {
	Failures      int       `json:"failures"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// ServiceHealth is the long-lived rolling health record per service,
// persisted across cycles so an operator can read upstream health without a
// separate metrics system.
type ServiceHealth struct {
	EventsTotal     int64            `json:"events_total"`
	Events          map[string]int64 `json:"events"`
	DurationCount   int64            `json:"duration_count"`
	DurationTotalMs int64            `json:"duration_total_ms"`
	LastStatus      string           `json:"last_status"`
	LastError       string           `json:"last_error,omitempty"`
}

func (o *Orchestrator) loadCooldown(ctx context.Context, service string) cooldownState {
	var state cooldownState
	// Read errors degrade to "healthy": the protected call will fail on its
	// own if the store is truly broken.
	_, _ = o.kv.Get(ctx, cooldownKeyPrefix+service, &state)
	return state
}

func (o *Orchestrator) storeCooldown(ctx context.Context, service string, state cooldownState) {
	if err := o.kv.Set(ctx, cooldownKeyPrefix+service, state); err != nil {
		o.log.Warn("Failed to persist cooldown state", errField(service, err)...)
	}
}

func (o *Orchestrator) clearCooldown(ctx context.Context, service string) {
	if err := o.kv.Delete(ctx, cooldownKeyPrefix+service); err != nil {
		o.log.Warn("Failed to clear cooldown state", errField(service, err)...)
	}
}

// CoolingDown reports whether the service currently has a future cooldown
// window.
func (o *Orchestrator) CoolingDown(ctx context.Context, service string) bool {
	state := o.loadCooldown(ctx, service)
	return state.CooldownUntil.After(o.now())
}

// recordHealth folds one call outcome into the persisted per-service
// counters.
func (o *Orchestrator) recordHealth(ctx context.Context, service, status string, dur time.Duration, callErr error) {
	key := healthKeyPrefix + service

	var health ServiceHealth
	_, _ = o.kv.Get(ctx, key, &health)
	if health.Events == nil {
		health.Events = make(map[string]int64)
	}

	health.EventsTotal++
	health.Events[status]++
	health.LastStatus = status
	if dur > 0 {
		health.DurationCount++
		health.DurationTotalMs += dur.Milliseconds()
	}
	if callErr != nil {
		health.LastError = callErr.Error()
	}

	if err := o.kv.Set(ctx, key, health); err != nil {
		o.log.Warn("Failed to persist service health", errField(service, err)...)
	}
}

// ServiceHealthFor returns the persisted health record for a service.
func (o *Orchestrator) ServiceHealthFor(ctx context.Context, service string) (ServiceHealth, bool) {
	var health ServiceHealth
	ok, err := o.kv.Get(ctx, healthKeyPrefix+service, &health)
	if err != nil || !ok {
		return ServiceHealth{}, false
	}
	return health, true
}
