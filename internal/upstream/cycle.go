package upstream

import (
	"sync"
	"time"
)

// CycleState aggregates call accounting for one processing cycle, including
// the per-cycle optional-call budget. It lives in memory for the cycle and
// is flushed into the runtime KV at cycle boundaries.
type CycleState struct {
	mu sync.Mutex

	budgetEnabled bool
	budgetTotal   int
	remaining     int

	callsExecuted int
	cacheHits     int

	services map[string]*ServiceCycleStats
}

// ServiceCycleStats is the per-service breakdown within one cycle.
type ServiceCycleStats struct {
	OptionalCalls   int           `json:"optional_calls"`
	RequiredCalls   int           `json:"required_calls"`
	CacheHits       int           `json:"cache_hits"`
	CacheMisses     int           `json:"cache_misses"`
	SkippedBudget   int           `json:"skipped_budget"`
	SkippedCooldown int           `json:"skipped_cooldown"`
	Errors          int           `json:"errors"`
	LastDuration    time.Duration `json:"last_duration_ns"`
	LastStatus      string        `json:"last_status"`
}

// CycleSnapshot is the serializable end-of-cycle aggregate.
type CycleSnapshot struct {
	BudgetEnabled   bool                         `json:"budget_enabled"`
	BudgetTotal     int                          `json:"budget_total"`
	BudgetRemaining int                          `json:"budget_remaining"`
	CallsExecuted   int                          `json:"calls_executed"`
	CacheHits       int                          `json:"cache_hits"`
	Services        map[string]ServiceCycleStats `json:"services"`
	FlushedAt       time.Time                    `json:"flushed_at"`
}

// NewCycleState creates the aggregate for a fresh cycle. A non-positive
// budget disables budget enforcement entirely.
func NewCycleState(optionalBudget int) *CycleState {
	return &CycleState{
		budgetEnabled: optionalBudget > 0,
		budgetTotal:   optionalBudget,
		remaining:     optionalBudget,
		services:      make(map[string]*ServiceCycleStats),
	}
}

// BudgetRemaining returns the optional-call slots left this cycle.
func (c *CycleState) BudgetRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// consumeBudgetSlot takes one optional-call slot. It returns false when the
// budget is enabled and exhausted; a disabled budget always admits.
func (c *CycleState) consumeBudgetSlot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.budgetEnabled {
		return true
	}
	if c.remaining <= 0 {
		return false
	}
	c.remaining--
	return true
}

// refundBudgetSlot returns a slot taken by consumeBudgetSlot. Used when a
// later policy (cooldown) decides no attempt was actually made.
func (c *CycleState) refundBudgetSlot() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.budgetEnabled {
		return
	}
	if c.remaining < c.budgetTotal {
		c.remaining++
	}
}

func (c *CycleState) service(name string) *ServiceCycleStats {
	stats, ok := c.services[name]
	if !ok {
		stats = &ServiceCycleStats{}
		c.services[name] = stats
	}
	return stats
}

func (c *CycleState) recordCall(name string, required bool, dur time.Duration, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callsExecuted++
	stats := c.service(name)
	if required {
		stats.RequiredCalls++
	} else {
		stats.OptionalCalls++
	}
	stats.LastDuration = dur
	stats.LastStatus = status
	if status != string(CallOK) {
		stats.Errors++
	}
}

func (c *CycleState) recordCacheHit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cacheHits++
	stats := c.service(name)
	stats.CacheHits++
	stats.LastStatus = "cache_hit"
}

func (c *CycleState) recordCacheMiss(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.service(name).CacheMisses++
}

func (c *CycleState) recordSkip(name string, reason SkipReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.service(name)
	switch reason {
	case SkipBudget:
		stats.SkippedBudget++
	case SkipCooldown:
		stats.SkippedCooldown++
	}
	stats.LastStatus = "skipped_" + string(reason)
}

// Snapshot returns a copy of the aggregate suitable for flushing to the
// runtime KV.
func (c *CycleState) Snapshot() CycleSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	services := make(map[string]ServiceCycleStats, len(c.services))
	for name, stats := range c.services {
		services[name] = *stats
	}

	return CycleSnapshot{
		BudgetEnabled:   c.budgetEnabled,
		BudgetTotal:     c.budgetTotal,
		BudgetRemaining: c.remaining,
		CallsExecuted:   c.callsExecuted,
		CacheHits:       c.cacheHits,
		Services:        services,
		FlushedAt:       time.Now().UTC(),
	}
}
