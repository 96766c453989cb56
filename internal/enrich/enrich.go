// Package enrich implements the job handler that enriches one activity:
// fetch the primary record, gather optional context from rate-limited
// upstreams, compose the derived description, and write it back with an
// idempotent upsert. Upstream request/response shapes stay behind the
// narrow ports in ports.go; this package only orchestrates them.
package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seanap/DescGen-sub000/internal/domain"
	"github.com/seanap/DescGen-sub000/internal/jobstore"
	"github.com/seanap/DescGen-sub000/internal/logger"
	"github.com/seanap/DescGen-sub000/internal/scheduler"
	"github.com/seanap/DescGen-sub000/internal/upstream"
)

// Upstream service names used for cooldown/cache/health keys.
const (
	ServiceActivities = "activities"
	ServiceWeather    = "weather"
	ServiceNutrition  = "nutrition"
)

// Config holds the per-call policy applied to upstream dependencies.
type Config struct {
	RetryCount   int
	Backoff      time.Duration
	CooldownBase time.Duration
	CooldownMax  time.Duration
	CacheTTL     time.Duration
}

// Enricher is the scheduler handler for activity enrichment jobs.
type Enricher struct {
	orch     *upstream.Orchestrator
	jobs     *jobstore.Store
	ports    Ports
	composer Composer
	cfg      Config
	log      logger.Logger
}

// New creates an enricher.
func New(
	orch *upstream.Orchestrator,
	jobs *jobstore.Store,
	ports Ports,
	composer Composer,
	cfg Config,
	log logger.Logger,
) *Enricher {
	return &Enricher{
		orch:     orch,
		jobs:     jobs,
		ports:    ports,
		composer: composer,
		cfg:      cfg,
		log:      log,
	}
}

// runResult is the opaque result blob recorded on the job.
type runResult struct {
	TitleHash     string `json:"title_hash"`
	ContentHash   string `json:"content_hash"`
	WeatherUsed   bool   `json:"weather_used"`
	NutritionUsed bool   `json:"nutrition_used"`
	Updated       bool   `json:"updated"`
}

// Process enriches one activity. The primary fetch is a required call: its
// failure fails the attempt. Weather and nutrition are optional; their
// absence only degrades the composed description.
func (e *Enricher) Process(ctx context.Context, task scheduler.Task) scheduler.HandlerResult {
	activity, err := upstream.CallRequired(ctx, e.orch, task.Cycle, e.spec(ServiceActivities, "", 0),
		func(ctx context.Context) (*ActivityRecord, error) {
			return e.ports.Activities.Fetch(ctx, task.ActivityID)
		})
	if err != nil {
		return scheduler.HandlerResult{
			Outcome: domain.OutcomeRetryWait,
			Error:   fmt.Sprintf("fetch activity: %v", err),
		}
	}

	day := activity.StartDate.UTC().Format("2006-01-02")

	// Unconfigured optional ports are left nil by the wiring; the lookup is
	// skipped and the composed description just has less in it.
	var weather upstream.Result[*WeatherReport]
	if e.ports.Weather != nil {
		weather = upstream.Call(ctx, e.orch, task.Cycle,
			e.spec(ServiceWeather, fmt.Sprintf("%.2f:%.2f:%s", activity.Lat, activity.Lon, day), e.cfg.CacheTTL),
			func(ctx context.Context) (*WeatherReport, error) {
				return e.ports.Weather.For(ctx, activity.Lat, activity.Lon, activity.StartDate)
			})
	}

	var nutrition upstream.Result[*NutritionSummary]
	if e.ports.Nutrition != nil {
		nutrition = upstream.Call(ctx, e.orch, task.Cycle,
			e.spec(ServiceNutrition, "day:"+day, e.cfg.CacheTTL),
			func(ctx context.Context) (*NutritionSummary, error) {
				return e.ports.Nutrition.DailySummary(ctx, activity.StartDate)
			})
	}

	input := ComposeInput{Activity: activity}
	if weather.OK() {
		input.Weather = weather.Value
	}
	if nutrition.OK() {
		input.Nutrition = nutrition.Value
	}

	title, description := e.composer.Compose(input)
	titleHash := hashString(title)
	contentHash := hashString(description)

	updated := task.ForceUpdate || e.needsUpdate(ctx, task.ActivityID, titleHash, contentHash)
	if updated {
		// The write-back API upserts, so a duplicate execution after a lease
		// expiry converges on the same state.
		if err := e.ports.Activities.Update(ctx, task.ActivityID, title, description); err != nil {
			return scheduler.HandlerResult{
				Outcome: domain.OutcomeRetryWait,
				Error:   fmt.Sprintf("write back activity: %v", err),
			}
		}
	}

	if err := e.jobs.SetActivityHashes(ctx, task.ActivityID, jobstore.ActivityHashes{
		TitleHash:   titleHash,
		ContentHash: contentHash,
	}); err != nil {
		e.log.Warn("Failed to record activity hashes",
			logger.String("activity_id", task.ActivityID), logger.Error(err))
	}

	result, _ := json.Marshal(runResult{
		TitleHash:     titleHash,
		ContentHash:   contentHash,
		WeatherUsed:   weather.OK(),
		NutritionUsed: nutrition.OK(),
		Updated:       updated,
	})

	return scheduler.HandlerResult{
		Outcome: domain.OutcomeSucceeded,
		Result:  string(result),
	}
}

// needsUpdate compares the computed hashes against the stored projection; a
// match means the upstream copy is already current and the write-back can
// be skipped.
func (e *Enricher) needsUpdate(ctx context.Context, activityID, titleHash, contentHash string) bool {
	state, err := e.jobs.ActivityState(ctx, activityID)
	if err != nil {
		return true
	}
	return state.TitleHash.String != titleHash || state.ContentHash.String != contentHash
}

func (e *Enricher) spec(service, cacheKey string, cacheTTL time.Duration) upstream.CallSpec {
	return upstream.CallSpec{
		Service:      service,
		CacheKey:     cacheKey,
		CacheTTL:     cacheTTL,
		RetryCount:   e.cfg.RetryCount,
		Backoff:      e.cfg.Backoff,
		CooldownBase: e.cfg.CooldownBase,
		CooldownMax:  e.cfg.CooldownMax,
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
