package enrich

import (
	"context"
	"time"
)

// ActivityRecord is the primary activity as fetched from the tracking
// platform.
type ActivityRecord struct {
	ID          string
	Name        string
	Description string
	SportType   string
	StartDate   time.Time
	Lat         float64
	Lon         float64
	DistanceM   float64
	MovingTimeS float64
}

// WeatherReport is the conditions summary for an activity's time and place.
type WeatherReport struct {
	TempC     float64
	Humidity  float64
	WindKPH   float64
	Condition string
}

// NutritionSummary is the day's intake summary from the nutrition platform.
type NutritionSummary struct {
	Calories int
	CarbsG   float64
	ProteinG float64
}

// ActivityPort fetches and updates activities on the tracking platform.
// Update must be an idempotent upsert: a duplicate execution after a lease
// expiry has to converge on the same upstream state.
type ActivityPort interface {
	Fetch(ctx context.Context, activityID string) (*ActivityRecord, error)
	Update(ctx context.Context, activityID, title, description string) error
}

// WeatherPort looks up conditions for a time and place.
type WeatherPort interface {
	For(ctx context.Context, lat, lon float64, at time.Time) (*WeatherReport, error)
}

// NutritionPort looks up the day's nutrition summary.
type NutritionPort interface {
	DailySummary(ctx context.Context, day time.Time) (*NutritionSummary, error)
}

// Ports bundles the upstream dependencies the enricher drives.
type Ports struct {
	Activities ActivityPort
	Weather    WeatherPort
	Nutrition  NutritionPort
}

// ComposeInput is everything available to the description composer. Weather
// and Nutrition are nil when the optional lookups were skipped or failed.
type ComposeInput struct {
	Activity  *ActivityRecord
	Weather   *WeatherReport
	Nutrition *NutritionSummary
}

// Composer renders the final title and description. The template and
// formula logic live outside this module.
type Composer interface {
	Compose(input ComposeInput) (title, description string)
}
