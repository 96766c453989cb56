package enrich

import (
	"fmt"
	"strings"
)

// TextComposer renders a plain-text title and description from whatever
// context made it through the optional lookups.
type TextComposer struct{}

// NewTextComposer creates the default composer.
func NewTextComposer() *TextComposer {
	return &TextComposer{}
}

// Compose implements Composer.
func (c *TextComposer) Compose(input ComposeInput) (string, string) {
	activity := input.Activity

	title := activity.Name
	if title == "" {
		title = activity.SportType
	}
	if title == "" {
		title = "Workout"
	}

	var b strings.Builder
	if activity.Description != "" {
		b.WriteString(activity.Description)
		b.WriteString("\n\n")
	}

	if activity.DistanceM > 0 {
		fmt.Fprintf(&b, "Distance: %.1f km\n", activity.DistanceM/1000)
	}
	if activity.MovingTimeS > 0 {
		mins := int(activity.MovingTimeS) / 60
		fmt.Fprintf(&b, "Moving time: %dh %02dm\n", mins/60, mins%60)
	}

	if w := input.Weather; w != nil {
		fmt.Fprintf(&b, "Weather: %s, %.0f°C, wind %.0f km/h, humidity %.0f%%\n",
			w.Condition, w.TempC, w.WindKPH, w.Humidity)
	}
	if n := input.Nutrition; n != nil {
		fmt.Fprintf(&b, "Fuel: %d kcal, %.0fg carbs, %.0fg protein\n",
			n.Calories, n.CarbsG, n.ProteinG)
	}

	return title, strings.TrimRight(b.String(), "\n")
}
