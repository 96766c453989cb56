package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seanap/DescGen-sub000/internal/config"
	"github.com/seanap/DescGen-sub000/internal/enrich"
)

const (
	portTimeout     = 15 * time.Second
	maxResponseSize = 1 << 20 // 1 MiB
)

// buildPorts wires the upstream adapters from configured base URLs. The
// activities endpoint is mandatory; a missing optional endpoint leaves its
// port nil so the handler skips that enrichment step.
func buildPorts(endpoints config.EndpointsConfig) (enrich.Ports, error) {
	if endpoints.ActivitiesURL == "" {
		return enrich.Ports{}, errNoActivitiesEndpoint
	}

	client := &http.Client{Timeout: portTimeout}
	ports := enrich.Ports{
		Activities: &httpActivityPort{base: strings.TrimRight(endpoints.ActivitiesURL, "/"), client: client},
	}
	if endpoints.WeatherURL != "" {
		ports.Weather = &httpWeatherPort{base: strings.TrimRight(endpoints.WeatherURL, "/"), client: client}
	}
	if endpoints.NutritionURL != "" {
		ports.Nutrition = &httpNutritionPort{base: strings.TrimRight(endpoints.NutritionURL, "/"), client: client}
	}
	return ports, nil
}

type activityPayload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SportType   string    `json:"sport_type"`
	StartDate   time.Time `json:"start_date"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	DistanceM   float64   `json:"distance_m"`
	MovingTimeS float64   `json:"moving_time_s"`
}

type httpActivityPort struct {
	base   string
	client *http.Client
}

func (p *httpActivityPort) Fetch(ctx context.Context, activityID string) (*enrich.ActivityRecord, error) {
	var payload activityPayload
	endpoint := fmt.Sprintf("%s/activities/%s", p.base, url.PathEscape(activityID))
	if err := getJSON(ctx, p.client, endpoint, &payload); err != nil {
		return nil, err
	}
	return &enrich.ActivityRecord{
		ID:          payload.ID,
		Name:        payload.Name,
		Description: payload.Description,
		SportType:   payload.SportType,
		StartDate:   payload.StartDate,
		Lat:         payload.Lat,
		Lon:         payload.Lon,
		DistanceM:   payload.DistanceM,
		MovingTimeS: payload.MovingTimeS,
	}, nil
}

func (p *httpActivityPort) Update(ctx context.Context, activityID, title, description string) error {
	body, err := json.Marshal(map[string]string{
		"title":       title,
		"description": description,
	})
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/activities/%s", p.base, url.PathEscape(activityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("update activity: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type weatherPayload struct {
	TempC     float64 `json:"temp_c"`
	Humidity  float64 `json:"humidity"`
	WindKPH   float64 `json:"wind_kph"`
	Condition string  `json:"condition"`
}

type httpWeatherPort struct {
	base   string
	client *http.Client
}

func (p *httpWeatherPort) For(ctx context.Context, lat, lon float64, at time.Time) (*enrich.WeatherReport, error) {
	var payload weatherPayload
	endpoint := fmt.Sprintf("%s/weather?lat=%.5f&lon=%.5f&at=%s",
		p.base, lat, lon, url.QueryEscape(at.UTC().Format(time.RFC3339)))
	if err := getJSON(ctx, p.client, endpoint, &payload); err != nil {
		return nil, err
	}
	return &enrich.WeatherReport{
		TempC:     payload.TempC,
		Humidity:  payload.Humidity,
		WindKPH:   payload.WindKPH,
		Condition: payload.Condition,
	}, nil
}

type nutritionPayload struct {
	Calories int     `json:"calories"`
	CarbsG   float64 `json:"carbs_g"`
	ProteinG float64 `json:"protein_g"`
}

type httpNutritionPort struct {
	base   string
	client *http.Client
}

func (p *httpNutritionPort) DailySummary(ctx context.Context, day time.Time) (*enrich.NutritionSummary, error) {
	var payload nutritionPayload
	endpoint := fmt.Sprintf("%s/nutrition/daily/%s", p.base, day.UTC().Format("2006-01-02"))
	if err := getJSON(ctx, p.client, endpoint, &payload); err != nil {
		return nil, err
	}
	return &enrich.NutritionSummary{
		Calories: payload.Calories,
		CarbsG:   payload.CarbsG,
		ProteinG: payload.ProteinG,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxResponseSize)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
