package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// LegacyRegistry holds function tools carried over from earlier
// module-specific toolsets. They register as plain Tools so the
// provider can serve them next to builtin and MCP tools.
type LegacyRegistry struct {
	tools map[string]Tool
}

// NewLegacyRegistry creates an empty registry.
func NewLegacyRegistry() *LegacyRegistry {
	return &LegacyRegistry{tools: map[string]Tool{}}
}

// Register adds a tool, replacing any previous one with the same name.
func (r *LegacyRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Tools lists every registered tool.
func (r *LegacyRegistry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// DefaultLegacyRegistry registers the legacy function tools.
func DefaultLegacyRegistry() *LegacyRegistry {
	r := NewLegacyRegistry()
	r.Register(NewFuncTool(
		"get_weather",
		"Get current weather conditions for a latitude/longitude pair.",
		objectSchema(map[string]any{
			"latitude":  map[string]any{"type": "number", "description": "Latitude in decimal degrees."},
			"longitude": map[string]any{"type": "number", "description": "Longitude in decimal degrees."},
		}, "latitude", "longitude"),
		getWeather,
	))
	return r
}

// getWeather hits the open-meteo current weather endpoint, which needs
// no API key.
func getWeather(ctx context.Context, args map[string]any) (string, error) {
	lat := floatArg(args, "latitude", 0)
	lon := floatArg(args, "longitude", 0)

	url := fmt.Sprintf(
		"https://api.open-meteo.com/v1/forecast?latitude=%.4f&longitude=%.4f&current_weather=true",
		lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpToolMaxBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather api http %d", resp.StatusCode)
	}

	var payload struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode weather response: %w", err)
	}
	return fmt.Sprintf("temperature %.1f°C, wind %.1f km/h, code %d",
		payload.CurrentWeather.Temperature,
		payload.CurrentWeather.WindSpeed,
		payload.CurrentWeather.WeatherCode), nil
}
