// Package trend implements the built-in linear-trend predictor plugin.
package trend

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nekazari/intelligence/pkg/models"
)

// Name is the registry key for the linear-trend predictor.
const Name = "simple_predictor"

// Predictor extrapolates a linear trend over the historical samples. It is a
// deliberately simple model that exercises the full plugin contract; heavier
// forecasting models plug in behind the same interface.
type Predictor struct{}

// NewPredictor creates a Predictor.
func NewPredictor() *Predictor {
	return &Predictor{}
}

func (p *Predictor) Name() string { return Name }

// Execute produces req.Horizon hourly forecast points extrapolated from the
// last sample. Requires at least two historical samples.
func (p *Predictor) Execute(_ context.Context, req models.PluginRequest) (models.Forecast, error) {
	if len(req.Samples) < 2 {
		return models.Forecast{}, fmt.Errorf("need at least 2 historical data points, got %d", len(req.Samples))
	}
	if req.Horizon < 1 {
		return models.Forecast{}, fmt.Errorf("prediction horizon must be positive, got %d", req.Horizon)
	}

	first := req.Samples[0].Value
	last := req.Samples[len(req.Samples)-1].Value
	trend := (last - first) / float64(len(req.Samples))

	lastTS := req.Samples[len(req.Samples)-1].Timestamp
	points := make([]models.ForecastPoint, 0, req.Horizon)
	for hour := 1; hour <= req.Horizon; hour++ {
		points = append(points, models.ForecastPoint{
			Timestamp: lastTS.Add(time.Duration(hour) * time.Hour),
			Value:     round2(last + trend*float64(hour)),
		})
	}

	// Confidence degrades with how far out the forecast reaches.
	confidence := 0.9 - float64(req.Horizon)/100
	if confidence < 0.5 {
		confidence = 0.5
	}

	return models.Forecast{
		Points:     points,
		Confidence: round2(confidence),
		Model:      Name,
		Metadata: map[string]any{
			"trend":       math.Round(trend*10000) / 10000,
			"data_points": len(req.Samples),
		},
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Compile-time check that Predictor implements Plugin.
var _ models.Plugin = (*Predictor)(nil)
