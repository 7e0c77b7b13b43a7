// Package mock provides a configurable plugin implementation for tests.
package mock

import (
	"context"
	"time"

	"github.com/nekazari/intelligence/pkg/models"
)

// Plugin satisfies models.Plugin for testing.
type Plugin struct {
	Name_       string
	ExecuteFunc func(ctx context.Context, req models.PluginRequest) (models.Forecast, error)
}

func (m *Plugin) Name() string { return m.Name_ }

func (m *Plugin) Execute(ctx context.Context, req models.PluginRequest) (models.Forecast, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req)
	}
	return models.Forecast{}, nil
}

// NewPlugin returns a Plugin that produces a flat forecast of exactly the
// requested horizon length.
func NewPlugin(name string) *Plugin {
	return &Plugin{
		Name_: name,
		ExecuteFunc: func(_ context.Context, req models.PluginRequest) (models.Forecast, error) {
			points := make([]models.ForecastPoint, 0, req.Horizon)
			base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
			if len(req.Samples) > 0 {
				base = req.Samples[len(req.Samples)-1].Timestamp
			}
			for i := 1; i <= req.Horizon; i++ {
				points = append(points, models.ForecastPoint{
					Timestamp: base.Add(time.Duration(i) * time.Hour),
					Value:     21.5,
				})
			}
			return models.Forecast{Points: points, Confidence: 0.8, Model: name}, nil
		},
	}
}

// NewFailingPlugin returns a Plugin that always returns the given error.
func NewFailingPlugin(name string, err error) *Plugin {
	return &Plugin{
		Name_: name,
		ExecuteFunc: func(_ context.Context, _ models.PluginRequest) (models.Forecast, error) {
			return models.Forecast{}, err
		},
	}
}

// NewBlockingPlugin returns a Plugin that blocks until its context is
// cancelled, for exercising execution timeouts.
func NewBlockingPlugin(name string) *Plugin {
	return &Plugin{
		Name_: name,
		ExecuteFunc: func(ctx context.Context, _ models.PluginRequest) (models.Forecast, error) {
			<-ctx.Done()
			return models.Forecast{}, ctx.Err()
		},
	}
}

// NewWrongLengthPlugin returns a Plugin that produces a forecast one point
// short of the requested horizon, for exercising contract enforcement.
func NewWrongLengthPlugin(name string) *Plugin {
	return &Plugin{
		Name_: name,
		ExecuteFunc: func(_ context.Context, req models.PluginRequest) (models.Forecast, error) {
			points := make([]models.ForecastPoint, 0)
			base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
			for i := 1; i < req.Horizon; i++ {
				points = append(points, models.ForecastPoint{
					Timestamp: base.Add(time.Duration(i) * time.Hour),
					Value:     1.0,
				})
			}
			return models.Forecast{Points: points, Confidence: 0.8, Model: name}, nil
		},
	}
}

// Compile-time check that Plugin implements models.Plugin.
var _ models.Plugin = (*Plugin)(nil)
