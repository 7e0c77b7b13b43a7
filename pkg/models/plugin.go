// Package models contains shared data models used across the intelligence
// service codebase.
package models

import "context"

// PluginRequest is the input to a plugin execution.
type PluginRequest struct {
	EntityID  string
	Attribute string
	Samples   []Sample
	Horizon   int
}

// Plugin is the core interface every analysis capability must implement.
// Never call a concrete plugin directly — always resolve through the
// registry and inject this interface.
//
// Plugins are stateless across invocations and pure with respect to job
// state: they never touch the job store or queue. A successful execution
// must return exactly Horizon forecast points; the worker rejects any other
// length as a contract violation.
type Plugin interface {
	// Name returns the unique plugin identifier (e.g., "simple_predictor").
	Name() string
	// Execute runs the analysis over the historical samples and produces a
	// forecast of exactly req.Horizon points.
	Execute(ctx context.Context, req PluginRequest) (Forecast, error)
}
