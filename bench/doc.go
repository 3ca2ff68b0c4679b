// Package bench replays scripted stroke sequences against a canvas engine
// and measures it.
//
// A Scenario is a canvas configuration plus a list of strokes. Scenarios
// come from YAML files, from Lua scripts or from Go generators:
//
//	scenarios, err := bench.LoadScenarios(ctx, "storm.yaml")
//	stats, err := bench.RunSuite(ctx, scenarios)
//
// Each run records frame time, stroke latency, composite cost, damaged
// tiles and resident memory through a Recorder, which implements
// canvas.Instrument. Measurements are kept in rolling windows; Summary
// reports percentiles over the window and the all-time peak.
//
// StatsServer streams PerformanceStats snapshots to diagnostics clients
// over WebSocket while a suite runs.
package bench
