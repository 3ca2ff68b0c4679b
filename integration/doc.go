// Package integration runs end-to-end checks of the canvas engine.
//
// Run builds fresh engines from a configuration and asserts that the
// components work together:
//
//	report := integration.Run(ctx, sketch.DefaultConfig())
//	if !report.Passed() {
//		fmt.Println(report)
//	}
//
// Each check is independent and reported as passed or failed with its
// cause. The checks are:
//
//   - init: every component initializes and the engine starts empty.
//   - round-trip: a stroke survives rasterize, composite, eviction and
//     reload from the store without a pixel of difference.
//   - budget: resident memory never exceeds the configured budget.
//   - cancel-isolation: a cancelled stroke leaves no trace.
//   - out-of-order: out-of-order samples are rejected and the stroke
//     stays usable.
//   - context-loss: a stroke drawn across a lost render context commits
//     after recovery.
//   - persist-failure: a failing store degrades to keeping the tile in
//     memory, reported once.
package integration
