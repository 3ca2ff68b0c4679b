// Package brush turns pointer samples into stroke geometry.
//
// A stroke starts with [Engine.BeginStroke], which snapshots a validated
// [Preset]. Each [Engine.AppendPoint] runs the sample through the preset's
// stabilizer, extends a Catmull-Rom spline by at most one cubic segment and
// places dabs along the new segment by arc length. The returned rectangle
// covers only the dabs emitted by that call.
//
// Geometry is a pure function of the samples and the preset snapshot:
// scatter and hue jitter come from a PRNG seeded by the first sample and
// the dab index, so replaying a stroke yields identical control points and
// dabs.
//
// Presets form a closed set of kinds. Kind-specific fields live in a
// sealed [Params] implementation; [Preset.Validate] must succeed before a
// preset can start a stroke.
package brush
