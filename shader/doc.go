// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shader turns stroke geometry into pixels.
//
// The pipeline has two programs, written in WGSL and compiled to SPIR-V
// with naga:
//
//   - stamp (cs_stamp): accumulates dab coverage into a sparse float32
//     Coverage buffer, taking the maximum for hard media and the alpha
//     union for build-up media (airbrush, watercolor).
//   - composite (cs_composite): blends coverage times the stroke color,
//     capped by the preset opacity, into 16-bit premultiplied layer tiles.
//
// Programs run behind the Backend interface. SoftwareBackend executes the
// same math on the CPU. HALBackend builds compute pipelines on a host
// device obtained from a gpucontext.DeviceProvider, dispatches one stamp
// pass per dab and one composite pass per tile, and reads the results back.
//
// Present quantizes the layer stack to an 8-bit frame, reusing cached
// tiles whose layer revisions did not change.
//
// # Context loss
//
// When the backend loses its device every pass fails with
// *sketch.RenderContextLostError until Rebuild. Layer tiles live in the
// tile store, not on the device, so Rebuild only drops the frame cache and
// the next Present redraws the viewport from the store.
package shader
