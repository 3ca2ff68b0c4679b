// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"encoding/binary"
	"image"
	"math"
	"unsafe"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/internal/blend"
)

// Byte sizes of the WGSL structs.
const (
	dabStride    = 32 // Dab in stamp.wgsl
	uniformSize  = 32 // Params in both programs
	texelStride  = 16 // vec4<f32> tile texel
	coverageSize = 4  // f32 coverage texel
)

func hasHueShift(dabs []brush.Dab) bool {
	for _, d := range dabs {
		if d.HueShift != 0 {
			return true
		}
	}
	return false
}

// packDabs serializes the dabs that can touch a pixel and returns them with
// the union of their clipped bounds.
func packDabs(dabs []brush.Dab, clip image.Rectangle) ([]byte, image.Rectangle) {
	buf := make([]byte, 0, len(dabs)*dabStride)
	var region image.Rectangle
	for _, d := range dabs {
		r := d.Bounds()
		if !clip.Empty() {
			r = r.Intersect(clip)
		}
		if r.Empty() || d.Opacity <= 0 || d.Radius <= 0 {
			continue
		}
		region = region.Union(r)
		aspect := d.Aspect
		if aspect <= 0 {
			aspect = 1
		}
		for _, v := range [8]float64{d.Center.X, d.Center.Y, d.Radius, d.Opacity, d.Angle, aspect, d.Hardness, 0} {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		}
	}
	return buf, region
}

func stampUniform(region image.Rectangle, index uint32, rule Rule, sp StampParams) []byte {
	buf := make([]byte, uniformSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(int32(region.Min.X))) //nolint:gosec // canvas coordinates fit int32
	le.PutUint32(buf[4:], uint32(int32(region.Min.Y))) //nolint:gosec // canvas coordinates fit int32
	le.PutUint32(buf[8:], uint32(region.Dx()))         //nolint:gosec // positive extent
	le.PutUint32(buf[12:], uint32(region.Dy()))        //nolint:gosec // positive extent
	le.PutUint32(buf[16:], index)
	le.PutUint32(buf[20:], uint32(rule))
	le.PutUint32(buf[24:], math.Float32bits(float32(sp.Falloff)))
	le.PutUint32(buf[28:], math.Float32bits(float32(sp.Wetness)))
	return buf
}

func compositeUniform(r image.Rectangle, cp CompositeParams) []byte {
	src := blend.FromRGBA(cp.Color, 1)
	if cp.Mode == sketch.BlendErase {
		src = blend.Pixel{A: 65535}
	}
	buf := make([]byte, uniformSize)
	le := binary.LittleEndian
	for i, c := range [4]uint32{src.R, src.G, src.B, src.A} {
		le.PutUint32(buf[i*4:], math.Float32bits(float32(c)/65535))
	}
	le.PutUint32(buf[16:], uint32(r.Dx())) //nolint:gosec // positive extent
	le.PutUint32(buf[20:], uint32(r.Dy())) //nolint:gosec // positive extent
	le.PutUint32(buf[24:], uint32(cp.Mode))
	le.PutUint32(buf[28:], math.Float32bits(float32(cp.Opacity)))
	return buf
}

// packCoverage serializes the coverage of r row by row.
func packCoverage(c *Coverage, r image.Rectangle) []byte {
	buf := make([]byte, 0, r.Dx()*r.Dy()*coverageSize)
	var row []float32
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row = c.Row(y, r.Min.X, r.Max.X, row)
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf
}

func unpackCoverage(c *Coverage, r image.Rectangle, data []byte) {
	w := r.Dx()
	row := make([]float32, w)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := (y - r.Min.Y) * w * coverageSize
		for i := range row {
			row[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+i*coverageSize:]))
		}
		c.setRow(y, r.Min.X, row)
	}
}

// packTile converts the 16-bit premultiplied pixels of r to vec4<f32>.
func packTile(dst *image.RGBA64, r image.Rectangle) []byte {
	buf := make([]byte, 0, r.Dx()*r.Dy()*texelStride)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := dst.PixOffset(r.Min.X, y)
		for i := 0; i < 4*r.Dx(); i++ {
			v := uint16(dst.Pix[off+2*i])<<8 | uint16(dst.Pix[off+2*i+1])
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)/65535))
		}
	}
	return buf
}

// unpackTile writes the texels of data back into r and reports whether any
// pixel changed.
func unpackTile(dst *image.RGBA64, r image.Rectangle, data []byte) bool {
	changed := false
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := dst.PixOffset(r.Min.X, y)
		src := (y - r.Min.Y) * r.Dx() * texelStride
		for i := 0; i < 4*r.Dx(); i++ {
			f := math.Float32frombits(binary.LittleEndian.Uint32(data[src+i*4:]))
			v := uint16(math.Round(clamp01(float64(f)) * 65535))
			hi, lo := byte(v>>8), byte(v)
			if dst.Pix[off+2*i] != hi || dst.Pix[off+2*i+1] != lo {
				dst.Pix[off+2*i], dst.Pix[off+2*i+1] = hi, lo
				changed = true
			}
		}
	}
	return changed
}

// mappedBytes views size bytes of a mapped buffer.
func mappedBytes(m hal.BufferMapping, size uint64) []byte {
	return unsafe.Slice((*byte)(m.Ptr), size)
}
