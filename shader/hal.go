// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
)

// LossNotifier is implemented by device providers that report device loss.
// The channel is closed when the device is lost.
type LossNotifier interface {
	DeviceLost() <-chan struct{}
}

// halProvider is the optional provider extension exposing HAL objects.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// dispatchTimeout bounds the wait for one submission.
const dispatchTimeout = 5 * time.Second

// HALBackend runs the programs as compute pipelines on a host GPU device.
//
// Each call uploads its coverage or tile pixels to storage buffers,
// dispatches cs_stamp or cs_composite, and reads the result back through a
// staging buffer. Tip textures and per-dab hue shifts are not part of the
// programs; batches that use them run the software kernels. Device loss is
// taken from the provider when it implements LossNotifier, and from
// hal.ErrDeviceLost returned by any HAL call.
type HALBackend struct {
	mu        sync.Mutex
	provider  gpucontext.DeviceProvider
	device    hal.Device
	queue     hal.Queue
	stamp     *computeProgram
	composite *computeProgram
	format    gputypes.TextureFormat
	lostCh    <-chan struct{}
	lost      bool
}

var _ Backend = (*HALBackend)(nil)

// NewHALBackend creates a backend on the provider's device. The provider
// must implement HalDevice() any and HalQueue() any returning hal.Device
// and hal.Queue.
func NewHALBackend(provider gpucontext.DeviceProvider) (*HALBackend, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if _, _, err := halObjects(provider); err != nil {
		return nil, err
	}
	return &HALBackend{
		provider: provider,
		format:   NegotiateFormat(provider.SurfaceFormat()),
	}, nil
}

func halObjects(provider gpucontext.DeviceProvider) (hal.Device, hal.Queue, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	return device, queue, nil
}

// NegotiateFormat picks the presentation format for a surface format.
// Unsupported formats fall back to RGBA8Unorm.
func NegotiateFormat(surface gputypes.TextureFormat) gputypes.TextureFormat {
	switch surface {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return surface
	case gputypes.TextureFormatUndefined:
		return gputypes.TextureFormatRGBA8Unorm
	}
	sketch.Logger().Warn("shader: unsupported surface format, presenting RGBA8", "format", surface)
	return gputypes.TextureFormatRGBA8Unorm
}

func (b *HALBackend) Name() string { return "hal" }

func (b *HALBackend) Format() gputypes.TextureFormat { return b.format }

// Init (re)acquires the provider's device and queue and creates the compute
// pipelines. After a device loss the host is expected to have recreated the
// device.
func (b *HALBackend) Init() error {
	progs, err := CompilePrograms()
	if err != nil {
		return err
	}
	device, queue, err := halObjects(b.provider)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lost {
		b.destroyPipelines()
	}
	b.stamp, b.composite = nil, nil
	b.device, b.queue = device, queue

	b.stamp, err = newComputeProgram(device, progs.Stamp)
	if err != nil {
		return err
	}
	b.composite, err = newComputeProgram(device, progs.Composite)
	if err != nil {
		b.stamp.destroy(device)
		b.stamp = nil
		return err
	}
	if ln, ok := b.provider.(LossNotifier); ok {
		b.lostCh = ln.DeviceLost()
	}
	b.lost = false
	sketch.Logger().Info("shader: hal backend ready", "format", b.format)
	return nil
}

// computeProgram is one program's module, layouts and pipeline.
type computeProgram struct {
	name       string
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// programBindings is the layout shared by both programs: parameters,
// read-only input and the read-write buffer that is read back.
var programBindings = []gputypes.BindGroupLayoutEntry{
	{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
	{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
	{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
}

func newComputeProgram(device hal.Device, p Program) (*computeProgram, error) {
	cp := &computeProgram{name: p.Name}
	var err error
	cp.module, err = createModule(device, p)
	if err != nil {
		return nil, err
	}
	cp.bindLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   p.Name + "_bind_layout",
		Entries: programBindings,
	})
	if err != nil {
		cp.destroy(device)
		return nil, fmt.Errorf("shader: create %s bind group layout: %w", p.Name, err)
	}
	cp.pipeLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.Name + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{cp.bindLayout},
	})
	if err != nil {
		cp.destroy(device)
		return nil, fmt.Errorf("shader: create %s pipeline layout: %w", p.Name, err)
	}
	cp.pipeline, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   p.Name,
		Layout:  cp.pipeLayout,
		Compute: hal.ComputeState{Module: cp.module, EntryPoint: p.EntryPoint},
	})
	if err != nil {
		cp.destroy(device)
		return nil, fmt.Errorf("shader: create %s pipeline: %w", p.Name, err)
	}
	return cp, nil
}

func createModule(device hal.Device, p Program) (hal.ShaderModule, error) {
	m, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: p.Name,
		Source: hal.ShaderSource{
			SPIRV: p.SPIRV,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("shader: create %s module: %w", p.Name, err)
	}
	return m, nil
}

func (cp *computeProgram) destroy(device hal.Device) {
	if cp.pipeline != nil {
		device.DestroyComputePipeline(cp.pipeline)
	}
	if cp.pipeLayout != nil {
		device.DestroyPipelineLayout(cp.pipeLayout)
	}
	if cp.bindLayout != nil {
		device.DestroyBindGroupLayout(cp.bindLayout)
	}
	if cp.module != nil {
		device.DestroyShaderModule(cp.module)
	}
}

func (b *HALBackend) destroyPipelines() {
	if b.device == nil {
		return
	}
	if b.stamp != nil {
		b.stamp.destroy(b.device)
	}
	if b.composite != nil {
		b.composite.destroy(b.device)
	}
}

func (b *HALBackend) Begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lost && b.lostCh != nil {
		select {
		case <-b.lostCh:
			b.lost = true
			sketch.Logger().Warn("shader: device lost")
		default:
		}
	}
	if b.lost || b.stamp == nil {
		return &sketch.RenderContextLostError{Backend: b.Name(), Cause: errDeviceLost}
	}
	return nil
}

// Stamp dispatches one cs_stamp pass per dab over the dabs' bounds.
func (b *HALBackend) Stamp(dst *Coverage, dabs []brush.Dab, params StampParams) error {
	if (params.Texture != nil && params.Grain > 0) || hasHueShift(dabs) {
		stampDabs(dst, dabs, params)
		return nil
	}
	packed, region := packDabs(dabs, params.Clip)
	if region.Empty() {
		return nil
	}
	w, h := uint32(region.Dx()), uint32(region.Dy()) //nolint:gosec // tile-sized regions fit uint32
	n := len(packed) / dabStride
	uniforms := make([][]byte, n)
	for i := range uniforms {
		uniforms[i] = stampUniform(region, uint32(i), dst.Rule(), params) //nolint:gosec // dab index fits uint32
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out, err := b.dispatchLocked(b.stamp, uniforms, packed, packCoverage(dst, region), w, h)
	if err != nil {
		return err
	}
	unpackCoverage(dst, region, out)
	return nil
}

// Composite dispatches cs_composite over the part of dst covered by src.
func (b *HALBackend) Composite(dst *image.RGBA64, src *Coverage, params CompositeParams) (bool, error) {
	r := dst.Rect.Intersect(src.Bounds())
	if r.Empty() || params.Opacity <= 0 {
		return false, nil
	}
	if params.Mode != sketch.BlendErase && src.hasHue(r) {
		return compositeTile(dst, src, params), nil
	}
	w, h := uint32(r.Dx()), uint32(r.Dy()) //nolint:gosec // tile-sized regions fit uint32

	b.mu.Lock()
	defer b.mu.Unlock()
	out, err := b.dispatchLocked(b.composite, [][]byte{compositeUniform(r, params)},
		packCoverage(src, r), packTile(dst, r), w, h)
	if err != nil {
		return false, err
	}
	return unpackTile(dst, r, out), nil
}

// dispatchLocked runs one pass of cp per uniform over a w × h grid, in
// order, with input bound read-only and rw read-write. It returns rw as the
// passes left it.
func (b *HALBackend) dispatchLocked(cp *computeProgram, uniforms [][]byte, input, rw []byte, w, h uint32) ([]byte, error) {
	if b.lost || cp == nil {
		return nil, &sketch.RenderContextLostError{Backend: b.Name(), Cause: errDeviceLost}
	}
	device := b.device
	var buffers []hal.Buffer
	var groups []hal.BindGroup
	defer func() {
		for _, g := range groups {
			device.DestroyBindGroup(g)
		}
		for _, buf := range buffers {
			device.DestroyBuffer(buf)
		}
	}()
	upload := func(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
		buf, err := device.CreateBuffer(&hal.BufferDescriptor{
			Label: label, Size: uint64(len(data)), Usage: usage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s buffer: %w", label, err)
		}
		buffers = append(buffers, buf)
		if err := b.queue.WriteBuffer(buf, 0, data); err != nil {
			return nil, fmt.Errorf("write %s buffer: %w", label, err)
		}
		return buf, nil
	}

	inputBuf, err := upload(cp.name+"_input", input, gputypes.BufferUsageStorage)
	if err != nil {
		return nil, b.failLocked(cp, err)
	}
	rwBuf, err := upload(cp.name+"_rw", rw, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, b.failLocked(cp, err)
	}
	size := uint64(len(rw))
	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: cp.name + "_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, b.failLocked(cp, fmt.Errorf("create staging buffer: %w", err))
	}
	buffers = append(buffers, staging)

	for i, u := range uniforms {
		ub, err := upload(cp.name+"_params", u, gputypes.BufferUsageUniform)
		if err != nil {
			return nil, b.failLocked(cp, err)
		}
		bg, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:  cp.name + "_bind",
			Layout: cp.bindLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Size: uint64(len(u))}},
				{Binding: 1, Resource: gputypes.BufferBinding{Buffer: inputBuf.NativeHandle(), Size: uint64(len(input))}},
				{Binding: 2, Resource: gputypes.BufferBinding{Buffer: rwBuf.NativeHandle(), Size: size}},
			},
		})
		if err != nil {
			return nil, b.failLocked(cp, fmt.Errorf("create bind group %d: %w", i, err))
		}
		groups = append(groups, bg)
	}

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: cp.name + "_encoder"})
	if err != nil {
		return nil, b.failLocked(cp, fmt.Errorf("create command encoder: %w", err))
	}
	if err := encoder.BeginEncoding(cp.name); err != nil {
		return nil, b.failLocked(cp, fmt.Errorf("begin encoding: %w", err))
	}
	for _, bg := range groups {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: cp.name + "_pass"})
		pass.SetPipeline(cp.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch((w+7)/8, (h+7)/8, 1)
		pass.End()
	}
	encoder.CopyBufferToBuffer(rwBuf, staging, []hal.BufferCopy{{Size: size}})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, b.failLocked(cp, fmt.Errorf("end encoding: %w", err))
	}
	defer device.FreeCommandBuffer(cmd)

	idx, err := b.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return nil, b.failLocked(cp, fmt.Errorf("submit: %w", err))
	}
	deadline := time.Now().Add(dispatchTimeout)
	for b.queue.PollCompleted() < idx {
		if time.Now().After(deadline) {
			return nil, b.failLocked(cp, fmt.Errorf("wait for submission %d: %w", idx, hal.ErrTimeout))
		}
		time.Sleep(50 * time.Microsecond)
	}

	mapping, err := device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, b.failLocked(cp, fmt.Errorf("map staging buffer: %w", err))
	}
	out := make([]byte, size)
	copy(out, mappedBytes(mapping, size))
	if err := device.UnmapBuffer(staging); err != nil {
		return nil, b.failLocked(cp, fmt.Errorf("unmap staging buffer: %w", err))
	}
	return out, nil
}

// failLocked wraps a dispatch error. A lost device marks the backend lost
// and is reported as a context loss.
func (b *HALBackend) failLocked(cp *computeProgram, err error) error {
	if errors.Is(err, hal.ErrDeviceLost) {
		if !b.lost {
			b.lost = true
			sketch.Logger().Warn("shader: device lost during dispatch", "program", cp.name)
		}
		return &sketch.RenderContextLostError{Backend: b.Name(), Cause: err}
	}
	return fmt.Errorf("shader: %s dispatch: %w", cp.name, err)
}

// Close destroys the pipelines. The device belongs to the provider and is
// not destroyed.
func (b *HALBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lost {
		b.destroyPipelines()
	}
	b.stamp, b.composite, b.device, b.queue = nil, nil, nil, nil
	return nil
}
