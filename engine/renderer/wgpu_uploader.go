package renderer

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/gpu_mirror"
	"github.com/Carmen-Shannon/oxy-cull/engine/renderer/bind_group_provider"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/cogentcore/webgpu/wgpu"
)

// WGPUUploader keeps the mirrored culling arrays in WebGPU storage buffers,
// one binding per gpu_mirror.BufferID. Buffers grow by being recreated.
type WGPUUploader struct {
	mu       *sync.Mutex
	device   *wgpu.Device
	queue    *wgpu.Queue
	provider bind_group_provider.BindGroupProvider

	label      string
	extraUsage wgpu.BufferUsage
	visibility wgpu.ShaderStage
}

var _ gpu_mirror.Uploader = &WGPUUploader{}

// NewWGPUUploader creates an uploader on a device.
//
// Parameters:
//   - device: the WebGPU device, must not be nil
//   - queue: the device queue, must not be nil
//   - options: functional options to configure the uploader
//
// Returns:
//   - *WGPUUploader: the uploader
func NewWGPUUploader(device *wgpu.Device, queue *wgpu.Queue, options ...WGPUUploaderBuilderOption) *WGPUUploader {
	if device == nil || queue == nil {
		panic("renderer: uploader needs a device and a queue")
	}
	u := &WGPUUploader{
		mu:         &sync.Mutex{},
		device:     device,
		queue:      queue,
		label:      "culling",
		visibility: wgpu.ShaderStageCompute,
	}
	for _, option := range options {
		option(u)
	}
	u.provider = bind_group_provider.NewBindGroupProvider(u.label)
	return u
}

func (u *WGPUUploader) EnsureBuffer(id gpu_mirror.BufferID, size int) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	binding := int(id)
	if u.provider.Buffer(binding) != nil && u.provider.BufferSize(binding) >= uint64(size) {
		return false, nil
	}

	// Storage buffer sizes must be a multiple of 4.
	n := uint64(common.GrowCapacity(int(u.provider.BufferSize(binding)), size)+3) &^ 3
	buf, err := u.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: u.label + " " + id.String() + " Buffer",
		Size:  n,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | u.extraUsage,
	})
	if err != nil {
		return false, errors.New("creating culling storage buffer").
			WithTag("buffer", id.String()).
			WithTag("size", n).
			Wrap(err)
	}
	u.provider.SetBuffer(binding, buf, n)
	return true, nil
}

func (u *WGPUUploader) Write(id gpu_mirror.BufferID, offset int, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	buf := u.provider.Buffer(int(id))
	if buf == nil {
		return errors.New("writing a culling buffer that was never created").
			WithTag("buffer", id.String())
	}
	if offset < 0 || uint64(offset+len(data)) > u.provider.BufferSize(int(id)) {
		return errors.New("culling buffer write out of range").
			WithTag("buffer", id.String()).
			WithTag("offset", offset).
			WithTag("size", len(data))
	}
	u.queue.WriteBuffer(buf, uint64(offset), data)
	return nil
}

// BindGroup returns a bind group over every mirrored buffer, rebuilt after a
// buffer was recreated. The layout binds each buffer as read-only storage.
//
// Returns:
//   - *wgpu.BindGroup: the bind group
//   - *wgpu.BindGroupLayout: its layout
//   - error: an error if a buffer is missing or creation fails
func (u *WGPUUploader) BindGroup() (*wgpu.BindGroup, *wgpu.BindGroupLayout, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	layout := u.provider.BindGroupLayout()
	if layout == nil {
		entries := make([]wgpu.BindGroupLayoutEntry, gpu_mirror.NumBuffers)
		for i := range entries {
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: u.visibility,
			}
			entries[i].Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		}
		var err error
		layout, err = u.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   u.label + " Bind Group Layout",
			Entries: entries,
		})
		if err != nil {
			return nil, nil, err
		}
		u.provider.SetBindGroupLayout(layout)
	}

	if bg := u.provider.BindGroup(); bg != nil {
		return bg, layout, nil
	}

	entries := make([]wgpu.BindGroupEntry, gpu_mirror.NumBuffers)
	for id := range gpu_mirror.NumBuffers {
		buf := u.provider.Buffer(int(id))
		if buf == nil {
			return nil, nil, errors.New("culling buffer not created yet").WithTag("buffer", id.String())
		}
		entries[id] = wgpu.BindGroupEntry{
			Binding: uint32(id),
			Buffer:  buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}
	bg, err := u.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   u.label + " Bind Group",
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return nil, nil, err
	}
	u.provider.SetBindGroup(bg)
	return bg, layout, nil
}

func (u *WGPUUploader) Release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.provider.Release()
}
