package renderer

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/cogentcore/webgpu/wgpu"
)

// Device is a headless WebGPU device. The culling mirror only uploads storage
// buffers, so no surface is requested.
type Device struct {
	mu       *sync.Mutex
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
}

// NewDevice requests an adapter and a device.
//
// Parameters:
//   - forceFallbackAdapter: true to use a CPU/software adapter (e.g. SwiftShader or lavapipe)
//
// Returns:
//   - *Device: the device
//   - error: an error if no adapter or device is available
func NewDevice(forceFallbackAdapter bool) (*Device, error) {
	d := &Device{
		mu:       &sync.Mutex{},
		instance: wgpu.CreateInstance(nil),
	}

	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
	})
	if err != nil {
		d.instance.Release()
		return nil, errors.New("requesting webgpu adapter").Wrap(err)
	}
	d.adapter = a

	limits := wgpu.DefaultLimits()
	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Culling Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		d.Release()
		return nil, errors.New("requesting webgpu device").Wrap(err)
	}
	d.device = dev
	d.queue = dev.GetQueue()
	return d, nil
}

// Device returns the WebGPU device.
func (d *Device) Device() *wgpu.Device {
	return d.device
}

// Queue returns the device queue.
func (d *Device) Queue() *wgpu.Queue {
	return d.queue
}

// Release frees the device, adapter and instance.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}
