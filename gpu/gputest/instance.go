package gputest

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/videosink/gpu"
)

type Runtime struct {
	LoadErr    error
	Loads      int
	Extensions []string
	Layers     []string
	Instance   *Instance

	// Created holds the info passed to the last CreateInstance.
	Created gpu.InstanceInfo
}

var _ gpu.Runtime = (*Runtime)(nil)

func (r *Runtime) Load() error {
	r.Loads++
	return r.LoadErr
}

func set(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func (r *Runtime) InstanceExtensions() (map[string]bool, error) {
	return set(r.Extensions), nil
}

func (r *Runtime) InstanceLayers() (map[string]bool, error) {
	return set(r.Layers), nil
}

func (r *Runtime) CreateInstance(info gpu.InstanceInfo) (gpu.Instance, error) {
	r.Created = info
	if r.Instance == nil {
		r.Instance = &Instance{}
	}
	return r.Instance, nil
}

type Instance struct {
	Devices   []*PhysicalDevice
	Surfaces  int
	Destroyed bool
}

func (i *Instance) PhysicalDevices() ([]gpu.PhysicalDevice, error) {
	devices := make([]gpu.PhysicalDevice, len(i.Devices))
	for n, d := range i.Devices {
		devices[n] = d
	}
	return devices, nil
}

func (i *Instance) CreateSurface(source gpu.SurfaceSource) (gpu.Surface, error) {
	i.Surfaces++
	return gpu.Surface(1000 + i.Surfaces), nil
}

func (i *Instance) DestroySurface(surface gpu.Surface) {
	i.Surfaces--
}

func (i *Instance) Destroy() {
	i.Destroyed = true
}

type PhysicalDevice struct {
	Props    gpu.DeviceProperties
	Families []gpu.QueueFamily
	Exts     []string
	Types    []gpu.MemoryType
	Formats  map[core1_0.Format]gpu.FormatProperties
	Surface  gpu.SurfaceInfo

	// Device is returned from CreateDevice; a new fake is created when nil.
	Device  *Device
	Created []gpu.DeviceInfo
}

// NewPhysicalDevice returns a discrete GPU with one graphics queue family,
// a device-local type and a host-visible coherent type.
func NewPhysicalDevice(name string) *PhysicalDevice {
	return &PhysicalDevice{
		Props: gpu.DeviceProperties{
			Name:          name,
			Type:          gpu.DeviceTypeDiscreteGPU,
			APIVersion:    4206592,
			DriverVersion: 1,
			VendorID:      0x10de,
			DeviceID:      0x2204,
		},
		Families: []gpu.QueueFamily{{Flags: core1_0.QueueGraphics, QueueCount: 1}},
		Types: []gpu.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
		},
		Formats: map[core1_0.Format]gpu.FormatProperties{},
		Surface: gpu.SurfaceInfo{
			CurrentExtent: core1_0.Extent2D{Width: 1080, Height: 1920},
			MinExtent:     core1_0.Extent2D{Width: 1, Height: 1},
			MaxExtent:     core1_0.Extent2D{Width: 4096, Height: 4096},
			MinImageCount: 2,
			MaxImageCount: 3,
			Formats: []khr_surface.SurfaceFormat{
				{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
			},
			PresentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO},
		},
	}
}

func (p *PhysicalDevice) Properties() (gpu.DeviceProperties, error) {
	return p.Props, nil
}

func (p *PhysicalDevice) QueueFamilies() []gpu.QueueFamily {
	return p.Families
}

func (p *PhysicalDevice) Extensions() (map[string]bool, error) {
	return set(p.Exts), nil
}

func (p *PhysicalDevice) MemoryTypes() []gpu.MemoryType {
	return p.Types
}

func (p *PhysicalDevice) FormatProperties(format core1_0.Format) gpu.FormatProperties {
	return p.Formats[format]
}

func (p *PhysicalDevice) SurfaceSupport(surface gpu.Surface, queueFamily int) (bool, error) {
	return true, nil
}

func (p *PhysicalDevice) SurfaceInfo(surface gpu.Surface) (gpu.SurfaceInfo, error) {
	if surface == 0 {
		return gpu.SurfaceInfo{}, errors.New("null surface")
	}
	return p.Surface, nil
}

func (p *PhysicalDevice) CreateDevice(info gpu.DeviceInfo) (gpu.Device, error) {
	p.Created = append(p.Created, info)
	if p.Device == nil {
		p.Device = NewDevice()
		p.Device.MemoryTypeCount = len(p.Types)
	}
	return p.Device, nil
}

// Surface is a fixed-size surface source.
type Surface struct {
	Width, Height int
}

func (s Surface) DrawableSize() (int, int) {
	return s.Width, s.Height
}
