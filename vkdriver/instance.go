package vkdriver

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/gpu"
)

// NativeSource is a gpu.SurfaceSource that can create a presentation
// surface for an instance. Window integrations implement it.
type NativeSource interface {
	gpu.SurfaceSource
	CreateVulkanSurface(instance core1_0.Instance, surfaceExt khr_surface.ExtensionDriver) (khr_surface.Surface, error)
}

type Instance struct {
	logger   *slog.Logger
	driver   core1_0.CoreInstanceDriver
	platform HardwareBufferPlatform

	surfaceExt khr_surface.ExtensionDriver
	debugExt   ext_debug_utils.ExtensionDriver
	messenger  ext_debug_utils.DebugUtilsMessenger

	surfaces table[gpu.Surface, khr_surface.Surface]
}

var _ gpu.Instance = (*Instance)(nil)

func (i *Instance) PhysicalDevices() ([]gpu.PhysicalDevice, error) {
	devices, res, err := i.driver.EnumeratePhysicalDevices()
	if err := check("enumerate physical devices", res, err); err != nil {
		return nil, err
	}
	out := make([]gpu.PhysicalDevice, 0, len(devices))
	for _, device := range devices {
		out = append(out, &PhysicalDevice{instance: i, device: device})
	}
	return out, nil
}

func (i *Instance) CreateSurface(source gpu.SurfaceSource) (gpu.Surface, error) {
	if i.surfaceExt == nil {
		return 0, errors.Newf("%s not enabled", khr_surface.ExtensionName)
	}
	native, ok := source.(NativeSource)
	if !ok {
		return 0, errors.Newf("surface source %T cannot create a vulkan surface", source)
	}
	surface, err := native.CreateVulkanSurface(i.driver.Instance(), i.surfaceExt)
	if err != nil {
		return 0, errors.Wrap(err, "create surface")
	}
	return i.surfaces.put(surface), nil
}

func (i *Instance) DestroySurface(surface gpu.Surface) {
	if s, ok := i.surfaces.take(surface); ok {
		i.surfaceExt.DestroySurface(s, nil)
	}
}

func (i *Instance) Destroy() {
	if i.messenger.Initialized() {
		i.debugExt.DestroyDebugUtilsMessenger(i.messenger, nil)
	}
	i.driver.DestroyInstance(nil)
}

func (i *Instance) surface(handle gpu.Surface) (khr_surface.Surface, error) {
	s, ok := i.surfaces.get(handle)
	if !ok {
		return khr_surface.Surface{}, errors.Newf("unknown surface %d", handle)
	}
	return s, nil
}

type PhysicalDevice struct {
	instance *Instance
	device   core1_0.PhysicalDevice
}

var _ gpu.PhysicalDevice = (*PhysicalDevice)(nil)

func (p *PhysicalDevice) Properties() (gpu.DeviceProperties, error) {
	props, err := p.instance.driver.GetPhysicalDeviceProperties(p.device)
	if err != nil {
		return gpu.DeviceProperties{}, errors.Wrap(err, "get physical device properties")
	}
	return gpu.DeviceProperties{
		Name:              props.DriverName,
		Type:              deviceType(props.DriverType),
		APIVersion:        uint32(props.APIVersion),
		DriverVersion:     uint32(props.DriverVersion),
		VendorID:          props.VendorID,
		DeviceID:          props.DeviceID,
		PipelineCacheUUID: props.PipelineCacheUUID,
	}, nil
}

func deviceType(t core1_0.PhysicalDeviceType) gpu.DeviceType {
	switch t {
	case core1_0.PhysicalDeviceTypeIntegratedGPU:
		return gpu.DeviceTypeIntegratedGPU
	case core1_0.PhysicalDeviceTypeDiscreteGPU:
		return gpu.DeviceTypeDiscreteGPU
	case core1_0.PhysicalDeviceTypeVirtualGPU:
		return gpu.DeviceTypeVirtualGPU
	case core1_0.PhysicalDeviceTypeCPU:
		return gpu.DeviceTypeCPU
	}
	return gpu.DeviceTypeOther
}

func (p *PhysicalDevice) QueueFamilies() []gpu.QueueFamily {
	props := p.instance.driver.GetPhysicalDeviceQueueFamilyProperties(p.device)
	families := make([]gpu.QueueFamily, len(props))
	for i, family := range props {
		families[i] = gpu.QueueFamily{Flags: family.QueueFlags, QueueCount: family.QueueCount}
	}
	return families
}

func (p *PhysicalDevice) Extensions() (map[string]bool, error) {
	available, res, err := p.instance.driver.EnumerateDeviceExtensionProperties(p.device)
	if err := check("enumerate device extensions", res, err); err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(available))
	for name := range available {
		names[name] = true
	}
	return names, nil
}

func (p *PhysicalDevice) MemoryTypes() []gpu.MemoryType {
	props := p.instance.driver.GetPhysicalDeviceMemoryProperties(p.device)
	types := make([]gpu.MemoryType, len(props.MemoryTypes))
	for i, t := range props.MemoryTypes {
		types[i] = gpu.MemoryType{PropertyFlags: t.PropertyFlags, HeapIndex: t.HeapIndex}
	}
	return types
}

func (p *PhysicalDevice) FormatProperties(format core1_0.Format) gpu.FormatProperties {
	props := p.instance.driver.GetPhysicalDeviceFormatProperties(p.device, format)
	return gpu.FormatProperties{
		LinearTilingFeatures:  props.LinearTilingFeatures,
		OptimalTilingFeatures: props.OptimalTilingFeatures,
	}
}

func (p *PhysicalDevice) SurfaceSupport(surface gpu.Surface, queueFamily int) (bool, error) {
	s, err := p.instance.surface(surface)
	if err != nil {
		return false, err
	}
	supported, res, err := p.instance.surfaceExt.GetPhysicalDeviceSurfaceSupport(s, p.device, queueFamily)
	if err := check("get surface support", res, err); err != nil {
		return false, err
	}
	return supported, nil
}

func (p *PhysicalDevice) SurfaceInfo(surface gpu.Surface) (gpu.SurfaceInfo, error) {
	s, err := p.instance.surface(surface)
	if err != nil {
		return gpu.SurfaceInfo{}, err
	}
	ext := p.instance.surfaceExt

	caps, res, err := ext.GetPhysicalDeviceSurfaceCapabilities(s, p.device)
	if err := check("get surface capabilities", res, err); err != nil {
		return gpu.SurfaceInfo{}, err
	}
	formats, res, err := ext.GetPhysicalDeviceSurfaceFormats(s, p.device)
	if err := check("get surface formats", res, err); err != nil {
		return gpu.SurfaceInfo{}, err
	}
	modes, res, err := ext.GetPhysicalDeviceSurfacePresentModes(s, p.device)
	if err := check("get surface present modes", res, err); err != nil {
		return gpu.SurfaceInfo{}, err
	}

	return gpu.SurfaceInfo{
		CurrentExtent:    caps.CurrentExtent,
		MinExtent:        caps.MinImageExtent,
		MaxExtent:        caps.MaxImageExtent,
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentTransform: caps.CurrentTransform,
		Formats:          formats,
		PresentModes:     modes,
	}, nil
}

func (p *PhysicalDevice) CreateDevice(info gpu.DeviceInfo) (gpu.Device, error) {
	handle, res, err := p.instance.driver.CreateDevice(p.device, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: info.QueueFamily,
				QueuePriorities:  []float32{info.QueuePriority},
			},
		},
		EnabledExtensionNames: info.Extensions,
		NextOptions:           common.NextOptions{Next: info.Next},
	})
	if err := check("create device", res, err); err != nil {
		return nil, err
	}
	driver, err := p.instance.driver.BuildDeviceDriver(handle)
	if err != nil {
		return nil, errors.Wrap(err, "build device driver")
	}
	return newDevice(p, driver, info), nil
}
