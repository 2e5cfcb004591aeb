package kernel

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/feature"
	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpuerr"
)

// EnsureLoaded loads the runtime once. A failure is remembered: later
// calls return the same error, marked gpuerr.ErrUnavailable, without
// touching the runtime again.
func (k *Kernel) EnsureLoaded() error {
	if k.loaded {
		return nil
	}
	if k.loadErr != nil {
		return k.loadErr
	}
	if err := k.runtime.Load(); err != nil {
		k.loadErr = gpuerr.Unavailable(err)
		return k.loadErr
	}
	k.loaded = true
	return nil
}

// Initialize loads the runtime and creates the instance with the
// extensions and layers of every enabled feature. When the runtime cannot
// be loaded the kernel turns inert and Initialize returns nil; Available
// reports the state.
func (k *Kernel) Initialize() error {
	if err := k.EnsureLoaded(); err != nil {
		k.logger.Warn("graphics runtime unavailable", slog.Any("error", err))
		return nil
	}
	if k.instance != nil {
		return nil
	}

	extensions, err := k.runtime.InstanceExtensions()
	if err != nil {
		return errors.Wrap(err, "enumerate instance extensions")
	}
	layers, err := k.runtime.InstanceLayers()
	if err != nil {
		return errors.Wrap(err, "enumerate instance layers")
	}
	if err := k.features.Filter(feature.ScopeInstance, extensions, layers); err != nil {
		return err
	}

	instance, err := k.runtime.CreateInstance(gpu.InstanceInfo{
		ApplicationName: k.config.ApplicationName,
		Extensions:      k.features.InstanceExtensions(),
		Layers:          k.features.Layers(),
		Flags:           k.features.InstanceFlags(),
		Next:            k.features.InstanceChain(),
	})
	if err != nil {
		return errors.Wrap(err, "create instance")
	}
	k.instance = instance
	k.logger.Debug("instance created", slog.Any("extensions", k.features.InstanceExtensions()))
	return nil
}

// SelectPhysicalDevice picks the first enumerated device with a graphics
// queue family (that can also present to the surface, once there is one).
// The choice is cached.
func (k *Kernel) SelectPhysicalDevice() error {
	if k.physical != nil {
		return nil
	}
	if k.instance == nil {
		return errors.New("select physical device before Initialize")
	}

	devices, err := k.instance.PhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "enumerate physical devices")
	}

	for i, pd := range devices {
		family, ok, err := k.graphicsFamily(pd)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		props, err := pd.Properties()
		if err != nil {
			return errors.Wrapf(err, "read properties of device %d", i)
		}
		k.physical = pd
		k.physicalIndex = i
		k.physicalProps = props
		k.queueFamily = family
		k.memoryTypes = pd.MemoryTypes()
		k.logger.Info("physical device selected",
			slog.String("name", props.Name),
			slog.String("type", props.Type.String()),
			slog.Int("index", i),
			slog.Int("queue_family", family))
		return nil
	}

	return gpuerr.ConfigurationFatal("physical device", "none of %d devices has a graphics queue family", len(devices))
}

func (k *Kernel) graphicsFamily(pd gpu.PhysicalDevice) (int, bool, error) {
	for i, family := range pd.QueueFamilies() {
		if family.Flags&core1_0.QueueGraphics == 0 || family.QueueCount == 0 {
			continue
		}
		if k.surface != 0 {
			supported, err := pd.SurfaceSupport(k.surface, i)
			if err != nil {
				return 0, false, errors.Wrap(err, "query surface support")
			}
			if !supported {
				continue
			}
		}
		return i, true, nil
	}
	return 0, false, nil
}

func (k *Kernel) PhysicalDeviceIndex() int {
	return k.physicalIndex
}

// CreateLogicalDevice creates the device with one graphics queue and the
// device extensions and chained payloads of every enabled feature.
func (k *Kernel) CreateLogicalDevice() error {
	if k.device != nil {
		return nil
	}
	if err := k.SelectPhysicalDevice(); err != nil {
		return err
	}

	available, err := k.physical.Extensions()
	if err != nil {
		return errors.Wrap(err, "enumerate device extensions")
	}
	if err := k.features.Filter(feature.ScopeDevice, available, nil); err != nil {
		return err
	}

	extensions := k.features.DeviceExtensions()
	device, err := k.physical.CreateDevice(gpu.DeviceInfo{
		QueueFamily:   k.queueFamily,
		QueuePriority: 1.0,
		Extensions:    extensions,
		Next:          k.features.DeviceChain(),
	})
	if err != nil {
		return errors.Wrap(err, "create logical device")
	}
	k.device = device
	k.enabled = extensions
	k.logger.Debug("logical device created", slog.Any("extensions", extensions))
	return nil
}

// EnabledExtensions lists the device extensions the device was created
// with.
func (k *Kernel) EnabledExtensions() []string {
	return k.enabled
}

// FindMemoryType returns the first memory type allowed by typeFilter whose
// flags include every flag in properties.
func (k *Kernel) FindMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, t := range k.memoryTypes {
		if typeFilter&(1<<uint(i)) != 0 && t.PropertyFlags&properties == properties {
			return i, nil
		}
	}
	err := gpuerr.ConfigurationFatal("memory type", "no memory type matches filter %#x with properties %#x", typeFilter, uint32(properties))
	return -1, errors.WithDetailf(err, "memory types: %d", len(k.memoryTypes))
}

// LoadShaderModule reads the named shader from the assets and creates a
// module from it.
func (k *Kernel) LoadShaderModule(name string) (gpu.ShaderModule, error) {
	if k.assets == nil {
		return 0, gpuerr.AssetMissing(name, errors.New("no asset reader"))
	}
	code, err := k.assets.ReadFile(name)
	if err != nil {
		if !errors.Is(err, gpuerr.ErrAssetMissing) {
			err = gpuerr.AssetMissing(name, err)
		}
		return 0, err
	}

	module, err := k.device.CreateShaderModule(code)
	if err != nil {
		return 0, errors.Wrapf(err, "create shader module %q", name)
	}
	return module, nil
}
