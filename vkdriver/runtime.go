// Package vkdriver implements the gpu interfaces on top of vkngwrapper.
package vkdriver

import (
	"io"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/feature"
	"github.com/vkngwrapper/videosink/gpu"
)

// Runtime is the entry point of the driver. It loads the Vulkan loader
// lazily, so constructing one never fails.
type Runtime struct {
	logger   *slog.Logger
	procAddr ProcAddrFunc
	platform HardwareBufferPlatform

	global core1_0.GlobalDriver
}

var _ gpu.Runtime = (*Runtime)(nil)

// NewRuntime returns a runtime that resolves vkGetInstanceProcAddr through
// procAddr. A nil procAddr opens the system loader library.
func NewRuntime(procAddr ProcAddrFunc, logger *slog.Logger) *Runtime {
	if procAddr == nil {
		procAddr = LibraryProcAddr
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runtime{logger: logger, procAddr: procAddr}
}

// WithHardwareBuffers installs the platform bridge used to import producer
// buffers. Devices created afterwards expose gpu.ExternalMemory.
func (r *Runtime) WithHardwareBuffers(platform HardwareBufferPlatform) *Runtime {
	r.platform = platform
	return r
}

func (r *Runtime) Load() error {
	if r.global != nil {
		return nil
	}
	global, err := createGlobalDriver(r.procAddr)
	if err != nil {
		return errors.Wrap(err, "load vulkan")
	}
	r.global = global
	return nil
}

func (r *Runtime) InstanceExtensions() (map[string]bool, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	available, res, err := r.global.AvailableExtensions()
	if err := check("enumerate instance extensions", res, err); err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(available))
	for name := range available {
		names[name] = true
	}
	return names, nil
}

func (r *Runtime) InstanceLayers() (map[string]bool, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	available, res, err := r.global.AvailableLayers()
	if err := check("enumerate instance layers", res, err); err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(available))
	for name := range available {
		names[name] = true
	}
	return names, nil
}

func (r *Runtime) CreateInstance(info gpu.InstanceInfo) (gpu.Instance, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}

	handle, res, err := r.global.CreateInstance(nil, core1_0.InstanceCreateInfo{
		ApplicationName:       info.ApplicationName,
		ApplicationVersion:    common.CreateVersion(1, 0, 0),
		EngineName:            "videosink",
		EngineVersion:         common.CreateVersion(1, 0, 0),
		APIVersion:            common.Vulkan1_2,
		EnabledExtensionNames: info.Extensions,
		EnabledLayerNames:     info.Layers,
		Flags:                 info.Flags,
		NextOptions:           common.NextOptions{Next: info.Next},
	})
	if err := check("create instance", res, err); err != nil {
		return nil, err
	}
	driver, err := r.global.BuildInstanceDriver(handle)
	if err != nil {
		return nil, errors.Wrap(err, "build instance driver")
	}

	instance := &Instance{
		logger:   r.logger,
		driver:   driver,
		platform: r.platform,
	}
	if slices.Contains(info.Extensions, khr_surface.ExtensionName) {
		instance.surfaceExt = khr_surface.CreateExtensionDriverFromCoreDriver(driver)
	}
	if slices.Contains(info.Extensions, ext_debug_utils.ExtensionName) {
		instance.debugExt = ext_debug_utils.CreateExtensionDriverFromCoreDriver(driver)
		instance.messenger, _, err = instance.debugExt.CreateDebugUtilsMessenger(nil, feature.MessengerInfo(r.logger))
		if err != nil {
			r.logger.Warn("debug messenger unavailable", slog.Any("error", err))
		}
	}
	return instance, nil
}
