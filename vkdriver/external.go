package vkdriver

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_dedicated_allocation"

	"github.com/vkngwrapper/videosink/gpu"
)

// HardwareBufferPlatform is the platform half of zero-copy buffer import.
// It knows how to describe a native buffer handle to the driver; the
// device does the allocation.
type HardwareBufferPlatform interface {
	// ImageInfo is chained into the create info of images that will be
	// bound to imported memory.
	ImageInfo() common.Options
	// Properties reports the allocation size and compatible memory types of
	// the buffer behind handle.
	Properties(device core1_0.Device, handle uintptr) (gpu.MemoryRequirements, error)
	// ImportInfo is chained into the allocation that imports handle.
	ImportInfo(handle uintptr) common.Options
}

type externalMemory struct {
	device   *Device
	platform HardwareBufferPlatform
}

var _ gpu.ExternalMemory = (*externalMemory)(nil)

func (e *externalMemory) ExternalBufferProperties(handle uintptr) (gpu.MemoryRequirements, error) {
	reqs, err := e.platform.Properties(e.device.driver.Device(), handle)
	if err != nil {
		return gpu.MemoryRequirements{}, errors.Wrap(err, "get hardware buffer properties")
	}
	return reqs, nil
}

// ImportExternalBuffer allocates memory backed by the buffer behind handle as
// a dedicated allocation for image. Binding is left to the caller.
func (e *externalMemory) ImportExternalBuffer(image gpu.Image, handle uintptr, requirements gpu.MemoryRequirements, memoryTypeIndex int) (gpu.DeviceMemory, error) {
	img, err := e.device.image(image)
	if err != nil {
		return 0, err
	}

	dedicated := khr_dedicated_allocation.MemoryDedicatedAllocateInfo{Image: img}
	dedicated.Next = e.platform.ImportInfo(handle)

	memory, res, err := e.device.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
		NextOptions:     common.NextOptions{Next: dedicated},
	})
	if err := check("import hardware buffer", res, err); err != nil {
		return 0, err
	}
	return e.device.memory.put(memory), nil
}
