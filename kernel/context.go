package kernel

import (
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/texture"
)

// textureContext lends the kernel's device state to texture calls.
type textureContext struct {
	k *Kernel
}

var _ texture.Context = textureContext{}

func (c textureContext) FindMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	return c.k.FindMemoryType(typeFilter, properties)
}

func (c textureContext) TextureDevice() texture.Device {
	return c.k.device
}

func (c textureContext) FormatProperties(format core1_0.Format) gpu.FormatProperties {
	return c.k.physical.FormatProperties(format)
}

func (c textureContext) ExternalMemory() (gpu.ExternalMemory, bool) {
	return c.k.device.ExternalMemory()
}

func (c textureContext) SurfaceExtent() core1_0.Extent2D {
	return c.k.extent
}

func (c textureContext) Recorder() gpu.Recorder {
	return &c.k.deferred
}

// Retire defers release past every frame that may still reference the
// retired objects, including the one the deferred commands land in.
func (c textureContext) Retire(release func()) {
	c.k.releases.Defer(c.k.queue.NextSerial(), release)
}

func (c textureContext) PendingSerial() uint64 {
	return c.k.queue.NextSerial()
}

func (c textureContext) WaitSerial(serial uint64) error {
	return c.k.queue.WaitSerial(serial)
}
