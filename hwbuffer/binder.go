package hwbuffer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/imagestore"
)

// Binder imports hardware buffers into device memory.
type Binder struct {
	device   gpu.Memory
	external gpu.ExternalMemory
	memory   gpu.MemoryTypeFinder
}

func NewBinder(device gpu.Memory, external gpu.ExternalMemory, memory gpu.MemoryTypeFinder) *Binder {
	return &Binder{device: device, external: external, memory: memory}
}

// Bind imports buf with a dedicated allocation and binds it to res at
// offset 0. On success res owns the import allocation; the buffer itself
// stays owned by the producer.
//
// The image is left in its initial layout. Callers must transition it out
// of Undefined before sampling.
func (b *Binder) Bind(res *imagestore.Resource, buf Importable, properties core1_0.MemoryPropertyFlags) error {
	handle := buf.NativeHandle()
	req, err := b.external.ExternalBufferProperties(handle)
	if err != nil {
		return errors.Wrapf(err, "query hardware buffer %#x", handle)
	}

	typeIndex, err := b.memory.FindMemoryType(req.MemoryTypeBits, properties)
	if err != nil {
		return errors.WithDetailf(err, "hardware buffer %#x memory type bits: %#b", handle, req.MemoryTypeBits)
	}

	mem, err := b.external.ImportExternalBuffer(res.Image(), handle, req, typeIndex)
	if err != nil {
		return errors.Wrapf(err, "import hardware buffer %#x", handle)
	}

	if err := b.device.BindImageMemory(res.Image(), mem, 0); err != nil {
		b.device.FreeMemory(mem)
		return errors.Wrapf(err, "bind hardware buffer %#x", handle)
	}
	res.AttachMemory(mem)
	return nil
}

// Supported reports whether a buffer can take the import path.
func Supported(external gpu.ExternalMemory, buf Buffer) (Importable, bool) {
	if external == nil {
		return nil, false
	}
	imp, ok := buf.(Importable)
	if !ok || imp.NativeHandle() == 0 {
		return nil, false
	}
	return imp, true
}
