// Package hwbuffer models producer-owned pixel buffers: the lease handed to
// the renderer, import of the buffer memory into an image, the single-slot
// handoff between producer and render thread and the deferred release of
// buffers the GPU may still be reading.
package hwbuffer

import (
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/videosink/colorspace"
)

// Desc describes a buffer as the producer declared it. Stride is in pixels.
type Desc struct {
	Width  int
	Height int
	Format colorspace.Code
	Stride int
}

// Extent returns the buffer size in pixels.
func (d Desc) Extent() core1_0.Extent2D {
	return core1_0.Extent2D{Width: d.Width, Height: d.Height}
}

// Buffer is a leased pixel buffer. The renderer never frees the memory
// behind it; Release hands the buffer back to the producer and must be
// called exactly once.
type Buffer interface {
	Desc() Desc
	// Planes returns CPU-visible plane data with per-plane strides. Only
	// used when the buffer cannot be imported.
	Planes() ([]colorspace.Plane, error)
	Release()
}

// Importable is a Buffer whose memory can be imported by the device
// without a copy.
type Importable interface {
	Buffer
	NativeHandle() uintptr
}

// HostBuffer is a Buffer over plain byte slices, used by producers that
// render on the CPU.
type HostBuffer struct {
	desc   Desc
	planes []colorspace.Plane

	// OnRelease is called once from Release.
	OnRelease func()
	released  bool
}

// NewHostBuffer wraps planes as a buffer described by desc.
func NewHostBuffer(desc Desc, planes ...colorspace.Plane) *HostBuffer {
	return &HostBuffer{desc: desc, planes: planes}
}

func (b *HostBuffer) Desc() Desc {
	return b.desc
}

func (b *HostBuffer) Planes() ([]colorspace.Plane, error) {
	return b.planes, nil
}

func (b *HostBuffer) Release() {
	if b.released {
		return
	}
	b.released = true
	if b.OnRelease != nil {
		b.OnRelease()
	}
}

// Released reports whether Release has been called.
func (b *HostBuffer) Released() bool {
	return b.released
}
