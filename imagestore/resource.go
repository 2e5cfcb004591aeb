// Package imagestore owns single GPU images together with the layout they
// were last transitioned to.
package imagestore

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/videosink/gpu"
)

type Device interface {
	gpu.Images
	gpu.Memory
}

type Options struct {
	Extent        core1_0.Extent2D
	Format        core1_0.Format
	Tiling        core1_0.ImageTiling
	Usage         core1_0.ImageUsageFlags
	Flags         core1_0.ImageCreateFlags
	InitialLayout core1_0.ImageLayout
	// MemoryProperties are required of the backing allocation. Ignored for
	// external resources.
	MemoryProperties core1_0.MemoryPropertyFlags
}

// Resource is one image handle plus its current layout. Layout always
// reflects the last transition recorded through TransitionLayout.
type Resource struct {
	image    gpu.Image
	memory   gpu.DeviceMemory
	layout   core1_0.ImageLayout
	extent   core1_0.Extent2D
	format   core1_0.Format
	tiling   core1_0.ImageTiling
	external bool
}

// Create allocates an image and binds freshly allocated memory that
// satisfies opts.MemoryProperties.
func Create(device Device, memory gpu.MemoryTypeFinder, opts Options) (*Resource, error) {
	r, err := declare(device, opts, false)
	if err != nil {
		return nil, err
	}

	req := device.ImageMemoryRequirements(r.image)
	typeIndex, err := memory.FindMemoryType(req.MemoryTypeBits, opts.MemoryProperties)
	if err != nil {
		device.DestroyImage(r.image)
		return nil, err
	}

	mem, err := device.AllocateMemory(req.Size, typeIndex)
	if err != nil {
		device.DestroyImage(r.image)
		return nil, errors.Wrap(err, "allocate image memory")
	}

	if err := device.BindImageMemory(r.image, mem, 0); err != nil {
		device.FreeMemory(mem)
		device.DestroyImage(r.image)
		return nil, errors.Wrap(err, "bind image memory")
	}
	r.memory = mem
	return r, nil
}

// CreateExternal declares an image whose memory will be imported from a
// hardware buffer with AttachMemory.
func CreateExternal(device Device, opts Options) (*Resource, error) {
	return declare(device, opts, true)
}

func declare(device Device, opts Options, external bool) (*Resource, error) {
	image, err := device.CreateImage(gpu.ImageInfo{
		Extent:        opts.Extent,
		Format:        opts.Format,
		Tiling:        opts.Tiling,
		Usage:         opts.Usage,
		Flags:         opts.Flags,
		InitialLayout: opts.InitialLayout,
		External:      external,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %dx%d image", opts.Extent.Width, opts.Extent.Height)
	}

	return &Resource{
		image:    image,
		layout:   opts.InitialLayout,
		extent:   opts.Extent,
		format:   opts.Format,
		tiling:   opts.Tiling,
		external: external,
	}, nil
}

// AttachMemory hands ownership of memory bound to the image to r. Only the
// import allocation is owned; the hardware buffer behind it is not.
func (r *Resource) AttachMemory(memory gpu.DeviceMemory) {
	r.memory = memory
}

func (r *Resource) Image() gpu.Image {
	if r == nil {
		return 0
	}
	return r.image
}

func (r *Resource) Memory() gpu.DeviceMemory {
	return r.memory
}

func (r *Resource) Layout() core1_0.ImageLayout {
	return r.layout
}

func (r *Resource) Extent() core1_0.Extent2D {
	return r.extent
}

func (r *Resource) Format() core1_0.Format {
	return r.format
}

func (r *Resource) Tiling() core1_0.ImageTiling {
	return r.tiling
}

func (r *Resource) External() bool {
	return r.external
}

// TransitionLayout records a barrier from the current layout to layout on
// rec over the color aspect, which spans every plane of a multi-planar
// image. The tracked layout changes only once the barrier has been recorded.
func (r *Resource) TransitionLayout(rec gpu.Recorder, layout core1_0.ImageLayout, srcStage, dstStage core1_0.PipelineStageFlags) error {
	dstAccess := AccessFor(layout, false)
	if dstStage == core1_0.PipelineStageHost {
		// Host access after the barrier is ordered by the frame fence.
		dstAccess = 0
	}
	err := rec.PipelineBarrier(gpu.ImageBarrier{
		Image:     r.image,
		Aspect:    core1_0.ImageAspectColor,
		OldLayout: r.layout,
		NewLayout: layout,
		SrcStage:  srcStage,
		DstStage:  dstStage,
		SrcAccess: AccessFor(r.layout, true),
		DstAccess: dstAccess,
	})
	if err != nil {
		return errors.Wrapf(err, "transition %s -> %s", r.layout, layout)
	}

	r.layout = layout
	return nil
}

// ReleaseToHost moves the image to General for host writes once the
// commands recorded so far are done with it.
func (r *Resource) ReleaseToHost(rec gpu.Recorder) error {
	return r.TransitionLayout(rec, core1_0.ImageLayoutGeneral, StageFor(r.layout, true), core1_0.PipelineStageHost)
}

// Transition is TransitionLayout with stages picked from the layouts.
func (r *Resource) Transition(rec gpu.Recorder, layout core1_0.ImageLayout) error {
	return r.TransitionLayout(rec, layout, StageFor(r.layout, true), StageFor(layout, false))
}

// MapPlanes maps the resource memory for host access and returns, for each
// aspect, the bytes of that subresource together with its layout. Call
// Unmap when done.
func (r *Resource) MapPlanes(device Device, aspects ...core1_0.ImageAspectFlags) ([][]byte, []gpu.SubresourceLayout, error) {
	if r.memory == 0 {
		return nil, nil, errors.New("map of image without memory")
	}
	req := device.ImageMemoryRequirements(r.image)
	data, err := device.MapMemory(r.memory, 0, req.Size)
	if err != nil {
		return nil, nil, errors.Wrap(err, "map image memory")
	}

	planes := make([][]byte, len(aspects))
	layouts := make([]gpu.SubresourceLayout, len(aspects))
	for i, aspect := range aspects {
		layout := device.ImageSubresourceLayout(r.image, aspect)
		if layout.Offset+layout.Size > len(data) {
			device.UnmapMemory(r.memory)
			return nil, nil, errors.Newf("plane %d exceeds image memory", i)
		}
		planes[i] = data[layout.Offset : layout.Offset+layout.Size]
		layouts[i] = layout
	}
	return planes, layouts, nil
}

func (r *Resource) Unmap(device Device) {
	device.UnmapMemory(r.memory)
}

// Teardown destroys the image and frees owned memory. The caller must make
// sure no submitted command buffer still references the image. Teardown of
// a nil or already torn down resource does nothing.
func (r *Resource) Teardown(device Device) {
	if r == nil {
		return
	}
	if r.image != 0 {
		device.DestroyImage(r.image)
		r.image = 0
	}
	if r.memory != 0 {
		device.FreeMemory(r.memory)
		r.memory = 0
	}
	r.layout = core1_0.ImageLayoutUndefined
}

// AccessFor returns the access mask used on one side of a barrier for
// layout.
func AccessFor(layout core1_0.ImageLayout, source bool) core1_0.AccessFlags {
	switch layout {
	case core1_0.ImageLayoutTransferDstOptimal:
		return core1_0.AccessTransferWrite
	case core1_0.ImageLayoutTransferSrcOptimal:
		return core1_0.AccessTransferRead
	case core1_0.ImageLayoutShaderReadOnlyOptimal:
		return core1_0.AccessShaderRead
	case core1_0.ImageLayoutGeneral:
		if source {
			return core1_0.AccessHostWrite
		}
		return core1_0.AccessShaderRead
	case core1_0.ImageLayoutPreInitialized:
		return core1_0.AccessHostWrite
	case core1_0.ImageLayoutColorAttachmentOptimal:
		return core1_0.AccessColorAttachmentWrite
	case khr_swapchain.ImageLayoutPresentSrc:
		return core1_0.AccessMemoryRead
	}
	return 0
}

// StageFor returns the pipeline stage that touches an image in layout.
func StageFor(layout core1_0.ImageLayout, source bool) core1_0.PipelineStageFlags {
	switch layout {
	case core1_0.ImageLayoutUndefined:
		return core1_0.PipelineStageTopOfPipe
	case core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal:
		return core1_0.PipelineStageTransfer
	case core1_0.ImageLayoutShaderReadOnlyOptimal:
		return core1_0.PipelineStageFragmentShader
	case core1_0.ImageLayoutGeneral:
		if source {
			return core1_0.PipelineStageHost
		}
		return core1_0.PipelineStageFragmentShader
	case core1_0.ImageLayoutPreInitialized:
		return core1_0.PipelineStageHost
	case core1_0.ImageLayoutColorAttachmentOptimal:
		return core1_0.PipelineStageColorAttachmentOutput
	case khr_swapchain.ImageLayoutPresentSrc:
		return core1_0.PipelineStageBottomOfPipe
	}
	return core1_0.PipelineStageTopOfPipe
}
