// Package gpu declares the device surface the renderer core is written
// against. The vkdriver package implements it on top of vkngwrapper; the
// gputest package implements it in memory for tests.
package gpu

import (
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// Handles are opaque identifiers issued by the device. The zero value is
// the null handle.
type (
	Image         uint64
	DeviceMemory  uint64
	ImageView     uint64
	Sampler       uint64
	ShaderModule  uint64
	CommandPool   uint64
	CommandBuffer uint64
	Semaphore     uint64
	Fence         uint64
	Swapchain     uint64
	Surface       uint64
	RenderPass    uint64
	Framebuffer   uint64
	Pipeline      uint64
	DescriptorSet uint64
)

// Format values the core references that have no named constant in
// core1_0.
const (
	FormatR5G6B5UnormPack16    core1_0.Format = 4
	FormatR8Unorm              core1_0.Format = 9
	FormatR8G8B8A8Unorm        core1_0.Format = 37
	FormatG8B8R83Plane420Unorm core1_0.Format = 1000156002
)

const (
	ImageAspectPlane0 core1_0.ImageAspectFlags = 0x00000010
	ImageAspectPlane1 core1_0.ImageAspectFlags = 0x00000020
	ImageAspectPlane2 core1_0.ImageAspectFlags = 0x00000040
)

// ImageCreateMutableFormat allows per-plane views with a format other than
// the image format.
const ImageCreateMutableFormat core1_0.ImageCreateFlags = 0x00000008

// FilterCubic is VK_FILTER_CUBIC_EXT.
const FilterCubic core1_0.Filter = 1000015000

type ImageInfo struct {
	Extent        core1_0.Extent2D
	Format        core1_0.Format
	Tiling        core1_0.ImageTiling
	Usage         core1_0.ImageUsageFlags
	Flags         core1_0.ImageCreateFlags
	InitialLayout core1_0.ImageLayout
	// External marks the image as the target of an imported hardware buffer.
	External bool
}

type MemoryRequirements struct {
	Size           int
	MemoryTypeBits uint32
}

type SubresourceLayout struct {
	Offset   int
	Size     int
	RowPitch int
}

type MemoryType struct {
	PropertyFlags core1_0.MemoryPropertyFlags
	HeapIndex     int
}

type QueueFamily struct {
	Flags      core1_0.QueueFlags
	QueueCount int
}

type FormatProperties struct {
	LinearTilingFeatures  core1_0.FormatFeatureFlags
	OptimalTilingFeatures core1_0.FormatFeatureFlags
}

// ImageBarrier is a layout transition over the full color aspect (or the
// given aspect), first mip level and first array layer.
type ImageBarrier struct {
	Image     Image
	Aspect    core1_0.ImageAspectFlags
	OldLayout core1_0.ImageLayout
	NewLayout core1_0.ImageLayout
	SrcStage  core1_0.PipelineStageFlags
	DstStage  core1_0.PipelineStageFlags
	SrcAccess core1_0.AccessFlags
	DstAccess core1_0.AccessFlags
}

type CopyRegion struct {
	Aspect core1_0.ImageAspectFlags
	Extent core1_0.Extent2D
}

type ViewInfo struct {
	Image  Image
	Format core1_0.Format
	Aspect core1_0.ImageAspectFlags
}

type SamplerInfo struct {
	Filter core1_0.Filter
}

type DescriptorImage struct {
	View    ImageView
	Sampler Sampler
	Layout  core1_0.ImageLayout
}

type PipelineSpec struct {
	RenderPass RenderPass
	Vertex     ShaderModule
	Fragment   ShaderModule
	// ImageBindings is the number of combined image samplers bound at set 0.
	ImageBindings    int
	PushConstantSize int
	MaxSets          int
}

type RenderPassBegin struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Extent      core1_0.Extent2D
	ClearColor  [4]float32
}

type SurfaceInfo struct {
	// CurrentExtent has a width of -1 when the surface size is determined by
	// the swapchain.
	CurrentExtent    core1_0.Extent2D
	MinExtent        core1_0.Extent2D
	MaxExtent        core1_0.Extent2D
	MinImageCount    int
	MaxImageCount    int
	CurrentTransform khr_surface.SurfaceTransformFlags
	Formats          []khr_surface.SurfaceFormat
	PresentModes     []khr_surface.PresentMode
}

type SwapchainInfo struct {
	Surface       Surface
	MinImageCount int
	Format        khr_surface.SurfaceFormat
	Extent        core1_0.Extent2D
	Transform     khr_surface.SurfaceTransformFlags
	PresentMode   khr_surface.PresentMode
	Old           Swapchain
}

type SubmitInfo struct {
	// CommandBuffer may be zero for a batch that only waits and signals.
	CommandBuffer CommandBuffer
	Wait          Semaphore
	WaitStage     core1_0.PipelineStageFlags
	Signal        Semaphore
	Fence         Fence
}

type PresentInfo struct {
	Swapchain Swapchain
	Index     int
	Wait      Semaphore
}

// DeviceType follows the VkPhysicalDeviceType ordering.
type DeviceType int

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegratedGPU
	DeviceTypeDiscreteGPU
	DeviceTypeVirtualGPU
	DeviceTypeCPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeIntegratedGPU:
		return "integrated_gpu"
	case DeviceTypeDiscreteGPU:
		return "discrete_gpu"
	case DeviceTypeVirtualGPU:
		return "virtual_gpu"
	default:
		return "other"
	}
}

type DeviceProperties struct {
	Name              string
	Type              DeviceType
	APIVersion        uint32
	DriverVersion     uint32
	VendorID          uint32
	DeviceID          uint32
	PipelineCacheUUID uuid.UUID
}
