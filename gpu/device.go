package gpu

import (
	"time"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Runtime is the loaded graphics runtime before an instance exists.
type Runtime interface {
	// Load resolves the runtime entry points. It is safe to call repeatedly.
	Load() error
	InstanceExtensions() (map[string]bool, error)
	InstanceLayers() (map[string]bool, error)
	CreateInstance(info InstanceInfo) (Instance, error)
}

type InstanceInfo struct {
	ApplicationName string
	Extensions      []string
	Layers          []string
	Flags           core1_0.InstanceCreateFlags
	Next            common.Options
}

// SurfaceSource produces a presentable surface for an instance. Backends
// type-assert it to their own native surface interface.
type SurfaceSource interface {
	DrawableSize() (int, int)
}

type Instance interface {
	PhysicalDevices() ([]PhysicalDevice, error)
	CreateSurface(source SurfaceSource) (Surface, error)
	DestroySurface(surface Surface)
	Destroy()
}

type DeviceInfo struct {
	QueueFamily   int
	QueuePriority float32
	Extensions    []string
	Next          common.Options
}

type PhysicalDevice interface {
	Properties() (DeviceProperties, error)
	QueueFamilies() []QueueFamily
	Extensions() (map[string]bool, error)
	MemoryTypes() []MemoryType
	FormatProperties(format core1_0.Format) FormatProperties
	SurfaceSupport(surface Surface, queueFamily int) (bool, error)
	SurfaceInfo(surface Surface) (SurfaceInfo, error)
	CreateDevice(info DeviceInfo) (Device, error)
}

type Images interface {
	CreateImage(info ImageInfo) (Image, error)
	DestroyImage(image Image)
	ImageMemoryRequirements(image Image) MemoryRequirements
	ImageSubresourceLayout(image Image, aspect core1_0.ImageAspectFlags) SubresourceLayout
}

type Memory interface {
	AllocateMemory(size int, memoryTypeIndex int) (DeviceMemory, error)
	FreeMemory(memory DeviceMemory)
	BindImageMemory(image Image, memory DeviceMemory, offset int) error
	MapMemory(memory DeviceMemory, offset int, size int) ([]byte, error)
	UnmapMemory(memory DeviceMemory)
}

// ExternalMemory imports producer-owned hardware buffers.
type ExternalMemory interface {
	ExternalBufferProperties(handle uintptr) (MemoryRequirements, error)
	// ImportExternalBuffer performs a dedicated allocation for image chained
	// with the import descriptor for handle. The returned memory is not yet
	// bound.
	ImportExternalBuffer(image Image, handle uintptr, requirements MemoryRequirements, memoryTypeIndex int) (DeviceMemory, error)
}

type Views interface {
	CreateImageView(info ViewInfo) (ImageView, error)
	DestroyImageView(view ImageView)
	CreateSampler(info SamplerInfo) (Sampler, error)
	DestroySampler(sampler Sampler)
}

type Commands interface {
	CreateCommandPool(queueFamily int) (CommandPool, error)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, error)
	FreeCommandBuffers(pool CommandPool, buffers ...CommandBuffer)
	BeginCommandBuffer(buffer CommandBuffer) error
	EndCommandBuffer(buffer CommandBuffer) error
	ResetCommandBuffer(buffer CommandBuffer) error
	Recorder(buffer CommandBuffer) CommandRecorder
}

type Sync interface {
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	// WaitForFence returns an error marked gpuerr.ErrTimeout when timeout
	// elapses first.
	WaitForFence(fence Fence, timeout time.Duration) error
	FenceSignaled(fence Fence) (bool, error)
	ResetFence(fence Fence) error
}

type Presentation interface {
	CreateSwapchain(info SwapchainInfo) (Swapchain, []Image, error)
	DestroySwapchain(swapchain Swapchain)
	// AcquireNextImage returns gpuerr.ErrSurfaceInvalidated when the surface
	// went out of date and gpuerr.ErrTimeout when timeout elapses.
	AcquireNextImage(swapchain Swapchain, timeout time.Duration, signal Semaphore) (int, error)
	Submit(info SubmitInfo) error
	// Present returns gpuerr.ErrSurfaceInvalidated for out-of-date and
	// suboptimal results.
	Present(info PresentInfo) error
}

type Pipelines interface {
	CreateShaderModule(code []byte) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)
	CreateRenderPass(format core1_0.Format) (RenderPass, error)
	DestroyRenderPass(renderPass RenderPass)
	CreateFramebuffer(renderPass RenderPass, view ImageView, extent core1_0.Extent2D) (Framebuffer, error)
	DestroyFramebuffer(framebuffer Framebuffer)
	CreatePipeline(spec PipelineSpec) (Pipeline, error)
	// DestroyPipeline also releases the pipeline layout, descriptor layout
	// and every descriptor set allocated for the pipeline.
	DestroyPipeline(pipeline Pipeline)
	AllocateDescriptorSet(pipeline Pipeline) (DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, images []DescriptorImage) error
}

type Device interface {
	Images
	Memory
	Views
	Commands
	Sync
	Presentation
	Pipelines

	// ExternalMemory reports whether hardware buffers can be imported.
	ExternalMemory() (ExternalMemory, bool)
	WaitIdle() error
	Destroy()
}

// Recorder records transfer work into a command stream.
type Recorder interface {
	PipelineBarrier(barrier ImageBarrier) error
	CopyImage(src Image, srcLayout core1_0.ImageLayout, dst Image, dstLayout core1_0.ImageLayout, regions ...CopyRegion) error
}

// CommandRecorder records a full frame.
type CommandRecorder interface {
	Recorder
	BeginRenderPass(begin RenderPassBegin) error
	BindPipeline(pipeline Pipeline)
	BindDescriptorSet(pipeline Pipeline, set DescriptorSet)
	SetViewport(viewport core1_0.Viewport)
	SetScissor(scissor core1_0.Rect2D)
	PushConstants(pipeline Pipeline, data []byte)
	Draw(vertexCount int)
	EndRenderPass()
}

// MemoryTypeFinder selects a memory type index for an allocation.
type MemoryTypeFinder interface {
	FindMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error)
}
