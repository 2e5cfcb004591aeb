package vkdriver

import (
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/gpu"
)

type imageEntry struct {
	image core1_0.Image
	// Swapchain images belong to their swapchain and are never destroyed
	// individually.
	swapchain bool
}

// Device owns one logical device and its single queue. Every object it
// creates is addressed by an opaque handle from one of its tables.
type Device struct {
	logger   *slog.Logger
	physical *PhysicalDevice
	driver   core1_0.CoreDeviceDriver
	queue    core1_0.Queue

	swapchainExt khr_swapchain.ExtensionDriver
	external     *externalMemory

	images       table[gpu.Image, imageEntry]
	memory       table[gpu.DeviceMemory, core1_0.DeviceMemory]
	views        table[gpu.ImageView, core1_0.ImageView]
	samplers     table[gpu.Sampler, core1_0.Sampler]
	shaders      table[gpu.ShaderModule, core1_0.ShaderModule]
	pools        table[gpu.CommandPool, core1_0.CommandPool]
	buffers      table[gpu.CommandBuffer, core1_0.CommandBuffer]
	semaphores   table[gpu.Semaphore, core1_0.Semaphore]
	fences       table[gpu.Fence, core1_0.Fence]
	swapchains   table[gpu.Swapchain, swapchainEntry]
	renderPasses table[gpu.RenderPass, core1_0.RenderPass]
	framebuffers table[gpu.Framebuffer, core1_0.Framebuffer]
	pipelines    table[gpu.Pipeline, *pipeline]
	sets         table[gpu.DescriptorSet, descriptorSet]
}

var _ gpu.Device = (*Device)(nil)

func newDevice(physical *PhysicalDevice, driver core1_0.CoreDeviceDriver, info gpu.DeviceInfo) *Device {
	d := &Device{
		logger:   physical.instance.logger,
		physical: physical,
		driver:   driver,
		queue:    driver.GetQueue(info.QueueFamily, 0),
	}
	if slices.Contains(info.Extensions, khr_swapchain.ExtensionName) {
		d.swapchainExt = khr_swapchain.CreateExtensionDriverFromCoreDriver(driver)
	}
	if platform := physical.instance.platform; platform != nil {
		d.external = &externalMemory{device: d, platform: platform}
	}
	return d
}

func (d *Device) ExternalMemory() (gpu.ExternalMemory, bool) {
	if d.external == nil {
		return nil, false
	}
	return d.external, true
}

func (d *Device) WaitIdle() error {
	res, err := d.driver.DeviceWaitIdle()
	return check("wait for device idle", res, err)
}

// Destroy tears down the logical device. Objects still in the tables are
// reported, since they indicate a missed release.
func (d *Device) Destroy() {
	if n := d.images.len() + d.memory.len() + d.views.len(); n > 0 {
		d.logger.Warn("destroying device with live resources", slog.Int("count", n))
	}
	d.driver.DestroyDevice(nil)
}

func (d *Device) image(handle gpu.Image) (core1_0.Image, error) {
	entry, ok := d.images.get(handle)
	if !ok {
		return core1_0.Image{}, errors.Newf("unknown image %d", handle)
	}
	return entry.image, nil
}

func (d *Device) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	create := core1_0.ImageCreateInfo{
		ImageType:     core1_0.ImageType2D,
		Extent:        core1_0.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        info.Format,
		Tiling:        info.Tiling,
		InitialLayout: info.InitialLayout,
		Usage:         info.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
		Flags:         info.Flags,
	}
	if info.External {
		if d.external == nil {
			return 0, errors.New("external images need a hardware buffer platform")
		}
		create.Next = d.external.platform.ImageInfo()
	}

	image, res, err := d.driver.CreateImage(nil, create)
	if err := check("create image", res, err); err != nil {
		return 0, err
	}
	return d.images.put(imageEntry{image: image}), nil
}

func (d *Device) DestroyImage(handle gpu.Image) {
	entry, ok := d.images.take(handle)
	if !ok || entry.swapchain {
		return
	}
	d.driver.DestroyImage(entry.image, nil)
}

func (d *Device) ImageMemoryRequirements(handle gpu.Image) gpu.MemoryRequirements {
	image, err := d.image(handle)
	if err != nil {
		return gpu.MemoryRequirements{}
	}
	reqs := d.driver.GetImageMemoryRequirements(image)
	return gpu.MemoryRequirements{Size: reqs.Size, MemoryTypeBits: reqs.MemoryTypeBits}
}

func (d *Device) ImageSubresourceLayout(handle gpu.Image, aspect core1_0.ImageAspectFlags) gpu.SubresourceLayout {
	image, err := d.image(handle)
	if err != nil {
		return gpu.SubresourceLayout{}
	}
	layout := d.driver.GetImageSubresourceLayout(image, &core1_0.ImageSubresource{AspectMask: aspect})
	return gpu.SubresourceLayout{
		Offset:   layout.Offset,
		Size:     layout.Size,
		RowPitch: layout.RowPitch,
	}
}

func (d *Device) AllocateMemory(size int, memoryTypeIndex int) (gpu.DeviceMemory, error) {
	memory, res, err := d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err := check("allocate memory", res, err); err != nil {
		return 0, err
	}
	return d.memory.put(memory), nil
}

func (d *Device) FreeMemory(handle gpu.DeviceMemory) {
	if memory, ok := d.memory.take(handle); ok {
		d.driver.FreeMemory(memory, nil)
	}
}

func (d *Device) BindImageMemory(image gpu.Image, memory gpu.DeviceMemory, offset int) error {
	img, err := d.image(image)
	if err != nil {
		return err
	}
	mem, ok := d.memory.get(memory)
	if !ok {
		return errors.Newf("unknown memory %d", memory)
	}
	res, err := d.driver.BindImageMemory(img, mem, offset)
	return check("bind image memory", res, err)
}

func (d *Device) MapMemory(handle gpu.DeviceMemory, offset int, size int) ([]byte, error) {
	memory, ok := d.memory.get(handle)
	if !ok {
		return nil, errors.Newf("unknown memory %d", handle)
	}
	ptr, res, err := d.driver.MapMemory(memory, offset, size, 0)
	if err := check("map memory", res, err); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (d *Device) UnmapMemory(handle gpu.DeviceMemory) {
	if memory, ok := d.memory.get(handle); ok {
		d.driver.UnmapMemory(memory)
	}
}

func (d *Device) CreateImageView(info gpu.ViewInfo) (gpu.ImageView, error) {
	image, err := d.image(info.Image)
	if err != nil {
		return 0, err
	}
	view, res, err := d.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   info.Format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask: info.Aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	})
	if err := check("create image view", res, err); err != nil {
		return 0, err
	}
	return d.views.put(view), nil
}

func (d *Device) DestroyImageView(handle gpu.ImageView) {
	if view, ok := d.views.take(handle); ok {
		d.driver.DestroyImageView(view, nil)
	}
}

func (d *Device) CreateSampler(info gpu.SamplerInfo) (gpu.Sampler, error) {
	sampler, res, err := d.driver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    info.Filter,
		MinFilter:    info.Filter,
		AddressModeU: core1_0.SamplerAddressModeClampToEdge,
		AddressModeV: core1_0.SamplerAddressModeClampToEdge,
		AddressModeW: core1_0.SamplerAddressModeClampToEdge,
		BorderColor:  core1_0.BorderColorFloatOpaqueBlack,
		MipmapMode:   core1_0.SamplerMipmapModeNearest,
	})
	if err := check("create sampler", res, err); err != nil {
		return 0, err
	}
	return d.samplers.put(sampler), nil
}

func (d *Device) DestroySampler(handle gpu.Sampler) {
	if sampler, ok := d.samplers.take(handle); ok {
		d.driver.DestroySampler(sampler, nil)
	}
}
