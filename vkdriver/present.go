package vkdriver

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpuerr"
)

type swapchainEntry struct {
	swapchain khr_swapchain.Swapchain
	images    []gpu.Image
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphore, res, err := d.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err := check("create semaphore", res, err); err != nil {
		return 0, err
	}
	return d.semaphores.put(semaphore), nil
}

func (d *Device) DestroySemaphore(handle gpu.Semaphore) {
	if semaphore, ok := d.semaphores.take(handle); ok {
		d.driver.DestroySemaphore(semaphore, nil)
	}
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}
	fence, res, err := d.driver.CreateFence(nil, info)
	if err := check("create fence", res, err); err != nil {
		return 0, err
	}
	return d.fences.put(fence), nil
}

func (d *Device) DestroyFence(handle gpu.Fence) {
	if fence, ok := d.fences.take(handle); ok {
		d.driver.DestroyFence(fence, nil)
	}
}

func (d *Device) fence(handle gpu.Fence) (core1_0.Fence, error) {
	fence, ok := d.fences.get(handle)
	if !ok {
		return core1_0.Fence{}, errors.Newf("unknown fence %d", handle)
	}
	return fence, nil
}

func (d *Device) WaitForFence(handle gpu.Fence, timeout time.Duration) error {
	fence, err := d.fence(handle)
	if err != nil {
		return err
	}
	res, err := d.driver.WaitForFences(true, timeout, fence)
	if res == core1_0.VKTimeout {
		return gpuerr.Timeout("wait for fence")
	}
	return check("wait for fence", res, err)
}

func (d *Device) FenceSignaled(handle gpu.Fence) (bool, error) {
	fence, err := d.fence(handle)
	if err != nil {
		return false, err
	}
	res, err := d.driver.GetFenceStatus(fence)
	if res == core1_0.VKNotReady {
		return false, nil
	}
	if err := check("get fence status", res, err); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Device) ResetFence(handle gpu.Fence) error {
	fence, err := d.fence(handle)
	if err != nil {
		return err
	}
	res, err := d.driver.ResetFences(fence)
	return check("reset fence", res, err)
}

func (d *Device) CreateSwapchain(info gpu.SwapchainInfo) (gpu.Swapchain, []gpu.Image, error) {
	if d.swapchainExt == nil {
		return 0, nil, errors.Newf("%s not enabled", khr_swapchain.ExtensionName)
	}
	surface, err := d.physical.instance.surface(info.Surface)
	if err != nil {
		return 0, nil, err
	}

	create := khr_swapchain.SwapchainCreateInfo{
		Surface:          surface,
		MinImageCount:    info.MinImageCount,
		ImageFormat:      info.Format.Format,
		ImageColorSpace:  info.Format.ColorSpace,
		ImageExtent:      info.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,
		ImageSharingMode: core1_0.SharingModeExclusive,
		PreTransform:     info.Transform,
		CompositeAlpha:   khr_surface.CompositeAlphaOpaque,
		PresentMode:      info.PresentMode,
		Clipped:          true,
	}
	if info.Old != 0 {
		if old, ok := d.swapchains.get(info.Old); ok {
			create.OldSwapchain = old.swapchain
		}
	}

	swapchain, res, err := d.swapchainExt.CreateSwapchain(nil, create)
	if err := check("create swapchain", res, err); err != nil {
		return 0, nil, err
	}
	images, res, err := d.swapchainExt.GetSwapchainImages(swapchain)
	if err := check("get swapchain images", res, err); err != nil {
		d.swapchainExt.DestroySwapchain(swapchain, nil)
		return 0, nil, err
	}

	entry := swapchainEntry{swapchain: swapchain, images: make([]gpu.Image, len(images))}
	for i, image := range images {
		entry.images[i] = d.images.put(imageEntry{image: image, swapchain: true})
	}
	return d.swapchains.put(entry), entry.images, nil
}

func (d *Device) DestroySwapchain(handle gpu.Swapchain) {
	entry, ok := d.swapchains.take(handle)
	if !ok {
		return
	}
	for _, image := range entry.images {
		d.images.take(image)
	}
	d.swapchainExt.DestroySwapchain(entry.swapchain, nil)
}

func (d *Device) AcquireNextImage(handle gpu.Swapchain, timeout time.Duration, signal gpu.Semaphore) (int, error) {
	entry, ok := d.swapchains.get(handle)
	if !ok {
		return 0, errors.Newf("unknown swapchain %d", handle)
	}
	semaphore, ok := d.semaphores.get(signal)
	if !ok {
		return 0, errors.Newf("unknown semaphore %d", signal)
	}
	index, res, err := d.swapchainExt.AcquireNextImage(entry.swapchain, timeout, &semaphore, nil)
	if err := presentResult("acquire next image", res, err, false); err != nil {
		return 0, err
	}
	return index, nil
}

// Submit queues one batch. A batch without a command buffer only waits and
// signals.
func (d *Device) Submit(info gpu.SubmitInfo) error {
	var submit core1_0.SubmitInfo
	if info.CommandBuffer != 0 {
		buffer, err := d.commandBuffer(info.CommandBuffer)
		if err != nil {
			return err
		}
		submit.CommandBuffers = []core1_0.CommandBuffer{buffer}
	}
	if wait, ok := d.semaphores.get(info.Wait); ok {
		submit.WaitSemaphores = []core1_0.Semaphore{wait}
		submit.WaitDstStageMask = []core1_0.PipelineStageFlags{info.WaitStage}
	}
	if signal, ok := d.semaphores.get(info.Signal); ok {
		submit.SignalSemaphores = []core1_0.Semaphore{signal}
	}

	var fence *core1_0.Fence
	if f, ok := d.fences.get(info.Fence); ok {
		fence = &f
	}
	res, err := d.driver.QueueSubmit(d.queue, fence, submit)
	return check("submit", res, err)
}

func (d *Device) Present(info gpu.PresentInfo) error {
	entry, ok := d.swapchains.get(info.Swapchain)
	if !ok {
		return errors.Newf("unknown swapchain %d", info.Swapchain)
	}
	present := khr_swapchain.PresentInfo{
		Swapchains:   []khr_swapchain.Swapchain{entry.swapchain},
		ImageIndices: []int{info.Index},
	}
	if wait, ok := d.semaphores.get(info.Wait); ok {
		present.WaitSemaphores = []core1_0.Semaphore{wait}
	}
	res, err := d.swapchainExt.QueuePresent(d.queue, present)
	return presentResult("present", res, err, true)
}
