package kernel

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/framequeue"
	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/texture"
)

func chooseSurfaceFormat(formats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range formats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []khr_surface.PresentMode, preferred khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range modes {
		if mode == preferred {
			return mode
		}
	}
	return khr_surface.PresentModeFIFO
}

func chooseExtent(info gpu.SurfaceInfo, source gpu.SurfaceSource) core1_0.Extent2D {
	if info.CurrentExtent.Width != -1 {
		return info.CurrentExtent
	}

	width, height := source.DrawableSize()
	width = min(max(width, info.MinExtent.Width), info.MaxExtent.Width)
	height = min(max(height, info.MinExtent.Height), info.MaxExtent.Height)
	return core1_0.Extent2D{Width: width, Height: height}
}

// createSwapchain builds the swapchain and everything sized by it: image
// views, render pass, framebuffers, pipeline, command buffers, descriptor
// sets and the frame queue sync objects.
func (k *Kernel) createSwapchain() error {
	info, err := k.physical.SurfaceInfo(k.surface)
	if err != nil {
		return errors.Wrap(err, "query surface")
	}
	if len(info.Formats) == 0 {
		return errors.New("surface reports no formats")
	}

	format := chooseSurfaceFormat(info.Formats)
	imageCount := info.MinImageCount + 1
	if info.MaxImageCount > 0 && imageCount > info.MaxImageCount {
		imageCount = info.MaxImageCount
	}

	extent := chooseExtent(info, k.surfaceSource)
	old := k.swapchain
	swapchain, images, err := k.device.CreateSwapchain(gpu.SwapchainInfo{
		Surface:       k.surface,
		MinImageCount: imageCount,
		Format:        format,
		Extent:        extent,
		Transform:     info.CurrentTransform,
		PresentMode:   choosePresentMode(info.PresentModes, k.config.PresentMode),
		Old:           old,
	})
	if err != nil {
		return errors.Wrap(err, "create swapchain")
	}
	if old != 0 {
		k.device.DestroySwapchain(old)
	}
	k.swapchain = swapchain
	k.swapImages = images
	k.surfaceFormat = format
	k.extent = extent

	for _, img := range images {
		view, err := k.device.CreateImageView(gpu.ViewInfo{Image: img, Format: format.Format, Aspect: core1_0.ImageAspectColor})
		if err != nil {
			return errors.Wrap(err, "create swapchain image view")
		}
		k.swapViews = append(k.swapViews, view)
	}

	k.renderPass, err = k.device.CreateRenderPass(format.Format)
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}
	for _, view := range k.swapViews {
		fb, err := k.device.CreateFramebuffer(k.renderPass, view, k.extent)
		if err != nil {
			return errors.Wrap(err, "create framebuffer")
		}
		k.framebuffers = append(k.framebuffers, fb)
	}

	if k.queue == nil {
		k.queue = framequeue.New(k.device, k.config.AcquireTimeout, k.logger)
	}
	k.queue.SetSwapchain(swapchain)
	if err := k.queue.SetImagesCount(len(images)); err != nil {
		return err
	}

	if err := k.createPipeline(); err != nil {
		return err
	}
	if err := k.createCommandBuffers(); err != nil {
		return err
	}

	k.logger.Info("swapchain built",
		slog.Int("images", len(images)),
		slog.Int("width", k.extent.Width),
		slog.Int("height", k.extent.Height))
	return nil
}

func (k *Kernel) loadShaders() error {
	if k.vertex != 0 {
		return nil
	}
	vertex, err := k.LoadShaderModule(VertexShader)
	if err != nil {
		return err
	}
	fragment, err := k.LoadShaderModule(FragmentShader)
	if err != nil {
		k.device.DestroyShaderModule(vertex)
		return err
	}
	k.vertex, k.fragment = vertex, fragment
	return nil
}

// createPipeline builds the pipeline and one descriptor set per swapchain
// image and texture.
func (k *Kernel) createPipeline() error {
	if err := k.loadShaders(); err != nil {
		return err
	}

	pipeline, err := k.device.CreatePipeline(gpu.PipelineSpec{
		RenderPass:       k.renderPass,
		Vertex:           k.vertex,
		Fragment:         k.fragment,
		ImageBindings:    planeSlots,
		PushConstantSize: texture.PushConstantSize,
		MaxSets:          len(k.swapImages) * max(1, len(k.textures)),
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline")
	}
	k.pipeline = pipeline

	k.sets = make([][]gpu.DescriptorSet, len(k.swapImages))
	k.setVersions = make([][]uint64, len(k.swapImages))
	for i := range k.sets {
		k.sets[i] = make([]gpu.DescriptorSet, len(k.textures))
		k.setVersions[i] = make([]uint64, len(k.textures))
		for t := range k.textures {
			set, err := k.device.AllocateDescriptorSet(pipeline)
			if err != nil {
				return errors.Wrap(err, "allocate descriptor set")
			}
			k.sets[i][t] = set
		}
	}
	return nil
}

func (k *Kernel) destroyPipeline() {
	if k.pipeline != 0 {
		k.device.DestroyPipeline(k.pipeline)
		k.pipeline = 0
	}
	k.sets = nil
	k.setVersions = nil
}

func (k *Kernel) createCommandBuffers() error {
	if k.pool == 0 {
		pool, err := k.device.CreateCommandPool(k.queueFamily)
		if err != nil {
			return errors.Wrap(err, "create command pool")
		}
		k.pool = pool
	}

	buffers, err := k.device.AllocateCommandBuffers(k.pool, len(k.swapImages))
	if err != nil {
		return errors.Wrap(err, "allocate command buffers")
	}
	k.buffers = buffers
	return nil
}

// destroySwapchainState tears down everything createSwapchain built except
// the swapchain itself, which is handed to the next one as its
// predecessor. The device must be idle.
func (k *Kernel) destroySwapchainState() {
	if len(k.buffers) > 0 {
		k.device.FreeCommandBuffers(k.pool, k.buffers...)
		k.buffers = nil
	}
	k.destroyPipeline()
	for _, fb := range k.framebuffers {
		k.device.DestroyFramebuffer(fb)
	}
	k.framebuffers = nil
	if k.renderPass != 0 {
		k.device.DestroyRenderPass(k.renderPass)
		k.renderPass = 0
	}
	for _, view := range k.swapViews {
		k.device.DestroyImageView(view)
	}
	k.swapViews = nil
	k.swapImages = nil
}

// rebuildSwapchain recreates swapchain-dependent state after the surface
// was invalidated or rotated.
func (k *Kernel) rebuildSwapchain() error {
	if err := k.queue.WaitIdle(); err != nil {
		return err
	}
	k.releases.Collect(k.queue.Completed())
	k.destroySwapchainState()
	if err := k.createSwapchain(); err != nil {
		return errors.Wrap(err, "rebuild swapchain")
	}
	k.rebuild = false
	return nil
}
