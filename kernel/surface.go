package kernel

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/hwbuffer"
	"github.com/vkngwrapper/videosink/texture"
)

// SetUp creates the surface for source, selects and creates the device if
// that has not happened yet, and builds the swapchain, pipeline and frame
// queue. Textures declared before SetUp are created at the end.
func (k *Kernel) SetUp(source gpu.SurfaceSource) error {
	if err := k.Initialize(); err != nil {
		return err
	}
	if !k.Available() {
		return nil
	}
	if k.surface != 0 {
		return errors.New("surface already set up")
	}

	surface, err := k.instance.CreateSurface(source)
	if err != nil {
		return errors.Wrap(err, "create surface")
	}
	k.surface = surface
	k.surfaceSource = source

	if err := k.CreateLogicalDevice(); err != nil {
		return err
	}
	if err := k.createSwapchain(); err != nil {
		return err
	}

	if k.pending != nil {
		specs := k.pending
		k.pending = nil
		return k.SetTextures(specs)
	}
	return nil
}

// SetTextures replaces every texture with one per spec. Before SetUp the
// specs are kept and applied once the device exists.
func (k *Kernel) SetTextures(specs []texture.Spec) error {
	if !k.Available() {
		return nil
	}
	if k.device == nil || k.swapchain == 0 {
		k.pending = append([]texture.Spec(nil), specs...)
		return nil
	}

	if err := k.queue.WaitIdle(); err != nil {
		return err
	}
	// Pending transitions target the textures about to be destroyed.
	k.deferred.Reset()
	k.releases.Drain()
	k.destroyTextures()

	ctx := textureContext{k}
	for i, spec := range specs {
		tex := texture.New(i, spec, k.logger)
		tex.SetVideoGravity(k.config.Gravity)
		tex.SetImageOrientation(k.orientation)
		if err := tex.SetResampleFilter(ctx, k.config.Filter); err != nil {
			return err
		}
		if err := tex.SetUp(ctx); err != nil {
			return errors.Wrapf(err, "set up texture %d", i)
		}
		k.textures = append(k.textures, tex)
		k.slotsMu.Lock()
		k.slots = append(k.slots, &hwbuffer.Slot{})
		k.slotsMu.Unlock()
	}

	// Descriptor pools are sized by texture count.
	k.destroyPipeline()
	if err := k.createPipeline(); err != nil {
		return err
	}
	k.logger.Info("textures configured", slog.Int("count", len(k.textures)))
	return nil
}

func (k *Kernel) destroyTextures() {
	k.slotsMu.Lock()
	slots := k.slots
	k.slots = nil
	k.slotsMu.Unlock()
	for _, slot := range slots {
		slot.Close()
	}
	for _, tex := range k.textures {
		tex.Teardown(k.device)
	}
	k.textures = nil
}

// UpdateTexture absorbs buf into texture index on the render thread,
// bypassing the published slot.
func (k *Kernel) UpdateTexture(index int, buf hwbuffer.Buffer) error {
	if !k.Available() || index < 0 || index >= len(k.textures) {
		buf.Release()
		return nil
	}
	return k.textures[index].Update(textureContext{k}, buf)
}

// SetSurfaceRotation rotates every texture by angle degrees, a multiple of
// 90, and rebuilds the swapchain before the next frame.
func (k *Kernel) SetSurfaceRotation(angle int) error {
	if !k.Available() {
		return nil
	}
	orientation, err := texture.OrientationFromAngle(angle)
	if err != nil {
		return err
	}
	k.SetImageOrientation(orientation)
	k.rebuild = k.swapchain != 0
	return nil
}

// InvalidateSurface flags the swapchain for rebuild on the next DrawFrame.
// Window systems that resize without invalidating the surface need it.
func (k *Kernel) InvalidateSurface() {
	k.rebuild = k.swapchain != 0
}

func (k *Kernel) SetImageOrientation(orientation texture.Orientation) {
	k.orientation = orientation
	for _, tex := range k.textures {
		tex.SetImageOrientation(orientation)
	}
}

func (k *Kernel) SetVideoGravity(gravity texture.Gravity) {
	k.config.Gravity = gravity
	for _, tex := range k.textures {
		tex.SetVideoGravity(gravity)
	}
}

func (k *Kernel) SetResampleFilter(filter texture.Filter) error {
	k.config.Filter = filter
	ctx := textureContext{k}
	for _, tex := range k.textures {
		if err := tex.SetResampleFilter(ctx, filter); err != nil {
			return err
		}
	}
	return nil
}

// TearDown waits for the device to go idle and destroys everything in
// reverse order of creation. It is safe to call at any point, including
// before SetUp and when the runtime is unavailable.
func (k *Kernel) TearDown() error {
	var idleErr error
	if k.queue != nil {
		idleErr = k.queue.WaitIdle()
	} else if k.device != nil {
		idleErr = k.device.WaitIdle()
	}
	if idleErr != nil {
		k.logger.Warn("wait idle before teardown failed", slog.Any("error", idleErr))
	}
	k.releases.Drain()
	k.deferred.Reset()

	if k.device != nil {
		k.destroyTextures()
		k.destroySwapchainState()
		if k.vertex != 0 {
			k.device.DestroyShaderModule(k.vertex)
			k.device.DestroyShaderModule(k.fragment)
			k.vertex, k.fragment = 0, 0
		}
		if k.pool != 0 {
			k.device.DestroyCommandPool(k.pool)
			k.pool = 0
		}
		if k.queue != nil {
			k.queue.Destroy()
			k.queue = nil
		}
		if k.swapchain != 0 {
			k.device.DestroySwapchain(k.swapchain)
			k.swapchain = 0
		}
		k.device.Destroy()
		k.device = nil
		k.enabled = nil
	}
	if k.instance != nil {
		if k.surface != 0 {
			k.instance.DestroySurface(k.surface)
			k.surface = 0
			k.surfaceSource = nil
		}
		k.instance.Destroy()
		k.instance = nil
	}

	k.physical = nil
	k.physicalIndex = -1
	k.memoryTypes = nil
	k.pending = nil
	k.rebuild = false
	return idleErr
}
