package kernel

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/framequeue"
	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpuerr"
)

// FrameStatus is the outcome of one DrawFrame call.
type FrameStatus int

const (
	FramePresented FrameStatus = iota
	// FrameSkipped means nothing was drawn: the runtime is unavailable or
	// no surface is set up.
	FrameSkipped
	// FrameTimeout means no swapchain image became available in time. The
	// caller may simply try again.
	FrameTimeout
	// FrameRebuilt means the surface was invalidated and swapchain state
	// was rebuilt instead of drawing.
	FrameRebuilt
)

func (s FrameStatus) String() string {
	switch s {
	case FramePresented:
		return "presented"
	case FrameSkipped:
		return "skipped"
	case FrameTimeout:
		return "timeout"
	case FrameRebuilt:
		return "rebuilt"
	}
	return "unknown"
}

// DrawFrame absorbs published buffers, then acquires, records, submits and
// presents one frame. Texture transitions queued since the last frame are
// recorded ahead of the render pass on this frame's command buffer.
func (k *Kernel) DrawFrame() (FrameStatus, error) {
	if !k.Available() || k.device == nil || k.swapchain == 0 {
		return FrameSkipped, nil
	}
	if k.rebuild || k.queue.Stale() {
		if err := k.rebuildSwapchain(); err != nil {
			return FrameSkipped, err
		}
		return FrameRebuilt, nil
	}

	completed, err := k.queue.Collect()
	if err != nil {
		return FrameSkipped, err
	}
	k.releases.Collect(completed)

	if err := k.absorb(); err != nil {
		return FrameSkipped, err
	}

	index, err := k.queue.Acquire()
	switch {
	case errors.Is(err, gpuerr.ErrTimeout):
		k.logger.Debug("acquire timed out")
		return FrameTimeout, nil
	case errors.Is(err, gpuerr.ErrSurfaceInvalidated):
		return k.invalidated(err)
	case err != nil:
		return FrameSkipped, err
	}

	cb := k.buffers[index]
	if err := k.recordFrame(index, cb); err != nil {
		return FrameSkipped, k.abandon(index, errors.Wrapf(err, "record frame for image %d", index))
	}

	err = k.queue.Present(index, cb)
	if k.queue.State(index) == framequeue.StateAcquired {
		return FrameSkipped, k.abandon(index, err)
	}
	k.deferred.Reset()
	switch {
	case errors.Is(err, gpuerr.ErrSurfaceInvalidated):
		return k.invalidated(err)
	case err != nil:
		return FrameSkipped, err
	}
	return FramePresented, nil
}

// abandon recovers from a frame that failed between acquire and submit.
// Queued texture commands stay pending for the next frame, and the
// swapchain is rebuilt to reclaim the image.
func (k *Kernel) abandon(index int, cause error) error {
	if err := k.queue.Abandon(index); err != nil {
		k.logger.Error("abandon frame", slog.Int("image", index), slog.Any("error", err))
	}
	k.rebuild = true
	return cause
}

func (k *Kernel) invalidated(cause error) (FrameStatus, error) {
	k.logger.Warn("surface invalidated", slog.Any("error", cause))
	if err := k.rebuildSwapchain(); err != nil {
		return FrameSkipped, err
	}
	return FrameRebuilt, nil
}

// absorb moves every published buffer into its texture.
func (k *Kernel) absorb() error {
	for i, slot := range k.slots {
		buf := slot.Take()
		if buf == nil {
			continue
		}
		if err := k.textures[i].Update(textureContext{k}, buf); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) recordFrame(index int, cb gpu.CommandBuffer) error {
	if err := k.device.ResetCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "reset command buffer")
	}
	if err := k.device.BeginCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}

	rec := k.device.Recorder(cb)
	if err := k.deferred.Replay(rec); err != nil {
		return err
	}

	err := rec.BeginRenderPass(gpu.RenderPassBegin{
		RenderPass:  k.renderPass,
		Framebuffer: k.framebuffers[index],
		Extent:      k.extent,
		ClearColor:  k.config.ClearColor,
	})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}
	rec.BindPipeline(k.pipeline)
	rec.SetScissor(core1_0.Rect2D{Extent: k.extent})

	ctx := textureContext{k}
	for t, tex := range k.textures {
		if !tex.Ready() {
			continue
		}
		set := k.sets[index][t]
		if k.setVersions[index][t] != tex.Version() {
			if err := k.device.UpdateDescriptorSet(set, tex.Descriptors(planeSlots)); err != nil {
				return errors.Wrapf(err, "update descriptors of texture %d", t)
			}
			k.setVersions[index][t] = tex.Version()
		}

		push, err := tex.GetPushConstants().Bytes()
		if err != nil {
			return err
		}
		rec.BindDescriptorSet(k.pipeline, set)
		rec.SetViewport(tex.GetViewport(ctx))
		rec.PushConstants(k.pipeline, push)
		rec.Draw(3)
	}

	rec.EndRenderPass()
	if err := k.device.EndCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	return nil
}
