package vkdriver

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/gpu"
)

func (d *Device) CreateCommandPool(queueFamily int) (gpu.CommandPool, error) {
	pool, res, err := d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: queueFamily,
		Flags:            core1_0.CommandPoolCreateResetBuffer,
	})
	if err := check("create command pool", res, err); err != nil {
		return 0, err
	}
	return d.pools.put(pool), nil
}

func (d *Device) DestroyCommandPool(handle gpu.CommandPool) {
	if pool, ok := d.pools.take(handle); ok {
		d.driver.DestroyCommandPool(pool, nil)
	}
}

func (d *Device) AllocateCommandBuffers(handle gpu.CommandPool, count int) ([]gpu.CommandBuffer, error) {
	pool, ok := d.pools.get(handle)
	if !ok {
		return nil, errors.Newf("unknown command pool %d", handle)
	}
	buffers, res, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err := check("allocate command buffers", res, err); err != nil {
		return nil, err
	}
	handles := make([]gpu.CommandBuffer, len(buffers))
	for i, buffer := range buffers {
		handles[i] = d.buffers.put(buffer)
	}
	return handles, nil
}

func (d *Device) FreeCommandBuffers(_ gpu.CommandPool, handles ...gpu.CommandBuffer) {
	buffers := make([]core1_0.CommandBuffer, 0, len(handles))
	for _, handle := range handles {
		if buffer, ok := d.buffers.take(handle); ok {
			buffers = append(buffers, buffer)
		}
	}
	if len(buffers) > 0 {
		d.driver.FreeCommandBuffers(buffers...)
	}
}

func (d *Device) commandBuffer(handle gpu.CommandBuffer) (core1_0.CommandBuffer, error) {
	buffer, ok := d.buffers.get(handle)
	if !ok {
		return core1_0.CommandBuffer{}, errors.Newf("unknown command buffer %d", handle)
	}
	return buffer, nil
}

func (d *Device) BeginCommandBuffer(handle gpu.CommandBuffer) error {
	buffer, err := d.commandBuffer(handle)
	if err != nil {
		return err
	}
	res, err := d.driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{})
	return check("begin command buffer", res, err)
}

func (d *Device) EndCommandBuffer(handle gpu.CommandBuffer) error {
	buffer, err := d.commandBuffer(handle)
	if err != nil {
		return err
	}
	res, err := d.driver.EndCommandBuffer(buffer)
	return check("end command buffer", res, err)
}

func (d *Device) ResetCommandBuffer(handle gpu.CommandBuffer) error {
	buffer, err := d.commandBuffer(handle)
	if err != nil {
		return err
	}
	res, err := d.driver.ResetCommandBuffer(buffer, 0)
	return check("reset command buffer", res, err)
}

func (d *Device) Recorder(handle gpu.CommandBuffer) gpu.CommandRecorder {
	buffer, _ := d.buffers.get(handle)
	return &recorder{device: d, buffer: buffer}
}

// recorder writes commands into one command buffer. Commands that carry no
// error in the driver API log lookups that fail instead.
type recorder struct {
	device *Device
	buffer core1_0.CommandBuffer
}

var _ gpu.CommandRecorder = (*recorder)(nil)

func (r *recorder) PipelineBarrier(barrier gpu.ImageBarrier) error {
	image, err := r.device.image(barrier.Image)
	if err != nil {
		return err
	}
	return r.device.driver.CmdPipelineBarrier(r.buffer, barrier.SrcStage, barrier.DstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			Image:               image,
			OldLayout:           barrier.OldLayout,
			NewLayout:           barrier.NewLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			SrcAccessMask:       barrier.SrcAccess,
			DstAccessMask:       barrier.DstAccess,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask: barrier.Aspect,
				LevelCount: 1,
				LayerCount: 1,
			},
		},
	})
}

func (r *recorder) CopyImage(src gpu.Image, srcLayout core1_0.ImageLayout, dst gpu.Image, dstLayout core1_0.ImageLayout, regions ...gpu.CopyRegion) error {
	srcImage, err := r.device.image(src)
	if err != nil {
		return err
	}
	dstImage, err := r.device.image(dst)
	if err != nil {
		return err
	}

	copies := make([]core1_0.ImageCopy, len(regions))
	for i, region := range regions {
		layers := core1_0.ImageSubresourceLayers{AspectMask: region.Aspect, LayerCount: 1}
		copies[i] = core1_0.ImageCopy{
			SrcSubresource: layers,
			DstSubresource: layers,
			Extent:         core1_0.Extent3D{Width: region.Extent.Width, Height: region.Extent.Height, Depth: 1},
		}
	}
	return r.device.driver.CmdCopyImage(r.buffer, srcImage, srcLayout, dstImage, dstLayout, copies...)
}

func (r *recorder) BeginRenderPass(begin gpu.RenderPassBegin) error {
	renderPass, ok := r.device.renderPasses.get(begin.RenderPass)
	if !ok {
		return errors.Newf("unknown render pass %d", begin.RenderPass)
	}
	framebuffer, ok := r.device.framebuffers.get(begin.Framebuffer)
	if !ok {
		return errors.Newf("unknown framebuffer %d", begin.Framebuffer)
	}
	return r.device.driver.CmdBeginRenderPass(r.buffer, core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  renderPass,
		Framebuffer: framebuffer,
		RenderArea:  core1_0.Rect2D{Extent: begin.Extent},
		ClearValues: []core1_0.ClearValue{core1_0.ClearValueFloat(begin.ClearColor)},
	})
}

func (r *recorder) pipeline(handle gpu.Pipeline) *pipeline {
	p, ok := r.device.pipelines.get(handle)
	if !ok {
		r.device.logger.Error("unknown pipeline", slog.Uint64("pipeline", uint64(handle)))
		return nil
	}
	return p
}

func (r *recorder) BindPipeline(handle gpu.Pipeline) {
	if p := r.pipeline(handle); p != nil {
		r.device.driver.CmdBindPipeline(r.buffer, core1_0.PipelineBindPointGraphics, p.pipeline)
	}
}

func (r *recorder) BindDescriptorSet(handle gpu.Pipeline, set gpu.DescriptorSet) {
	p := r.pipeline(handle)
	descriptors, ok := r.device.sets.get(set)
	if p == nil || !ok {
		return
	}
	r.device.driver.CmdBindDescriptorSets(r.buffer, core1_0.PipelineBindPointGraphics, p.layout, 0, []core1_0.DescriptorSet{descriptors.set}, nil)
}

func (r *recorder) SetViewport(viewport core1_0.Viewport) {
	r.device.driver.CmdSetViewport(r.buffer, viewport)
}

func (r *recorder) SetScissor(scissor core1_0.Rect2D) {
	r.device.driver.CmdSetScissor(r.buffer, scissor)
}

func (r *recorder) PushConstants(handle gpu.Pipeline, data []byte) {
	if p := r.pipeline(handle); p != nil {
		r.device.driver.CmdPushConstants(r.buffer, p.layout, pushConstantStages, 0, data)
	}
}

func (r *recorder) Draw(vertexCount int) {
	r.device.driver.CmdDraw(r.buffer, vertexCount, 1, 0, 0)
}

func (r *recorder) EndRenderPass() {
	r.device.driver.CmdEndRenderPass(r.buffer)
}
