package vkdriver

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/videosink/gpu"
)

// The vertex stage reads the orientation transform and the fragment stage
// the color conversion, so both see the whole push constant block.
const pushConstantStages = core1_0.StageVertex | core1_0.StageFragment

// pipeline groups the objects one graphics pipeline is built from. They
// are created and destroyed together.
type pipeline struct {
	pipeline  core1_0.Pipeline
	layout    core1_0.PipelineLayout
	setLayout core1_0.DescriptorSetLayout
	pool      core1_0.DescriptorPool
	bindings  int
}

type descriptorSet struct {
	set   core1_0.DescriptorSet
	owner gpu.Pipeline
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = uint32(b[byteIndex]) |
			uint32(b[byteIndex+1])<<8 |
			uint32(b[byteIndex+2])<<16 |
			uint32(b[byteIndex+3])<<24
	}
	return byteCode
}

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return 0, errors.Newf("shader bytecode length %d is not a multiple of 4", len(code))
	}
	module, res, err := d.driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(code),
	})
	if err := check("create shader module", res, err); err != nil {
		return 0, err
	}
	return d.shaders.put(module), nil
}

func (d *Device) DestroyShaderModule(handle gpu.ShaderModule) {
	if module, ok := d.shaders.take(handle); ok {
		d.driver.DestroyShaderModule(module, nil)
	}
}

func (d *Device) CreateRenderPass(format core1_0.Format) (gpu.RenderPass, error) {
	renderPass, res, err := d.driver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass:    core1_0.SubpassExternal,
				DstSubpass:    0,
				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccessMask: 0,
				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
		},
	})
	if err := check("create render pass", res, err); err != nil {
		return 0, err
	}
	return d.renderPasses.put(renderPass), nil
}

func (d *Device) DestroyRenderPass(handle gpu.RenderPass) {
	if renderPass, ok := d.renderPasses.take(handle); ok {
		d.driver.DestroyRenderPass(renderPass, nil)
	}
}

func (d *Device) CreateFramebuffer(renderPass gpu.RenderPass, view gpu.ImageView, extent core1_0.Extent2D) (gpu.Framebuffer, error) {
	pass, ok := d.renderPasses.get(renderPass)
	if !ok {
		return 0, errors.Newf("unknown render pass %d", renderPass)
	}
	attachment, ok := d.views.get(view)
	if !ok {
		return 0, errors.Newf("unknown image view %d", view)
	}
	framebuffer, res, err := d.driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass,
		Layers:      1,
		Attachments: []core1_0.ImageView{attachment},
		Width:       extent.Width,
		Height:      extent.Height,
	})
	if err := check("create framebuffer", res, err); err != nil {
		return 0, err
	}
	return d.framebuffers.put(framebuffer), nil
}

func (d *Device) DestroyFramebuffer(handle gpu.Framebuffer) {
	if framebuffer, ok := d.framebuffers.take(handle); ok {
		d.driver.DestroyFramebuffer(framebuffer, nil)
	}
}

// CreatePipeline builds a full-screen triangle pipeline that samples
// spec.ImageBindings combined image samplers. Viewport and scissor are
// dynamic so the pipeline survives per-texture viewport changes.
func (d *Device) CreatePipeline(spec gpu.PipelineSpec) (gpu.Pipeline, error) {
	renderPass, ok := d.renderPasses.get(spec.RenderPass)
	if !ok {
		return 0, errors.Newf("unknown render pass %d", spec.RenderPass)
	}
	vertex, ok := d.shaders.get(spec.Vertex)
	if !ok {
		return 0, errors.Newf("unknown shader module %d", spec.Vertex)
	}
	fragment, ok := d.shaders.get(spec.Fragment)
	if !ok {
		return 0, errors.Newf("unknown shader module %d", spec.Fragment)
	}

	p := &pipeline{bindings: spec.ImageBindings}
	var err error
	defer func() {
		if err != nil {
			d.destroyPipelineObjects(p)
		}
	}()

	bindings := make([]core1_0.DescriptorSetLayoutBinding, spec.ImageBindings)
	for i := range bindings {
		bindings[i] = core1_0.DescriptorSetLayoutBinding{
			Binding:         i,
			DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      core1_0.StageFragment,
		}
	}
	var res common.VkResult
	p.setLayout, res, err = d.driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err = check("create descriptor set layout", res, err); err != nil {
		return 0, err
	}

	layoutInfo := core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{p.setLayout},
	}
	if spec.PushConstantSize > 0 {
		layoutInfo.PushConstantRanges = []core1_0.PushConstantRange{
			{StageFlags: pushConstantStages, Offset: 0, Size: spec.PushConstantSize},
		}
	}
	p.layout, res, err = d.driver.CreatePipelineLayout(nil, layoutInfo)
	if err = check("create pipeline layout", res, err); err != nil {
		return 0, err
	}

	pipelines, res, err := d.driver.CreateGraphicsPipelines(nil, nil, core1_0.GraphicsPipelineCreateInfo{
		Stages: []core1_0.PipelineShaderStageCreateInfo{
			{Stage: core1_0.StageVertex, Module: vertex, Name: "main"},
			{Stage: core1_0.StageFragment, Module: fragment, Name: "main"},
		},
		VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{},
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology: core1_0.PrimitiveTopologyTriangleList,
		},
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{{MaxDepth: 1}},
			Scissors:  []core1_0.Rect2D{{}},
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			PolygonMode: core1_0.PolygonModeFill,
			FrontFace:   core1_0.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			RasterizationSamples: core1_0.Samples1,
			MinSampleShading:     1.0,
		},
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			LogicOp: core1_0.LogicOpCopy,
			Attachments: []core1_0.PipelineColorBlendAttachmentState{
				{
					ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
				},
			},
		},
		DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
			DynamicStates: []core1_0.DynamicState{core1_0.DynamicStateViewport, core1_0.DynamicStateScissor},
		},
		Layout:            p.layout,
		RenderPass:        renderPass,
		Subpass:           0,
		BasePipelineIndex: -1,
	})
	if err = check("create graphics pipeline", res, err); err != nil {
		return 0, err
	}
	p.pipeline = pipelines[0]

	maxSets := max(1, spec.MaxSets)
	p.pool, res, err = d.driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: maxSets,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: maxSets * max(1, spec.ImageBindings),
			},
		},
	})
	if err = check("create descriptor pool", res, err); err != nil {
		return 0, err
	}

	return d.pipelines.put(p), nil
}

func (d *Device) destroyPipelineObjects(p *pipeline) {
	if p.pool.Initialized() {
		d.driver.DestroyDescriptorPool(p.pool, nil)
	}
	if p.pipeline.Initialized() {
		d.driver.DestroyPipeline(p.pipeline, nil)
	}
	if p.layout.Initialized() {
		d.driver.DestroyPipelineLayout(p.layout, nil)
	}
	if p.setLayout.Initialized() {
		d.driver.DestroyDescriptorSetLayout(p.setLayout, nil)
	}
}

// DestroyPipeline destroys the pipeline together with its descriptor pool,
// which invalidates every set allocated from it.
func (d *Device) DestroyPipeline(handle gpu.Pipeline) {
	p, ok := d.pipelines.take(handle)
	if !ok {
		return
	}
	d.sets.removeIf(func(set descriptorSet) bool {
		return set.owner == handle
	})
	d.destroyPipelineObjects(p)
}

func (d *Device) AllocateDescriptorSet(handle gpu.Pipeline) (gpu.DescriptorSet, error) {
	p, ok := d.pipelines.get(handle)
	if !ok {
		return 0, errors.Newf("unknown pipeline %d", handle)
	}
	sets, res, err := d.driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{p.setLayout},
	})
	if err := check("allocate descriptor set", res, err); err != nil {
		return 0, err
	}
	return d.sets.put(descriptorSet{set: sets[0], owner: handle}), nil
}

func (d *Device) UpdateDescriptorSet(handle gpu.DescriptorSet, images []gpu.DescriptorImage) error {
	entry, ok := d.sets.get(handle)
	if !ok {
		return errors.Newf("unknown descriptor set %d", handle)
	}
	writes := make([]core1_0.WriteDescriptorSet, 0, len(images))
	for i, image := range images {
		view, ok := d.views.get(image.View)
		if !ok {
			return errors.Newf("unknown image view %d", image.View)
		}
		sampler, ok := d.samplers.get(image.Sampler)
		if !ok {
			return errors.Newf("unknown sampler %d", image.Sampler)
		}
		writes = append(writes, core1_0.WriteDescriptorSet{
			DstSet:         entry.set,
			DstBinding:     i,
			DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,
			ImageInfo: []core1_0.DescriptorImageInfo{
				{ImageView: view, Sampler: sampler, ImageLayout: image.Layout},
			},
		})
	}
	return d.driver.UpdateDescriptorSets(writes, nil)
}
