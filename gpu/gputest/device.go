// Package gputest provides in-memory implementations of the gpu interfaces.
// The fakes execute nothing; they hand out handles, keep the memory a real
// device would and record every command so tests can assert ordering.
package gputest

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpuerr"
)

type Image struct {
	Info      gpu.ImageInfo
	Memory    gpu.DeviceMemory
	Destroyed bool
}

type Memory struct {
	Data      []byte
	TypeIndex int
	Imported  bool
	Handle    uintptr
	Mapped    bool
	Freed     bool
}

type Fence struct {
	Signaled  bool
	Destroyed bool
}

// Command is one recorded command.
type Command struct {
	Buffer   gpu.CommandBuffer
	Op       string
	Barrier  gpu.ImageBarrier
	Src, Dst gpu.Image
	Regions  []gpu.CopyRegion
	Viewport core1_0.Viewport
	Push     []byte
	Set      gpu.DescriptorSet
	Vertices int
	Pipeline gpu.Pipeline
	Begin    gpu.RenderPassBegin
}

type Device struct {
	mu sync.Mutex

	next uint64

	Images       map[gpu.Image]*Image
	Memories     map[gpu.DeviceMemory]*Memory
	Views        map[gpu.ImageView]gpu.ViewInfo
	Samplers     map[gpu.Sampler]gpu.SamplerInfo
	Fences       map[gpu.Fence]*Fence
	Semaphores   map[gpu.Semaphore]bool
	Pipelines    map[gpu.Pipeline]gpu.PipelineSpec
	Sets         map[gpu.DescriptorSet][]gpu.DescriptorImage
	Swapchains   map[gpu.Swapchain][]gpu.Image
	ShaderCode   map[gpu.ShaderModule][]byte
	RenderPasses map[gpu.RenderPass]bool
	Framebuffers map[gpu.Framebuffer]bool
	Buffers      map[gpu.CommandBuffer]bool

	// Commands holds every command recorded on any buffer, in order.
	Commands []Command
	// Calls holds the names of lifecycle calls in order.
	Calls       []string
	Submissions []gpu.SubmitInfo
	Presents    []gpu.PresentInfo

	// RowAlignment pads linear image rows, as drivers do.
	RowAlignment int
	// HoldFences keeps submitted fences unsignaled until Complete is called.
	HoldFences bool
	// AcquireQueue scripts the indices or errors returned by AcquireNextImage.
	// When empty, images are handed out round robin.
	AcquireQueue []any
	PresentErr   error
	// EndErr fails the next EndCommandBuffer.
	EndErr      error
	acquireNext int

	External        *ExternalMemory
	MemoryTypeCount int
}

func NewDevice() *Device {
	return &Device{
		Images:       map[gpu.Image]*Image{},
		Memories:     map[gpu.DeviceMemory]*Memory{},
		Views:        map[gpu.ImageView]gpu.ViewInfo{},
		Samplers:     map[gpu.Sampler]gpu.SamplerInfo{},
		Fences:       map[gpu.Fence]*Fence{},
		Semaphores:   map[gpu.Semaphore]bool{},
		Pipelines:    map[gpu.Pipeline]gpu.PipelineSpec{},
		Sets:         map[gpu.DescriptorSet][]gpu.DescriptorImage{},
		Swapchains:   map[gpu.Swapchain][]gpu.Image{},
		ShaderCode:   map[gpu.ShaderModule][]byte{},
		RenderPasses: map[gpu.RenderPass]bool{},
		Framebuffers: map[gpu.Framebuffer]bool{},
		Buffers:      map[gpu.CommandBuffer]bool{},
		RowAlignment: 64,
	}
}

var _ gpu.Device = (*Device)(nil)

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) call(name string, args ...any) {
	if len(args) > 0 {
		name = fmt.Sprintf("%s%v", name, args)
	}
	d.Calls = append(d.Calls, name)
}

func (d *Device) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Extent.Width <= 0 || info.Extent.Height <= 0 {
		return 0, errors.Newf("invalid image extent %dx%d", info.Extent.Width, info.Extent.Height)
	}
	img := gpu.Image(d.handle())
	d.Images[img] = &Image{Info: info}
	d.call("CreateImage")
	return img, nil
}

func (d *Device) DestroyImage(image gpu.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := d.Images[image]; ok {
		img.Destroyed = true
	}
	d.call("DestroyImage")
}

// LiveImages counts images that were created and not destroyed.
func (d *Device) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := 0
	for _, img := range d.Images {
		if !img.Destroyed {
			live++
		}
	}
	return live
}

// LiveMemory counts allocations that were not freed.
func (d *Device) LiveMemory() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := 0
	for _, mem := range d.Memories {
		if !mem.Freed {
			live++
		}
	}
	return live
}

func (d *Device) planes(info gpu.ImageInfo) []planeLayout {
	align := func(n int) int {
		if d.RowAlignment <= 1 {
			return n
		}
		return (n + d.RowAlignment - 1) / d.RowAlignment * d.RowAlignment
	}
	w, h := info.Extent.Width, info.Extent.Height
	switch info.Format {
	case gpu.FormatG8B8R83Plane420Unorm:
		cw, ch := (w+1)/2, (h+1)/2
		p0 := planeLayout{aspect: gpu.ImageAspectPlane0, pitch: align(w), rows: h}
		p1 := planeLayout{aspect: gpu.ImageAspectPlane1, pitch: align(cw), rows: ch}
		p2 := planeLayout{aspect: gpu.ImageAspectPlane2, pitch: align(cw), rows: ch}
		p1.offset = p0.pitch * p0.rows
		p2.offset = p1.offset + p1.pitch*p1.rows
		return []planeLayout{p0, p1, p2}
	default:
		bpp := 4
		switch info.Format {
		case gpu.FormatR5G6B5UnormPack16:
			bpp = 2
		case gpu.FormatR8Unorm:
			bpp = 1
		}
		return []planeLayout{{aspect: core1_0.ImageAspectColor, pitch: align(w * bpp), rows: h}}
	}
}

type planeLayout struct {
	aspect core1_0.ImageAspectFlags
	offset int
	pitch  int
	rows   int
}

func (d *Device) ImageMemoryRequirements(image gpu.Image) gpu.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := d.Images[image]
	planes := d.planes(img.Info)
	last := planes[len(planes)-1]
	bits := uint32(0xffffffff)
	if d.MemoryTypeCount > 0 {
		bits = uint32(1)<<d.MemoryTypeCount - 1
	}
	return gpu.MemoryRequirements{Size: last.offset + last.pitch*last.rows, MemoryTypeBits: bits}
}

func (d *Device) ImageSubresourceLayout(image gpu.Image, aspect core1_0.ImageAspectFlags) gpu.SubresourceLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := d.Images[image]
	for _, p := range d.planes(img.Info) {
		if p.aspect == aspect {
			return gpu.SubresourceLayout{Offset: p.offset, Size: p.pitch * p.rows, RowPitch: p.pitch}
		}
	}
	return gpu.SubresourceLayout{}
}

func (d *Device) AllocateMemory(size int, memoryTypeIndex int) (gpu.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem := gpu.DeviceMemory(d.handle())
	d.Memories[mem] = &Memory{Data: make([]byte, size), TypeIndex: memoryTypeIndex}
	d.call("AllocateMemory")
	return mem, nil
}

func (d *Device) FreeMemory(memory gpu.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.Memories[memory]; ok {
		mem.Freed = true
	}
	d.call("FreeMemory")
}

func (d *Device) BindImageMemory(image gpu.Image, memory gpu.DeviceMemory, offset int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.Images[image]
	if !ok || img.Destroyed {
		return errors.Newf("bind to unknown image %d", image)
	}
	if img.Memory != 0 {
		return errors.Newf("image %d already bound", image)
	}
	img.Memory = memory
	d.call("BindImageMemory")
	return nil
}

func (d *Device) MapMemory(memory gpu.DeviceMemory, offset int, size int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.Memories[memory]
	if !ok || mem.Freed {
		return nil, errors.Newf("map of unknown memory %d", memory)
	}
	if mem.Mapped {
		return nil, errors.Newf("memory %d already mapped", memory)
	}
	if offset+size > len(mem.Data) {
		return nil, errors.Newf("map range %d+%d exceeds allocation of %d", offset, size, len(mem.Data))
	}
	mem.Mapped = true
	return mem.Data[offset : offset+size], nil
}

func (d *Device) UnmapMemory(memory gpu.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.Memories[memory]; ok {
		mem.Mapped = false
	}
}

// MemoryOf returns the bytes backing image.
func (d *Device) MemoryOf(image gpu.Image) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := d.Images[image]
	if img == nil || img.Memory == 0 {
		return nil
	}
	return d.Memories[img.Memory].Data
}

func (d *Device) CreateImageView(info gpu.ViewInfo) (gpu.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	view := gpu.ImageView(d.handle())
	d.Views[view] = info
	return view, nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Views, view)
}

func (d *Device) CreateSampler(info gpu.SamplerInfo) (gpu.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sampler := gpu.Sampler(d.handle())
	d.Samplers[sampler] = info
	return sampler, nil
}

func (d *Device) DestroySampler(sampler gpu.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Samplers, sampler)
}

func (d *Device) CreateCommandPool(queueFamily int) (gpu.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("CreateCommandPool")
	return gpu.CommandPool(d.handle()), nil
}

func (d *Device) DestroyCommandPool(pool gpu.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyCommandPool")
}

func (d *Device) AllocateCommandBuffers(pool gpu.CommandPool, count int) ([]gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buffers := make([]gpu.CommandBuffer, count)
	for i := range buffers {
		buffers[i] = gpu.CommandBuffer(d.handle())
		d.Buffers[buffers[i]] = false
	}
	return buffers, nil
}

func (d *Device) FreeCommandBuffers(pool gpu.CommandPool, buffers ...gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range buffers {
		delete(d.Buffers, b)
	}
}

func (d *Device) BeginCommandBuffer(buffer gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Buffers[buffer] {
		return errors.Newf("command buffer %d already recording", buffer)
	}
	d.Buffers[buffer] = true
	return nil
}

func (d *Device) EndCommandBuffer(buffer gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Buffers[buffer] {
		return errors.Newf("command buffer %d not recording", buffer)
	}
	d.Buffers[buffer] = false
	if d.EndErr != nil {
		err := d.EndErr
		d.EndErr = nil
		return err
	}
	return nil
}

func (d *Device) ResetCommandBuffer(buffer gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Buffers[buffer] = false
	return nil
}

func (d *Device) Recorder(buffer gpu.CommandBuffer) gpu.CommandRecorder {
	return &Recorder{device: d, buffer: buffer}
}

func (d *Device) record(cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Commands = append(d.Commands, cmd)
}

// CommandsFor returns the commands recorded on buffer.
func (d *Device) CommandsFor(buffer gpu.CommandBuffer) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	var cmds []Command
	for _, c := range d.Commands {
		if c.Buffer == buffer {
			cmds = append(cmds, c)
		}
	}
	return cmds
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := gpu.Semaphore(d.handle())
	d.Semaphores[s] = true
	return s, nil
}

func (d *Device) DestroySemaphore(semaphore gpu.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Semaphores, semaphore)
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := gpu.Fence(d.handle())
	d.Fences[f] = &Fence{Signaled: signaled}
	return f, nil
}

func (d *Device) DestroyFence(fence gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.Fences[fence]; ok {
		f.Destroyed = true
	}
}

func (d *Device) WaitForFence(fence gpu.Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.Fences[fence]
	if !ok {
		return errors.Newf("wait on unknown fence %d", fence)
	}
	if !f.Signaled {
		if d.HoldFences {
			return gpuerr.Timeout("wait for fence")
		}
		f.Signaled = true
	}
	return nil
}

func (d *Device) FenceSignaled(fence gpu.Fence) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.Fences[fence]
	if !ok {
		return false, errors.Newf("query of unknown fence %d", fence)
	}
	return f.Signaled, nil
}

func (d *Device) ResetFence(fence gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.Fences[fence]
	if !ok {
		return errors.Newf("reset of unknown fence %d", fence)
	}
	f.Signaled = false
	return nil
}

// Complete signals every fence, as if the GPU drained its queue.
func (d *Device) Complete() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.Fences {
		f.Signaled = true
	}
}

func (d *Device) CreateSwapchain(info gpu.SwapchainInfo) (gpu.Swapchain, []gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc := gpu.Swapchain(d.handle())
	images := make([]gpu.Image, info.MinImageCount)
	for i := range images {
		images[i] = gpu.Image(d.handle())
		d.Images[images[i]] = &Image{Info: gpu.ImageInfo{Extent: info.Extent, Format: info.Format.Format}}
	}
	d.Swapchains[sc] = images
	d.acquireNext = 0
	d.call("CreateSwapchain")
	return sc, images, nil
}

func (d *Device) DestroySwapchain(swapchain gpu.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Swapchains, swapchain)
	d.call("DestroySwapchain")
}

func (d *Device) AcquireNextImage(swapchain gpu.Swapchain, timeout time.Duration, signal gpu.Semaphore) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	images, ok := d.Swapchains[swapchain]
	if !ok {
		return 0, errors.Newf("acquire on unknown swapchain %d", swapchain)
	}
	if len(d.AcquireQueue) > 0 {
		next := d.AcquireQueue[0]
		d.AcquireQueue = d.AcquireQueue[1:]
		switch v := next.(type) {
		case int:
			return v, nil
		case error:
			return 0, v
		}
	}
	idx := d.acquireNext % len(images)
	d.acquireNext++
	return idx, nil
}

func (d *Device) Submit(info gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Buffers[info.CommandBuffer] {
		return errors.Newf("submit of command buffer %d still recording", info.CommandBuffer)
	}
	d.Submissions = append(d.Submissions, info)
	if f, ok := d.Fences[info.Fence]; ok && !d.HoldFences {
		f.Signaled = true
	}
	d.call("Submit")
	return nil
}

func (d *Device) Present(info gpu.PresentInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Presents = append(d.Presents, info)
	if d.PresentErr != nil {
		err := d.PresentErr
		d.PresentErr = nil
		return err
	}
	return nil
}

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(code) == 0 || len(code)%4 != 0 {
		return 0, errors.Newf("shader code length %d is not a multiple of 4", len(code))
	}
	m := gpu.ShaderModule(d.handle())
	d.ShaderCode[m] = code
	return m, nil
}

func (d *Device) DestroyShaderModule(module gpu.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ShaderCode, module)
}

func (d *Device) CreateRenderPass(format core1_0.Format) (gpu.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp := gpu.RenderPass(d.handle())
	d.RenderPasses[rp] = true
	return rp, nil
}

func (d *Device) DestroyRenderPass(renderPass gpu.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.RenderPasses, renderPass)
}

func (d *Device) CreateFramebuffer(renderPass gpu.RenderPass, view gpu.ImageView, extent core1_0.Extent2D) (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fb := gpu.Framebuffer(d.handle())
	d.Framebuffers[fb] = true
	return fb, nil
}

func (d *Device) DestroyFramebuffer(framebuffer gpu.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Framebuffers, framebuffer)
}

func (d *Device) CreatePipeline(spec gpu.PipelineSpec) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := gpu.Pipeline(d.handle())
	d.Pipelines[p] = spec
	d.call("CreatePipeline")
	return p, nil
}

func (d *Device) DestroyPipeline(pipeline gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Pipelines, pipeline)
	d.call("DestroyPipeline")
}

func (d *Device) AllocateDescriptorSet(pipeline gpu.Pipeline) (gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.Pipelines[pipeline]; !ok {
		return 0, errors.Newf("descriptor set for unknown pipeline %d", pipeline)
	}
	set := gpu.DescriptorSet(d.handle())
	d.Sets[set] = nil
	return set, nil
}

func (d *Device) UpdateDescriptorSet(set gpu.DescriptorSet, images []gpu.DescriptorImage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Sets[set] = append([]gpu.DescriptorImage(nil), images...)
	return nil
}

func (d *Device) ExternalMemory() (gpu.ExternalMemory, bool) {
	if d.External == nil {
		return nil, false
	}
	return d.External, true
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.Fences {
		f.Signaled = true
	}
	d.call("WaitIdle")
	return nil
}

func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyDevice")
}

// Recorder records onto a fake command buffer.
type Recorder struct {
	device *Device
	buffer gpu.CommandBuffer
}

func (r *Recorder) PipelineBarrier(barrier gpu.ImageBarrier) error {
	r.device.record(Command{Buffer: r.buffer, Op: "PipelineBarrier", Barrier: barrier})
	return nil
}

func (r *Recorder) CopyImage(src gpu.Image, srcLayout core1_0.ImageLayout, dst gpu.Image, dstLayout core1_0.ImageLayout, regions ...gpu.CopyRegion) error {
	r.device.record(Command{Buffer: r.buffer, Op: "CopyImage", Src: src, Dst: dst, Regions: regions})
	return nil
}

func (r *Recorder) BeginRenderPass(begin gpu.RenderPassBegin) error {
	r.device.record(Command{Buffer: r.buffer, Op: "BeginRenderPass", Begin: begin})
	return nil
}

func (r *Recorder) BindPipeline(pipeline gpu.Pipeline) {
	r.device.record(Command{Buffer: r.buffer, Op: "BindPipeline", Pipeline: pipeline})
}

func (r *Recorder) BindDescriptorSet(pipeline gpu.Pipeline, set gpu.DescriptorSet) {
	r.device.record(Command{Buffer: r.buffer, Op: "BindDescriptorSet", Pipeline: pipeline, Set: set})
}

func (r *Recorder) SetViewport(viewport core1_0.Viewport) {
	r.device.record(Command{Buffer: r.buffer, Op: "SetViewport", Viewport: viewport})
}

func (r *Recorder) SetScissor(scissor core1_0.Rect2D) {
	r.device.record(Command{Buffer: r.buffer, Op: "SetScissor"})
}

func (r *Recorder) PushConstants(pipeline gpu.Pipeline, data []byte) {
	r.device.record(Command{Buffer: r.buffer, Op: "PushConstants", Pipeline: pipeline, Push: append([]byte(nil), data...)})
}

func (r *Recorder) Draw(vertexCount int) {
	r.device.record(Command{Buffer: r.buffer, Op: "Draw", Vertices: vertexCount})
}

func (r *Recorder) EndRenderPass() {
	r.device.record(Command{Buffer: r.buffer, Op: "EndRenderPass"})
}

// ExternalMemory fakes hardware buffer import.
type ExternalMemory struct {
	Device *Device
	// Requirements maps a native handle to its reported requirements.
	Requirements map[uintptr]gpu.MemoryRequirements
	Imports      int
}

func (e *ExternalMemory) ExternalBufferProperties(handle uintptr) (gpu.MemoryRequirements, error) {
	req, ok := e.Requirements[handle]
	if !ok {
		return gpu.MemoryRequirements{}, errors.Newf("unknown hardware buffer %#x", handle)
	}
	return req, nil
}

func (e *ExternalMemory) ImportExternalBuffer(image gpu.Image, handle uintptr, requirements gpu.MemoryRequirements, memoryTypeIndex int) (gpu.DeviceMemory, error) {
	d := e.Device
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.Images[image]
	if !ok {
		return 0, errors.Newf("import for unknown image %d", image)
	}
	if img.Memory != 0 {
		return 0, errors.Newf("import for image %d already bound", image)
	}
	mem := gpu.DeviceMemory(d.handle())
	d.Memories[mem] = &Memory{Data: make([]byte, requirements.Size), TypeIndex: memoryTypeIndex, Imported: true, Handle: handle}
	e.Imports++
	d.call("ImportExternalBuffer")
	return mem, nil
}
