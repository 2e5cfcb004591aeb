package kernel

import (
	"io/fs"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"go.uber.org/mock/gomock"

	"github.com/vkngwrapper/videosink/assets"
	"github.com/vkngwrapper/videosink/colorspace"
	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpu/gputest"
	"github.com/vkngwrapper/videosink/gpuerr"
	"github.com/vkngwrapper/videosink/hwbuffer"
	"github.com/vkngwrapper/videosink/texture"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07}

type harness struct {
	kernel   *Kernel
	runtime  *gputest.Runtime
	physical *gputest.PhysicalDevice
	reader   *assets.MockReader
}

func newHarness(t *testing.T) *harness {
	ctrl := gomock.NewController(t)
	reader := assets.NewMockReader(ctrl)

	pd := gputest.NewPhysicalDevice("test gpu")
	pd.Exts = []string{khr_swapchain.ExtensionName}
	rt := &gputest.Runtime{
		Extensions: []string{khr_surface.ExtensionName},
		Instance:   &gputest.Instance{Devices: []*gputest.PhysicalDevice{pd}},
	}
	return &harness{
		kernel:   New(rt, Options{Assets: reader, Config: DefaultConfig()}),
		runtime:  rt,
		physical: pd,
		reader:   reader,
	}
}

func (h *harness) withShaders() *harness {
	h.reader.EXPECT().ReadFile(VertexShader).Return(spirv, nil)
	h.reader.EXPECT().ReadFile(FragmentShader).Return(spirv, nil)
	return h
}

func (h *harness) setUp(t *testing.T) *gputest.Device {
	h.withShaders()
	require.NoError(t, h.kernel.SetUp(gputest.Surface{Width: 800, Height: 600}))
	return h.physical.Device
}

func rgbaBuffer(w, h int) *hwbuffer.HostBuffer {
	return hwbuffer.NewHostBuffer(
		hwbuffer.Desc{Width: w, Height: h, Format: colorspace.RGBA8888, Stride: w},
		colorspace.Plane{Data: make([]byte, w*h*4), Stride: w},
	)
}

type importBuffer struct {
	*hwbuffer.HostBuffer
	handle uintptr
}

func (b importBuffer) NativeHandle() uintptr {
	return b.handle
}

func ops(cmds []gputest.Command) []string {
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Op
	}
	return names
}

func TestUnavailableRuntimeIsInert(t *testing.T) {
	h := newHarness(t)
	h.runtime.LoadErr = errors.New("libvulkan.so.1: cannot open shared object file")
	k := h.kernel

	require.NoError(t, k.Initialize())
	require.False(t, k.Available())
	require.True(t, errors.Is(k.EnsureLoaded(), gpuerr.ErrUnavailable))

	require.NoError(t, k.SetUp(gputest.Surface{Width: 1, Height: 1}))
	require.NoError(t, k.SetTextures([]texture.Spec{{Width: 2, Height: 2, Format: colorspace.RGBA8888}}))
	require.NoError(t, k.SetSurfaceRotation(90))

	status, err := k.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FrameSkipped, status)

	report, err := k.InspectDevices()
	require.NoError(t, err)
	require.Empty(t, report.Devices)

	buf := rgbaBuffer(2, 2)
	k.Publish(0, buf)
	require.True(t, buf.Released())

	require.NoError(t, k.TearDown())
	require.Equal(t, 1, h.runtime.Loads)
}

func TestInitializeFiltersOptionalFeatures(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.kernel.Initialize())
	require.NoError(t, h.kernel.Initialize())

	require.Equal(t, []string{khr_surface.ExtensionName}, h.runtime.Created.Extensions)
	require.Zero(t, h.runtime.Created.Flags)
	require.Equal(t, 1, h.runtime.Loads)
}

func TestInitializeFailsWithoutSurfaceExtension(t *testing.T) {
	h := newHarness(t)
	h.runtime.Extensions = nil

	err := h.kernel.Initialize()
	require.True(t, errors.Is(err, gpuerr.ErrConfigurationFatal))
}

func TestSelectPhysicalDeviceSkipsDevicesWithoutGraphics(t *testing.T) {
	h := newHarness(t)
	compute := gputest.NewPhysicalDevice("compute only")
	compute.Families = []gpu.QueueFamily{{Flags: core1_0.QueueCompute, QueueCount: 1}}
	h.runtime.Instance.Devices = []*gputest.PhysicalDevice{compute, h.physical}

	require.Error(t, h.kernel.SelectPhysicalDevice())
	require.NoError(t, h.kernel.Initialize())
	require.NoError(t, h.kernel.SelectPhysicalDevice())
	require.Equal(t, 1, h.kernel.PhysicalDeviceIndex())

	h.runtime.Instance.Devices = nil
	require.NoError(t, h.kernel.SelectPhysicalDevice())
	require.Equal(t, 1, h.kernel.PhysicalDeviceIndex())
}

func TestSelectPhysicalDeviceWithoutCandidates(t *testing.T) {
	h := newHarness(t)
	h.physical.Families = []gpu.QueueFamily{{Flags: core1_0.QueueTransfer, QueueCount: 1}}
	require.NoError(t, h.kernel.Initialize())

	err := h.kernel.SelectPhysicalDevice()
	require.True(t, errors.Is(err, gpuerr.ErrConfigurationFatal))
	require.Equal(t, -1, h.kernel.PhysicalDeviceIndex())
}

func TestFindMemoryType(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.kernel.Initialize())
	require.NoError(t, h.kernel.SelectPhysicalDevice())

	index, err := h.kernel.FindMemoryType(0b11, core1_0.MemoryPropertyHostVisible)
	require.NoError(t, err)
	require.Equal(t, 1, index)

	index, err = h.kernel.FindMemoryType(0b01, core1_0.MemoryPropertyHostVisible)
	require.True(t, errors.Is(err, gpuerr.ErrConfigurationFatal))
	require.Equal(t, -1, index)
}

func TestCreateLogicalDeviceEnablesSwapchain(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.kernel.Initialize())
	require.NoError(t, h.kernel.CreateLogicalDevice())
	require.NoError(t, h.kernel.CreateLogicalDevice())

	require.Len(t, h.physical.Created, 1)
	require.Equal(t, []string{khr_swapchain.ExtensionName}, h.kernel.EnabledExtensions())
	require.Equal(t, float32(1), h.physical.Created[0].QueuePriority)
}

func TestLoadShaderModuleMissing(t *testing.T) {
	h := newHarness(t)
	h.reader.EXPECT().ReadFile("missing.spv").Return(nil, fs.ErrNotExist)
	require.NoError(t, h.kernel.Initialize())
	require.NoError(t, h.kernel.CreateLogicalDevice())

	_, err := h.kernel.LoadShaderModule("missing.spv")
	require.True(t, errors.Is(err, gpuerr.ErrAssetMissing))
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestSetUpFailsWhenShaderMissing(t *testing.T) {
	h := newHarness(t)
	h.reader.EXPECT().ReadFile(VertexShader).Return(nil, gpuerr.AssetMissing(VertexShader, fs.ErrNotExist))

	err := h.kernel.SetUp(gputest.Surface{Width: 800, Height: 600})
	require.True(t, errors.Is(err, gpuerr.ErrAssetMissing))
}

func TestSetUpBuildsSwapchainState(t *testing.T) {
	h := newHarness(t)
	dev := h.setUp(t)

	require.Len(t, dev.Swapchains, 1)
	require.Equal(t, core1_0.Extent2D{Width: 1080, Height: 1920}, h.kernel.SurfaceExtent())
	require.Len(t, h.kernel.swapImages, 3)
	require.Equal(t, 3, h.kernel.queue.ImagesCount())
	require.Len(t, dev.Framebuffers, 3)
	require.Len(t, dev.ShaderCode, 2)

	require.Len(t, dev.Pipelines, 1)
	for _, spec := range dev.Pipelines {
		require.Equal(t, texture.PushConstantSize, spec.PushConstantSize)
		require.Equal(t, planeSlots, spec.ImageBindings)
	}
	require.Error(t, h.kernel.SetUp(gputest.Surface{Width: 800, Height: 600}))
}

func TestSwapchainExtentFollowsDrawableWhenUndefined(t *testing.T) {
	h := newHarness(t)
	h.physical.Surface.CurrentExtent = core1_0.Extent2D{Width: -1, Height: -1}
	h.physical.Surface.MaxExtent = core1_0.Extent2D{Width: 700, Height: 700}
	h.setUp(t)

	require.Equal(t, core1_0.Extent2D{Width: 700, Height: 600}, h.kernel.SurfaceExtent())
}

func TestTexturesDeclaredBeforeSetUp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.kernel.SetTextures([]texture.Spec{{Width: 4, Height: 2, Format: colorspace.RGBA8888}}))
	require.Empty(t, h.kernel.Textures())

	h.setUp(t)
	require.Len(t, h.kernel.Textures(), 1)
	require.True(t, h.kernel.Textures()[0].Ready())
}

func TestDrawFrameRecordsUpdatesBeforeRenderPass(t *testing.T) {
	h := newHarness(t)
	dev := h.setUp(t)
	require.NoError(t, h.kernel.SetTextures([]texture.Spec{{Width: 4, Height: 2, Format: colorspace.RGBA8888}}))

	buf := rgbaBuffer(4, 2)
	h.kernel.Publish(0, buf)

	status, err := h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FramePresented, status)
	require.True(t, buf.Released())

	require.Len(t, dev.Submissions, 1)
	require.Len(t, dev.Presents, 1)
	cmds := dev.CommandsFor(dev.Submissions[0].CommandBuffer)
	names := ops(cmds)

	begin := slices.Index(names, "BeginRenderPass")
	copied := slices.Index(names, "CopyImage")
	require.Greater(t, copied, 0)
	require.Less(t, copied, begin)
	require.Equal(t, []string{
		"BeginRenderPass", "BindPipeline", "SetScissor",
		"BindDescriptorSet", "SetViewport", "PushConstants", "Draw",
		"EndRenderPass",
	}, names[begin:])

	require.Equal(t, [4]float32{0, 0, 0, 1}, cmds[begin].Begin.ClearColor)
	require.Len(t, cmds[len(cmds)-3].Push, texture.PushConstantSize)
	require.Equal(t, 3, cmds[len(cmds)-2].Vertices)
	require.Len(t, dev.Sets[cmds[begin+3].Set], planeSlots)
}

func TestDrawFrameBeforeSetUpSkips(t *testing.T) {
	h := newHarness(t)
	status, err := h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FrameSkipped, status)
}

func TestDrawFrameTimeout(t *testing.T) {
	h := newHarness(t)
	dev := h.setUp(t)
	dev.AcquireQueue = []any{gpuerr.Timeout("acquire next image")}

	status, err := h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FrameTimeout, status)
	require.Empty(t, dev.Submissions)

	status, err = h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FramePresented, status)
}

func TestDrawFrameRebuildsWhenAcquireInvalidated(t *testing.T) {
	h := newHarness(t)
	dev := h.setUp(t)
	first := h.kernel.swapchain
	dev.AcquireQueue = []any{gpuerr.SurfaceInvalidated("acquire next image")}

	status, err := h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FrameRebuilt, status)
	require.NotEqual(t, first, h.kernel.swapchain)
	require.Len(t, dev.Swapchains, 1)
	require.Len(t, dev.Framebuffers, 3)
	require.Len(t, dev.Pipelines, 1)

	status, err = h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FramePresented, status)
}

func TestDrawFrameRebuildsWhenPresentInvalidated(t *testing.T) {
	h := newHarness(t)
	dev := h.setUp(t)
	dev.PresentErr = gpuerr.SurfaceInvalidated("queue present")

	status, err := h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FrameRebuilt, status)
	require.Len(t, dev.Submissions, 1)
	require.Contains(t, dev.Calls, "WaitIdle")
}

func TestDrawFrameRecoversFromFailedRecording(t *testing.T) {
	h := newHarness(t)
	dev := h.setUp(t)
	require.NoError(t, h.kernel.SetTextures([]texture.Spec{{Width: 4, Height: 2, Format: colorspace.RGBA8888}}))
	h.kernel.Publish(0, rgbaBuffer(4, 2))
	dev.EndErr = errors.New("end command buffer failed")

	status, err := h.kernel.DrawFrame()
	require.ErrorContains(t, err, "end command buffer failed")
	require.Equal(t, FrameSkipped, status)
	require.Empty(t, dev.Presents)
	require.Len(t, dev.Submissions, 1)
	require.Zero(t, dev.Submissions[0].CommandBuffer)
	require.NotZero(t, dev.Submissions[0].Wait)

	status, err = h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FrameRebuilt, status)

	for frame := 0; frame < 6; frame++ {
		status, err = h.kernel.DrawFrame()
		require.NoError(t, err)
		require.Equal(t, FramePresented, status)
	}
	require.Len(t, dev.Presents, 6)

	// The upload recorded into the failed frame is replayed on the next one.
	require.Contains(t, ops(dev.CommandsFor(dev.Submissions[1].CommandBuffer)), "CopyImage")
}

func TestPublishDuringSetTexturesReleasesEveryBuffer(t *testing.T) {
	h := newHarness(t)
	h.setUp(t)
	specs := []texture.Spec{{Width: 4, Height: 2, Format: colorspace.RGBA8888}}
	require.NoError(t, h.kernel.SetTextures(specs))

	var published, released atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				buf := rgbaBuffer(4, 2)
				buf.OnRelease = func() { released.Add(1) }
				published.Add(1)
				h.kernel.Publish(0, buf)
			}
		}()
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, h.kernel.SetTextures(specs))
	}
	close(stop)
	wg.Wait()

	require.NoError(t, h.kernel.TearDown())
	require.Positive(t, published.Load())
	require.Equal(t, published.Load(), released.Load())
}

func TestDrawFrameSurfacesUnsupportedFormat(t *testing.T) {
	h := newHarness(t)
	h.setUp(t)
	require.NoError(t, h.kernel.SetTextures([]texture.Spec{{Width: 4, Height: 2, Format: colorspace.RGBA8888}}))

	buf := hwbuffer.NewHostBuffer(hwbuffer.Desc{Width: 4, Height: 2, Format: 0x7f, Stride: 4})
	h.kernel.Publish(0, buf)

	_, err := h.kernel.DrawFrame()
	require.True(t, errors.Is(err, gpuerr.ErrUnsupportedFormat))
	require.True(t, buf.Released())
}

func TestImportedBufferReleasedAfterSamplingFramesComplete(t *testing.T) {
	h := newHarness(t)
	dev := gputest.NewDevice()
	dev.MemoryTypeCount = len(h.physical.Types)
	dev.External = &gputest.ExternalMemory{Device: dev, Requirements: map[uintptr]gpu.MemoryRequirements{
		1: {Size: 4096, MemoryTypeBits: 0b01},
		2: {Size: 4096, MemoryTypeBits: 0b01},
	}}
	h.physical.Device = dev
	h.setUp(t)
	require.NoError(t, h.kernel.SetTextures([]texture.Spec{{Width: 4, Height: 2, Format: colorspace.RGBA8888}}))

	first := importBuffer{HostBuffer: rgbaBuffer(4, 2), handle: 1}
	h.kernel.Publish(0, first)
	_, err := h.kernel.DrawFrame()
	require.NoError(t, err)

	second := importBuffer{HostBuffer: rgbaBuffer(4, 2), handle: 2}
	h.kernel.Publish(0, second)
	_, err = h.kernel.DrawFrame()
	require.NoError(t, err)
	require.False(t, first.Released(), "the frame sampling the first buffer was not collected yet")

	_, err = h.kernel.DrawFrame()
	require.NoError(t, err)
	require.True(t, first.Released())
	require.False(t, second.Released())
	require.Equal(t, 2, dev.External.Imports)

	require.NoError(t, h.kernel.TearDown())
	require.True(t, second.Released())
}

func TestSetSurfaceRotation(t *testing.T) {
	h := newHarness(t)
	h.setUp(t)
	require.NoError(t, h.kernel.SetTextures([]texture.Spec{{Width: 4, Height: 2, Format: colorspace.RGBA8888}}))

	require.Error(t, h.kernel.SetSurfaceRotation(45))
	require.NoError(t, h.kernel.SetSurfaceRotation(-90))
	require.Equal(t, texture.OrientationLeft, h.kernel.Textures()[0].Orientation())

	status, err := h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FrameRebuilt, status)

	status, err = h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FramePresented, status)
}

func TestInvalidateSurfaceRebuildsOnNextFrame(t *testing.T) {
	h := newHarness(t)
	h.kernel.InvalidateSurface()
	h.setUp(t)

	status, err := h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FramePresented, status)

	h.kernel.InvalidateSurface()
	status, err = h.kernel.DrawFrame()
	require.NoError(t, err)
	require.Equal(t, FrameRebuilt, status)
}

func TestSettersApplyToEveryTexture(t *testing.T) {
	h := newHarness(t)
	h.setUp(t)
	require.NoError(t, h.kernel.SetTextures([]texture.Spec{
		{Width: 4, Height: 2, Format: colorspace.RGBA8888},
		{Width: 4, Height: 2, Format: colorspace.YUV420888},
	}))

	h.kernel.SetVideoGravity(texture.GravityResize)
	require.NoError(t, h.kernel.SetResampleFilter(texture.FilterLinear))
	for _, tex := range h.kernel.Textures() {
		require.Equal(t, texture.GravityResize, tex.Gravity())
		require.Equal(t, texture.FilterLinear, tex.Filter())
	}
}

func TestTearDownWithoutSetUp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.kernel.TearDown())

	require.NoError(t, h.kernel.Initialize())
	require.NoError(t, h.kernel.TearDown())
	require.True(t, h.runtime.Instance.Destroyed)
	require.NoError(t, h.kernel.TearDown())
}

func TestTearDownDestroysEverything(t *testing.T) {
	h := newHarness(t)
	dev := h.setUp(t)
	require.NoError(t, h.kernel.SetTextures([]texture.Spec{{Width: 4, Height: 2, Format: colorspace.YUV420888}}))
	_, err := h.kernel.DrawFrame()
	require.NoError(t, err)

	require.NoError(t, h.kernel.TearDown())

	require.Zero(t, dev.LiveMemory())
	require.Empty(t, dev.Views)
	require.Empty(t, dev.Samplers)
	require.Empty(t, dev.Pipelines)
	require.Empty(t, dev.Framebuffers)
	require.Empty(t, dev.RenderPasses)
	require.Empty(t, dev.ShaderCode)
	require.Empty(t, dev.Semaphores)
	require.Empty(t, dev.Swapchains)
	for _, f := range dev.Fences {
		require.True(t, f.Destroyed)
	}
	require.Zero(t, h.runtime.Instance.Surfaces)
	require.True(t, h.runtime.Instance.Destroyed)

	last := func(call string) int {
		for i := len(dev.Calls) - 1; i >= 0; i-- {
			if dev.Calls[i] == call {
				return i
			}
		}
		return -1
	}
	require.GreaterOrEqual(t, last("WaitIdle"), 0)
	require.Less(t, last("WaitIdle"), last("DestroyPipeline"))
	require.Less(t, last("DestroyPipeline"), last("DestroySwapchain"))
	require.Equal(t, len(dev.Calls)-1, last("DestroyDevice"))
}

func TestInspectDevices(t *testing.T) {
	h := newHarness(t)
	cpu := gputest.NewPhysicalDevice("llvmpipe")
	cpu.Props.Type = gpu.DeviceTypeCPU
	cpu.Props.VendorID = 0x10005
	cpu.Props.DeviceID = 0
	cpu.Exts = []string{"VK_KHR_swapchain", "VK_EXT_external_memory_host"}
	h.runtime.Instance.Devices = append(h.runtime.Instance.Devices, cpu)

	report, err := h.kernel.InspectDevices()
	require.NoError(t, err)
	require.Len(t, report.Devices, 2)
	require.Equal(t, gpu.DeviceTypeDiscreteGPU, report.Devices[0].Type)
	require.Equal(t, gpu.DeviceTypeCPU, report.Devices[1].Type)

	out, err := report.JSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"devices":[
		{"name":"test gpu","device_type":"discrete_gpu","api_version":4206592,"driver_version":1,
		 "vendor_id":4318,"device_id":8708,"pipeline_cache_uuid":"00000000-0000-0000-0000-000000000000",
		 "extensions":["VK_KHR_swapchain"]},
		{"name":"llvmpipe","device_type":"cpu","api_version":4206592,"driver_version":1,
		 "vendor_id":65541,"device_id":0,"pipeline_cache_uuid":"00000000-0000-0000-0000-000000000000",
		 "extensions":["VK_EXT_external_memory_host","VK_KHR_swapchain"]}
	]}`, string(out))
}
