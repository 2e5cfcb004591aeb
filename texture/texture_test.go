package texture

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/videosink/colorspace"
	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpu/gputest"
	"github.com/vkngwrapper/videosink/gpuerr"
	"github.com/vkngwrapper/videosink/hwbuffer"
)

type fakeContext struct {
	dev      *gputest.Device
	types    []gpu.MemoryType
	formats  map[core1_0.Format]gpu.FormatProperties
	external gpu.ExternalMemory
	extent   core1_0.Extent2D
	retired  []func()
	pending  uint64
	waited   []uint64
}

func newContext() *fakeContext {
	return &fakeContext{
		dev: gputest.NewDevice(),
		types: []gpu.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
		},
		formats: map[core1_0.Format]gpu.FormatProperties{},
		extent:  core1_0.Extent2D{Width: 1080, Height: 1920},
		pending: 1,
	}
}

func (c *fakeContext) FindMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, t := range c.types {
		if typeFilter&(1<<uint(i)) != 0 && t.PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, gpuerr.ConfigurationFatal("memory type", "none")
}

func (c *fakeContext) TextureDevice() Device {
	return c.dev
}

func (c *fakeContext) FormatProperties(format core1_0.Format) gpu.FormatProperties {
	return c.formats[format]
}

func (c *fakeContext) ExternalMemory() (gpu.ExternalMemory, bool) {
	return c.external, c.external != nil
}

func (c *fakeContext) SurfaceExtent() core1_0.Extent2D {
	return c.extent
}

func (c *fakeContext) Recorder() gpu.Recorder {
	return c.dev.Recorder(1)
}

func (c *fakeContext) Retire(release func()) {
	c.retired = append(c.retired, release)
}

func (c *fakeContext) PendingSerial() uint64 {
	return c.pending
}

func (c *fakeContext) WaitSerial(serial uint64) error {
	c.waited = append(c.waited, serial)
	return nil
}

func (c *fakeContext) runRetired() {
	for _, fn := range c.retired {
		fn()
	}
	c.retired = nil
}

func barriers(cmds []gputest.Command) [][2]core1_0.ImageLayout {
	var out [][2]core1_0.ImageLayout
	for _, c := range cmds {
		if c.Op == "PipelineBarrier" {
			out = append(out, [2]core1_0.ImageLayout{c.Barrier.OldLayout, c.Barrier.NewLayout})
		}
	}
	return out
}

func rgbaBuffer(w, h int, fill byte) *hwbuffer.HostBuffer {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = fill
	}
	return hwbuffer.NewHostBuffer(
		hwbuffer.Desc{Width: w, Height: h, Format: colorspace.RGBA8888, Stride: w},
		colorspace.Plane{Data: data, Stride: w},
	)
}

type importBuffer struct {
	*hwbuffer.HostBuffer
	handle uintptr
}

func (b importBuffer) NativeHandle() uintptr {
	return b.handle
}

func TestViewportAspect(t *testing.T) {
	src := core1_0.Extent2D{Width: 1920, Height: 1080}
	target := core1_0.Extent2D{Width: 1080, Height: 1920}

	vp := ComputeViewport(GravityResizeAspect, src, target, OrientationUp)
	require.GreaterOrEqual(t, vp.X, float32(0))
	require.GreaterOrEqual(t, vp.Y, float32(0))
	require.LessOrEqual(t, vp.X+vp.Width, float32(1080)+1e-3)
	require.LessOrEqual(t, vp.Y+vp.Height, float32(1920)+1e-3)
	require.InDelta(t, 16.0/9.0, float64(vp.Width/vp.Height), 1e-4)
	require.InDelta(t, 1080, vp.Width, 1e-3)

	vp = ComputeViewport(GravityResizeAspectFill, src, target, OrientationUp)
	require.LessOrEqual(t, vp.X, float32(0))
	require.LessOrEqual(t, vp.Y, float32(0))
	require.GreaterOrEqual(t, vp.X+vp.Width, float32(1080)-1e-3)
	require.GreaterOrEqual(t, vp.Y+vp.Height, float32(1920)-1e-3)
	require.InDelta(t, 16.0/9.0, float64(vp.Width/vp.Height), 1e-4)
}

func TestViewportResizeAndRotation(t *testing.T) {
	src := core1_0.Extent2D{Width: 1920, Height: 1080}
	target := core1_0.Extent2D{Width: 1080, Height: 1920}

	vp := ComputeViewport(GravityResize, src, target, OrientationRight)
	require.Equal(t, core1_0.Viewport{Width: 1080, Height: 1920, MaxDepth: 1}, vp)

	// Rotated a quarter turn the source is 1080x1920 and fills the target.
	vp = ComputeViewport(GravityResizeAspect, src, target, OrientationLeft)
	require.InDelta(t, 0, vp.X, 1e-3)
	require.InDelta(t, 0, vp.Y, 1e-3)
	require.InDelta(t, 1080, vp.Width, 1e-3)
	require.InDelta(t, 1920, vp.Height, 1e-3)
}

func TestOrientationFromAngle(t *testing.T) {
	for angle, want := range map[int]Orientation{0: OrientationUp, 90: OrientationRight, 180: OrientationDown, 270: OrientationLeft, 360: OrientationUp, -90: OrientationLeft} {
		got, err := OrientationFromAngle(angle)
		require.NoError(t, err)
		require.Equal(t, want, got, "angle %d", angle)
	}
	_, err := OrientationFromAngle(45)
	require.Error(t, err)
}

func TestPushConstants(t *testing.T) {
	rgbx, err := colorspace.Resolve(colorspace.RGBX8888)
	require.NoError(t, err)
	pc := ComputePushConstants(rgbx, OrientationUp)
	require.Equal(t, int32(1), pc.PlaneCount)
	require.Equal(t, float32(1), pc.ColorBias[3])
	require.Equal(t, float32(0), pc.ColorMatrix.At(3, 3))
	require.Equal(t, float32(1), pc.ColorMatrix.At(0, 0))

	yuv, err := colorspace.Resolve(colorspace.YUV420888)
	require.NoError(t, err)
	pc = ComputePushConstants(yuv, OrientationRight)
	require.Equal(t, int32(3), pc.PlaneCount)
	require.InDelta(t, 1.164, pc.ColorMatrix.At(0, 0), 1e-6)
	// Video black (16, 128, 128) maps to zero.
	black := pc.ColorMatrix.Mul4x1([4]float32{16.0 / 255.0, 0.5, 0.5, 0}).Add(pc.ColorBias)
	for i := 0; i < 3; i++ {
		require.InDelta(t, 0, black[i], 1e-5)
	}
	require.InDelta(t, 0, pc.Transform.At(0, 0), 1e-6)
	require.InDelta(t, 1, math.Abs(float64(pc.Transform.At(1, 0))), 1e-6)

	data, err := pc.Bytes()
	require.NoError(t, err)
	require.Len(t, data, PushConstantSize)
}

func TestSetUpPicksMode(t *testing.T) {
	ctx := newContext()
	ctx.formats[gpu.FormatR8G8B8A8Unorm] = gpu.FormatProperties{LinearTilingFeatures: core1_0.FormatFeatureSampledImage}

	linear := New(0, Spec{Width: 64, Height: 32, Format: colorspace.RGBA8888}, nil)
	require.NoError(t, linear.SetUp(ctx))
	require.Equal(t, ModeLinear, linear.Mode())
	require.Nil(t, linear.staging)
	require.Equal(t, core1_0.ImageTilingLinear, linear.primary.Tiling())
	require.Equal(t, core1_0.ImageLayoutGeneral, linear.primary.Layout())
	require.True(t, linear.Ready())
	require.Equal(t, core1_0.ImageLayoutGeneral, linear.Descriptors(3)[2].Layout)

	staged := New(1, Spec{Width: 64, Height: 32, Format: colorspace.RGB565}, nil)
	require.NoError(t, staged.SetUp(ctx))
	require.Equal(t, ModeStage, staged.Mode())
	require.NotNil(t, staged.staging)
	require.Equal(t, core1_0.ImageTilingOptimal, staged.primary.Tiling())
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, staged.primary.Layout())
	require.Equal(t, core1_0.ImageLayoutGeneral, staged.staging.Layout())
}

func TestSetUpUnsupportedFormat(t *testing.T) {
	tex := New(0, Spec{Width: 8, Height: 8, Format: colorspace.Code(0x7f)}, nil)
	err := tex.SetUp(newContext())
	require.True(t, errors.Is(err, gpuerr.ErrUnsupportedFormat))
}

func TestStagedUpdateOrdersCopy(t *testing.T) {
	ctx := newContext()
	tex := New(0, Spec{Width: 16, Height: 4, Format: colorspace.RGBA8888}, nil)
	require.NoError(t, tex.SetUp(ctx))
	ctx.dev.Commands = nil
	version := tex.Version()

	buf := rgbaBuffer(16, 4, 0x7f)
	require.NoError(t, tex.Update(ctx, buf))
	require.True(t, buf.Released())
	require.Greater(t, tex.Version(), version)

	require.Equal(t, [][2]core1_0.ImageLayout{
		{core1_0.ImageLayoutGeneral, core1_0.ImageLayoutTransferSrcOptimal},
		{core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutTransferDstOptimal},
		{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal},
		{core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutGeneral},
	}, barriers(ctx.dev.Commands))
	require.Equal(t, "CopyImage", ctx.dev.Commands[2].Op)
	require.Equal(t, tex.staging.Image(), ctx.dev.Commands[2].Src)
	require.Equal(t, tex.primary.Image(), ctx.dev.Commands[2].Dst)

	staging := ctx.dev.MemoryOf(tex.staging.Image())
	require.Equal(t, byte(0x7f), staging[0])
	require.Equal(t, byte(0x7f), staging[63])
	require.Equal(t, []uint64{0}, ctx.waited)
}

func TestLinearUpdateWaitsForFramesInFlight(t *testing.T) {
	ctx := newContext()
	ctx.formats[gpu.FormatR8G8B8A8Unorm] = gpu.FormatProperties{LinearTilingFeatures: core1_0.FormatFeatureSampledImage}
	tex := New(0, Spec{Width: 16, Height: 4, Format: colorspace.RGBA8888}, nil)
	require.NoError(t, tex.SetUp(ctx))
	ctx.pending = 5
	ctx.dev.Commands = nil

	require.NoError(t, tex.Update(ctx, rgbaBuffer(16, 4, 1)))
	require.Equal(t, []uint64{4}, ctx.waited)
	require.Equal(t, [][2]core1_0.ImageLayout{
		{core1_0.ImageLayoutGeneral, core1_0.ImageLayoutGeneral},
	}, barriers(ctx.dev.Commands))
	require.Equal(t, core1_0.PipelineStageHost, ctx.dev.Commands[0].Barrier.SrcStage)
}

func TestImportUpdate(t *testing.T) {
	ctx := newContext()
	ext := &gputest.ExternalMemory{Device: ctx.dev, Requirements: map[uintptr]gpu.MemoryRequirements{
		1: {Size: 4096, MemoryTypeBits: 0b11},
		2: {Size: 4096, MemoryTypeBits: 0b11},
	}}
	ctx.external = ext
	tex := New(0, Spec{Width: 16, Height: 16, Format: colorspace.RGBA8888}, nil)
	require.NoError(t, tex.SetUp(ctx))
	ctx.dev.Commands = nil

	first := importBuffer{HostBuffer: rgbaBuffer(16, 16, 0), handle: 1}
	require.NoError(t, tex.Update(ctx, first))
	require.Equal(t, 1, ext.Imports)
	require.False(t, first.Released())
	require.Equal(t, [][2]core1_0.ImageLayout{
		{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutShaderReadOnlyOptimal},
	}, barriers(ctx.dev.Commands))
	importedView := tex.Descriptors(1)[0].View
	require.Equal(t, tex.imported.Image(), ctx.dev.Views[importedView].Image)

	second := importBuffer{HostBuffer: rgbaBuffer(16, 16, 0), handle: 2}
	require.NoError(t, tex.Update(ctx, second))
	require.False(t, first.Released(), "released only after the frames sampling it complete")
	ctx.runRetired()
	require.True(t, first.Released())
	require.False(t, second.Released())

	tex.Teardown(ctx.dev)
	require.True(t, second.Released())
	ctx.runRetired()
	require.Equal(t, 0, ctx.dev.LiveImages())
	require.Equal(t, 0, ctx.dev.LiveMemory())
}

func TestUpdateRejectsUnknownFormat(t *testing.T) {
	ctx := newContext()
	tex := New(0, Spec{Width: 16, Height: 4, Format: colorspace.RGBA8888}, nil)
	require.NoError(t, tex.SetUp(ctx))

	buf := hwbuffer.NewHostBuffer(hwbuffer.Desc{Width: 16, Height: 4, Format: 0x99, Stride: 16})
	err := tex.Update(ctx, buf)
	require.True(t, errors.Is(err, gpuerr.ErrUnsupportedFormat))
	require.True(t, buf.Released())
}

func TestUpdateInFlight(t *testing.T) {
	ctx := newContext()
	tex := New(3, Spec{Width: 16, Height: 4, Format: colorspace.RGBA8888}, nil)
	require.NoError(t, tex.SetUp(ctx))

	tex.updating.Store(true)
	err := tex.Update(ctx, rgbaBuffer(16, 4, 0))
	require.True(t, errors.Is(err, gpuerr.ErrUpdateInFlight))
}

func TestUpdateReconfiguresOnSizeChange(t *testing.T) {
	ctx := newContext()
	tex := New(0, Spec{Width: 16, Height: 4, Format: colorspace.RGBA8888}, nil)
	require.NoError(t, tex.SetUp(ctx))
	oldPrimary := tex.primary.Image()

	require.NoError(t, tex.Update(ctx, rgbaBuffer(32, 8, 0)))
	require.Equal(t, Spec{Width: 32, Height: 8, Format: colorspace.RGBA8888}, tex.Spec())
	require.NotEqual(t, oldPrimary, tex.primary.Image())
	require.False(t, ctx.dev.Images[oldPrimary].Destroyed)
	ctx.runRetired()
	require.True(t, ctx.dev.Images[oldPrimary].Destroyed)
}

func TestPlanarUpdateCopiesEveryPlane(t *testing.T) {
	ctx := newContext()
	tex := New(0, Spec{Width: 8, Height: 4, Format: colorspace.YUV420888}, nil)
	require.NoError(t, tex.SetUp(ctx))
	require.Len(t, tex.views, 3)
	ctx.dev.Commands = nil

	y := make([]byte, 8*4)
	u := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	v := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	buf := hwbuffer.NewHostBuffer(hwbuffer.Desc{Width: 8, Height: 4, Format: colorspace.YUV420888, Stride: 8},
		colorspace.Plane{Data: y, Stride: 8},
		colorspace.Plane{Data: u, Stride: 4},
		colorspace.Plane{Data: v, Stride: 4},
	)
	require.NoError(t, tex.Update(ctx, buf))

	var copyCmd gputest.Command
	for _, c := range ctx.dev.Commands {
		if c.Op == "CopyImage" {
			copyCmd = c
		}
	}
	require.Len(t, copyCmd.Regions, 3)
	require.Equal(t, core1_0.Extent2D{Width: 4, Height: 2}, copyCmd.Regions[1].Extent)
	require.Equal(t, gpu.ImageAspectPlane2, copyCmd.Regions[2].Aspect)

	layout := ctx.dev.ImageSubresourceLayout(tex.staging.Image(), gpu.ImageAspectPlane1)
	staging := ctx.dev.MemoryOf(tex.staging.Image())
	require.Equal(t, []byte{1, 2, 3, 4}, staging[layout.Offset:layout.Offset+4])
	require.Equal(t, []byte{5, 6, 7, 8}, staging[layout.Offset+layout.RowPitch:layout.Offset+layout.RowPitch+4])
}

func TestSetResampleFilterRetiresOldSampler(t *testing.T) {
	ctx := newContext()
	tex := New(0, Spec{Width: 16, Height: 4, Format: colorspace.RGBA8888}, nil)
	require.NoError(t, tex.SetResampleFilter(ctx, FilterLinear))
	require.NoError(t, tex.SetUp(ctx))
	old := tex.sampler
	require.Equal(t, core1_0.FilterLinear, ctx.dev.Samplers[old].Filter)

	require.NoError(t, tex.SetResampleFilter(ctx, FilterCubic))
	require.NotEqual(t, old, tex.sampler)
	require.Equal(t, gpu.FilterCubic, ctx.dev.Samplers[tex.sampler].Filter)
	require.Contains(t, ctx.dev.Samplers, old)
	ctx.runRetired()
	require.NotContains(t, ctx.dev.Samplers, old)
}

func TestTeardownWithoutSetUp(t *testing.T) {
	dev := gputest.NewDevice()
	tex := New(0, Spec{Width: 16, Height: 4, Format: colorspace.RGBA8888}, nil)
	tex.Teardown(dev)
	tex.Teardown(dev)
	require.Empty(t, dev.Calls)
}

func TestSettersApplyOnNextComputation(t *testing.T) {
	ctx := newContext()
	tex := New(0, Spec{Width: 1920, Height: 1080, Format: colorspace.RGBA8888}, nil)
	before := tex.GetViewport(ctx)
	tex.SetVideoGravity(GravityResize)
	require.NotEqual(t, before, tex.GetViewport(ctx))
	tex.SetImageOrientation(OrientationDown)
	require.Equal(t, OrientationDown, tex.Orientation())
}
