package imagestore

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpu/gputest"
	"github.com/vkngwrapper/videosink/gpuerr"
)

type finder struct {
	index int
	err   error
}

func (f finder) FindMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	return f.index, f.err
}

func options() Options {
	return Options{
		Extent:           core1_0.Extent2D{Width: 64, Height: 32},
		Format:           gpu.FormatR8G8B8A8Unorm,
		Tiling:           core1_0.ImageTilingOptimal,
		Usage:            core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst,
		InitialLayout:    core1_0.ImageLayoutUndefined,
		MemoryProperties: core1_0.MemoryPropertyDeviceLocal,
	}
}

func TestCreateBindsMemory(t *testing.T) {
	dev := gputest.NewDevice()
	r, err := Create(dev, finder{index: 1}, options())
	require.NoError(t, err)

	require.NotZero(t, r.Image())
	require.NotZero(t, r.Memory())
	require.Equal(t, core1_0.ImageLayoutUndefined, r.Layout())
	require.Equal(t, r.Memory(), dev.Images[r.Image()].Memory)
	require.Equal(t, 1, dev.Memories[r.Memory()].TypeIndex)
	require.False(t, r.External())
}

func TestCreateReleasesImageWhenNoMemoryType(t *testing.T) {
	dev := gputest.NewDevice()
	_, err := Create(dev, finder{err: gpuerr.ConfigurationFatal("memory type", "none")}, options())
	require.True(t, errors.Is(err, gpuerr.ErrConfigurationFatal))
	require.Equal(t, 0, dev.LiveImages())
}

func TestTransitionTwiceToSameLayout(t *testing.T) {
	dev := gputest.NewDevice()
	r, err := Create(dev, finder{}, options())
	require.NoError(t, err)
	rec := dev.Recorder(1)

	for i := 0; i < 2; i++ {
		err = r.TransitionLayout(rec, core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageFragmentShader)
		require.NoError(t, err)
		require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, r.Layout())
	}

	require.Len(t, dev.Commands, 2)
	first, second := dev.Commands[0].Barrier, dev.Commands[1].Barrier
	require.Equal(t, core1_0.ImageLayoutUndefined, first.OldLayout)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, second.OldLayout)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, second.NewLayout)
	require.Equal(t, core1_0.ImageAspectColor, first.Aspect)
	require.Equal(t, core1_0.AccessShaderRead, first.DstAccess)
}

type failingRecorder struct{}

func (failingRecorder) PipelineBarrier(barrier gpu.ImageBarrier) error {
	return errors.New("command buffer not recording")
}

func (failingRecorder) CopyImage(src gpu.Image, srcLayout core1_0.ImageLayout, dst gpu.Image, dstLayout core1_0.ImageLayout, regions ...gpu.CopyRegion) error {
	return errors.New("command buffer not recording")
}

func TestLayoutUnchangedWhenBarrierFails(t *testing.T) {
	dev := gputest.NewDevice()
	r, err := Create(dev, finder{}, options())
	require.NoError(t, err)

	err = r.Transition(failingRecorder{}, core1_0.ImageLayoutTransferDstOptimal)
	require.Error(t, err)
	require.Equal(t, core1_0.ImageLayoutUndefined, r.Layout())
}

func TestPlanarTransitionCoversAllPlanes(t *testing.T) {
	dev := gputest.NewDevice()
	opts := options()
	opts.Format = gpu.FormatG8B8R83Plane420Unorm
	r, err := Create(dev, finder{}, opts)
	require.NoError(t, err)

	require.NoError(t, r.Transition(dev.Recorder(1), core1_0.ImageLayoutTransferDstOptimal))
	barrier := dev.Commands[0].Barrier
	require.Equal(t, core1_0.ImageAspectColor, barrier.Aspect)
	require.Equal(t, core1_0.PipelineStageTopOfPipe, barrier.SrcStage)
	require.Equal(t, core1_0.PipelineStageTransfer, barrier.DstStage)
}

func TestGeneralLayoutAccessMatchesStage(t *testing.T) {
	dev := gputest.NewDevice()
	opts := options()
	opts.Tiling = core1_0.ImageTilingLinear
	opts.InitialLayout = core1_0.ImageLayoutPreInitialized
	r, err := Create(dev, finder{}, opts)
	require.NoError(t, err)

	require.NoError(t, r.Transition(dev.Recorder(1), core1_0.ImageLayoutGeneral))
	into := dev.Commands[0].Barrier
	require.Equal(t, core1_0.PipelineStageHost, into.SrcStage)
	require.Equal(t, core1_0.AccessHostWrite, into.SrcAccess)
	require.Equal(t, core1_0.PipelineStageFragmentShader, into.DstStage)
	require.Equal(t, core1_0.AccessShaderRead, into.DstAccess)

	require.NoError(t, r.Transition(dev.Recorder(1), core1_0.ImageLayoutTransferSrcOptimal))
	out := dev.Commands[1].Barrier
	require.Equal(t, core1_0.PipelineStageHost, out.SrcStage)
	require.Equal(t, core1_0.AccessHostWrite, out.SrcAccess)
}

func TestReleaseToHostCarriesNoDeviceAccess(t *testing.T) {
	dev := gputest.NewDevice()
	opts := options()
	opts.Tiling = core1_0.ImageTilingLinear
	opts.Usage = core1_0.ImageUsageTransferSrc
	r, err := Create(dev, finder{}, opts)
	require.NoError(t, err)

	require.NoError(t, r.Transition(dev.Recorder(1), core1_0.ImageLayoutTransferSrcOptimal))
	require.NoError(t, r.ReleaseToHost(dev.Recorder(1)))
	require.Equal(t, core1_0.ImageLayoutGeneral, r.Layout())

	barrier := dev.Commands[1].Barrier
	require.Equal(t, core1_0.PipelineStageTransfer, barrier.SrcStage)
	require.Equal(t, core1_0.AccessTransferRead, barrier.SrcAccess)
	require.Equal(t, core1_0.PipelineStageHost, barrier.DstStage)
	require.Zero(t, barrier.DstAccess)
}

func TestTeardown(t *testing.T) {
	dev := gputest.NewDevice()

	var never *Resource
	never.Teardown(dev)
	(&Resource{}).Teardown(dev)
	require.Empty(t, dev.Calls)

	r, err := Create(dev, finder{}, options())
	require.NoError(t, err)
	r.Teardown(dev)
	r.Teardown(dev)
	require.Equal(t, 0, dev.LiveImages())
	require.Equal(t, 0, dev.LiveMemory())
	require.Zero(t, r.Image())
}

func TestExternalOwnsOnlyImportMemory(t *testing.T) {
	dev := gputest.NewDevice()
	r, err := CreateExternal(dev, options())
	require.NoError(t, err)
	require.True(t, r.External())
	require.Zero(t, r.Memory())
	require.True(t, dev.Images[r.Image()].Info.External)

	mem, err := dev.AllocateMemory(16, 0)
	require.NoError(t, err)
	require.NoError(t, dev.BindImageMemory(r.Image(), mem, 0))
	r.AttachMemory(mem)
	r.Teardown(dev)
	require.True(t, dev.Memories[mem].Freed)
}

func TestMapPlanes(t *testing.T) {
	dev := gputest.NewDevice()
	opts := options()
	opts.Format = gpu.FormatG8B8R83Plane420Unorm
	opts.Extent = core1_0.Extent2D{Width: 100, Height: 10}
	opts.Tiling = core1_0.ImageTilingLinear
	r, err := Create(dev, finder{}, opts)
	require.NoError(t, err)

	planes, layouts, err := r.MapPlanes(dev, gpu.ImageAspectPlane0, gpu.ImageAspectPlane1, gpu.ImageAspectPlane2)
	require.NoError(t, err)
	require.Len(t, planes, 3)
	require.Equal(t, 128, layouts[0].RowPitch)
	require.Len(t, planes[0], 128*10)
	require.Equal(t, 64, layouts[1].RowPitch)
	require.Len(t, planes[2], 64*5)
	require.Equal(t, layouts[1].Offset+layouts[1].Size, layouts[2].Offset)

	_, _, err = r.MapPlanes(dev, core1_0.ImageAspectColor)
	require.Error(t, err, "memory stays mapped until Unmap")
	r.Unmap(dev)
}
