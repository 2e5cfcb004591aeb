package hwbuffer

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/videosink/colorspace"
	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpu/gputest"
	"github.com/vkngwrapper/videosink/gpuerr"
	"github.com/vkngwrapper/videosink/imagestore"
)

type nativeBuffer struct {
	*HostBuffer
	handle uintptr
}

func (b nativeBuffer) NativeHandle() uintptr {
	return b.handle
}

type typeFinder struct {
	types []gpu.MemoryType
}

func (f typeFinder) FindMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, t := range f.types {
		if typeFilter&(1<<uint(i)) != 0 && t.PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, gpuerr.ConfigurationFatal("memory type", "no memory type in %#b", typeFilter)
}

var desc = Desc{Width: 16, Height: 16, Format: colorspace.RGBA8888, Stride: 16}

func setup(t *testing.T) (*gputest.Device, *imagestore.Resource, *Binder) {
	dev := gputest.NewDevice()
	dev.External = &gputest.ExternalMemory{
		Device: dev,
		Requirements: map[uintptr]gpu.MemoryRequirements{
			0xa0: {Size: 1024, MemoryTypeBits: 0b01},
		},
	}
	res, err := imagestore.CreateExternal(dev, imagestore.Options{
		Extent:        desc.Extent(),
		Format:        gpu.FormatR8G8B8A8Unorm,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         core1_0.ImageUsageSampled,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	require.NoError(t, err)

	finder := typeFinder{types: []gpu.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible},
	}}
	return dev, res, NewBinder(dev, dev.External, finder)
}

func TestBindImportsDedicatedMemory(t *testing.T) {
	dev, res, binder := setup(t)
	buf := nativeBuffer{HostBuffer: NewHostBuffer(desc), handle: 0xa0}

	require.NoError(t, binder.Bind(res, buf, core1_0.MemoryPropertyDeviceLocal))
	require.NotZero(t, res.Memory())
	mem := dev.Memories[res.Memory()]
	require.True(t, mem.Imported)
	require.Equal(t, uintptr(0xa0), mem.Handle)
	require.Equal(t, 0, mem.TypeIndex)
	require.Equal(t, res.Memory(), dev.Images[res.Image()].Memory)
	require.Equal(t, core1_0.ImageLayoutUndefined, res.Layout())

	res.Teardown(dev)
	require.True(t, mem.Freed)
	require.False(t, buf.Released())
}

func TestBindOwnsTheOnlyBind(t *testing.T) {
	dev, res, binder := setup(t)
	buf := nativeBuffer{HostBuffer: NewHostBuffer(desc), handle: 0xa0}

	require.NoError(t, binder.Bind(res, buf, core1_0.MemoryPropertyDeviceLocal))
	require.Equal(t, []string{"ImportExternalBuffer", "BindImageMemory"}, dev.Calls[len(dev.Calls)-2:])

	// A second import over the now bound image is rejected.
	_, err := dev.External.ImportExternalBuffer(res.Image(), 0xa0, gpu.MemoryRequirements{Size: 1024}, 0)
	require.ErrorContains(t, err, "already bound")
}

func TestBindFailsWithoutCompatibleMemoryType(t *testing.T) {
	dev, res, binder := setup(t)
	buf := nativeBuffer{HostBuffer: NewHostBuffer(desc), handle: 0xa0}

	err := binder.Bind(res, buf, core1_0.MemoryPropertyHostVisible)
	require.True(t, errors.Is(err, gpuerr.ErrConfigurationFatal))
	require.Zero(t, res.Memory())
	require.Equal(t, 0, dev.External.Imports)
}

func TestBindUnknownHandle(t *testing.T) {
	_, res, binder := setup(t)
	err := binder.Bind(res, nativeBuffer{HostBuffer: NewHostBuffer(desc), handle: 0xbeef}, 0)
	require.Error(t, err)
	require.Zero(t, res.Memory())
}

func TestSupported(t *testing.T) {
	ext := &gputest.ExternalMemory{}
	host := NewHostBuffer(desc)

	_, ok := Supported(ext, host)
	require.False(t, ok)
	_, ok = Supported(nil, nativeBuffer{HostBuffer: host, handle: 1})
	require.False(t, ok)
	_, ok = Supported(ext, nativeBuffer{HostBuffer: host, handle: 0})
	require.False(t, ok)
	imp, ok := Supported(ext, nativeBuffer{HostBuffer: host, handle: 1})
	require.True(t, ok)
	require.Equal(t, uintptr(1), imp.NativeHandle())
}

func TestSlotKeepsLatest(t *testing.T) {
	var slot Slot
	first, second := NewHostBuffer(desc), NewHostBuffer(desc)

	require.Nil(t, slot.Take())
	slot.Publish(first)
	slot.Publish(second)
	require.True(t, first.Released())
	require.False(t, second.Released())
	require.Equal(t, 1, slot.Dropped())

	require.Same(t, second, slot.Take())
	require.Nil(t, slot.Take())
	require.False(t, second.Released())
}

func TestSlotConcurrentPublish(t *testing.T) {
	var slot Slot
	var wg sync.WaitGroup
	var mu sync.Mutex
	released := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := NewHostBuffer(desc)
			buf.OnRelease = func() {
				mu.Lock()
				released++
				mu.Unlock()
			}
			slot.Publish(buf)
		}()
	}
	wg.Wait()

	require.NotNil(t, slot.Take())
	require.Equal(t, 99, released)
	require.Equal(t, 99, slot.Dropped())
}

func TestSlotClose(t *testing.T) {
	var slot Slot
	buf := NewHostBuffer(desc)
	slot.Publish(buf)
	slot.Close()
	require.True(t, buf.Released())
	require.Nil(t, slot.Take())
}

func TestSlotPublishAfterCloseReleases(t *testing.T) {
	var slot Slot
	slot.Close()

	late := NewHostBuffer(desc)
	slot.Publish(late)
	require.True(t, late.Released())
	require.Nil(t, slot.Take())
	require.Zero(t, slot.Dropped())
}

func TestReleaseQueueWaitsForSerial(t *testing.T) {
	var q ReleaseQueue
	var order []int
	q.Defer(1, func() { order = append(order, 1) })
	q.Defer(3, func() { order = append(order, 3) })
	q.Defer(2, func() { order = append(order, 2) })

	require.Equal(t, 0, q.Collect(0))
	require.Equal(t, 2, q.Collect(2))
	require.Equal(t, []int{1, 2}, order)
	require.Equal(t, 1, q.Len())

	require.Equal(t, 1, q.Drain())
	require.Equal(t, []int{1, 2, 3}, order)
	require.Equal(t, 0, q.Drain())
}
