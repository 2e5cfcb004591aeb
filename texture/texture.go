// Package texture turns producer buffers into sampled images: it imports
// or copies each new buffer, keeps the layout state of its images and
// derives the per-draw viewport and push constants.
package texture

import (
	"io"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/colorspace"
	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpuerr"
	"github.com/vkngwrapper/videosink/hwbuffer"
	"github.com/vkngwrapper/videosink/imagestore"
)

// Device is the slice of the device a texture creates and destroys its
// images, memory and views through.
type Device interface {
	gpu.Images
	gpu.Memory
	gpu.Views
}

// Context is what a texture needs from the device context for one call.
// It is passed into each operation instead of being stored.
type Context interface {
	gpu.MemoryTypeFinder
	TextureDevice() Device
	FormatProperties(format core1_0.Format) gpu.FormatProperties
	ExternalMemory() (gpu.ExternalMemory, bool)
	SurfaceExtent() core1_0.Extent2D
	// Recorder returns the command stream of the next frame.
	Recorder() gpu.Recorder
	// Retire runs release once every frame submitted so far has completed.
	Retire(release func())
	// PendingSerial is the serial the next submitted frame will carry.
	PendingSerial() uint64
	// WaitSerial blocks until the frame with serial has completed. Serials
	// not yet submitted return immediately.
	WaitSerial(serial uint64) error
}

// Spec is the size and pixel format a texture is configured for. Update
// reconfigures the texture when a buffer does not match it.
type Spec struct {
	Width  int
	Height int
	Format colorspace.Code
}

func (s Spec) Extent() core1_0.Extent2D {
	return core1_0.Extent2D{Width: s.Width, Height: s.Height}
}

// Mode is how CPU-visible buffers reach the sampled image.
type Mode int

const (
	// ModeLinear writes straight into a linear, host-visible primary image
	// that is sampled in the General layout.
	ModeLinear Mode = iota
	// ModeStage writes into a linear staging image and copies it into a
	// device-optimal primary on every update.
	ModeStage
)

func (m Mode) String() string {
	if m == ModeLinear {
		return "linear"
	}
	return "stage"
}

// Filter selects how the sampler resamples the texture when it is scaled.
type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
	FilterCubic
)

func (f Filter) String() string {
	switch f {
	case FilterNearest:
		return "nearest"
	case FilterLinear:
		return "linear"
	case FilterCubic:
		return "cubic"
	}
	return "unknown"
}

func ParseFilter(s string) (Filter, error) {
	for _, f := range []Filter{FilterNearest, FilterLinear, FilterCubic} {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, errors.Newf("unknown resample filter %q", s)
}

func (f Filter) vulkan() core1_0.Filter {
	switch f {
	case FilterLinear:
		return core1_0.FilterLinear
	case FilterCubic:
		return gpu.FilterCubic
	}
	return core1_0.FilterNearest
}

type Texture struct {
	id     int
	logger *slog.Logger

	spec Spec
	desc colorspace.Descriptor
	mode Mode

	primary *imagestore.Resource
	staging *imagestore.Resource
	// imported is the image bound to the latest imported buffer. While set
	// it is sampled instead of primary.
	imported    *imagestore.Resource
	importedBuf hwbuffer.Buffer

	views   []gpu.ImageView
	sampler gpu.Sampler
	filter  Filter

	orientation Orientation
	gravity     Gravity

	// hostSerial is the frame that last read host-written memory.
	hostSerial uint64
	version    uint64
	updating   atomic.Bool
}

func New(id int, spec Spec, logger *slog.Logger) *Texture {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Texture{
		id:      id,
		spec:    spec,
		logger:  logger.With(slog.Int("texture", id)),
		gravity: GravityResizeAspectFill,
	}
}

func (t *Texture) ID() int {
	return t.id
}

// Spec returns the configuration the texture currently has.
func (t *Texture) Spec() Spec {
	return t.spec
}

func (t *Texture) Mode() Mode {
	return t.mode
}

// Version increases whenever the sampled image or sampler changes.
func (t *Texture) Version() uint64 {
	return t.version
}

// SetUp creates the sampled images for the declared spec. Formats the
// device can sample from linear tiling get a single linear image; the rest
// get a device-optimal image plus a linear staging image.
func (t *Texture) SetUp(ctx Context) error {
	desc, err := colorspace.Resolve(t.spec.Format)
	if err != nil {
		return err
	}
	t.desc = desc

	props := ctx.FormatProperties(desc.Format)
	if props.LinearTilingFeatures&core1_0.FormatFeatureSampledImage != 0 {
		t.mode = ModeLinear
	} else {
		t.mode = ModeStage
	}

	if err := t.createImages(ctx); err != nil {
		t.Teardown(ctx.TextureDevice())
		return err
	}
	if err := t.createSampler(ctx.TextureDevice()); err != nil {
		t.Teardown(ctx.TextureDevice())
		return err
	}

	t.logger.Info("texture configured",
		slog.String("format", desc.Code.String()),
		slog.String("mode", t.mode.String()),
		slog.Int("width", t.spec.Width),
		slog.Int("height", t.spec.Height))
	return nil
}

func (t *Texture) imageFlags() core1_0.ImageCreateFlags {
	if t.desc.PlaneCount > 1 {
		return gpu.ImageCreateMutableFormat
	}
	return 0
}

func (t *Texture) createImages(ctx Context) error {
	device := ctx.TextureDevice()
	rec := ctx.Recorder()

	linear := imagestore.Options{
		Extent:           t.spec.Extent(),
		Format:           t.desc.Format,
		Tiling:           core1_0.ImageTilingLinear,
		Flags:            t.imageFlags(),
		InitialLayout:    core1_0.ImageLayoutPreInitialized,
		MemoryProperties: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
	}

	if t.mode == ModeLinear {
		linear.Usage = core1_0.ImageUsageSampled
		primary, err := imagestore.Create(device, ctx, linear)
		if err != nil {
			return errors.Wrap(err, "create linear texture image")
		}
		t.primary = primary
		if err := primary.Transition(rec, core1_0.ImageLayoutGeneral); err != nil {
			return err
		}
		return t.createViews(device, primary)
	}

	linear.Usage = core1_0.ImageUsageTransferSrc
	staging, err := imagestore.Create(device, ctx, linear)
	if err != nil {
		return errors.Wrap(err, "create staging image")
	}
	t.staging = staging
	if err := staging.ReleaseToHost(rec); err != nil {
		return err
	}

	primary, err := imagestore.Create(device, ctx, imagestore.Options{
		Extent:           t.spec.Extent(),
		Format:           t.desc.Format,
		Tiling:           core1_0.ImageTilingOptimal,
		Usage:            core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst,
		Flags:            t.imageFlags(),
		InitialLayout:    core1_0.ImageLayoutUndefined,
		MemoryProperties: core1_0.MemoryPropertyDeviceLocal,
	})
	if err != nil {
		return errors.Wrap(err, "create texture image")
	}
	t.primary = primary
	if err := primary.Transition(rec, core1_0.ImageLayoutShaderReadOnlyOptimal); err != nil {
		return err
	}
	return t.createViews(device, primary)
}

// createViews replaces the plane views with views of res. Single-plane
// formats repeat one view for every plane binding.
func (t *Texture) createViews(device Device, res *imagestore.Resource) error {
	views := make([]gpu.ImageView, 0, t.desc.PlaneCount)
	for i := 0; i < t.desc.PlaneCount; i++ {
		view, err := device.CreateImageView(gpu.ViewInfo{
			Image:  res.Image(),
			Format: t.desc.PlaneFormats[i],
			Aspect: t.desc.PlaneAspect(i),
		})
		if err != nil {
			for _, v := range views {
				device.DestroyImageView(v)
			}
			return errors.Wrapf(err, "create view for plane %d", i)
		}
		views = append(views, view)
	}
	t.views = views
	t.version++
	return nil
}

func (t *Texture) createSampler(device Device) error {
	sampler, err := device.CreateSampler(gpu.SamplerInfo{Filter: t.filter.vulkan()})
	if err != nil {
		return errors.Wrap(err, "create sampler")
	}
	t.sampler = sampler
	t.version++
	return nil
}

// Update absorbs buf into the texture and takes ownership of it. Buffers
// that can be imported are bound directly and released once the frames
// sampling them complete; the rest are copied on the CPU and released
// before Update returns.
//
// Update must not be called again before it returns.
func (t *Texture) Update(ctx Context, buf hwbuffer.Buffer) error {
	if !t.updating.CompareAndSwap(false, true) {
		return gpuerr.UpdateInFlight(t.id)
	}
	defer t.updating.Store(false)

	bd := buf.Desc()
	desc, err := colorspace.Resolve(bd.Format)
	if err != nil {
		buf.Release()
		return err
	}

	if desc.Code != t.desc.Code || bd.Width != t.spec.Width || bd.Height != t.spec.Height {
		if err := t.reconfigure(ctx, Spec{Width: bd.Width, Height: bd.Height, Format: bd.Format}); err != nil {
			buf.Release()
			return err
		}
	}

	external, _ := ctx.ExternalMemory()
	if imp, ok := hwbuffer.Supported(external, buf); ok {
		err = t.importBuffer(ctx, external, imp)
	} else {
		err = t.copyBuffer(ctx, buf)
	}
	if err != nil {
		return errors.Wrapf(err, "update texture %d", t.id)
	}
	return nil
}

func (t *Texture) reconfigure(ctx Context, spec Spec) error {
	t.logger.Info("texture reconfigured",
		slog.String("format", spec.Format.String()),
		slog.Int("width", spec.Width),
		slog.Int("height", spec.Height))

	t.retireImages(ctx)
	t.spec = spec
	desc, err := colorspace.Resolve(spec.Format)
	if err != nil {
		return err
	}
	t.desc = desc
	return t.createImages(ctx)
}

// retireImages hands every image and view to the release queue.
func (t *Texture) retireImages(ctx Context) {
	device := ctx.TextureDevice()
	primary, staging, imported, importedBuf, views := t.primary, t.staging, t.imported, t.importedBuf, t.views
	t.primary, t.staging, t.imported, t.importedBuf, t.views = nil, nil, nil, nil, nil
	ctx.Retire(func() {
		for _, v := range views {
			device.DestroyImageView(v)
		}
		imported.Teardown(device)
		if importedBuf != nil {
			importedBuf.Release()
		}
		staging.Teardown(device)
		primary.Teardown(device)
	})
}

func (t *Texture) importBuffer(ctx Context, external gpu.ExternalMemory, buf hwbuffer.Importable) error {
	device := ctx.TextureDevice()
	res, err := imagestore.CreateExternal(device, imagestore.Options{
		Extent:        t.spec.Extent(),
		Format:        t.desc.Format,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         core1_0.ImageUsageSampled,
		Flags:         t.imageFlags(),
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		buf.Release()
		return err
	}

	binder := hwbuffer.NewBinder(device, external, ctx)
	if err := binder.Bind(res, buf, core1_0.MemoryPropertyDeviceLocal); err != nil {
		res.Teardown(device)
		buf.Release()
		return err
	}
	if err := res.Transition(ctx.Recorder(), core1_0.ImageLayoutShaderReadOnlyOptimal); err != nil {
		res.Teardown(device)
		buf.Release()
		return err
	}

	oldViews, oldImport, oldBuf := t.views, t.imported, t.importedBuf
	if err := t.createViews(device, res); err != nil {
		res.Teardown(device)
		buf.Release()
		return err
	}
	t.imported, t.importedBuf = res, buf

	ctx.Retire(func() {
		for _, v := range oldViews {
			device.DestroyImageView(v)
		}
		oldImport.Teardown(device)
		if oldBuf != nil {
			oldBuf.Release()
		}
	})
	t.logger.Debug("imported buffer", slog.Uint64("version", t.version))
	return nil
}

func (t *Texture) copyBuffer(ctx Context, buf hwbuffer.Buffer) error {
	defer buf.Release()
	device := ctx.TextureDevice()

	if t.imported != nil {
		// Switching back from imported buffers: sample primary again.
		oldViews, oldImport, oldBuf := t.views, t.imported, t.importedBuf
		t.imported, t.importedBuf = nil, nil
		if err := t.createViews(device, t.primary); err != nil {
			return err
		}
		ctx.Retire(func() {
			for _, v := range oldViews {
				device.DestroyImageView(v)
			}
			oldImport.Teardown(device)
			oldBuf.Release()
		})
	}

	src, err := buf.Planes()
	if err != nil {
		return errors.Wrap(err, "read buffer planes")
	}

	target := t.primary
	wait := t.hostSerial
	if t.mode == ModeStage {
		target = t.staging
	} else if pending := ctx.PendingSerial(); pending > 0 {
		// The linear primary is sampled by every frame in flight.
		wait = pending - 1
	}
	if err := ctx.WaitSerial(wait); err != nil {
		return errors.Wrap(err, "wait for previous frame")
	}

	if err := t.writePlanes(device, target, src); err != nil {
		return err
	}
	t.hostSerial = ctx.PendingSerial()

	rec := ctx.Recorder()
	if t.mode == ModeLinear {
		// Make the host writes visible to the next draw.
		if err := target.TransitionLayout(rec, core1_0.ImageLayoutGeneral, core1_0.PipelineStageHost, core1_0.PipelineStageFragmentShader); err != nil {
			return err
		}
		t.version++
		return nil
	}

	if err := t.staging.Transition(rec, core1_0.ImageLayoutTransferSrcOptimal); err != nil {
		return err
	}
	if err := t.primary.Transition(rec, core1_0.ImageLayoutTransferDstOptimal); err != nil {
		return err
	}
	regions := make([]gpu.CopyRegion, t.desc.PlaneCount)
	for i := range regions {
		regions[i] = gpu.CopyRegion{Aspect: t.desc.PlaneAspect(i), Extent: t.desc.PlaneExtent(i, t.spec.Extent())}
	}
	err = rec.CopyImage(t.staging.Image(), t.staging.Layout(), t.primary.Image(), t.primary.Layout(), regions...)
	if err != nil {
		return errors.Wrap(err, "copy staging image")
	}
	if err := t.primary.Transition(rec, core1_0.ImageLayoutShaderReadOnlyOptimal); err != nil {
		return err
	}
	if err := t.staging.ReleaseToHost(rec); err != nil {
		return err
	}
	t.version++
	return nil
}

// writePlanes converts src into the mapped planes of res.
func (t *Texture) writePlanes(device Device, res *imagestore.Resource, src []colorspace.Plane) error {
	aspects := make([]core1_0.ImageAspectFlags, t.desc.PlaneCount)
	for i := range aspects {
		aspects[i] = t.desc.PlaneAspect(i)
	}
	planes, layouts, err := res.MapPlanes(device, aspects...)
	if err != nil {
		return err
	}
	defer res.Unmap(device)

	dst := make([]colorspace.Plane, len(planes))
	for i := range dst {
		dst[i] = colorspace.Plane{Data: planes[i], Stride: layouts[i].RowPitch / t.desc.BytesPerPixel[i]}
	}

	stats, err := colorspace.ConvertRows(t.desc, dst, src, t.spec.Extent())
	if err != nil {
		return err
	}
	t.logger.Debug("copied buffer",
		slog.Int("rows", stats.Rows),
		slog.Int("bytes_per_row", stats.BytesPerRow),
		slog.Int("source_bytes", stats.SourceBytesRead))
	return nil
}

func (t *Texture) SetImageOrientation(orientation Orientation) {
	t.orientation = orientation
}

func (t *Texture) Orientation() Orientation {
	return t.orientation
}

func (t *Texture) SetVideoGravity(gravity Gravity) {
	t.gravity = gravity
}

func (t *Texture) Gravity() Gravity {
	return t.gravity
}

// SetResampleFilter replaces the sampler. The old sampler is retired with
// the frames that may still use it.
func (t *Texture) SetResampleFilter(ctx Context, filter Filter) error {
	if filter == t.filter && t.sampler != 0 {
		return nil
	}
	t.filter = filter
	if t.sampler == 0 {
		return nil
	}

	device := ctx.TextureDevice()
	old := t.sampler
	if err := t.createSampler(device); err != nil {
		return err
	}
	ctx.Retire(func() {
		device.DestroySampler(old)
	})
	return nil
}

func (t *Texture) Filter() Filter {
	return t.filter
}

// GetViewport places the texture on the current surface.
func (t *Texture) GetViewport(ctx Context) core1_0.Viewport {
	return ComputeViewport(t.gravity, t.spec.Extent(), ctx.SurfaceExtent(), t.orientation)
}

func (t *Texture) GetPushConstants() PushConstants {
	return ComputePushConstants(t.desc, t.orientation)
}

// Descriptors returns one image binding per shader plane slot. Missing
// planes repeat plane 0.
func (t *Texture) Descriptors(slots int) []gpu.DescriptorImage {
	layout := core1_0.ImageLayoutShaderReadOnlyOptimal
	if t.imported == nil && t.mode == ModeLinear {
		layout = core1_0.ImageLayoutGeneral
	}
	images := make([]gpu.DescriptorImage, slots)
	for i := range images {
		var view gpu.ImageView
		switch {
		case i < len(t.views):
			view = t.views[i]
		case len(t.views) > 0:
			view = t.views[0]
		}
		images[i] = gpu.DescriptorImage{View: view, Sampler: t.sampler, Layout: layout}
	}
	return images
}

// Ready reports whether the texture has images to sample.
func (t *Texture) Ready() bool {
	return len(t.views) > 0 && t.sampler != 0
}

// Teardown destroys everything the texture owns and releases a held
// imported buffer. The device must be idle. A texture that was never set
// up tears down to nothing.
func (t *Texture) Teardown(device Device) {
	for _, v := range t.views {
		device.DestroyImageView(v)
	}
	t.views = nil
	if t.sampler != 0 {
		device.DestroySampler(t.sampler)
		t.sampler = 0
	}
	t.imported.Teardown(device)
	t.imported = nil
	if t.importedBuf != nil {
		t.importedBuf.Release()
		t.importedBuf = nil
	}
	t.staging.Teardown(device)
	t.staging = nil
	t.primary.Teardown(device)
	t.primary = nil
}
