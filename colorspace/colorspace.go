// Package colorspace maps hardware buffer pixel formats to GPU formats and
// copies CPU-visible pixel planes into linear images.
package colorspace

import (
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpuerr"
)

// Code is a hardware buffer pixel format code, using the
// AHARDWAREBUFFER_FORMAT_* numbering.
type Code int

const (
	RGBA8888  Code = 1
	RGBX8888  Code = 2
	RGB565    Code = 4
	YUV420888 Code = 0x23
)

func (c Code) String() string {
	switch c {
	case RGBA8888:
		return "RGBA_8888"
	case RGBX8888:
		return "RGBX_8888"
	case RGB565:
		return "RGB_565"
	case YUV420888:
		return "YUV_420_888"
	}
	return "UNKNOWN"
}

// RowPitchPolicy tells the CPU copy path how destination rows are laid out.
type RowPitchPolicy int

const (
	// PitchPacked copies a single interleaved plane using the image row pitch.
	PitchPacked RowPitchPolicy = iota
	// PitchPerPlane copies every plane into its own subresource, each with
	// its own row pitch and subsampled extent.
	PitchPerPlane
)

// Model selects how sampled values become RGB.
type Model int

const (
	ModelRGB Model = iota
	ModelBT601
)

type Descriptor struct {
	Code   Code
	Format core1_0.Format
	// PlaneFormats are the per-plane view formats. Single-plane formats list
	// the image format once.
	PlaneFormats   []core1_0.Format
	PlaneCount     int
	BytesPerPixel  []int
	RowPitchPolicy RowPitchPolicy
	Model          Model
	// OpaqueAlpha forces alpha to 1 when sampling.
	OpaqueAlpha bool
}

var descriptors = map[Code]Descriptor{
	RGBA8888: {
		Code:           RGBA8888,
		Format:         gpu.FormatR8G8B8A8Unorm,
		PlaneFormats:   []core1_0.Format{gpu.FormatR8G8B8A8Unorm},
		PlaneCount:     1,
		BytesPerPixel:  []int{4},
		RowPitchPolicy: PitchPacked,
		Model:          ModelRGB,
	},
	RGBX8888: {
		Code:           RGBX8888,
		Format:         gpu.FormatR8G8B8A8Unorm,
		PlaneFormats:   []core1_0.Format{gpu.FormatR8G8B8A8Unorm},
		PlaneCount:     1,
		BytesPerPixel:  []int{4},
		RowPitchPolicy: PitchPacked,
		Model:          ModelRGB,
		OpaqueAlpha:    true,
	},
	RGB565: {
		Code:           RGB565,
		Format:         gpu.FormatR5G6B5UnormPack16,
		PlaneFormats:   []core1_0.Format{gpu.FormatR5G6B5UnormPack16},
		PlaneCount:     1,
		BytesPerPixel:  []int{2},
		RowPitchPolicy: PitchPacked,
		Model:          ModelRGB,
		OpaqueAlpha:    true,
	},
	YUV420888: {
		Code:           YUV420888,
		Format:         gpu.FormatG8B8R83Plane420Unorm,
		PlaneFormats:   []core1_0.Format{gpu.FormatR8Unorm, gpu.FormatR8Unorm, gpu.FormatR8Unorm},
		PlaneCount:     3,
		BytesPerPixel:  []int{1, 1, 1},
		RowPitchPolicy: PitchPerPlane,
		Model:          ModelBT601,
		OpaqueAlpha:    true,
	},
}

// Resolve returns the descriptor for code. Unknown codes fail with
// gpuerr.ErrUnsupportedFormat; there is no fallback format.
func Resolve(code Code) (Descriptor, error) {
	desc, ok := descriptors[code]
	if !ok {
		return Descriptor{}, gpuerr.UnsupportedFormat(int(code))
	}
	return desc, nil
}

// PlaneCount returns 3 for the planar YUV layout and 1 for everything else.
func PlaneCount(code Code) int {
	if code == YUV420888 {
		return 3
	}
	return 1
}

// PlaneAspect returns the image aspect that addresses plane i.
func (d Descriptor) PlaneAspect(i int) core1_0.ImageAspectFlags {
	if d.PlaneCount == 1 {
		return core1_0.ImageAspectColor
	}
	switch i {
	case 0:
		return gpu.ImageAspectPlane0
	case 1:
		return gpu.ImageAspectPlane1
	default:
		return gpu.ImageAspectPlane2
	}
}

// PlaneExtent returns the extent of plane i for an image of the given size.
// Chroma planes of 4:2:0 layouts are half size, rounded up.
func (d Descriptor) PlaneExtent(i int, extent core1_0.Extent2D) core1_0.Extent2D {
	if d.PlaneCount == 1 || i == 0 {
		return extent
	}
	return core1_0.Extent2D{Width: (extent.Width + 1) / 2, Height: (extent.Height + 1) / 2}
}
