package colorspace

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Plane is one contiguous region of pixel data. Stride counts pixels per
// row, as hardware buffer descriptions declare it. PixelStride is the
// distance between successive samples in units of the plane's pixel size;
// 2 describes interleaved chroma. Zero means packed.
type Plane struct {
	Data        []byte
	Stride      int
	PixelStride int
}

func (p Plane) step() int {
	if p.PixelStride < 1 {
		return 1
	}
	return p.PixelStride
}

type CopyStats struct {
	Rows            int
	BytesPerRow     int
	SourceBytesRead int
}

// ConvertRows copies src into dst row by row. Destination planes are packed
// (PixelStride is ignored) with Stride set from the image row pitch.
//
// Each row copies min(bytes available, bytes needed). Bytes available is
// bounded by the declared source stride and by the data actually present,
// so a short or over-declared buffer never causes a read past either bound.
// The stats report plane 0.
func ConvertRows(desc Descriptor, dst []Plane, src []Plane, extent core1_0.Extent2D) (CopyStats, error) {
	if len(src) != desc.PlaneCount {
		return CopyStats{}, errors.Newf("%s expects %d source planes, got %d", desc.Code, desc.PlaneCount, len(src))
	}
	if len(dst) != desc.PlaneCount {
		return CopyStats{}, errors.Newf("%s expects %d destination planes, got %d", desc.Code, desc.PlaneCount, len(dst))
	}

	var stats CopyStats
	for i := range src {
		planeExtent := desc.PlaneExtent(i, extent)
		s := copyPlane(dst[i], src[i], planeExtent, desc.BytesPerPixel[i])
		if i == 0 {
			stats = s
		}
	}
	return stats, nil
}

func copyPlane(dst Plane, src Plane, extent core1_0.Extent2D, bpp int) CopyStats {
	step := src.step()
	srcPitch := src.Stride * bpp * step
	dstPitch := dst.Stride * bpp
	needed := extent.Width * bpp

	var stats CopyStats
	for y := 0; y < extent.Height; y++ {
		srcOff := y * srcPitch
		dstOff := y * dstPitch
		if srcOff >= len(src.Data) || dstOff >= len(dst.Data) {
			break
		}
		available := min(srcPitch, len(src.Data)-srcOff)
		room := min(dstPitch, len(dst.Data)-dstOff)
		row := src.Data[srcOff : srcOff+available]
		out := dst.Data[dstOff : dstOff+room]

		var written, read int
		if step == 1 {
			n := min(available, needed, room)
			copy(out[:n], row[:n])
			written, read = n, n
		} else {
			written, read = gather(out, row, extent.Width, bpp, step)
		}
		stats.Rows++
		stats.BytesPerRow = max(stats.BytesPerRow, written)
		stats.SourceBytesRead += read
	}
	return stats
}

// gather de-interleaves samples spaced step pixels apart.
func gather(out []byte, row []byte, width int, bpp int, step int) (int, int) {
	written, read := 0, 0
	for x := 0; x < width; x++ {
		at := x * step * bpp
		if at+bpp > len(row) || written+bpp > len(out) {
			break
		}
		copy(out[written:written+bpp], row[at:at+bpp])
		written += bpp
		read = at + bpp
	}
	return written, read
}
