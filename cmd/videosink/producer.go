package main

import (
	"context"
	"image"
	"image/color"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/vkngwrapper/videosink/colorspace"
	"github.com/vkngwrapper/videosink/hwbuffer"
)

var formats = map[string]colorspace.Code{
	"rgba":   colorspace.RGBA8888,
	"rgbx":   colorspace.RGBX8888,
	"rgb565": colorspace.RGB565,
	"yuv420": colorspace.YUV420888,
}

func parseFormat(s string) (colorspace.Code, error) {
	code, ok := formats[s]
	if !ok {
		return 0, errors.Newf("unknown producer format %q", s)
	}
	return code, nil
}

var palette = []color.RGBA{
	colornames.Steelblue,
	colornames.Darkorange,
	colornames.Seagreen,
	colornames.Crimson,
	colornames.Slateblue,
}

// producer renders a synthetic test pattern on the CPU, the way a decoder
// would hand frames to the sink. Each frame is a fresh lease; the sink
// releases it when the GPU no longer reads it.
type producer struct {
	desc   hwbuffer.Desc
	logger *slog.Logger

	canvas   *image.RGBA
	frame    int
	released chan struct{}
}

func newProducer(width, height int, format colorspace.Code, logger *slog.Logger) *producer {
	return &producer{
		desc:     hwbuffer.Desc{Width: width, Height: height, Format: format, Stride: width},
		logger:   logger,
		canvas:   image.NewRGBA(image.Rect(0, 0, width, height)),
		released: make(chan struct{}, 64),
	}
}

func (p *producer) draw() {
	bounds := p.canvas.Bounds()
	bg := palette[(p.frame/60)%len(palette)]
	draw.Draw(p.canvas, bounds, image.NewUniform(bg), image.Point{}, draw.Src)

	// A bar sweeping left to right makes dropped frames and tearing visible.
	barWidth := max(bounds.Dx()/16, 1)
	x := (p.frame * 4) % bounds.Dx()
	bar := image.Rect(x, 0, x+barWidth, bounds.Dy())
	draw.Draw(p.canvas, bar, image.NewUniform(colornames.White), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  p.canvas,
		Src:  image.NewUniform(colornames.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 20),
	}
	d.DrawString("frame " + strconv.Itoa(p.frame) + " " + p.desc.Format.String())
}

// next renders the following frame into a new buffer.
func (p *producer) next() *hwbuffer.HostBuffer {
	p.draw()
	p.frame++

	var buf *hwbuffer.HostBuffer
	switch p.desc.Format {
	case colorspace.RGB565:
		buf = hwbuffer.NewHostBuffer(p.desc, colorspace.Plane{Data: toRGB565(p.canvas), Stride: p.desc.Width})
	case colorspace.YUV420888:
		ycc := toYCbCr(p.canvas)
		buf = hwbuffer.NewHostBuffer(p.desc,
			colorspace.Plane{Data: ycc.Y, Stride: ycc.YStride},
			colorspace.Plane{Data: ycc.Cb, Stride: ycc.CStride},
			colorspace.Plane{Data: ycc.Cr, Stride: ycc.CStride},
		)
	default:
		pix := make([]byte, len(p.canvas.Pix))
		copy(pix, p.canvas.Pix)
		buf = hwbuffer.NewHostBuffer(p.desc, colorspace.Plane{Data: pix, Stride: p.canvas.Stride / 4})
	}
	buf.OnRelease = func() {
		select {
		case p.released <- struct{}{}:
		default:
		}
	}
	return buf
}

// run publishes a frame every interval until ctx is done.
func (p *producer) run(ctx context.Context, interval time.Duration, publish func(hwbuffer.Buffer)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var released int
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("producer stopped", slog.Int("frames", p.frame), slog.Int("released", released))
			return nil
		case <-p.released:
			released++
		case <-ticker.C:
			publish(p.next())
		}
	}
}

func toRGB565(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*2)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			v := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
			out = append(out, byte(v), byte(v>>8))
		}
	}
	return out
}

func toYCbCr(img *image.RGBA) *image.YCbCr {
	b := img.Bounds()
	ycc := image.NewYCbCr(b, image.YCbCrSubsampleRatio420)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			yy, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
			ycc.Y[ycc.YOffset(x, y)] = limitedLuma(yy)
			ci := ycc.COffset(x, y)
			ycc.Cb[ci] = limitedChroma(cb)
			ycc.Cr[ci] = limitedChroma(cr)
		}
	}
	return ycc
}

// The sink decodes BT.601 limited range; image/color produces full range.
func limitedLuma(v uint8) uint8 {
	return uint8(16 + int(v)*219/255)
}

func limitedChroma(v uint8) uint8 {
	return uint8(128 + (int(v)-128)*224/255)
}
