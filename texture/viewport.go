package texture

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Gravity maps the source aspect ratio into the target.
type Gravity int

const (
	// GravityResize stretches the source to the target, ignoring aspect.
	GravityResize Gravity = iota
	// GravityResizeAspect fits the source inside the target (letterbox).
	GravityResizeAspect
	// GravityResizeAspectFill covers the target, cropping overflow.
	GravityResizeAspectFill
)

func (g Gravity) String() string {
	switch g {
	case GravityResize:
		return "resize"
	case GravityResizeAspect:
		return "resize_aspect"
	case GravityResizeAspectFill:
		return "resize_aspect_fill"
	}
	return "unknown"
}

func ParseGravity(s string) (Gravity, error) {
	for _, g := range []Gravity{GravityResize, GravityResizeAspect, GravityResizeAspectFill} {
		if g.String() == s {
			return g, nil
		}
	}
	return 0, errors.Newf("unknown video gravity %q", s)
}

// Orientation is the clockwise rotation applied to the source image.
type Orientation int

const (
	OrientationUp Orientation = iota
	OrientationRight
	OrientationDown
	OrientationLeft
)

// OrientationFromAngle converts a rotation in degrees. Only multiples of 90
// are accepted; negative angles count counter-clockwise.
func OrientationFromAngle(angle int) (Orientation, error) {
	if angle%90 != 0 {
		return 0, errors.Newf("rotation %d is not a multiple of 90 degrees", angle)
	}
	return Orientation(((angle/90)%4 + 4) % 4), nil
}

func (o Orientation) Degrees() int {
	return int(o) * 90
}

// Swapped reports whether the orientation exchanges width and height.
func (o Orientation) Swapped() bool {
	return o == OrientationRight || o == OrientationLeft
}

// ComputeViewport places a source of extent src inside target. The result
// is centered in the target. With GravityResizeAspectFill it may extend
// past the target edges; the scissor crops it.
func ComputeViewport(gravity Gravity, src, target core1_0.Extent2D, orientation Orientation) core1_0.Viewport {
	tw, th := float32(target.Width), float32(target.Height)
	sw, sh := float32(src.Width), float32(src.Height)
	if orientation.Swapped() {
		sw, sh = sh, sw
	}

	viewport := core1_0.Viewport{Width: tw, Height: th, MinDepth: 0, MaxDepth: 1}
	if gravity == GravityResize || sw <= 0 || sh <= 0 {
		return viewport
	}

	sx, sy := tw/sw, th/sh
	scale := min(sx, sy)
	if gravity == GravityResizeAspectFill {
		scale = max(sx, sy)
	}

	viewport.Width = sw * scale
	viewport.Height = sh * scale
	viewport.X = (tw - viewport.Width) / 2
	viewport.Y = (th - viewport.Height) / 2
	return viewport
}
