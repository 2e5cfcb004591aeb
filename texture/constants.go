package texture

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/common"

	"github.com/vkngwrapper/videosink/colorspace"
)

// PushConstantSize is the encoded size of PushConstants.
const PushConstantSize = 112

// PushConstants are the per-draw parameters read by the video shaders.
// The fragment shader computes ColorMatrix * (p0, p1, p2, 1) + ColorBias
// where p0..p2 are the samples of the bound planes; single-plane formats
// read all channels from plane 0. The vertex shader rotates texture
// coordinates around the center with Transform.
type PushConstants struct {
	ColorMatrix mgl32.Mat4
	ColorBias   mgl32.Vec4
	Transform   mgl32.Mat2
	PlaneCount  int32
	_           [3]int32
}

var bt601 = mgl32.Mat4FromRows(
	mgl32.Vec4{1.164, 0, 1.596, 0},
	mgl32.Vec4{1.164, -0.392, -0.813, 0},
	mgl32.Vec4{1.164, 2.017, 0, 0},
	mgl32.Vec4{0, 0, 0, 1},
)

// ComputePushConstants derives the draw parameters from the color space
// and orientation alone.
func ComputePushConstants(desc colorspace.Descriptor, orientation Orientation) PushConstants {
	pc := PushConstants{
		ColorMatrix: mgl32.Ident4(),
		Transform:   mgl32.Rotate2D(mgl32.DegToRad(float32(orientation.Degrees()))),
		PlaneCount:  int32(desc.PlaneCount),
	}

	if desc.Model == colorspace.ModelBT601 {
		pc.ColorMatrix = bt601
		// Limited range: luma starts at 16, chroma is centered on 128.
		offset := pc.ColorMatrix.Mul4x1(mgl32.Vec4{16.0 / 255.0, 0.5, 0.5, 0})
		pc.ColorBias = offset.Mul(-1)
	}

	if desc.OpaqueAlpha {
		pc.ColorMatrix.SetRow(3, mgl32.Vec4{})
		pc.ColorBias[3] = 1
	}
	return pc
}

// Bytes encodes the constants in device byte order.
func (pc PushConstants) Bytes() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, PushConstantSize))
	if err := binary.Write(buf, common.ByteOrder, pc); err != nil {
		return nil, errors.Wrap(err, "encode push constants")
	}
	return buf.Bytes(), nil
}
