// Package readback submits the recorded command stream, waits for it
// with a bounded timeout, and decodes pixels out of the mapped
// readback image.
package readback

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Pixel is one decoded RGBA8 texel, in byte order R, G, B, A.
type Pixel struct {
	R, G, B, A byte
}

func (p Pixel) String() string {
	return fmt.Sprintf("RGBA(%#02x, %#02x, %#02x, %#02x)", p.R, p.G, p.B, p.A)
}

// Expected converts a normalized clear color into the Pixel an
// unsigned-normalized RGBA8 target stores for it.
func Expected(clearColor [4]float32) Pixel {
	return Pixel{
		R: channelByte(clearColor[0]),
		G: channelByte(clearColor[1]),
		B: channelByte(clearColor[2]),
		A: channelByte(clearColor[3]),
	}
}

func channelByte(channel float32) byte {
	if channel <= 0 {
		return 0
	}
	if channel >= 1 {
		return 0xff
	}
	return byte(math.Round(float64(channel) * 255))
}

// DecodePixel reads the texel at (x, y) from the mapped bytes of a
// linearly tiled image. The driver's subresource layout decides where
// each row starts; rows are RowPitch bytes apart, which is usually
// wider than the tightly packed width.
func DecodePixel(data []byte, layout *core1_0.SubresourceLayout, x, y int) (Pixel, error) {
	if x < 0 || y < 0 {
		return Pixel{}, errors.Newf("pixel coordinate (%d, %d) is negative", x, y)
	}

	base := layout.Offset + y*layout.RowPitch + x*4
	if base < 0 || base+4 > len(data) {
		return Pixel{}, errors.Newf("pixel (%d, %d) lies at byte %d, past the %d mapped bytes", x, y, base, len(data))
	}

	return Pixel{
		R: data[base],
		G: data[base+1],
		B: data[base+2],
		A: data[base+3],
	}, nil
}

// VerificationError reports a decoded pixel that does not match the
// expected clear color.
type VerificationError struct {
	X, Y      int
	Got, Want Pixel
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("pixel (%d, %d): got %s, want %s", e.X, e.Y, e.Got, e.Want)
}
