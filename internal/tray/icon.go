package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
)

// iconBytes is the menu bar template icon: a ring with a gap, drawn once at
// startup. Template icons only use the alpha channel.
var iconBytes = drawIcon(22)

func drawIcon(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	c := float64(size-1) / 2
	outer, inner := c, c*0.6

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			r := math.Hypot(dx, dy)
			if r > outer || r < inner {
				continue
			}
			// leave the upper right quadrant open
			if dx > 0 && dy < 0 && -dy < dx*2 {
				continue
			}
			img.Set(x, y, color.NRGBA{A: 0xff})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
