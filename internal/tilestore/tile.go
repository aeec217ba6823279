package tilestore

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
)

// Key identifies an elevation tile by web-Mercator (z, x, y).
type Key struct {
	Z uint8
	X uint32
	Y uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// nodataSentinel is the raw decoded value used to flag a missing pixel
// before it is replaced with 0 on read.
const nodataSentinel = float32(-32768)

// Tile is an immutable W x H grid of float32 meters-above-ellipsoid.
// Tiles are shared by value (copy-on-read) to sampler callers: callers
// read single values through At, never the backing slice.
type Tile struct {
	Key           Key
	Width, Height int
	data          []float32
}

// At returns the elevation at pixel (px, py), with nodata already
// replaced by 0.
func (t *Tile) At(px, py int) float32 {
	if px < 0 || px >= t.Width || py < 0 || py >= t.Height {
		return 0
	}
	v := t.data[py*t.Width+px]
	if v == nodataSentinel {
		return 0
	}
	return v
}

// decodeTerrainRGB parses a terrain-RGB PNG (256x256, typically) into a
// Tile. Encoding: h = -10000 + ((R*65536 + G*256 + B) * 0.1) meters.
func decodeTerrainRGB(key Key, png_ []byte) (*Tile, error) {
	img, err := png.Decode(bytes.NewReader(png_))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]float32, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := colorAt(img, bounds.Min.X+x, bounds.Min.Y+y)
			scaled := uint32(r)<<16 | uint32(g)<<8 | uint32(b)
			data[y*w+x] = -10000.0 + float32(scaled)*0.1
		}
	}

	return &Tile{Key: key, Width: w, Height: h, data: data}, nil
}

// colorAt returns 8-bit RGB(A) components regardless of the underlying
// image.Image color model.
func colorAt(img image.Image, x, y int) (r, g, b, a uint8) {
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return c.R, c.G, c.B, c.A
}

// EncodeTerrainRGB renders a flat elevation grid into a terrain-RGB PNG,
// the inverse of decodeTerrainRGB, used by the tile-serving HTTP endpoint.
func EncodeTerrainRGB(width, height int, elev []float32) ([]byte, error) {
	if len(elev) != width*height {
		return nil, fmt.Errorf("tilestore: elevation grid size mismatch: got %d want %d", len(elev), width*height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			h := elev[y*width+x]
			scaled := (float64(h) + 10000.0) * 10.0
			scaled = math.Max(0, math.Min(scaled, 1<<24-1))
			hs := uint32(scaled)
			r := uint8((hs >> 16) & 0xFF)
			g := uint8((hs >> 8) & 0xFF)
			b := uint8(hs & 0xFF)
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
