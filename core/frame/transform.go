package frame

import (
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// FitPolicy decides how a frame whose aspect ratio differs from the panel's
// is mapped onto it.
type FitPolicy string

const (
	// FitLetterbox scales the whole frame in and pads with black.
	FitLetterbox FitPolicy = "letterbox"
	// FitCrop fills the panel and crops the overflow, centered.
	FitCrop FitPolicy = "crop"
)

// DitherPolicy selects the color-depth reduction algorithm.
type DitherPolicy string

const (
	// DitherOrdered uses a 4x4 Bayer threshold matrix.
	DitherOrdered DitherPolicy = "ordered"
	// DitherErrorDiffusion uses Floyd-Steinberg error diffusion, matching
	// what the panel vendor demos do.
	DitherErrorDiffusion DitherPolicy = "error-diffusion"
	// DitherNone thresholds at mid-gray.
	DitherNone DitherPolicy = "none"
)

// Geometry is the physical panel target: final pixel dimensions and the
// rotation needed to match how the panel is mounted.
type Geometry struct {
	Width    int
	Height   int
	Rotation int // degrees clockwise: 0, 90, 180 or 270
}

// PanelFrame is a frame packed into the panel's native 1-bit layout: rows
// top to bottom, pixels left to right, MSB first within each byte, bit set
// for white. Rows are padded to whole bytes.
type PanelFrame struct {
	Width  int
	Height int
	Bits   []byte
}

// BytesPerRow returns the packed row stride.
func (f *PanelFrame) BytesPerRow() int {
	return (f.Width + 7) / 8
}

// White reports the pixel value at (x, y).
func (f *PanelFrame) White(x, y int) bool {
	return f.Bits[y*f.BytesPerRow()+x/8]&(0x80>>(x%8)) != 0
}

// Image unpacks the frame back into a grayscale image, used by the
// simulated panel and by tests.
func (f *PanelFrame) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			if f.White(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// bayer4 is the classic 4x4 ordered dither threshold matrix.
var bayer4 = [4][4]int{
	{0, 8, 2, 10},
	{12, 4, 14, 6},
	{3, 11, 1, 9},
	{15, 7, 13, 5},
}

// Transform converts a decoded frame into the panel's native encoding.
// Fixed pipeline: aspect-preserving resize per fit policy, rotation,
// grayscale reduction with the chosen dither, 1-bit packing. Pure and
// deterministic: identical inputs produce identical bytes.
//
// Malformed geometry is a programmer error and panics; config validation
// makes it unreachable in normal operation.
func Transform(src image.Image, geom Geometry, fit FitPolicy, dither DitherPolicy) *PanelFrame {
	if geom.Width <= 0 || geom.Height <= 0 {
		panic(fmt.Sprintf("frame: invalid target geometry %dx%d", geom.Width, geom.Height))
	}
	switch geom.Rotation {
	case 0, 90, 180, 270:
	default:
		panic(fmt.Sprintf("frame: invalid rotation %d", geom.Rotation))
	}

	// Compose on a pre-rotation canvas so the source's landscape frame
	// fills a portrait-mounted panel correctly.
	cw, ch := geom.Width, geom.Height
	if geom.Rotation == 90 || geom.Rotation == 270 {
		cw, ch = ch, cw
	}

	canvas := compose(src, cw, ch, fit)
	gray := grayscale(canvas)
	gray = rotate(gray, geom.Rotation)

	var bilevel *image.Gray
	switch dither {
	case DitherOrdered:
		bilevel = ditherOrdered(gray)
	case DitherErrorDiffusion:
		bilevel = ditherFloydSteinberg(gray)
	case DitherNone:
		bilevel = threshold(gray)
	default:
		panic(fmt.Sprintf("frame: unrecognized dither policy %q", dither))
	}

	return pack(bilevel)
}

// compose scales src onto a cw x ch black canvas per the fit policy.
func compose(src image.Image, cw, ch int, fit FitPolicy) *image.RGBA {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 {
		panic("frame: empty source image")
	}

	sx := float64(cw) / float64(sw)
	sy := float64(ch) / float64(sh)
	var scale float64
	if fit == FitCrop {
		scale = math.Max(sx, sy)
	} else {
		scale = math.Min(sx, sy)
	}

	rw := int(math.Round(float64(sw) * scale))
	rh := int(math.Round(float64(sh) * scale))
	if rw < 1 {
		rw = 1
	}
	if rh < 1 {
		rh = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, rw, rh))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, sb, xdraw.Src, nil)

	// Zero-value RGBA is black, which is the letterbox fill.
	canvas := image.NewRGBA(image.Rect(0, 0, cw, ch))
	ox := (cw - rw) / 2
	oy := (ch - rh) / 2
	xdraw.Draw(canvas, image.Rect(ox, oy, ox+rw, oy+rh), scaled, image.Point{}, xdraw.Src)
	return canvas
}

func grayscale(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return dst
}

// rotate turns the image clockwise by the given number of degrees.
func rotate(src *image.Gray, degrees int) *image.Gray {
	if degrees == 0 {
		return src
	}
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()

	var dst *image.Gray
	if degrees == 180 {
		dst = image.NewGray(image.Rect(0, 0, sw, sh))
	} else {
		dst = image.NewGray(image.Rect(0, 0, sh, sw))
	}

	for ys := 0; ys < sh; ys++ {
		for xs := 0; xs < sw; xs++ {
			g := src.GrayAt(b.Min.X+xs, b.Min.Y+ys)
			switch degrees {
			case 90:
				dst.SetGray(sh-1-ys, xs, g)
			case 180:
				dst.SetGray(sw-1-xs, sh-1-ys, g)
			case 270:
				dst.SetGray(ys, sw-1-xs, g)
			}
		}
	}
	return dst
}

func threshold(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if src.GrayAt(x, y).Y >= 128 {
				dst.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return dst
}

func ditherOrdered(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			t := bayer4[y&3][x&3]*16 + 8
			if int(src.GrayAt(x, y).Y) >= t {
				dst.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return dst
}

// ditherFloydSteinberg quantizes to black and white, diffusing the
// quantization error with the standard 7/16, 3/16, 5/16, 1/16 weights.
func ditherFloydSteinberg(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	buf := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf[y*w+x] = int32(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			old := buf[y*w+x]
			var quantized int32
			if old >= 128 {
				quantized = 255
				dst.SetGray(x, y, color.Gray{Y: 255})
			}
			err := old - quantized
			if x+1 < w {
				buf[y*w+x+1] += err * 7 / 16
			}
			if y+1 < h {
				if x > 0 {
					buf[(y+1)*w+x-1] += err * 3 / 16
				}
				buf[(y+1)*w+x] += err * 5 / 16
				if x+1 < w {
					buf[(y+1)*w+x+1] += err * 1 / 16
				}
			}
		}
	}
	return dst
}

// pack squeezes a bilevel image into the panel's byte layout. Bytes start
// all white; black pixels clear their bit, mirroring the vendor buffer
// convention.
func pack(src *image.Gray) *PanelFrame {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	stride := (w + 7) / 8

	bits := make([]byte, stride*h)
	for i := range bits {
		bits[i] = 0xFF
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if src.GrayAt(b.Min.X+x, b.Min.Y+y).Y < 128 {
				bits[y*stride+x/8] &^= 0x80 >> (x % 8)
			}
		}
	}
	return &PanelFrame{Width: w, Height: h, Bits: bits}
}
