// Package imaging implements Stage 2: the scan quality gate, preprocessing,
// the learned fibrosis classifier runtime with temperature calibration, and
// a radiomic heuristic scorer used when no trained artifact is available.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Decode decodes PNG, JPEG, GIF, BMP or TIFF scan bytes.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode scan image: %w", err)
	}
	return img, format, nil
}

// plane is a single-channel float image in row-major order.
type plane struct {
	w, h int
	pix  []float64
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float64, w*h)}
}

func (p *plane) at(x, y int) float64 {
	return p.pix[y*p.w+x]
}

// atReflect reads with reflect-101 border handling (dcb|abcd|cba).
func (p *plane) atReflect(x, y int) float64 {
	return p.at(reflect101(x, p.w), reflect101(y, p.h))
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

func (p *plane) mean() float64 {
	if len(p.pix) == 0 {
		return 0
	}
	var s float64
	for _, v := range p.pix {
		s += v
	}
	return s / float64(len(p.pix))
}

func (p *plane) variance() float64 {
	if len(p.pix) == 0 {
		return 0
	}
	m := p.mean()
	var s float64
	for _, v := range p.pix {
		d := v - m
		s += d * d
	}
	return s / float64(len(p.pix))
}

// straightRGB returns the non-premultiplied colour of c. Alpha is discarded,
// so fully transparent pixels keep their stored colour instead of turning black.
func straightRGB(c color.Color) (r, g, b uint8) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return n.R, n.G, n.B
}

// dropAlpha returns img with every pixel at full opacity. Opaque images are
// returned unchanged.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl := straightRGB(img.At(x, y))
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: bl, A: 0xff})
		}
	}
	return out
}

// grayscale converts img to 8-bit luma (0.299R + 0.587G + 0.114B), rounded
// to integer levels.
func grayscale(img image.Image) *plane {
	b := img.Bounds()
	g := newPlane(b.Dx(), b.Dy())
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			r, gr, bl := straightRGB(img.At(b.Min.X+x, b.Min.Y+y))
			luma := 0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(bl)
			g.pix[y*g.w+x] = math.Round(luma)
		}
	}
	return g
}

// laplacian applies the 4-neighbour kernel [0 1 0; 1 -4 1; 0 1 0].
func laplacian(p *plane) *plane {
	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			out.pix[y*p.w+x] = p.atReflect(x-1, y) + p.atReflect(x+1, y) +
				p.atReflect(x, y-1) + p.atReflect(x, y+1) - 4*p.at(x, y)
		}
	}
	return out
}

// sobel returns the horizontal and vertical 3x3 Sobel derivatives.
func sobel(p *plane) (gx, gy *plane) {
	gx = newPlane(p.w, p.h)
	gy = newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			tl := p.atReflect(x-1, y-1)
			tc := p.atReflect(x, y-1)
			tr := p.atReflect(x+1, y-1)
			ml := p.atReflect(x-1, y)
			mr := p.atReflect(x+1, y)
			bl := p.atReflect(x-1, y+1)
			bc := p.atReflect(x, y+1)
			br := p.atReflect(x+1, y+1)

			i := y*p.w + x
			gx.pix[i] = (tr + 2*mr + br) - (tl + 2*ml + bl)
			gy.pix[i] = (bl + 2*bc + br) - (tl + 2*tc + tr)
		}
	}
	return gx, gy
}
