package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// InputSize is the square resolution the classifier consumes.
const InputSize = 384

var (
	channelMean = [3]float64{0.485, 0.456, 0.406}
	channelStd  = [3]float64{0.229, 0.224, 0.225}
)

// Tensor is a normalized CHW image.
type Tensor struct {
	Size int
	// Channels holds R, G and B planes, each Size*Size values in row-major order.
	Channels [3][]float64
}

// Preprocess resizes img to InputSize×InputSize with bicubic interpolation
// and normalizes each channel with the ImageNet mean and std.
func Preprocess(img image.Image) *Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	src := dropAlpha(img)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	t := &Tensor{Size: InputSize}
	for c := range t.Channels {
		t.Channels[c] = make([]float64, InputSize*InputSize)
	}
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			off := dst.PixOffset(x, y)
			i := y*InputSize + x
			for c := 0; c < 3; c++ {
				v := float64(dst.Pix[off+c]) / 255.0
				t.Channels[c][i] = (v - channelMean[c]) / channelStd[c]
			}
		}
	}
	return t
}

// luminance undoes the channel normalization and returns luma in [0,1].
func (t *Tensor) luminance() *plane {
	p := newPlane(t.Size, t.Size)
	weights := [3]float64{0.299, 0.587, 0.114}
	for i := range p.pix {
		var v float64
		for c := 0; c < 3; c++ {
			v += weights[c] * (t.Channels[c][i]*channelStd[c] + channelMean[c])
		}
		p.pix[i] = v
	}
	return p
}

// pool averages each channel over a grid×grid lattice and returns the
// values channel-major, then row, then column.
func (t *Tensor) pool(grid int) []float64 {
	out := make([]float64, 3*grid*grid)
	counts := make([]float64, grid*grid)
	for y := 0; y < t.Size; y++ {
		gy := y * grid / t.Size
		for x := 0; x < t.Size; x++ {
			gx := x * grid / t.Size
			cell := gy*grid + gx
			counts[cell]++
			i := y*t.Size + x
			for c := 0; c < 3; c++ {
				out[c*grid*grid+cell] += t.Channels[c][i]
			}
		}
	}
	for c := 0; c < 3; c++ {
		for cell := range counts {
			if counts[cell] > 0 {
				out[c*grid*grid+cell] /= counts[cell]
			}
		}
	}
	return out
}
