package imaging

import (
	"math"
	"sort"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// RadiomicFeatures are hand-engineered texture and intensity statistics of
// the luminance image, in [0,1] intensity units.
type RadiomicFeatures struct {
	P05              float64 `json:"p05"`
	P50              float64 `json:"p50"`
	P95              float64 `json:"p95"`
	DynamicRange     float64 `json:"dynamic_range"`
	LaplacianVar     float64 `json:"laplacian_var"`
	HighFreqEnergy   float64 `json:"high_freq_energy"`
	GradientMean     float64 `json:"gradient_mean"`
	GradientStd      float64 `json:"gradient_std"`
	CenterContrast   float64 `json:"center_contrast"`
	DepthAttenuation float64 `json:"depth_attenuation"`
	HighEchoRatio    float64 `json:"high_echo_ratio"`
	LowEchoRatio     float64 `json:"low_echo_ratio"`
}

// ExtractRadiomics computes the radiomic features of a preprocessed tensor.
func ExtractRadiomics(t *Tensor) RadiomicFeatures {
	lum := t.luminance()
	n := len(lum.pix)

	sorted := append([]float64(nil), lum.pix...)
	sort.Float64s(sorted)

	f := RadiomicFeatures{
		P05: percentile(sorted, 0.05),
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
	f.DynamicRange = f.P95 - f.P05
	f.LaplacianVar = laplacian(lum).variance()

	// residual against a 3x3 box blur
	var hf float64
	for y := 0; y < lum.h; y++ {
		for x := 0; x < lum.w; x++ {
			var box float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					box += lum.atReflect(x+dx, y+dy)
				}
			}
			r := lum.at(x, y) - box/9
			hf += r * r
		}
	}
	f.HighFreqEnergy = hf / float64(n)

	gx, gy := sobel(lum)
	grad := newPlane(lum.w, lum.h)
	for i := range grad.pix {
		// Sobel weights sum to 4 per side; scale back to intensity units
		grad.pix[i] = math.Hypot(gx.pix[i], gy.pix[i]) / 4
	}
	f.GradientMean = grad.mean()
	f.GradientStd = math.Sqrt(grad.variance())

	var center, periphery, top, bottom float64
	var nCenter, nPeriphery, nTop, nBottom float64
	cx, cy := float64(lum.w-1)/2, float64(lum.h-1)/2
	radius := 0.25 * float64(lum.w)
	for y := 0; y < lum.h; y++ {
		for x := 0; x < lum.w; x++ {
			v := lum.at(x, y)
			if math.Hypot(float64(x)-cx, float64(y)-cy) <= radius {
				center += v
				nCenter++
			} else {
				periphery += v
				nPeriphery++
			}
			switch {
			case y < lum.h/3:
				top += v
				nTop++
			case y >= lum.h-lum.h/3:
				bottom += v
				nBottom++
			}
			if v > 0.75 {
				f.HighEchoRatio++
			}
			if v < 0.15 {
				f.LowEchoRatio++
			}
		}
	}
	f.CenterContrast = safeDiv(center, nCenter) - safeDiv(periphery, nPeriphery)
	f.DepthAttenuation = safeDiv(top, nTop) - safeDiv(bottom, nBottom)
	f.HighEchoRatio /= float64(n)
	f.LowEchoRatio /= float64(n)
	return f
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Normalized heuristic inputs: texture, high-frequency, dynamic range,
// attenuation, center contrast, high echo, low echo, median.
const heuristicInputs = 8

var heuristicWeights = [5][heuristicInputs]float64{
	{-1.2, -0.8, -0.3, -0.6, 0.0, 0.2, -0.2, 0.3},
	{-0.5, -0.3, 0.0, -0.2, 0.0, 0.1, -0.1, 0.2},
	{0.3, 0.2, 0.2, 0.2, 0.1, 0.0, 0.0, 0.0},
	{0.8, 0.6, 0.3, 0.5, 0.2, -0.1, 0.3, -0.2},
	{1.2, 0.9, 0.4, 0.7, 0.3, -0.2, 0.5, -0.3},
}

var heuristicBias = [5]float64{0.9, 0.7, 0.4, 0.1, -0.2}

func (f RadiomicFeatures) normalized() [heuristicInputs]float64 {
	return [heuristicInputs]float64{
		numeric.Clamp(f.GradientMean/0.20, 0, 1),
		numeric.Clamp(math.Sqrt(f.HighFreqEnergy)/0.08, 0, 1),
		numeric.Clamp(f.DynamicRange, 0, 1),
		numeric.Clamp(f.DepthAttenuation/0.3, -1, 1),
		numeric.Clamp(f.CenterContrast/0.3, -1, 1),
		numeric.Clamp(f.HighEchoRatio, 0, 1),
		numeric.Clamp(f.LowEchoRatio, 0, 1),
		numeric.Clamp(f.P50, 0, 1),
	}
}

// HeuristicLogits scores the five stages with a fixed linear model over the
// normalized radiomic features, then applies three guardrails.
func HeuristicLogits(f RadiomicFeatures) []float64 {
	in := f.normalized()
	logits := make([]float64, len(domain.Stages))
	for k := range logits {
		z := heuristicBias[k]
		for j, v := range in {
			z += heuristicWeights[k][j] * v
		}
		logits[k] = z
	}

	texture, hf := in[0], in[1]

	// near-textureless scans carry no fibrosis signal; keep them early
	if texture < 0.05 && f.LaplacianVar < 1e-4 {
		addLogits(logits, 1.0, 0.5, 0, -1.0, -1.5)
	}
	// coarse texture on a dark, noisy parenchyma
	if texture > 0.6 && hf > 0.5 && f.P50 < 0.3 {
		addLogits(logits, -0.6, 0, 0, 0.6, 0.8)
	}
	// near-uniform bright scans
	if f.DynamicRange < 0.1 && f.P50 > 0.7 {
		addLogits(logits, 0.8, 0.4, 0, -0.6, -0.8)
	}
	return logits
}

func addLogits(logits []float64, deltas ...float64) {
	for i := range logits {
		logits[i] += deltas[i]
	}
}
