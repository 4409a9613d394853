package imaging

import (
	"image"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// Quality gate reason codes.
const (
	ReasonBlurTooHigh        = "BLUR_TOO_HIGH"
	ReasonTooDark            = "TOO_DARK"
	ReasonTooBright          = "TOO_BRIGHT"
	ReasonSaturationArtifact = "SATURATION_ARTIFACT"
	ReasonLowTextureInfo     = "LOW_TEXTURE_INFORMATION"
)

// Quality gate thresholds.
const (
	minBlurScore      = 50.0
	minBrightness     = 40.0
	maxBrightness     = 215.0
	nearBlackLevel    = 15.0
	nearWhiteLevel    = 240.0
	maxSaturatedRatio = 0.35
	minEdgeDensity    = 0.02
	cannyLow          = 80.0
	cannyHigh         = 180.0
)

// EvaluateQuality computes the objective quality metrics of img and the
// resulting verdict. It never fails on a decoded image.
func EvaluateQuality(img image.Image) domain.QualityResult {
	gray := grayscale(img)
	n := float64(len(gray.pix))

	blur := laplacian(gray).variance()
	brightness := gray.mean()

	var dark, bright float64
	for _, v := range gray.pix {
		if v < nearBlackLevel {
			dark++
		}
		if v > nearWhiteLevel {
			bright++
		}
	}

	var edgeCount float64
	for _, e := range cannyEdges(gray, cannyLow, cannyHigh) {
		if e {
			edgeCount++
		}
	}

	var darkRatio, brightRatio, edgeDensity float64
	if n > 0 {
		darkRatio = dark / n
		brightRatio = bright / n
		edgeDensity = edgeCount / n
	}

	reasons := []string{}
	if blur < minBlurScore {
		reasons = append(reasons, ReasonBlurTooHigh)
	}
	if brightness < minBrightness {
		reasons = append(reasons, ReasonTooDark)
	}
	if brightness > maxBrightness {
		reasons = append(reasons, ReasonTooBright)
	}
	if darkRatio > maxSaturatedRatio || brightRatio > maxSaturatedRatio {
		reasons = append(reasons, ReasonSaturationArtifact)
	}
	if edgeDensity < minEdgeDensity {
		reasons = append(reasons, ReasonLowTextureInfo)
	}

	return domain.QualityResult{
		IsValid:     len(reasons) == 0,
		ReasonCodes: reasons,
		Metrics: domain.QualityMetrics{
			BlurScore:   numeric.Round(blur, 4),
			Brightness:  numeric.Round(brightness, 4),
			DarkRatio:   numeric.Round(darkRatio, 4),
			BrightRatio: numeric.Round(brightRatio, 4),
			EdgeDensity: numeric.Round(edgeDensity, 4),
		},
	}
}

// EvaluateQualityBytes decodes data and evaluates it. Decode failures are
// returned as errors.
func EvaluateQualityBytes(data []byte) (domain.QualityResult, error) {
	img, _, err := Decode(data)
	if err != nil {
		return domain.QualityResult{}, err
	}
	return EvaluateQuality(img), nil
}
