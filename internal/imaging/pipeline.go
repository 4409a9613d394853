package imaging

import (
	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/domain"
)

// Analysis is the result of running a scan through the quality gate and the
// classifier.
type Analysis struct {
	Prediction *Prediction
	// Quality is nil when the gate is off.
	Quality *domain.QualityResult
	Format  string
}

// Pipeline applies the configured quality gate policy before inference.
type Pipeline struct {
	logger *logrus.Logger
	gate   string
}

// NewPipeline creates a pipeline for the given gate policy (strict, warn or off).
func NewPipeline(logger *logrus.Logger, gate string) *Pipeline {
	return &Pipeline{logger: logger, gate: gate}
}

// Analyze decodes data, evaluates quality per the gate policy and classifies
// the scan with runtime. A strict gate rejects invalid scans with a
// QualityRejectedError before inference.
func (p *Pipeline) Analyze(runtime *Runtime, data []byte) (*Analysis, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{Format: format}
	if p.gate != domain.QualityGateOff {
		quality := EvaluateQuality(img)
		analysis.Quality = &quality
		if !quality.IsValid {
			if p.gate == domain.QualityGateStrict {
				return nil, &domain.QualityRejectedError{ReasonCodes: quality.ReasonCodes}
			}
			p.logger.WithFields(logrus.Fields{
				"reason_codes": quality.ReasonCodes,
				"blur_score":   quality.Metrics.BlurScore,
				"brightness":   quality.Metrics.Brightness,
			}).Warn("Scan failed quality gate, continuing with warning")
		}
	}

	prediction, err := runtime.Predict(img)
	if err != nil {
		return nil, err
	}
	analysis.Prediction = prediction
	return analysis, nil
}
