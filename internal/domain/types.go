// Package domain contains the core entities of the liver-fibrosis risk engine:
// clinical triage results, imaging predictions, stiffness measurements, fused
// Stage 3 assessments and the alerts raised from them.
//
// Reference: Sterling et al. (2006) FIB-4; Wai et al. (2003) APRI;
// Angulo et al. (2007) NAFLD fibrosis score; Harrison et al. (2008) BARD score.
package domain

import (
	"strings"
	"time"
)

// RiskTier is a categorical risk bucket. Stage 1 only produces LOW, MODERATE
// and HIGH; Stage 3 may additionally produce CRITICAL.
type RiskTier string

const (
	RiskTierLow      RiskTier = "LOW"
	RiskTierModerate RiskTier = "MODERATE"
	RiskTierHigh     RiskTier = "HIGH"
	RiskTierCritical RiskTier = "CRITICAL"
)

// IsValid reports whether t is a known tier.
func (t RiskTier) IsValid() bool {
	switch t {
	case RiskTierLow, RiskTierModerate, RiskTierHigh, RiskTierCritical:
		return true
	default:
		return false
	}
}

// IsClinical reports whether t is a tier Stage 1 can produce.
func (t RiskTier) IsClinical() bool {
	return t == RiskTierLow || t == RiskTierModerate || t == RiskTierHigh
}

func (t RiskTier) String() string {
	return string(t)
}

// ParseClinicalTier parses a Stage 1 tier label, case-insensitively.
func ParseClinicalTier(label string) (RiskTier, bool) {
	tier := RiskTier(strings.ToUpper(strings.TrimSpace(label)))
	return tier, tier.IsClinical()
}

// FibrosisStage is one of the five ordered METAVIR stages.
type FibrosisStage string

const (
	StageF0 FibrosisStage = "F0"
	StageF1 FibrosisStage = "F1"
	StageF2 FibrosisStage = "F2"
	StageF3 FibrosisStage = "F3"
	StageF4 FibrosisStage = "F4"
)

// Stages lists the fibrosis stages in order; classifier logits follow this order.
var Stages = []FibrosisStage{StageF0, StageF1, StageF2, StageF3, StageF4}

// Index returns the ordinal position of the stage, or -1 if unknown.
func (s FibrosisStage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// IsAdvanced reports whether the stage is F3 or F4.
func (s FibrosisStage) IsAdvanced() bool {
	return s == StageF3 || s == StageF4
}

// ConfidenceFlag marks Stage 2 predictions that should not be trusted at face value.
type ConfidenceFlag string

const (
	ConfidenceNormal ConfidenceFlag = "NORMAL"
	ConfidenceLow    ConfidenceFlag = "LOW_CONFIDENCE"
)

// EscalationFlag marks Stage 2 predictions that need specialist review.
type EscalationFlag string

const (
	EscalationNone         EscalationFlag = "NONE"
	EscalationSevereReview EscalationFlag = "SEVERE_STAGE_REVIEW"
)

// InferenceMode records how a result was produced so that heuristic or
// rule-derived results are never mistaken for validated model output.
type InferenceMode string

const (
	InferenceRules     InferenceMode = "rules"
	InferenceML        InferenceMode = "ml"
	InferenceHeuristic InferenceMode = "heuristic"
)

// HeuristicVersionSuffix is appended to model versions produced by a fallback scorer.
const HeuristicVersionSuffix = "::heuristic"

// StiffnessSource records where a stiffness value came from.
type StiffnessSource string

const (
	StiffnessMeasured    StiffnessSource = "MEASURED"
	StiffnessProxyManual StiffnessSource = "PROXY_MANUAL"
	StiffnessProxy       StiffnessSource = "PROXY"
)

// IsValid reports whether s is a known source.
func (s StiffnessSource) IsValid() bool {
	switch s {
	case StiffnessMeasured, StiffnessProxyManual, StiffnessProxy:
		return true
	default:
		return false
	}
}

// Patient is the owner of every assessment row. Demographics live on the
// clinical input; the patient only carries identity.
type Patient struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Sex        string    `json:"sex,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ClinicalInput holds the laboratory and demographic values Stage 1 consumes.
type ClinicalInput struct {
	Age       int     `json:"age"`
	AST       float64 `json:"ast"`
	ALT       float64 `json:"alt"`
	Platelets float64 `json:"platelets"`
	ASTULN    float64 `json:"ast_uln"`
	BMI       float64 `json:"bmi"`
	Type2DM   bool    `json:"type2dm"`
	Sex       string  `json:"sex,omitempty"`
}

// ClinicalAssessment is an immutable Stage 1 triage result.
type ClinicalAssessment struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	PerformedBy string `json:"performed_by,omitempty"`
	ClinicalInput

	FIB4          float64       `json:"fib4"`
	APRI          float64       `json:"apri"`
	RiskTier      RiskTier      `json:"risk_tier"`
	Probability   float64       `json:"probability"`
	ModelVersion  string        `json:"model_version"`
	InferenceMode InferenceMode `json:"inference_mode"`
	CreatedAt     time.Time     `json:"created_at"`
}

// QualityMetrics are the objective image-quality measurements of the quality gate.
type QualityMetrics struct {
	BlurScore   float64 `json:"blur_score"`
	Brightness  float64 `json:"brightness"`
	DarkRatio   float64 `json:"dark_ratio"`
	BrightRatio float64 `json:"bright_ratio"`
	EdgeDensity float64 `json:"edge_density"`
}

// QualityResult is the verdict of the imaging quality gate.
type QualityResult struct {
	IsValid     bool           `json:"is_valid"`
	ReasonCodes []string       `json:"reason_codes"`
	Metrics     QualityMetrics `json:"metrics"`
}

// HasReason reports whether code is among the reason codes.
func (q QualityResult) HasReason(code string) bool {
	for _, c := range q.ReasonCodes {
		if c == code {
			return true
		}
	}
	return false
}

// StageProbability pairs a stage with its calibrated probability.
type StageProbability struct {
	Stage       FibrosisStage `json:"stage"`
	Probability float64       `json:"probability"`
}

// FibrosisPrediction is an immutable Stage 2 imaging result.
type FibrosisPrediction struct {
	ID             string             `json:"id"`
	PatientID      string             `json:"patient_id"`
	ScanAssetID    string             `json:"scan_asset_id"`
	PerformedBy    string             `json:"performed_by,omitempty"`
	ModelVersion   string             `json:"model_version"`
	Softmax        []StageProbability `json:"softmax_vector"`
	Top1           StageProbability   `json:"top1"`
	Top2           []StageProbability `json:"top2"`
	ConfidenceFlag ConfidenceFlag     `json:"confidence_flag"`
	EscalationFlag EscalationFlag     `json:"escalation_flag"`
	InferenceMode  InferenceMode      `json:"inference_mode"`
	// Quality is nil when the gate was not evaluated upstream.
	Quality   *QualityResult `json:"quality_metrics,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// QualityValid reports whether the upstream quality gate passed. An
// unevaluated gate counts as valid.
func (f *FibrosisPrediction) QualityValid() bool {
	if f == nil || f.Quality == nil {
		return true
	}
	return f.Quality.IsValid
}

// StiffnessMeasurement is an immutable liver stiffness value.
type StiffnessMeasurement struct {
	ID          string          `json:"id"`
	PatientID   string          `json:"patient_id"`
	EnteredBy   string          `json:"entered_by,omitempty"`
	MeasuredKPa float64         `json:"measured_kpa"`
	CAPdBm      *float64        `json:"cap_dbm,omitempty"`
	Source      StiffnessSource `json:"source"`
	MeasuredAt  time.Time       `json:"measured_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Components holds the unweighted Stage 3 fusion components, each in [0,1]
// except QualityPenalty which is the subtracted amount.
type Components struct {
	FIB4           float64 `json:"fib4_component"`
	APRI           float64 `json:"apri_component"`
	Stage          float64 `json:"stage_component"`
	Stiffness      float64 `json:"stiffness_component"`
	NFS            float64 `json:"nfs_component"`
	BARD           float64 `json:"bard_component"`
	History        float64 `json:"history_component"`
	QualityPenalty float64 `json:"quality_penalty"`
}

// FeatureSnapshot persists every intermediate value of a fusion run together
// with the alert policy in force at computation time.
type FeatureSnapshot struct {
	FIB4                   float64         `json:"fib4"`
	APRI                   float64         `json:"apri"`
	NFSScore               float64         `json:"nfs_score"`
	BARDScore              int             `json:"bard_score"`
	StageNumeric           float64         `json:"stage_numeric"`
	StageProbability       float64         `json:"stage_probability"`
	StiffnessKPa           float64         `json:"stiffness_kpa"`
	StiffnessSource        StiffnessSource `json:"stiffness_source"`
	QualityValid           bool            `json:"quality_valid"`
	PreviousCompositeScore float64         `json:"previous_composite_score"`
	ClinicalPresent        bool            `json:"clinical_present"`
	ImagingPresent         bool            `json:"imaging_present"`
	HeuristicScore         float64         `json:"heuristic_score"`
	Components             Components      `json:"components"`
	AlertScoreThreshold    float64         `json:"alert_score_threshold"`
	AlertPPVTarget         float64         `json:"alert_ppv_target"`
	AlertRecallFloor       float64         `json:"alert_recall_floor"`
	// Extra carries values added by newer feature sets without a schema change.
	Extra map[string]float64 `json:"extra,omitempty"`
}

// Contribution is one weighted term of the heuristic fusion formula.
type Contribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// LocalContributions is the ranked local explanation of a Stage 3 score.
type LocalContributions struct {
	Positive      []Contribution `json:"positive"`
	Negative      []Contribution `json:"negative"`
	RawComponents []Contribution `json:"raw_components"`
	Method        string         `json:"method"`
	// Approximate is set when the explained formula is not the one that
	// produced the final score (learned override active).
	Approximate bool `json:"approximate"`
}

// Stage3Assessment is an immutable fused risk assessment. Reference ids are
// empty when the corresponding input was not used.
type Stage3Assessment struct {
	ID                     string          `json:"id"`
	PatientID              string          `json:"patient_id"`
	ClinicalAssessmentID   string          `json:"clinical_assessment_id,omitempty"`
	FibrosisPredictionID   string          `json:"fibrosis_prediction_id,omitempty"`
	StiffnessMeasurementID string          `json:"stiffness_measurement_id,omitempty"`
	PerformedBy            string          `json:"performed_by,omitempty"`
	CompositeRiskScore     float64         `json:"composite_risk_score"`
	ProgressionRisk12m     float64         `json:"progression_risk_12m"`
	DecompRisk12m          float64         `json:"decomp_risk_12m"`
	RiskTier               RiskTier        `json:"risk_tier"`
	ModelVersion           string          `json:"model_version"`
	InferenceMode          InferenceMode   `json:"inference_mode"`
	FeatureSnapshot        FeatureSnapshot `json:"feature_snapshot"`
	CreatedAt              time.Time       `json:"created_at"`
}

// AlertState is the per-visit alert marker on a trend point.
type AlertState string

const (
	AlertStateOpen AlertState = "open"
	AlertStateNone AlertState = "none"
)

// TrendPoint is one visit in a patient's longitudinal Stage 3 series.
type TrendPoint struct {
	VisitIndex   int        `json:"visit_index"`
	AssessmentID string     `json:"assessment_id"`
	Score        float64    `json:"score"`
	RiskTier     RiskTier   `json:"risk_tier"`
	AlertState   AlertState `json:"alert_state"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Stage3Explanation is created alongside its assessment. Trend points are
// rebuilt from history on every run.
type Stage3Explanation struct {
	ID                     string             `json:"id"`
	AssessmentID           string             `json:"stage3_assessment_id"`
	Local                  LocalContributions `json:"local_feature_contrib"`
	GlobalReferenceVersion string             `json:"global_reference_version"`
	TrendPoints            []TrendPoint       `json:"trend_points"`
	CreatedAt              time.Time          `json:"created_at"`
}

// TimelineEvent is an append-only patient history entry.
type TimelineEvent struct {
	ID        string         `json:"id"`
	PatientID string         `json:"patient_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"event_payload"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Timeline event types written by the engine.
const (
	EventClinicalCompleted        = "CLINICAL_ASSESSMENT_COMPLETED"
	EventFibrosisCompleted        = "FIBROSIS_PREDICTION_COMPLETED"
	EventStiffnessRecorded        = "STIFFNESS_MEASUREMENT_RECORDED"
	EventMonitoringBatchCompleted = "STAGE3_MONITORING_BATCH_COMPLETED"
	EventAlertStatusUpdated       = "STAGE3_ALERT_STATUS_UPDATED"
	EventStage3Completed          = "STAGE3_ASSESSMENT_COMPLETED"
)

// ModelRegistryEntry describes a registered model artifact.
type ModelRegistryEntry struct {
	ID          string             `json:"id" yaml:"-"`
	Name        string             `json:"name" yaml:"name"`
	Version     string             `json:"version" yaml:"version"`
	ArtifactURI string             `json:"artifact_uri" yaml:"artifact_uri"`
	Metrics     map[string]float64 `json:"metrics,omitempty" yaml:"metrics"`
	Active      bool               `json:"active" yaml:"active"`
	CreatedAt   time.Time          `json:"created_at" yaml:"-"`
}

// ArtifactHealth summarises the contract check of one stage's artifacts.
type ArtifactHealth struct {
	StrictMode bool     `json:"strict_mode"`
	OK         bool     `json:"ok"`
	Errors     []string `json:"errors"`
}

// NewArtifactHealth builds a health record from a list of problems.
func NewArtifactHealth(strict bool, problems []string) ArtifactHealth {
	if problems == nil {
		problems = []string{}
	}
	return ArtifactHealth{StrictMode: strict, OK: len(problems) == 0, Errors: problems}
}
