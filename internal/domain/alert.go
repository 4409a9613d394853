package domain

import "time"

// AlertType identifies the clinical condition an alert reports.
type AlertType string

const (
	AlertAdvancedFibrosis AlertType = "ADVANCED_FIBROSIS_RISK"
	AlertDecompensation   AlertType = "DECOMPENSATION_RISK"
)

// AlertSeverity is the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the lifecycle state of an alert: open -> ack -> closed.
type AlertStatus string

const (
	AlertOpen   AlertStatus = "open"
	AlertAck    AlertStatus = "ack"
	AlertClosed AlertStatus = "closed"
)

// IsValid reports whether s is a known status.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertOpen, AlertAck, AlertClosed:
		return true
	default:
		return false
	}
}

func (s AlertStatus) rank() int {
	switch s {
	case AlertOpen:
		return 0
	case AlertAck:
		return 1
	case AlertClosed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether an alert may move from s to next. Transitions
// are monotonic; reopening is not supported.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return next.rank() >= s.rank()
}

// RiskAlert is a patient-level alert raised from a Stage 3 assessment. At most
// one alert per (patient, alert type) is open at any time.
type RiskAlert struct {
	ID           string        `json:"id"`
	PatientID    string        `json:"patient_id"`
	AssessmentID string        `json:"stage3_assessment_id,omitempty"`
	CreatedBy    string        `json:"created_by,omitempty"`
	AlertType    AlertType     `json:"alert_type"`
	Severity     AlertSeverity `json:"severity"`
	Score        float64       `json:"score"`
	Threshold    float64       `json:"threshold"`
	Status       AlertStatus   `json:"status"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// AlertPolicy is the operating point of the alerting layer.
type AlertPolicy struct {
	PPVTarget   float64 `mapstructure:"alert_ppv_target" json:"alert_ppv_target"`
	RecallFloor float64 `mapstructure:"alert_recall_floor" json:"alert_recall_floor"`
}

// DecompensationMargin is added to the score threshold for decompensation alerts.
const DecompensationMargin = 0.05

// ScoreThreshold maps the precision target to the composite-score threshold.
func (p AlertPolicy) ScoreThreshold() float64 {
	switch {
	case p.PPVTarget >= 0.9:
		return 0.78
	case p.PPVTarget >= 0.85:
		return 0.70
	default:
		return 0.62
	}
}
