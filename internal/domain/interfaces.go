package domain

import (
	"context"
)

// PatientStore persists patient identities.
type PatientStore interface {
	SavePatient(ctx context.Context, patient *Patient) error
	GetPatient(ctx context.Context, id string) (*Patient, error)
	// ListPatients returns all patients, oldest first.
	ListPatients(ctx context.Context) ([]*Patient, error)
}

// AssessmentStore persists the immutable per-stage results. Latest* methods
// return ErrNotFound when the patient has no row of that kind.
type AssessmentStore interface {
	SaveClinicalAssessment(ctx context.Context, a *ClinicalAssessment) error
	GetClinicalAssessment(ctx context.Context, id string) (*ClinicalAssessment, error)
	LatestClinicalAssessment(ctx context.Context, patientID string) (*ClinicalAssessment, error)

	SaveFibrosisPrediction(ctx context.Context, p *FibrosisPrediction) error
	GetFibrosisPrediction(ctx context.Context, id string) (*FibrosisPrediction, error)
	LatestFibrosisPrediction(ctx context.Context, patientID string) (*FibrosisPrediction, error)

	SaveStiffnessMeasurement(ctx context.Context, m *StiffnessMeasurement) error
	GetStiffnessMeasurement(ctx context.Context, id string) (*StiffnessMeasurement, error)
	LatestStiffnessMeasurement(ctx context.Context, patientID string) (*StiffnessMeasurement, error)

	SaveStage3Assessment(ctx context.Context, a *Stage3Assessment) error
	GetStage3Assessment(ctx context.Context, id string) (*Stage3Assessment, error)
	LatestStage3Assessment(ctx context.Context, patientID string) (*Stage3Assessment, error)
	// ListStage3Assessments returns up to limit assessments, newest first.
	// A limit <= 0 returns all of them.
	ListStage3Assessments(ctx context.Context, patientID string, limit int) ([]*Stage3Assessment, error)

	SaveStage3Explanation(ctx context.Context, e *Stage3Explanation) error
	UpdateTrendPoints(ctx context.Context, explanationID string, points []TrendPoint) error
	GetStage3Explanation(ctx context.Context, assessmentID string) (*Stage3Explanation, error)
}

// AlertStore persists risk alerts.
type AlertStore interface {
	// FindOpenAlert returns the open alert of the given type, or nil when none is open.
	FindOpenAlert(ctx context.Context, patientID string, alertType AlertType) (*RiskAlert, error)
	CreateAlert(ctx context.Context, alert *RiskAlert) error
	UpdateAlert(ctx context.Context, alert *RiskAlert) error
	GetAlert(ctx context.Context, id string) (*RiskAlert, error)
	// ListAlerts returns the patient's alerts newest first, optionally filtered by status.
	ListAlerts(ctx context.Context, patientID string, status AlertStatus) ([]*RiskAlert, error)
}

// TimelineStore appends patient timeline events.
type TimelineStore interface {
	AppendTimelineEvent(ctx context.Context, event *TimelineEvent) error
	ListTimelineEvents(ctx context.Context, patientID string) ([]*TimelineEvent, error)
}

// RegistryStore persists model registry entries.
type RegistryStore interface {
	SaveModel(ctx context.Context, entry *ModelRegistryEntry) error
	// ActiveModel returns the newest active entry for name, or nil when none is registered.
	ActiveModel(ctx context.Context, name string) (*ModelRegistryEntry, error)
}

// TxOptions controls a Store transaction.
type TxOptions struct {
	// DryRun rolls the transaction back even when fn succeeds.
	DryRun bool
}

// Store is the full persistence surface the engine needs.
type Store interface {
	PatientStore
	AssessmentStore
	AlertStore
	TimelineStore
	RegistryStore

	// Transact runs fn against a transaction-scoped Store. The transaction
	// commits when fn returns nil and opts.DryRun is false.
	Transact(ctx context.Context, opts TxOptions, fn func(tx Store) error) error
	Close() error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	Reload() error
	Validate() error
	StrictMode() bool
}
