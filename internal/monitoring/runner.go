// Package monitoring runs scheduled Stage 3 reassessment over every patient.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/internal/service"
)

// Report statuses.
const (
	StatusOK      = "OK"
	StatusSkipped = "SKIPPED"

	ReasonStage3Disabled = "stage3_disabled"
)

// DefaultLockTTL bounds how long one patient's lock is held.
const DefaultLockTTL = 2 * time.Minute

// Assessor runs one Stage 3 assessment inside a caller-owned transaction.
type Assessor interface {
	RunAssessmentTx(ctx context.Context, tx domain.Store, patientID, performedBy string, sel service.Selection) (*service.Stage3Outcome, error)
}

// Failure is a patient the batch could not assess.
type Failure struct {
	PatientID string `json:"patient_id"`
	Error     string `json:"error"`
}

// Report summarises one batch run.
type Report struct {
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Processed     int       `json:"processed"`
	AlertsCreated int       `json:"alerts_created"`
	Failures      []Failure `json:"failures"`
	Mode          string    `json:"monitoring_mode"`
	IntervalWeeks int       `json:"interval_weeks"`
	DryRun        bool      `json:"dry_run"`
	StartedAt     time.Time `json:"run_started_at"`
	FinishedAt    time.Time `json:"run_finished_at"`
}

// Options controls a single Run.
type Options struct {
	// DryRun executes the whole batch in one transaction that is rolled back.
	DryRun      bool
	PerformedBy string
}

// Runner iterates patients oldest first, one at a time.
type Runner struct {
	logger   *logrus.Logger
	store    domain.Store
	assessor Assessor
	locker   Locker
	limiter  *rate.Limiter
	cfg      domain.MonitoringConfig
	enabled  bool
	now      func() time.Time
}

// NewRunner creates a batch runner. A nil locker disables cross-process
// locking; a non-positive MaxPatientsPerSecond disables throttling.
func NewRunner(
	logger *logrus.Logger,
	store domain.Store,
	assessor Assessor,
	locker Locker,
	cfg domain.MonitoringConfig,
	stage3Enabled bool,
) *Runner {
	if locker == nil {
		locker = NoopLocker{}
	}
	limit := rate.Inf
	if cfg.MaxPatientsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxPatientsPerSecond)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Runner{
		logger:   logger,
		store:    store,
		assessor: assessor,
		locker:   locker,
		limiter:  rate.NewLimiter(limit, 1),
		cfg:      cfg,
		enabled:  stage3Enabled,
		now:      time.Now,
	}
}

// Run reassesses every patient. Per-patient errors are recorded in the
// report; only context cancellation or a failure to list patients aborts
// the batch.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		Status:        StatusOK,
		Failures:      []Failure{},
		Mode:          r.cfg.Mode,
		IntervalWeeks: r.cfg.IntervalWeeks,
		DryRun:        opts.DryRun,
		StartedAt:     r.now().UTC(),
	}

	if !r.enabled {
		report.Status = StatusSkipped
		report.Reason = ReasonStage3Disabled
		report.FinishedAt = r.now().UTC()
		r.logger.Info("Stage 3 disabled, monitoring batch skipped")
		return report, nil
	}

	patients, err := r.store.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"patients": len(patients),
		"dry_run":  opts.DryRun,
		"mode":     r.cfg.Mode,
	}).Info("Starting monitoring batch")

	if opts.DryRun {
		err = r.store.Transact(ctx, domain.TxOptions{DryRun: true}, func(tx domain.Store) error {
			for _, p := range patients {
				if err := r.processPatient(ctx, tx, p, opts, report); err != nil {
					return err
				}
			}
			return nil
		})
	} else {
		for _, p := range patients {
			if err = r.processPatient(ctx, r.store, p, opts, report); err != nil {
				break
			}
		}
	}

	report.FinishedAt = r.now().UTC()
	if err != nil {
		return report, err
	}

	r.logger.WithFields(logrus.Fields{
		"processed":      report.Processed,
		"alerts_created": report.AlertsCreated,
		"failures":       len(report.Failures),
		"duration":       report.FinishedAt.Sub(report.StartedAt),
	}).Info("Monitoring batch completed")
	return report, nil
}

// processPatient records per-patient failures in report and returns an
// error only when the batch must stop. Outside a dry run each patient gets
// its own transaction.
func (r *Runner) processPatient(ctx context.Context, store domain.Store, p *domain.Patient, opts Options, report *Report) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	unlock, err := r.locker.Lock(ctx, p.ID, r.cfg.LockTTL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.recordFailure(report, p.ID, err)
		return nil
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.logger.WithField("patient_id", p.ID).Debug("Monitoring lock left to expire")
		}
	}()

	var outcome *service.Stage3Outcome
	run := func(tx domain.Store) error {
		outcome, err = r.assessor.RunAssessmentTx(ctx, tx, p.ID, opts.PerformedBy, service.Selection{})
		if err != nil {
			return err
		}
		return tx.AppendTimelineEvent(ctx, &domain.TimelineEvent{
			PatientID: p.ID,
			EventType: domain.EventMonitoringBatchCompleted,
			CreatedBy: opts.PerformedBy,
			Payload: map[string]any{
				"stage3_assessment_id": outcome.Assessment.ID,
				"risk_tier":            string(outcome.Assessment.RiskTier),
				"composite_risk_score": outcome.Assessment.CompositeRiskScore,
				"alerts_created":       len(outcome.Alerts.Created),
				"monitoring_mode":      r.cfg.Mode,
				"interval_weeks":       r.cfg.IntervalWeeks,
				"run_started_at":       report.StartedAt.Format(time.RFC3339Nano),
			},
		})
	}

	if opts.DryRun {
		err = run(store)
	} else {
		err = store.Transact(ctx, domain.TxOptions{}, run)
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.recordFailure(report, p.ID, err)
		return nil
	}

	report.Processed++
	report.AlertsCreated += len(outcome.Alerts.Created)
	return nil
}

func (r *Runner) recordFailure(report *Report, patientID string, err error) {
	report.Failures = append(report.Failures, Failure{PatientID: patientID, Error: err.Error()})
	r.logger.WithFields(logrus.Fields{
		"patient_id": patientID,
		"error":      err.Error(),
	}).Warn("Monitoring batch skipped patient")
}
