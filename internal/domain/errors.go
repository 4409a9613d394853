package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by stores and services.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid alert status transition")
	ErrStage3Disabled    = errors.New("stage 3 is disabled")
	ErrPatientLocked     = errors.New("patient is locked by another monitoring run")
)

// InvalidInputError reports a non-positive denominator or otherwise unusable
// input. It is always fatal to the computation that raised it.
type InvalidInputError struct {
	Field   string  `json:"field"`
	Message string  `json:"message"`
	Value   float64 `json:"value"`
}

// Error implements the error interface
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for field '%s': %s", e.Field, e.Message)
}

// NewInvalidInputError creates a new InvalidInputError
func NewInvalidInputError(field, message string, value float64) *InvalidInputError {
	return &InvalidInputError{Field: field, Message: message, Value: value}
}

// ModelUnavailableError reports a learned artifact that is missing or cannot
// be loaded. Whether it is fatal is decided by the caller's strict mode.
type ModelUnavailableError struct {
	Component string
	Reason    string
	Err       error
}

// Error implements the error interface
func (e *ModelUnavailableError) Error() string {
	msg := fmt.Sprintf("%s model unavailable: %s", e.Component, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// NewModelUnavailableError creates a new ModelUnavailableError
func NewModelUnavailableError(component, reason string, err error) *ModelUnavailableError {
	return &ModelUnavailableError{Component: component, Reason: reason, Err: err}
}

// ArtifactContractError reports a malformed calibration or manifest artifact.
// Problems lists every issue found, not only the first.
type ArtifactContractError struct {
	Path     string
	Problems []string
}

// Error implements the error interface
func (e *ArtifactContractError) Error() string {
	return fmt.Sprintf("artifact contract violated for %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

// NewArtifactContractError creates a new ArtifactContractError
func NewArtifactContractError(path string, problems ...string) *ArtifactContractError {
	return &ArtifactContractError{Path: path, Problems: problems}
}

// FusionPreconditionError reports a Stage 3 run that cannot proceed with the
// available inputs. It is always fatal to that run.
type FusionPreconditionError struct {
	Reason string
}

// Error implements the error interface
func (e *FusionPreconditionError) Error() string {
	return "stage 3 precondition failed: " + e.Reason
}

// NewFusionPreconditionError creates a new FusionPreconditionError
func NewFusionPreconditionError(reason string) *FusionPreconditionError {
	return &FusionPreconditionError{Reason: reason}
}

// QualityRejectedError reports a scan refused by the strict quality gate.
type QualityRejectedError struct {
	ReasonCodes []string
}

// Error implements the error interface
func (e *QualityRejectedError) Error() string {
	return "scan rejected by quality gate: " + strings.Join(e.ReasonCodes, ",")
}

// IsModelUnavailable reports whether err wraps a ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var target *ModelUnavailableError
	return errors.As(err, &target)
}

// IsFusionPrecondition reports whether err wraps a FusionPreconditionError.
func IsFusionPrecondition(err error) bool {
	var target *FusionPreconditionError
	return errors.As(err, &target)
}

// IsInvalidInput reports whether err wraps an InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

// IsArtifactContract reports whether err wraps an ArtifactContractError.
func IsArtifactContract(err error) bool {
	var target *ArtifactContractError
	return errors.As(err, &target)
}
