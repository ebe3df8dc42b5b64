package service

import (
	"errors"
	"fmt"
)

// Domain failures of the funding and launch pipeline. Services return them
// wrapped in *apperrors.AppError so both errors.Is and code mapping work.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrJobNotCreated     = errors.New("job has not been created")
	ErrManifestUpload    = errors.New("unable to save manifest")
	ErrManifestNotFound  = errors.New("manifest not found")
	ErrEscrowNotCreated  = errors.New("escrow has not been created")
	ErrWebhookDelivery   = errors.New("webhook was not sent")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrJobNotFound       = errors.New("job not found")
	ErrLaunchInProgress  = errors.New("job launch already in progress")
	// ErrLaunchNeedsReview marks launches that may have left an escrow on chain
	// without a recorded address. They are not retried automatically.
	ErrLaunchNeedsReview = errors.New("escrow outcome unknown; launch needs operator review")
)

// LaunchStep names the stage of an escrow launch that failed.
type LaunchStep string

// Launch steps in execution order.
const (
	StepSigner   LaunchStep = "signer"
	StepRecord   LaunchStep = "record_stage"
	StepEscrow   LaunchStep = "create_escrow"
	StepPersist  LaunchStep = "persist"
	StepManifest LaunchStep = "load_manifest"
	StepWebhook  LaunchStep = "webhook"
)

const escrowLaunchFailedMessage = "escrow launch failed"

// EscrowLaunchError is the single failure callers see from a launch. Its
// message is opaque; Step and the wrapped cause are for logs and metrics.
type EscrowLaunchError struct {
	JobID int64
	Step  LaunchStep
	Cause error
}

// Error implements the error interface.
func (e *EscrowLaunchError) Error() string {
	if e == nil {
		return ""
	}
	return escrowLaunchFailedMessage
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *EscrowLaunchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Detail renders the step and cause for logging.
func (e *EscrowLaunchError) Detail() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("job %d: %s: %v", e.JobID, e.Step, e.Cause)
}

// NeedsReview reports whether the launch may have created an escrow that was
// not recorded, so retrying could create a second one.
func (e *EscrowLaunchError) NeedsReview() bool {
	return e != nil && errors.Is(e.Cause, ErrLaunchNeedsReview)
}

// MetricClass tags launch failures by step.
func (e *EscrowLaunchError) MetricClass() string {
	if e == nil {
		return ""
	}
	return "escrow_launch_" + string(e.Step)
}
