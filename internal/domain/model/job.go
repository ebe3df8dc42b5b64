// Package model defines the core data types used throughout the job launcher.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// JobStatus represents the funding and launch state of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job row exists but the user has not been debited.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusPaid indicates the total amount was debited and the job awaits an escrow.
	JobStatusPaid JobStatus = "PAID"
	// JobStatusLaunched indicates an escrow was created for the job.
	JobStatusLaunched JobStatus = "LAUNCHED"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusPaid || s == JobStatusLaunched
}

// Predecessor returns the only status a job may move into s from.
// PENDING has none since jobs are created in that state.
func (s JobStatus) Predecessor() (JobStatus, bool) {
	switch s {
	case JobStatusPaid:
		return JobStatusPending, true
	case JobStatusLaunched:
		return JobStatusPaid, true
	default:
		return "", false
	}
}

// CanTransitionTo reports whether moving from s to next follows PENDING -> PAID -> LAUNCHED.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	prev, ok := next.Predecessor()
	return ok && prev == s
}

// LaunchStage records how far a PAID job got towards its escrow, so a retry
// resumes after the last completed side effect instead of repeating it.
type LaunchStage string

const (
	// LaunchStageNotStarted means no escrow transaction was sent for the job.
	LaunchStageNotStarted LaunchStage = "NOT_STARTED"
	// LaunchStageEscrowRequested means escrow creation was handed to the ledger
	// and its outcome was not recorded. Such jobs are held for an operator.
	LaunchStageEscrowRequested LaunchStage = "ESCROW_REQUESTED"
	// LaunchStageEscrowCreated means the escrow exists and its address is stored
	// in RecordedEscrowAddress.
	LaunchStageEscrowCreated LaunchStage = "ESCROW_CREATED"
)

// Valid returns true if the LaunchStage is valid.
func (s LaunchStage) Valid() bool {
	switch s {
	case LaunchStageNotStarted, LaunchStageEscrowRequested, LaunchStageEscrowCreated:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned when a status change would move a job backwards or skip a step.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Job is a funded unit of crowdsourced work.
// Fee and FundAmount are decimal strings in the token's smallest unit;
// FundAmount is the total debited, fee included. EscrowAddress is set only
// once the job is LAUNCHED; the address of an escrow created by an
// unfinished launch lives in RecordedEscrowAddress.
type Job struct {
	ID                    int64       `json:"id"                              db:"id"`
	UserID                int64       `json:"userId"                          db:"user_id"`
	ChainID               int64       `json:"chainId"                         db:"chain_id"`
	RequestType           RequestType `json:"requestType"                     db:"request_type"`
	ManifestURL           string      `json:"manifestUrl"                     db:"manifest_url"`
	ManifestHash          string      `json:"manifestHash"                    db:"manifest_hash"`
	Fee                   string      `json:"fee"                             db:"fee"`
	FundAmount            string      `json:"fundAmount"                      db:"fund_amount"`
	Status                JobStatus   `json:"status"                          db:"status"`
	EscrowAddress         *string     `json:"escrowAddress,omitempty"         db:"escrow_address"`
	LaunchStage           LaunchStage `json:"launchStage,omitempty"           db:"launch_stage"`
	RecordedEscrowAddress *string     `json:"recordedEscrowAddress,omitempty" db:"recorded_escrow_address"`
	WaitUntil             time.Time   `json:"waitUntil"                       db:"wait_until"`
	CreatedAt             time.Time   `json:"createdAt"                       db:"created_at"`
	UpdatedAt             time.Time   `json:"updatedAt"                       db:"updated_at"`
}

// Validate checks the record-level invariants of a job.
func (j *Job) Validate() error {
	if !j.Status.Valid() {
		return fmt.Errorf("invalid job status %q", j.Status)
	}
	if j.LaunchStage != "" && !j.LaunchStage.Valid() {
		return fmt.Errorf("invalid launch stage %q", j.LaunchStage)
	}
	hasEscrow := nonEmpty(j.EscrowAddress)
	if (j.Status == JobStatusLaunched) != hasEscrow {
		return errors.New("escrow address is set if and only if the job is launched")
	}
	if hasEscrow && !common.IsHexAddress(*j.EscrowAddress) {
		return fmt.Errorf("invalid escrow address %q", *j.EscrowAddress)
	}
	hasRecorded := nonEmpty(j.RecordedEscrowAddress)
	if (j.LaunchStage == LaunchStageEscrowCreated) != hasRecorded {
		return errors.New("recorded escrow address is set if and only if the escrow was created")
	}
	if hasRecorded && !common.IsHexAddress(*j.RecordedEscrowAddress) {
		return fmt.Errorf("invalid recorded escrow address %q", *j.RecordedEscrowAddress)
	}
	if _, err := ParseAmount(j.Fee); err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	if _, err := ParseAmount(j.FundAmount); err != nil {
		return fmt.Errorf("fund amount: %w", err)
	}
	return nil
}

// HasRecordedEscrow reports whether a PAID job already owns an escrow and only
// needs the LAUNCHED transition.
func (j *Job) HasRecordedEscrow() bool {
	return j.Status == JobStatusPaid && j.LaunchStage == LaunchStageEscrowCreated &&
		nonEmpty(j.RecordedEscrowAddress)
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// Clone returns a deep copy so callers can stage changes without mutating the original.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.EscrowAddress != nil {
		addr := *j.EscrowAddress
		c.EscrowAddress = &addr
	}
	if j.RecordedEscrowAddress != nil {
		addr := *j.RecordedEscrowAddress
		c.RecordedEscrowAddress = &addr
	}
	return &c
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

// CreateJobParams holds the values persisted when a job is first stored.
type CreateJobParams struct {
	UserID       int64
	ChainID      int64
	RequestType  RequestType
	ManifestURL  string
	ManifestHash string
	Fee          *big.Int
	FundAmount   *big.Int
	WaitUntil    time.Time
}

// CreateFortuneJobRequest asks for an open-ended text job answered by a number of workers.
type CreateFortuneJobRequest struct {
	ChainID              int64       `json:"chainId"`
	FortunesRequired     int         `json:"fortunesRequired"`
	RequesterTitle       string      `json:"requesterTitle"`
	RequesterDescription string      `json:"requesterDescription"`
	FundAmount           json.Number `json:"fundAmount"`
}

// Validate validates the CreateFortuneJobRequest fields.
func (r *CreateFortuneJobRequest) Validate() error {
	if r.ChainID <= 0 {
		return errors.New("chainId is required")
	}
	if r.FortunesRequired < 1 {
		return errors.New("fortunesRequired must be at least 1")
	}
	if strings.TrimSpace(r.RequesterTitle) == "" {
		return errors.New("requesterTitle is required")
	}
	if strings.TrimSpace(r.RequesterDescription) == "" {
		return errors.New("requesterDescription is required")
	}
	if r.FundAmount == "" {
		return errors.New("fundAmount is required")
	}
	return nil
}

// CreateCvatJobRequest asks for binary image labeling over a hosted dataset.
type CreateCvatJobRequest struct {
	ChainID                 int64       `json:"chainId"`
	DataURL                 string      `json:"dataUrl"`
	AnnotationsPerImage     int         `json:"annotationsPerImage"`
	Labels                  []string    `json:"labels"`
	RequesterDescription    string      `json:"requesterDescription"`
	RequesterAccuracyTarget float64     `json:"requesterAccuracyTarget"`
	FundAmount              json.Number `json:"fundAmount"`
}

// Validate validates the CreateCvatJobRequest fields.
func (r *CreateCvatJobRequest) Validate() error {
	if r.ChainID <= 0 {
		return errors.New("chainId is required")
	}
	if !strings.HasPrefix(r.DataURL, "http://") && !strings.HasPrefix(r.DataURL, "https://") {
		return errors.New("dataUrl must be an http(s) URL")
	}
	if r.AnnotationsPerImage < 1 {
		return errors.New("annotationsPerImage must be at least 1")
	}
	if len(r.Labels) == 0 {
		return errors.New("at least one label is required")
	}
	for _, l := range r.Labels {
		if strings.TrimSpace(l) == "" {
			return errors.New("labels must not be blank")
		}
	}
	if strings.TrimSpace(r.RequesterDescription) == "" {
		return errors.New("requesterDescription is required")
	}
	if r.RequesterAccuracyTarget <= 0 || r.RequesterAccuracyTarget > 1 {
		return errors.New("requesterAccuracyTarget must be in (0, 1]")
	}
	if r.FundAmount == "" {
		return errors.New("fundAmount is required")
	}
	return nil
}
