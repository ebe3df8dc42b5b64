// Package testutil provides testing utilities and helpers for the job launcher.
package testutil

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/target/job-launcher/internal/domain/model"
)

// Ether returns n whole tokens in the smallest unit.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// FortuneRequestBuilder provides a fluent interface for building CreateFortuneJobRequest values.
type FortuneRequestBuilder struct {
	req model.CreateFortuneJobRequest
}

// NewFortuneRequest creates a FortuneRequestBuilder with sensible defaults.
func NewFortuneRequest() *FortuneRequestBuilder {
	return &FortuneRequestBuilder{
		req: model.CreateFortuneJobRequest{
			ChainID:              80001,
			FortunesRequired:     2,
			RequesterTitle:       "Fortune",
			RequesterDescription: "Share a fortune",
			FundAmount:           "100",
		},
	}
}

// WithFundAmount sets the whole-token fund amount.
func (b *FortuneRequestBuilder) WithFundAmount(amount string) *FortuneRequestBuilder {
	b.req.FundAmount = json.Number(amount)
	return b
}

// WithChainID sets the chain id.
func (b *FortuneRequestBuilder) WithChainID(id int64) *FortuneRequestBuilder {
	b.req.ChainID = id
	return b
}

// Build returns the request.
func (b *FortuneRequestBuilder) Build() *model.CreateFortuneJobRequest {
	r := b.req
	return &r
}

// NewCvatRequest returns a valid labeling request.
func NewCvatRequest() *model.CreateCvatJobRequest {
	return &model.CreateCvatJobRequest{
		ChainID:                 80001,
		DataURL:                 "https://data.example/images/",
		AnnotationsPerImage:     3,
		Labels:                  []string{"cat", "dog"},
		RequesterDescription:    "Label each image",
		RequesterAccuracyTarget: 0.8,
		FundAmount:              "10",
	}
}

// JobBuilder builds model.Job fixtures.
type JobBuilder struct {
	job model.Job
}

// NewJob returns a PAID fortune job fixture.
func NewJob() *JobBuilder {
	now := TestTime()
	return &JobBuilder{job: model.Job{
		ID:           1,
		UserID:       42,
		ChainID:      80001,
		RequestType:  model.RequestTypeFortune,
		ManifestURL:  "http://localhost:9000/manifests/s3abc.json",
		ManifestHash: "abc",
		Fee:          Ether(3).String(),
		FundAmount:   Ether(103).String(),
		Status:       model.JobStatusPaid,
		WaitUntil:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id int64) *JobBuilder {
	b.job.ID = id
	return b
}

// WithStatus sets the job status.
func (b *JobBuilder) WithStatus(s model.JobStatus) *JobBuilder {
	b.job.Status = s
	return b
}

// WithRequestType sets the request type.
func (b *JobBuilder) WithRequestType(t model.RequestType) *JobBuilder {
	b.job.RequestType = t
	return b
}

// WithLaunchStage sets the launch stage of a PAID job.
func (b *JobBuilder) WithLaunchStage(stage model.LaunchStage) *JobBuilder {
	b.job.LaunchStage = stage
	return b
}

// WithRecordedEscrow records addr as a created but not yet launched escrow.
func (b *JobBuilder) WithRecordedEscrow(addr string) *JobBuilder {
	b.job.LaunchStage = model.LaunchStageEscrowCreated
	b.job.RecordedEscrowAddress = &addr
	return b
}

// WithEscrow marks the job LAUNCHED with escrow addr.
func (b *JobBuilder) WithEscrow(addr string) *JobBuilder {
	b.WithRecordedEscrow(addr)
	b.job.Status = model.JobStatusLaunched
	b.job.EscrowAddress = &addr
	return b
}

// WithWaitUntil sets the scheduling time.
func (b *JobBuilder) WithWaitUntil(t time.Time) *JobBuilder {
	b.job.WaitUntil = t
	return b
}

// Build returns a copy of the job.
func (b *JobBuilder) Build() *model.Job {
	return b.job.Clone()
}
