package service

import (
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/job-launcher/internal/domain/funding"
	"github.com/target/job-launcher/internal/domain/model"
	"github.com/target/job-launcher/internal/mocks"
)

const testBucket = "manifests"

var testRates = funding.Rates{Launcher: 1, Recording: 1, Reputation: 1}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(funding.Decimals), nil))
}

func newTestManifestService(t *testing.T, storage *mocks.MockObjectStorage, cache *mocks.MockCacheRepository) *ManifestService {
	t.Helper()
	opts := ManifestServiceOptions{Storage: storage}
	if cache != nil {
		opts.Cache = cache
	}
	svc, err := NewManifestService(opts)
	require.NoError(t, err)
	return svc
}

func manifestURL(hash string) string {
	return fmt.Sprintf("http://localhost:9000/%s/s3%s.json", testBucket, hash)
}

func mustManifestJSON(t *testing.T, m *model.Manifest) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func paidJob(id int64, rt model.RequestType) *model.Job {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.Job{
		ID:           id,
		UserID:       1,
		ChainID:      80001,
		RequestType:  rt,
		ManifestURL:  manifestURL(fmt.Sprintf("%064x", id)),
		ManifestHash: fmt.Sprintf("%064x", id),
		Fee:          "3",
		FundAmount:   "103",
		Status:       model.JobStatusPaid,
		WaitUntil:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
