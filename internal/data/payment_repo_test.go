package data

import (
	"context"
	"database/sql"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/testutil"
)

var _ core.PaymentRepository = (*PaymentRepo)(nil)

func deposit(t *testing.T, repo *PaymentRepo, userID int64, amount *big.Int) {
	t.Helper()
	_, err := repo.SavePayment(context.Background(), model.SavePaymentParams{
		UserID: userID,
		Source: model.PaymentSourceCrypto,
		Type:   model.PaymentTypeDeposit,
		Amount: amount,
	})
	require.NoError(t, err)
}

func TestPaymentRepo_Balance(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewPaymentRepo(db, RepoConfig{})
		jobs := NewJobRepo(db, RepoConfig{})

		balance, err := repo.GetUserBalance(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, 0, balance.Sign())

		deposit(t, repo, 42, testutil.Ether(200))
		job := createTestJob(t, jobs, 42)

		withdrawal, err := repo.SavePayment(ctx, model.SavePaymentParams{
			UserID: 42,
			JobID:  &job.ID,
			Source: model.PaymentSourceBalance,
			Type:   model.PaymentTypeWithdrawal,
			Amount: testutil.Ether(103),
		})
		require.NoError(t, err)
		require.NotNil(t, withdrawal.JobID)
		assert.Equal(t, job.ID, *withdrawal.JobID)
		assert.Equal(t, testutil.Ether(103).String(), withdrawal.Amount)

		balance, err = repo.GetUserBalance(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(97).String(), balance.String())

		history, err := repo.ListByUser(ctx, 42, 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, model.PaymentTypeWithdrawal, history[0].Type)
	})
}

func TestPaymentRepo_LargeAmounts(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewPaymentRepo(db, RepoConfig{})
		huge, ok := new(big.Int).SetString("1000000000000000000000000000007", 10)
		require.True(t, ok)

		deposit(t, repo, 9, huge)

		balance, err := repo.GetUserBalance(context.Background(), 9)
		require.NoError(t, err)
		assert.Equal(t, huge.String(), balance.String())
	})
}

func TestPaymentRepo_WithdrawalOverdraw(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewPaymentRepo(db, RepoConfig{})
		deposit(t, repo, 3, testutil.Ether(10))

		_, err := repo.SavePayment(context.Background(), model.SavePaymentParams{
			UserID: 3,
			Source: model.PaymentSourceBalance,
			Type:   model.PaymentTypeWithdrawal,
			Amount: testutil.Ether(11),
		})
		require.ErrorIs(t, err, ErrInsufficientBalance)
	})
}

func TestPaymentRepo_ConcurrentWithdrawals(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewPaymentRepo(db, RepoConfig{})
		deposit(t, repo, 4, testutil.Ether(10))

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.SavePayment(ctx, model.SavePaymentParams{
					UserID: 4,
					Source: model.PaymentSourceBalance,
					Type:   model.PaymentTypeWithdrawal,
					Amount: testutil.Ether(4),
				})
				if err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 2, ok)
		balance, err := repo.GetUserBalance(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, testutil.Ether(2).String(), balance.String())
	})
}

func TestPaymentRepo_InvalidParams(t *testing.T) {
	repo := NewPaymentRepo(nil, RepoConfig{})
	_, err := repo.SavePayment(context.Background(), model.SavePaymentParams{
		UserID: 1,
		Source: model.PaymentSourceBalance,
		Type:   model.PaymentTypeDeposit,
		Amount: big.NewInt(0),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestParseBalance(t *testing.T) {
	v, err := parseBalance("-5")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v.Int64())

	_, err = parseBalance("1.5")
	require.ErrorIs(t, err, ErrBalanceCorrupt)
}
