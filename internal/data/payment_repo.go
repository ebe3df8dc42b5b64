package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/jackc/pgx/v5"

	"github.com/target/job-launcher/internal/data/pgxutil"
	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
)

// ErrInsufficientBalance is returned when a withdrawal would overdraw the user.
var ErrInsufficientBalance = errors.New("insufficient balance")

// PaymentRepo records ledger entries and derives user balances from them.
type PaymentRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(db *sql.DB, cfg RepoConfig) *PaymentRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "payment_repo"),
	}
}

const balanceQuery = `
	SELECT COALESCE(SUM(CASE WHEN type = 'WITHDRAWAL' THEN -amount ELSE amount END), 0)::text
	FROM payments
	WHERE user_id = $1`

// GetUserBalance returns deposits plus refunds minus withdrawals.
func (r *PaymentRepo) GetUserBalance(ctx context.Context, userID int64) (*big.Int, error) {
	var raw string
	if err := r.DB.QueryRowContext(ctx, balanceQuery, userID).Scan(&raw); err != nil {
		return nil, fmt.Errorf("get balance for user %d: %w", userID, err)
	}
	return parseBalance(raw)
}

// SavePayment appends a ledger entry. Entries for one user are serialized with
// a transaction-scoped advisory lock, and withdrawals are refused when they
// exceed the balance seen under that lock.
func (r *PaymentRepo) SavePayment(ctx context.Context, params model.SavePaymentParams) (*model.Payment, error) {
	if err := params.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid payment")
	}

	var saved *model.Payment
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, params.UserID); err != nil {
				return fmt.Errorf("lock user ledger: %w", err)
			}

			if params.Type == model.PaymentTypeWithdrawal {
				var raw string
				if err := tx.QueryRow(ctx, balanceQuery, params.UserID).Scan(&raw); err != nil {
					return fmt.Errorf("read balance: %w", err)
				}
				balance, err := parseBalance(raw)
				if err != nil {
					return err
				}
				if balance.Cmp(params.Amount) < 0 {
					return ErrInsufficientBalance
				}
			}

			p := model.Payment{
				UserID: params.UserID,
				JobID:  params.JobID,
				Source: params.Source,
				Type:   params.Type,
			}
			if err := tx.QueryRow(ctx, `
				INSERT INTO payments (user_id, job_id, source, type, amount, created_at)
				VALUES ($1, $2, $3, $4, $5::numeric, $6)
				RETURNING id, amount::text, created_at`,
				params.UserID, params.JobID, string(params.Source), string(params.Type),
				params.Amount.String(), r.timeProvider.Now().UTC(),
			).Scan(&p.ID, &p.Amount, &p.CreatedAt); err != nil {
				return err
			}
			saved = &p
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, ErrInsufficientBalance.Error())
		}
		return nil, apperrors.MapDBError(fmt.Errorf("save payment: %w", err))
	}
	r.logger.DebugContext(ctx, "payment recorded",
		"user_id", saved.UserID, "type", saved.Type, "amount", saved.Amount)
	return saved, nil
}

// ListByUser returns the user's most recent ledger entries.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, job_id, source, type, amount::text, created_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.WarnContext(ctx, "close payment rows", "error", cerr)
		}
	}()

	var out []*model.Payment
	for rows.Next() {
		var (
			p     model.Payment
			jobID sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &jobID, &p.Source, &p.Type, &p.Amount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if jobID.Valid {
			id := jobID.Int64
			p.JobID = &id
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func parseBalance(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBalanceCorrupt, raw)
	}
	return v, nil
}
