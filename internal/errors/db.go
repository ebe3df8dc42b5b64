package errors

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// constraintRule names the input field behind a schema constraint and the
// message shown when a write violates it.
type constraintRule struct {
	field   string
	message string
}

// constraintRules covers the constraints the job and payment tables declare.
// Column CHECKs without an entry fall back to Postgres' "<table>_<column>_check"
// naming.
var constraintRules = map[string]constraintRule{
	"jobs_chain_escrow_idx": {
		field:   "escrow_address",
		message: "This escrow address is already recorded for another job on this chain.",
	},
	"jobs_chain_recorded_escrow_idx": {
		field:   "recorded_escrow_address",
		message: "This escrow address is already recorded for another job on this chain.",
	},
	"jobs_escrow_launched_chk": {
		field:   "escrow_address",
		message: "Escrow address is set only on launched jobs.",
	},
	"jobs_recorded_escrow_chk": {
		field:   "recorded_escrow_address",
		message: "A recorded escrow address requires the ESCROW_CREATED launch stage.",
	},
	"jobs_launch_stage_chk": {
		field:   "launch_stage",
		message: "Unknown launch stage.",
	},
	"jobs_fee_check": {
		field:   "fee",
		message: "Fee must not be negative.",
	},
	"jobs_fund_amount_check": {
		field:   "fund_amount",
		message: "Fund amount must not be negative.",
	},
	"payments_amount_check": {
		field:   "amount",
		message: "Payment amount must be positive.",
	},
	"payments_job_id_fkey": {
		field:   "job_id",
		message: "The referenced job does not exist.",
	},
}

// schemaTables lists the tables whose auto-named CHECKs can be traced back to a column.
var schemaTables = []string{"jobs", "payments"}

// MapDBError maps database errors to AppError instances:
//   - context deadline/cancel → Timeout/Canceled
//   - pgx.ErrNoRows → NotFound
//   - unique violations on escrow addresses → Conflict
//   - payments_job_id_fkey → ForeignKey
//   - CHECK and NOT NULL violations → Validation
//
// Anything else is returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return constraintError(pgErr, ErrCodeConflict, "This value already exists.")
	case pgerrcode.ForeignKeyViolation:
		return constraintError(pgErr, ErrCodeForeignKey, "The referenced record does not exist.")
	case pgerrcode.CheckViolation:
		return constraintError(pgErr, ErrCodeValidation, "Invalid data. Please check your input.")
	case pgerrcode.NotNullViolation:
		if pgErr.ColumnName != "" {
			return &AppError{Code: ErrCodeValidation, Message: "This field is required.", Field: pgErr.ColumnName, Cause: pgErr}
		}
		return &AppError{Code: ErrCodeValidation, Message: "Required field is missing. Please check your input.", Cause: pgErr}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: pgErr}
	}
}

// constraintError builds the AppError for a named-constraint violation,
// falling back to fallback when the constraint is not part of the schema.
func constraintError(pgErr *pgconn.PgError, code ErrorCode, fallback string) *AppError {
	appErr := &AppError{Code: code, Message: fallback, Cause: pgErr}
	if rule, ok := constraintRules[pgErr.ConstraintName]; ok {
		appErr.Field = rule.field
		appErr.Message = rule.message
		return appErr
	}
	if code == ErrCodeValidation {
		if field := checkColumn(pgErr.TableName, pgErr.ConstraintName); field != "" {
			appErr.Field = field
			appErr.Message = "This field has an invalid value."
		}
	}
	return appErr
}

// checkColumn recovers the column from an auto-named column CHECK,
// e.g. "payments_source_check" → "source". Unknown shapes yield "".
func checkColumn(table, constraint string) string {
	name, ok := strings.CutSuffix(constraint, "_check")
	if !ok {
		return ""
	}
	tables := schemaTables
	if table != "" {
		tables = []string{table}
	}
	for _, t := range tables {
		if col, ok := strings.CutPrefix(name, t+"_"); ok && col != "" {
			return col
		}
	}
	return ""
}
