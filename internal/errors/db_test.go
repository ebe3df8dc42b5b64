package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_Passthrough(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}

	plain := errors.New("connection reset by peer")
	if err := MapDBError(plain); !errors.Is(err, plain) || GetCode(err) != "" {
		t.Errorf("MapDBError() = %v, want the original error", err)
	}
}

func TestMapDBError_ContextAndNoRows(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "deadline while saving job", err: fmt.Errorf("save job 7: %w", context.DeadlineExceeded), wantCode: ErrCodeTimeout},
		{name: "canceled balance query", err: fmt.Errorf("user balance: %w", context.Canceled), wantCode: ErrCodeCanceled},
		{name: "job lookup miss", err: fmt.Errorf("get job 7: %w", pgx.ErrNoRows), wantCode: ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if got := GetCode(err); got != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", got, tt.wantCode)
			}
			if !errors.Is(err, errors.Unwrap(tt.err)) {
				t.Errorf("MapDBError() lost the cause: %v", err)
			}
		})
	}
}

func TestMapDBError_SchemaConstraints(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantCode  ErrorCode
		wantField string
		wantMsg   string
	}{
		{
			name: "escrow recorded twice on a chain",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				TableName:      "jobs",
				ConstraintName: "jobs_chain_escrow_idx",
				Detail:         `Key (chain_id, lower(escrow_address))=(80001, 0xabc) already exists.`,
			},
			wantCode:  ErrCodeConflict,
			wantField: "escrow_address",
			wantMsg:   "This escrow address is already recorded for another job on this chain.",
		},
		{
			name: "same escrow recorded for two held jobs",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				TableName:      "jobs",
				ConstraintName: "jobs_chain_recorded_escrow_idx",
			},
			wantCode:  ErrCodeConflict,
			wantField: "recorded_escrow_address",
			wantMsg:   "This escrow address is already recorded for another job on this chain.",
		},
		{
			name: "paid job saved with escrow address",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.CheckViolation,
				TableName:      "jobs",
				ConstraintName: "jobs_escrow_launched_chk",
			},
			wantCode:  ErrCodeValidation,
			wantField: "escrow_address",
			wantMsg:   "Escrow address is set only on launched jobs.",
		},
		{
			name: "recorded escrow without created stage",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.CheckViolation,
				TableName:      "jobs",
				ConstraintName: "jobs_recorded_escrow_chk",
			},
			wantCode:  ErrCodeValidation,
			wantField: "recorded_escrow_address",
			wantMsg:   "A recorded escrow address requires the ESCROW_CREATED launch stage.",
		},
		{
			name: "unknown launch stage",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.CheckViolation,
				TableName:      "jobs",
				ConstraintName: "jobs_launch_stage_chk",
			},
			wantCode:  ErrCodeValidation,
			wantField: "launch_stage",
			wantMsg:   "Unknown launch stage.",
		},
		{
			name:      "negative fee",
			pgErr:     &pgconn.PgError{Code: pgerrcode.CheckViolation, TableName: "jobs", ConstraintName: "jobs_fee_check"},
			wantCode:  ErrCodeValidation,
			wantField: "fee",
			wantMsg:   "Fee must not be negative.",
		},
		{
			name:      "negative fund amount",
			pgErr:     &pgconn.PgError{Code: pgerrcode.CheckViolation, TableName: "jobs", ConstraintName: "jobs_fund_amount_check"},
			wantCode:  ErrCodeValidation,
			wantField: "fund_amount",
			wantMsg:   "Fund amount must not be negative.",
		},
		{
			name:      "zero payment",
			pgErr:     &pgconn.PgError{Code: pgerrcode.CheckViolation, TableName: "payments", ConstraintName: "payments_amount_check"},
			wantCode:  ErrCodeValidation,
			wantField: "amount",
			wantMsg:   "Payment amount must be positive.",
		},
		{
			name: "withdrawal for a missing job",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.ForeignKeyViolation,
				TableName:      "payments",
				ConstraintName: "payments_job_id_fkey",
				Detail:         `Key (job_id)=(42) is not present in table "jobs".`,
			},
			wantCode:  ErrCodeForeignKey,
			wantField: "job_id",
			wantMsg:   "The referenced job does not exist.",
		},
		{
			name:      "payment source outside the enum",
			pgErr:     &pgconn.PgError{Code: pgerrcode.CheckViolation, TableName: "payments", ConstraintName: "payments_source_check"},
			wantCode:  ErrCodeValidation,
			wantField: "source",
			wantMsg:   "This field has an invalid value.",
		},
		{
			name:      "job request type without table name",
			pgErr:     &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "jobs_request_type_check"},
			wantCode:  ErrCodeValidation,
			wantField: "request_type",
			wantMsg:   "This field has an invalid value.",
		},
		{
			name:     "unnamed check",
			pgErr:    &pgconn.PgError{Code: pgerrcode.CheckViolation},
			wantCode: ErrCodeValidation,
			wantMsg:  "Invalid data. Please check your input.",
		},
		{
			name:     "unknown unique index",
			pgErr:    &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "jobs_pkey"},
			wantCode: ErrCodeConflict,
			wantMsg:  "This value already exists.",
		},
		{
			name:      "missing user id",
			pgErr:     &pgconn.PgError{Code: pgerrcode.NotNullViolation, TableName: "payments", ColumnName: "user_id"},
			wantCode:  ErrCodeValidation,
			wantField: "user_id",
			wantMsg:   "This field is required.",
		},
		{
			name:     "serialization failure",
			pgErr:    &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			wantCode: ErrCodeInternal,
			wantMsg:  "A database error occurred. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(fmt.Errorf("save job 7: %w", tt.pgErr))
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("MapDBError() = %T, want *AppError", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("code = %v, want %v", appErr.Code, tt.wantCode)
			}
			if appErr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", appErr.Field, tt.wantField)
			}
			if appErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", appErr.Message, tt.wantMsg)
			}
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				t.Error("pg error is not reachable through Unwrap")
			}
		})
	}
}

func TestCheckColumn(t *testing.T) {
	tests := []struct {
		table      string
		constraint string
		want       string
	}{
		{table: "jobs", constraint: "jobs_status_check", want: "status"},
		{table: "payments", constraint: "payments_type_check", want: "type"},
		{table: "", constraint: "jobs_fund_amount_check", want: "fund_amount"},
		{table: "payments", constraint: "jobs_fee_check", want: ""},
		{table: "jobs", constraint: "jobs_escrow_launched_chk", want: ""},
		{table: "jobs", constraint: "jobs_check", want: ""},
		{table: "", constraint: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			if got := checkColumn(tt.table, tt.constraint); got != tt.want {
				t.Errorf("checkColumn(%q, %q) = %q, want %q", tt.table, tt.constraint, got, tt.want)
			}
		})
	}
}

func TestConstraintRules_CoverMigrations(t *testing.T) {
	named := []string{
		"jobs_chain_escrow_idx",
		"jobs_chain_recorded_escrow_idx",
		"jobs_escrow_launched_chk",
		"jobs_launch_stage_chk",
		"jobs_recorded_escrow_chk",
		"payments_job_id_fkey",
	}
	for _, name := range named {
		rule, ok := constraintRules[name]
		if !ok || rule.field == "" || rule.message == "" {
			t.Errorf("constraint %s has no rule", name)
		}
	}
}
