package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:443: connection refused")
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "message only",
			err:  &AppError{Code: ErrCodeValidation, Message: "fund amount must be positive"},
			want: "fund amount must be positive",
		},
		{
			name: "with cause",
			err:  &AppError{Code: ErrCodeUpstream, Message: "manifest upload failed", Cause: cause},
			want: "manifest upload failed: dial tcp 10.0.0.5:443: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if tt.err.Cause != nil && !errors.Is(tt.err, cause) {
				t.Errorf("errors.Is(%v, cause) = false", tt.err)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *AppError
		wantCode  ErrorCode
		wantMsg   string
		wantField string
	}{
		{name: "NotFound", err: NotFound("job not found"), wantCode: ErrCodeNotFound, wantMsg: "job not found"},
		{name: "Conflict", err: Conflict("launch already in progress"), wantCode: ErrCodeConflict, wantMsg: "launch already in progress"},
		{name: "Conflictf", err: Conflictf("job %d is %s", 7, "LAUNCHED"), wantCode: ErrCodeConflict, wantMsg: "job 7 is LAUNCHED"},
		{name: "Validation", err: Validation("job is required"), wantCode: ErrCodeValidation, wantMsg: "job is required"},
		{name: "Validationf", err: Validationf("job %d already has an escrow", 7), wantCode: ErrCodeValidation, wantMsg: "job 7 already has an escrow"},
		{
			name:      "ValidationField",
			err:       ValidationField("escrow_address", "invalid escrow address"),
			wantCode:  ErrCodeValidation,
			wantMsg:   "invalid escrow address",
			wantField: "escrow_address",
		},
		{name: "ForeignKey", err: ForeignKey("job does not exist"), wantCode: ErrCodeForeignKey, wantMsg: "job does not exist"},
		{name: "Unauthorized", err: Unauthorized("invalid signature"), wantCode: ErrCodeUnauthorized, wantMsg: "invalid signature"},
		{name: "Upstream", err: Upstream("exchange oracle unavailable"), wantCode: ErrCodeUpstream, wantMsg: "exchange oracle unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
			if tt.err.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", tt.err.Field, tt.wantField)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if err := Wrap(nil, ErrCodeUpstream, "ledger unavailable"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}

	sentinel := errors.New("insufficient funds")
	err := Wrap(sentinel, ErrCodeValidation, sentinel.Error())
	if !errors.Is(err, sentinel) {
		t.Error("wrapped sentinel is not reachable through errors.Is")
	}
	if err.Message != "insufficient funds" || err.Code != ErrCodeValidation {
		t.Errorf("Wrap() = %+v", err)
	}
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("create fortune job: %w", ValidationField("fund_amount", "must be positive"))
	tests := []struct {
		name string
		err  error
		is   func(error) bool
		want bool
	}{
		{name: "not found", err: NotFound("job not found"), is: IsNotFound, want: true},
		{name: "conflict", err: Conflictf("job %d is held", 3), is: IsConflict, want: true},
		{name: "validation through fmt wrap", err: wrapped, is: IsValidation, want: true},
		{name: "unauthorized", err: Unauthorized("unknown signer"), is: IsUnauthorized, want: true},
		{name: "upstream", err: Wrap(errors.New("502"), ErrCodeUpstream, "webhook failed"), is: IsUpstream, want: true},
		{name: "different code", err: NotFound("job not found"), is: IsConflict, want: false},
		{name: "plain error", err: errors.New("boom"), is: IsValidation, want: false},
		{name: "nil", err: nil, is: IsNotFound, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.is(tt.err); got != tt.want {
				t.Errorf("predicate(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestGetCodeAndField(t *testing.T) {
	wrapped := fmt.Errorf("resolve job 4: %w", ValidationField("escrow_address", "invalid escrow address"))
	if got := GetCode(wrapped); got != ErrCodeValidation {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeValidation)
	}
	if got := GetField(wrapped); got != "escrow_address" {
		t.Errorf("GetField() = %q, want escrow_address", got)
	}

	for _, err := range []error{nil, errors.New("boom"), NotFound("job not found")} {
		if GetField(err) != "" {
			t.Errorf("GetField(%v) should be empty", err)
		}
	}
	if GetCode(errors.New("boom")) != "" || GetCode(nil) != "" {
		t.Error("GetCode() should be empty for non-AppError values")
	}
}
