package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/service"
)

const (
	errMsgInternal     = "internal server error"
	errMsgEscrowLaunch = "escrow launch failed"
)

var errInternal = errors.New(errMsgInternal)

// errorStatus maps application error codes to HTTP statuses. Codes not listed
// are rendered as 500 with an opaque message.
var errorStatus = map[apperrors.ErrorCode]int{ //nolint:gochecknoglobals // read-only lookup table
	apperrors.ErrCodeValidation:   http.StatusBadRequest,
	apperrors.ErrCodeUnauthorized: http.StatusUnauthorized,
	apperrors.ErrCodeNotFound:     http.StatusNotFound,
	apperrors.ErrCodeConflict:     http.StatusConflict,
	apperrors.ErrCodeForeignKey:   http.StatusConflict,
	apperrors.ErrCodeUpstream:     http.StatusBadGateway,
}

// DetermineErrorStatus returns the HTTP status and error code for err.
func DetermineErrorStatus(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var launchErr *service.EscrowLaunchError
	if errors.As(err, &launchErr) {
		return http.StatusInternalServerError, "escrow_launch_failed"
	}

	code := apperrors.GetCode(err)
	if status, ok := errorStatus[code]; ok {
		return status, string(code)
	}
	return http.StatusInternalServerError, string(apperrors.ErrCodeInternal)
}

// RenderError writes the JSON response for a service error. Client errors
// carry the error message; server errors are opaque and logged in full.
func RenderError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := DetermineErrorStatus(err)

	if status < http.StatusInternalServerError || status == http.StatusBadGateway {
		WriteError(w, ErrorParams{
			Code:    status,
			ErrCode: code,
			Err:     publicError(err),
			Field:   apperrors.GetField(err),
		})
		return
	}

	msg := errMsgInternal
	attrs := []any{
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	}
	var launchErr *service.EscrowLaunchError
	if errors.As(err, &launchErr) {
		msg = errMsgEscrowLaunch
		attrs = append(attrs, "job_id", launchErr.JobID, "step", launchErr.Step, "detail", launchErr.Detail())
	}
	if logger != nil {
		logger.ErrorContext(r.Context(), "request failed", attrs...)
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: errors.New(msg)})
}

// publicError returns the message safe to show a client: the outermost
// AppError message when one exists, otherwise err itself.
func publicError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return errors.New(appErr.Message)
	}
	return err
}
