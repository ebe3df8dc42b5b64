package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/service"
)

// WebhookHandlers receives signed events from oracles.
type WebhookHandlers struct {
	Events *service.OracleEventService
	Logger *slog.Logger
}

type webhookAck struct {
	JobID  int64           `json:"jobId"`
	Status model.JobStatus `json:"status"`
}

// Receive acknowledges an oracle event. RequireSignature must run first.
func (h *WebhookHandlers) Receive(w http.ResponseWriter, r *http.Request) {
	family, ok := FamilyFromContext(r.Context())
	if !ok {
		RenderError(w, r, h.Logger, apperrors.Wrap(service.ErrUnauthorized,
			apperrors.ErrCodeUnauthorized, service.ErrUnauthorized.Error()))
		return
	}
	var event model.WebhookPayload
	if !DecodeJSON(w, r, &event) {
		return
	}

	job, err := h.Events.Acknowledge(r.Context(), family, event)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, webhookAck{JobID: job.ID, Status: job.Status})
}
