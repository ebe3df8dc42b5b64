// Package httpx provides the HTTP API of the job launcher.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
	"github.com/target/job-launcher/internal/service"
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc      *service.JobService
	Launcher *service.EscrowLauncher
	Logger   *slog.Logger
}

type createJobResponse struct {
	JobID int64 `json:"jobId"`
}

// CreateFortuneJob funds a fortune job for the authenticated user.
func (h *JobHandlers) CreateFortuneJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req model.CreateFortuneJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	id, err := h.Svc.CreateFortuneJob(r.Context(), userID, &req)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, createJobResponse{JobID: id})
}

// CreateCvatJob funds a binary image labeling job for the authenticated user.
func (h *JobHandlers) CreateCvatJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req model.CreateCvatJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	id, err := h.Svc.CreateCvatJob(r.Context(), userID, &req)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, createJobResponse{JobID: id})
}

// List returns the authenticated user's jobs, newest first.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	opts := model.JobListOptions{UserID: userID, Limit: limit, Offset: offset}
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.JobStatus(s)
		opts.Status = &status
	}

	jobs, err := h.Svc.ListForUser(r.Context(), opts)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// Get returns one of the authenticated user's jobs.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}

	job, err := h.Svc.GetByID(r.Context(), userID, id)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Launch creates the escrow of a PAID job right away instead of waiting for
// the reconciler.
func (h *JobHandlers) Launch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}

	job, err := h.Launcher.LaunchForUser(r.Context(), userID, id)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandlers) requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		RenderError(w, r, h.Logger, apperrors.Wrap(service.ErrUnauthorized,
			apperrors.ErrCodeUnauthorized, service.ErrUnauthorized.Error()))
		return 0, false
	}
	return userID, true
}
