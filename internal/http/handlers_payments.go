package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/job-launcher/internal/domain/model"
	"github.com/target/job-launcher/internal/service"
)

// PaymentHandlers exposes the authenticated user's ledger.
type PaymentHandlers struct {
	Svc    *service.PaymentService
	Logger *slog.Logger
}

// Balance returns the user's spendable balance in base units and tokens.
func (h *PaymentHandlers) Balance(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	bal, err := h.Svc.Balance(r.Context(), userID)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, bal)
}

// History returns the user's most recent ledger entries.
func (h *PaymentHandlers) History(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	limit, _ := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	payments, err := h.Svc.History(r.Context(), userID, limit)
	if err != nil {
		RenderError(w, r, h.Logger, err)
		return
	}
	if payments == nil {
		payments = []*model.Payment{}
	}
	WriteJSON(w, http.StatusOK, payments)
}
