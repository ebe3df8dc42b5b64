package httpx

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/target/job-launcher/internal/service"
)

// RouterServices holds the services and settings used by the HTTP routes.
type RouterServices struct {
	Jobs     *service.JobService     // Required
	Launcher *service.EscrowLauncher // Required
	Payments *service.PaymentService // Required
	Events   *service.OracleEventService
	Users    UserVerifier // Required: bearer verification for /api/jobs and /api/payments

	// Signature guards the webhook routes. Webhooks are disabled when Auth is nil.
	Signature     SignatureOptions
	WebhookPrefix string // Optional: defaults to /api/webhook

	MaxBodyBytes int64
	Checks       map[string]HealthCheck
	Logger       *slog.Logger
}

// NewRouter builds the API router.
func NewRouter(svcs RouterServices) http.Handler {
	logger := svcs.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID())
	r.Use(Logging(logger))
	r.Use(Recover(logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, ErrorParams{Code: http.StatusMethodNotAllowed, ErrCode: "method_not_allowed"})
	})

	r.Get("/healthz", healthHandler)
	r.Head("/healthz", healthHandler)
	r.Get("/readyz", readyHandler(svcs.Checks, logger))

	jobs := &JobHandlers{Svc: svcs.Jobs, Launcher: svcs.Launcher, Logger: logger}
	payments := &PaymentHandlers{Svc: svcs.Payments, Logger: logger}

	r.Group(func(user chi.Router) {
		user.Use(MaxBody(svcs.MaxBodyBytes))
		user.Use(RequireUser(svcs.Users))

		user.Post("/api/jobs/fortune", jobs.CreateFortuneJob)
		user.Post("/api/jobs/cvat", jobs.CreateCvatJob)
		user.Get("/api/jobs", jobs.List)
		user.Get("/api/jobs/{id}", jobs.Get)
		user.Post("/api/jobs/{id}/launch", jobs.Launch)

		user.Get("/api/payments", payments.History)
		user.Get("/api/payments/balance", payments.Balance)
	})

	if svcs.Signature.Auth != nil && svcs.Events != nil {
		sig := svcs.Signature
		if sig.MaxBodyBytes == 0 {
			sig.MaxBodyBytes = svcs.MaxBodyBytes
		}
		if sig.Logger == nil {
			sig.Logger = logger
		}
		webhooks := &WebhookHandlers{Events: svcs.Events, Logger: logger}
		r.Group(func(signed chi.Router) {
			signed.Use(RequireSignature(sig))
			signed.Post(webhookPrefix(svcs.WebhookPrefix)+"/{family}", webhooks.Receive)
		})
	}

	return r
}

func webhookPrefix(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return "/api/webhook"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
