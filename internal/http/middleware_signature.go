package httpx

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/target/job-launcher/internal/domain/signature"
)

// RequestAuthenticator checks a signed request body for a route.
type RequestAuthenticator interface {
	Authenticate(path string, body []byte, sig string) (signature.Family, error)
}

// SignatureOptions configures RequireSignature.
type SignatureOptions struct {
	Auth         RequestAuthenticator // Required
	Header       string               // Required: header carrying the hex signature
	MaxBodyBytes int64                // Optional: body cap, unlimited when zero
	Logger       *slog.Logger         // Optional
}

// RequireSignature authenticates the raw request body against the signer
// expected for the request path. On success the body is restored for the
// handler and the caller family is stored in the context. Every failure is a
// 401 without detail.
func RequireSignature(opts SignatureOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := readBody(w, r, opts.MaxBodyBytes)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					WriteError(w, ErrorParams{Code: http.StatusRequestEntityTooLarge, ErrCode: "body_too_large", Err: err})
					return
				}
				WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_body", Err: err})
				return
			}

			family, err := opts.Auth.Authenticate(r.URL.Path, body, r.Header.Get(opts.Header))
			if err != nil {
				logger.WarnContext(r.Context(), "signature rejected",
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"error", err,
				)
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "unauthorized",
					Err:     errors.New("invalid signature"),
				})
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r.WithContext(SetFamilyInContext(r.Context(), family)))
		})
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	var src io.Reader = r.Body
	if limit > 0 {
		src = http.MaxBytesReader(w, r.Body, limit)
	}
	return io.ReadAll(src)
}
