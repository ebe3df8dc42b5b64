package httpx

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/job-launcher/internal/domain/funding"
	"github.com/target/job-launcher/internal/domain/signature"
	"github.com/target/job-launcher/internal/mocks"
	"github.com/target/job-launcher/internal/service"
)

const (
	testJWTSecret     = "test-secret"
	testBucket        = "manifests"
	testSigHeader     = "header-signature-key"
	testWebhookURL    = "http://exchange-oracle.local/webhook"
	testMaxBodyBytes  = 4096
	testExchangeRoute = "/api/webhook/exchange-oracle"
)

type apiFixture struct {
	jobs        *mocks.MockJobRepository
	payments    *mocks.MockPaymentRepository
	storage     *mocks.MockObjectStorage
	ledger      *mocks.MockLedger
	signer      *mocks.MockLedgerSigner
	webhooks    *mocks.MockWebhookSender
	exchangeKey *ecdsa.PrivateKey
	handler     http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &apiFixture{
		jobs:     mocks.NewMockJobRepository(ctrl),
		payments: mocks.NewMockPaymentRepository(ctrl),
		storage:  mocks.NewMockObjectStorage(ctrl),
		ledger:   mocks.NewMockLedger(ctrl),
		signer:   mocks.NewMockLedgerSigner(ctrl),
		webhooks: mocks.NewMockWebhookSender(ctrl),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	manifests, err := service.NewManifestService(service.ManifestServiceOptions{Storage: f.storage, Logger: logger})
	require.NoError(t, err)
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Jobs:      f.jobs,
		Payments:  f.payments,
		Manifests: manifests,
		Rates:     funding.Rates{Launcher: 1, Recording: 1, Reputation: 1},
		Bucket:    testBucket,
		Logger:    logger,
	})
	require.NoError(t, err)
	launcher, err := service.NewEscrowLauncher(service.EscrowLauncherOptions{
		Jobs:      f.jobs,
		Ledger:    f.ledger,
		Manifests: manifests,
		Webhooks:  f.webhooks,
		Settings:  service.EscrowSettings{ExchangeOracleWebhookURL: testWebhookURL},
		Logger:    logger,
	})
	require.NoError(t, err)
	payments, err := service.NewPaymentService(service.PaymentServiceOptions{Payments: f.payments, Logger: logger})
	require.NoError(t, err)
	events, err := service.NewOracleEventService(service.OracleEventServiceOptions{Jobs: f.jobs, Logger: logger})
	require.NoError(t, err)

	f.exchangeKey, err = crypto.GenerateKey()
	require.NoError(t, err)
	rules, err := signature.ParseRules(testExchangeRoute + "=exchange_oracle")
	require.NoError(t, err)
	auth, err := service.NewSignatureAuthenticator(service.SignatureAuthOptions{
		Rules: rules,
		Keys: map[signature.Family]string{
			signature.FamilyExchangeOracle: crypto.PubkeyToAddress(f.exchangeKey.PublicKey).Hex(),
		},
		Logger: logger,
	})
	require.NoError(t, err)

	verifier, err := NewTokenVerifier(testJWTSecret, "")
	require.NoError(t, err)

	f.handler = NewRouter(RouterServices{
		Jobs:         jobs,
		Launcher:     launcher,
		Payments:     payments,
		Events:       events,
		Users:        verifier,
		Signature:    SignatureOptions{Auth: auth, Header: testSigHeader},
		MaxBodyBytes: testMaxBodyBytes,
		Logger:       logger,
	})
	return f
}

func userToken(t *testing.T, userID int64) string {
	t.Helper()
	return signToken(t, testJWTSecret, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

type apiRequest struct {
	method  string
	path    string
	body    any
	userID  int64
	headers map[string]string
}

func (f *apiFixture) do(t *testing.T, req apiRequest) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	switch b := req.body.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(b)
	case []byte:
		body = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	r := httptest.NewRequest(req.method, req.path, body)
	if req.userID > 0 {
		r.Header.Set("Authorization", "Bearer "+userToken(t, req.userID))
	}
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
