package httpx

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/job-launcher/internal/domain/model"
	"github.com/target/job-launcher/internal/domain/signature"
	apperrors "github.com/target/job-launcher/internal/errors"
)

const testEscrow = "0x00000000000000000000000000000000000000E5"

func signedHeaders(t *testing.T, f *apiFixture, body []byte) map[string]string {
	t.Helper()
	sig, err := signature.Sign(body, f.exchangeKey)
	require.NoError(t, err)
	return map[string]string{testSigHeader: sig}
}

func TestWebhook_Receive(t *testing.T) {
	f := newAPIFixture(t)
	body := []byte(`{"escrowAddress":"` + testEscrow + `","chainId":80001,"eventType":"task_creation_failed"}`)

	job := storedJob(5, 1, model.JobStatusLaunched)
	f.jobs.EXPECT().GetByEscrowAddress(gomock.Any(), int64(80001), testEscrow).Return(job, nil)

	w := f.do(t, apiRequest{
		method:  http.MethodPost,
		path:    testExchangeRoute,
		body:    body,
		headers: signedHeaders(t, f, body),
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"jobId":5,"status":"LAUNCHED"}`, w.Body.String())
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t)
	body := []byte(`{"escrowAddress":"` + testEscrow + `","chainId":80001,"eventType":"x"}`)
	signed := []byte(`{"escrowAddress":"` + testEscrow + `","chainId":1,"eventType":"x"}`)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
	}{
		{name: "missing header", path: testExchangeRoute},
		{name: "signature over other body", path: testExchangeRoute, headers: signedHeaders(t, f, signed)},
		{name: "unmapped route", path: "/api/webhook/recording-oracle", headers: signedHeaders(t, f, body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, apiRequest{method: http.MethodPost, path: tt.path, body: body, headers: tt.headers})
			require.Equal(t, http.StatusUnauthorized, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, "unauthorized", resp.Error)
			assert.Equal(t, "invalid signature", resp.Message)
		})
	}
}

func TestWebhook_UnknownEscrow(t *testing.T) {
	f := newAPIFixture(t)
	body := []byte(`{"escrowAddress":"` + testEscrow + `","chainId":80001,"eventType":"x"}`)
	f.jobs.EXPECT().GetByEscrowAddress(gomock.Any(), int64(80001), testEscrow).
		Return(nil, apperrors.NotFound("job not found"))

	w := f.do(t, apiRequest{method: http.MethodPost, path: testExchangeRoute, body: body, headers: signedHeaders(t, f, body)})

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	f := newAPIFixture(t)
	body := make([]byte, testMaxBodyBytes+1)
	for i := range body {
		body[i] = 'a'
	}

	w := f.do(t, apiRequest{method: http.MethodPost, path: testExchangeRoute, body: body})

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
