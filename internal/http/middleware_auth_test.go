package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireUser(t *testing.T) {
	verifier, err := NewTokenVerifier(testJWTSecret, "job-launcher")
	require.NoError(t, err)

	var seen int64
	h := RequireUser(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := jwt.RegisteredClaims{
		Subject:   "42",
		Issuer:    "job-launcher",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	badSubject := valid
	badSubject.Subject = "alice"
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name       string
		authz      string
		wantStatus int
		wantUser   int64
	}{
		{name: "valid", authz: "Bearer " + signToken(t, testJWTSecret, valid), wantStatus: http.StatusNoContent, wantUser: 42},
		{name: "lowercase scheme", authz: "bearer " + signToken(t, testJWTSecret, valid), wantStatus: http.StatusNoContent, wantUser: 42},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", authz: "Basic Zm9vOmJhcg==", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", authz: "Bearer " + signToken(t, "other", valid), wantStatus: http.StatusUnauthorized},
		{name: "expired", authz: "Bearer " + signToken(t, testJWTSecret, expired), wantStatus: http.StatusUnauthorized},
		{name: "no expiry", authz: "Bearer " + signToken(t, testJWTSecret, noExpiry), wantStatus: http.StatusUnauthorized},
		{name: "wrong issuer", authz: "Bearer " + signToken(t, testJWTSecret, wrongIssuer), wantStatus: http.StatusUnauthorized},
		{name: "non numeric subject", authz: "Bearer " + signToken(t, testJWTSecret, badSubject), wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = 0
			r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			if tt.authz != "" {
				r.Header.Set("Authorization", tt.authz)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			require.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantUser, seen)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRequireUser_RejectsOtherAlgorithms(t *testing.T) {
	verifier, err := NewTokenVerifier(testJWTSecret, "")
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{Subject: "1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	_, err = verifier.UserID(token)
	require.Error(t, err)
}

func TestNewTokenVerifier_RequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier("  ", "")
	require.Error(t, err)
}
