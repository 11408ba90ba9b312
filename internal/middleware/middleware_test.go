package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claim-enricher/internal/common/logging"
)

const testSecret = "test-secret-key-that-is-long-enough"

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	})
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	logging.SetGlobalLogger(logging.NopLogger())

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := IssueToken(secret, "idp-1", claims)
	require.NoError(t, err)
	return token
}

func TestBearerAuth(t *testing.T) {
	logging.SetGlobalLogger(logging.NopLogger())

	var caller string
	protected := LoggingMiddleware(BearerAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	valid := signed(t, testSecret, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	expired := signed(t, testSecret, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	noExpiry := signed(t, testSecret, jwt.RegisteredClaims{})
	wrongSecret := signed(t, "different-secret-key-that-is-wrong", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + wrongSecret, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller = ""
			req := httptest.NewRequest(http.MethodPost, "/api/v1/enrich", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "idp-1", caller)
			} else {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
				assert.Empty(t, caller)
			}
		})
	}
}

func TestBearerAuth_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "idp-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	handler := BearerAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mappers", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuth_DisabledWithoutSecret(t *testing.T) {
	handler := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mappers", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
