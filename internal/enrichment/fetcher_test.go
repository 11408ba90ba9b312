package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claim-enricher/internal/circuitbreaker"
	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
)

type recordedRequest struct {
	Method  string
	Header  http.Header
	Body    []byte
	Subject string
}

// backend is an httptest server that counts calls and records the last request
type backend struct {
	*httptest.Server
	calls int32
	last  atomic.Value
}

func newBackend(t *testing.T, status int, body string) *backend {
	t.Helper()
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.calls, 1)

		data, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Method: r.Method, Header: r.Header.Clone(), Body: data}
		var parsed subjectBody
		if json.Unmarshal(data, &parsed) == nil {
			rec.Subject = parsed.Sub
		}
		b.last.Store(rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) Calls() int {
	return int(atomic.LoadInt32(&b.calls))
}

func (b *backend) Last() recordedRequest {
	rec, _ := b.last.Load().(recordedRequest)
	return rec
}

func newTestFetcher(t *testing.T, secret string, opts ...FetcherOption) *Fetcher {
	t.Helper()
	opts = append([]FetcherOption{WithFetcherLogger(logging.NopLogger())}, opts...)
	f, err := NewFetcher(FetcherConfig{Credential: StaticCredential(secret), Timeout: 2 * time.Second}, opts...)
	require.NoError(t, err)
	return f
}

func TestFetcher_Fetch(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{"a":{"b":"X"}}`)
	f := newTestFetcher(t, "s3cret")

	raw, err := f.Fetch(context.Background(), srv.URL+"/user-info", "user-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"b":"X"}}`, string(raw))

	last := srv.Last()
	assert.Equal(t, http.MethodPost, last.Method)
	assert.Equal(t, "application/json", last.Header.Get("Content-Type"))
	assert.Equal(t, "s3cret", last.Header.Get("api-key"))
	assert.Empty(t, last.Header.Get("Authorization"))
	assert.JSONEq(t, `{"sub":"user-1"}`, string(last.Body))
	assert.Equal(t, 1, srv.Calls())
}

func TestFetcher_EscapesSubject(t *testing.T) {
	subjects := []string{
		`he said "hi"`,
		`back\slash`,
		`both \" mixed`,
		"line\nbreak",
		`</script><script>`,
		`", "admin": true, "x": "`,
	}

	srv := newBackend(t, http.StatusOK, `{}`)
	f := newTestFetcher(t, "s3cret")

	for _, subject := range subjects {
		t.Run(subject, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), srv.URL, subject)
			require.NoError(t, err)

			body := srv.Last().Body
			require.True(t, json.Valid(body), "body %q is not valid JSON", body)

			var decoded map[string]interface{}
			require.NoError(t, json.Unmarshal(body, &decoded))
			assert.Equal(t, map[string]interface{}{"sub": subject}, decoded)
		})
	}
}

func TestFetcher_StatusHandling(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"ok", http.StatusOK, `{"x":1}`, false},
		{"created", http.StatusCreated, `{"x":1}`, false},
		{"no content", http.StatusNoContent, ``, false},
		{"not found", http.StatusNotFound, `{"error":"nope"}`, true},
		{"unauthorized", http.StatusUnauthorized, ``, true},
		{"server error", http.StatusInternalServerError, `oops`, true},
		{"redirect without location", http.StatusMultipleChoices, ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newBackend(t, tt.status, tt.body)
			f := newTestFetcher(t, "k")

			raw, err := f.Fetch(context.Background(), srv.URL, "sub")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUnexpectedStatus))
				assert.Equal(t, tt.status, apperrors.StatusCode(err))
				assert.Nil(t, raw)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, raw)
			assert.Equal(t, tt.body, string(raw))
		})
	}
}

func TestFetcher_NoNetworkCallWithoutInputs(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{}`)

	t.Run("missing secret", func(t *testing.T) {
		f := newTestFetcher(t, "")
		_, err := f.Fetch(context.Background(), srv.URL, "sub")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
	})

	t.Run("nil credential source", func(t *testing.T) {
		f, err := NewFetcher(FetcherConfig{}, WithFetcherLogger(logging.NopLogger()))
		require.NoError(t, err)
		_, err = f.Fetch(context.Background(), srv.URL, "sub")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
	})

	t.Run("missing subject", func(t *testing.T) {
		f := newTestFetcher(t, "k")
		_, err := f.Fetch(context.Background(), srv.URL, "")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})

	t.Run("bad urls", func(t *testing.T) {
		f := newTestFetcher(t, "k")
		for _, u := range []string{"", "   ", "ftp://example.com/x", "http://", "://bad"} {
			_, err := f.Fetch(context.Background(), u, "sub")
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation), "url %q", u)
		}
	})

	t.Run("missing bearer token", func(t *testing.T) {
		f := newTestFetcher(t, "k")
		_, err := f.FetchWithBearer(context.Background(), srv.URL, "")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})

	assert.Equal(t, 0, srv.Calls())
}

func TestFetcher_CredentialReadPerCall(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{}`)

	secret := "first"
	f, err := NewFetcher(FetcherConfig{Credential: func() string { return secret }}, WithFetcherLogger(logging.NopLogger()))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL, "sub")
	require.NoError(t, err)
	assert.Equal(t, "first", srv.Last().Header.Get("api-key"))

	secret = "rotated"
	_, err = f.Fetch(context.Background(), srv.URL, "sub")
	require.NoError(t, err)
	assert.Equal(t, "rotated", srv.Last().Header.Get("api-key"))
}

func TestEnvCredential(t *testing.T) {
	t.Setenv("ENRICHER_TEST_SECRET", "from-env")
	assert.Equal(t, "from-env", EnvCredential("ENRICHER_TEST_SECRET")())

	t.Setenv("ENRICHER_TEST_SECRET", "")
	assert.Equal(t, "", EnvCredential("ENRICHER_TEST_SECRET")())
}

func TestFetcher_FetchWithBearer(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{"role":"LEHR"}`)
	f := newTestFetcher(t, "")

	raw, err := f.FetchWithBearer(context.Background(), srv.URL, "user.jwt.token")
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"LEHR"}`, string(raw))

	last := srv.Last()
	assert.Equal(t, http.MethodGet, last.Method)
	assert.Equal(t, "Bearer user.jwt.token", last.Header.Get("Authorization"))
	assert.Empty(t, last.Header.Get("api-key"))
	assert.Empty(t, last.Body)
}

func TestFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	f, err := NewFetcher(FetcherConfig{Credential: StaticCredential("k"), Timeout: 50 * time.Millisecond},
		WithFetcherLogger(logging.NopLogger()))
	require.NoError(t, err)

	start := time.Now()
	_, err = f.Fetch(context.Background(), srv.URL, "sub")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeTimeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetcher_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := newTestFetcher(t, "k")
	_, err := f.Fetch(context.Background(), addr, "sub")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConnection))
}

func TestFetcher_ResponseSizeLimit(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{"blob":"`+strings.Repeat("x", 2048)+`"}`)

	f, err := NewFetcher(FetcherConfig{Credential: StaticCredential("k"), MaxResponseBytes: 1024},
		WithFetcherLogger(logging.NopLogger()))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL, "sub")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeMalformedResponse), "got %v", err)
	assert.Contains(t, err.Error(), "1024")
}

func TestFetcher_OversizedBodiesKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			_, _ = w.Write([]byte(`{"blob":"` + strings.Repeat("x", 2048) + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"a":{"b":"X"}}`))
	}))
	defer srv.Close()

	breakers := circuitbreaker.NewManager(circuitbreaker.BackendConfig, logging.NopLogger())
	f, err := NewFetcher(FetcherConfig{Credential: StaticCredential("k"), MaxResponseBytes: 1024},
		WithFetcherLogger(logging.NopLogger()), WithCircuitBreakers(breakers))
	require.NoError(t, err)

	for i := 0; i < int(circuitbreaker.BackendConfig.MaxFailures)+2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL+"/big", "sub")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeMalformedResponse), "got %v", err)
	}

	p := NewPipeline(f, NewExtractor(), logging.NopLogger())
	outcome := p.Run(context.Background(), Request{FetchURL: srv.URL + "/small", JSONPath: "$.a.b", SubjectID: "sub"})
	require.NoError(t, outcome.Err)
	assert.Equal(t, Some("X"), outcome.Value)

	stats := breakers.AllStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "closed", stats[0].State)
}

func TestFetcher_NoRetry(t *testing.T) {
	srv := newBackend(t, http.StatusBadGateway, ``)
	f := newTestFetcher(t, "k")

	_, err := f.Fetch(context.Background(), srv.URL, "sub")
	require.Error(t, err)
	assert.Equal(t, 1, srv.Calls())
}

func TestFetcher_CircuitBreaker(t *testing.T) {
	srv := newBackend(t, http.StatusServiceUnavailable, ``)
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		MaxFailures:           2,
		Timeout:               time.Minute,
		MaxConcurrentRequests: 1,
	}, logging.NopLogger())
	f := newTestFetcher(t, "k", WithCircuitBreakers(breakers))

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, "sub")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUnexpectedStatus))
	}

	_, err := f.Fetch(context.Background(), srv.URL, "sub")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConnection))
	assert.Equal(t, 2, srv.Calls())

	stats := breakers.AllStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "open", stats[0].State)
}

func TestNewFetcher_Defaults(t *testing.T) {
	f, err := NewFetcher(FetcherConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFetchTimeout, f.timeout)
	assert.Equal(t, DefaultMaxResponseBytes, f.maxResponseBytes)
	assert.Equal(t, DefaultFetchTimeout, f.client.Timeout)

	_, err = NewFetcher(FetcherConfig{Timeout: -time.Second})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}
