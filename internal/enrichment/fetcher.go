package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"claim-enricher/internal/circuitbreaker"
	apperrors "claim-enricher/internal/common/errors"
	commonhttp "claim-enricher/internal/common/http"
	"claim-enricher/internal/common/logging"
)

const (
	// DefaultFetchTimeout bounds a single backend call
	DefaultFetchTimeout = 10 * time.Second
	// DefaultMaxResponseBytes caps how much of a backend response is read
	DefaultMaxResponseBytes int64 = 1 << 20

	// APIKeyHeader carries the shared secret on api_key requests
	APIKeyHeader = "api-key"
)

// CredentialSource returns the shared secret used to authenticate to the
// backend. It is called on every fetch so a rotated secret is picked up
// without a restart.
type CredentialSource func() string

// StaticCredential returns a CredentialSource that always yields secret
func StaticCredential(secret string) CredentialSource {
	return func() string { return secret }
}

// EnvCredential returns a CredentialSource that reads key from the
// environment each time it is called
func EnvCredential(key string) CredentialSource {
	return func() string { return os.Getenv(key) }
}

// FetcherConfig holds the settings a Fetcher is built from
type FetcherConfig struct {
	Credential       CredentialSource
	Timeout          time.Duration
	MaxResponseBytes int64
}

// FetcherOption customises a Fetcher
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default outbound client
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithCircuitBreakers guards every backend host with its own breaker from m
func WithCircuitBreakers(m *circuitbreaker.Manager) FetcherOption {
	return func(f *Fetcher) {
		f.breakers = m
	}
}

// WithFetcherLogger sets the logger used for debug output
func WithFetcherLogger(logger logging.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// Fetcher performs one authenticated call to the backend per invocation.
// It never retries and never caches responses.
type Fetcher struct {
	credential       CredentialSource
	timeout          time.Duration
	maxResponseBytes int64
	client           *http.Client
	breakers         *circuitbreaker.Manager
	logger           logging.Logger
}

// NewFetcher creates a Fetcher. A missing credential is not an error here:
// api_key fetches fail with a config error instead, so bearer-only
// deployments can run without a shared secret.
func NewFetcher(cfg FetcherConfig, opts ...FetcherOption) (*Fetcher, error) {
	if cfg.Timeout < 0 {
		return nil, apperrors.ConfigError(fmt.Sprintf("fetch timeout must not be negative, got %v", cfg.Timeout))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.Credential == nil {
		cfg.Credential = StaticCredential("")
	}

	f := &Fetcher{
		credential:       cfg.Credential,
		timeout:          cfg.Timeout,
		maxResponseBytes: cfg.MaxResponseBytes,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		f.client = commonhttp.NewHTTPClient(commonhttp.WithTimeout(f.timeout))
	}
	if f.logger == nil {
		f.logger = logging.GetGlobalLogger()
	}

	return f, nil
}

type subjectBody struct {
	Sub string `json:"sub"`
}

// Fetch posts {"sub": subjectID} to rawURL with the shared secret and returns
// the body of a 2xx response. An empty body is returned as-is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, subjectID string) (RawResponse, error) {
	secret := f.credential()
	if secret == "" {
		return nil, apperrors.ConfigError("shared secret for the backend is not configured")
	}
	if subjectID == "" {
		return nil, apperrors.ValidationError("subject id is empty")
	}

	target, err := parseBackendURL(rawURL)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(subjectBody{Sub: subjectID})
	if err != nil {
		return nil, apperrors.InternalError("failed to encode request body", err)
	}

	return f.do(ctx, target, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(APIKeyHeader, secret)
		return req, nil
	})
}

// FetchWithBearer issues a GET to rawURL forwarding the user's access token
func (f *Fetcher) FetchWithBearer(ctx context.Context, rawURL, accessToken string) (RawResponse, error) {
	if accessToken == "" {
		return nil, apperrors.ValidationError("access token is empty")
	}

	target, err := parseBackendURL(rawURL)
	if err != nil {
		return nil, err
	}

	return f.do(ctx, target, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

func (f *Fetcher) do(ctx context.Context, target *url.URL, build func(context.Context) (*http.Request, error)) (RawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return nil, classifyTransportError(ctx, "fetch", err)
	}

	var raw RawResponse
	call := func() error {
		req, err := build(ctx)
		if err != nil {
			return apperrors.ValidationError(fmt.Sprintf("failed to create request: %v", err))
		}

		start := time.Now()
		resp, err := f.client.Do(req)
		if err != nil {
			return classifyTransportError(ctx, "fetch", err)
		}
		defer commonhttp.DrainAndClose(resp.Body)

		f.logger.Debug("Backend responded",
			logging.Field{Key: "host", Value: target.Host},
			logging.Field{Key: "status", Value: resp.StatusCode},
			logging.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
		)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return apperrors.UnexpectedStatusError(resp.StatusCode)
		}

		raw, err = commonhttp.ReadLimited(resp.Body, f.maxResponseBytes)
		if errors.Is(err, commonhttp.ErrBodyTooLarge) {
			return apperrors.ResponseTooLargeError(f.maxResponseBytes, err)
		}
		if err != nil {
			return classifyTransportError(ctx, "reading response body", err)
		}
		return nil
	}

	var err error
	if f.breakers != nil {
		err = f.breakers.Execute(ctx, target.Host, call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	if raw == nil {
		raw = RawResponse{}
	}
	return raw, nil
}

func parseBackendURL(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, apperrors.ValidationError("fetch url is empty")
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("invalid fetch url: %v", err))
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, apperrors.ValidationError(fmt.Sprintf("fetch url must use http or https, got %q", target.Scheme))
	}
	if target.Host == "" {
		return nil, apperrors.ValidationError("fetch url has no host")
	}

	return target, nil
}

func classifyTransportError(ctx context.Context, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.TimeoutError(operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.TimeoutError(operation, err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return apperrors.ConnectionError("backend closed the connection early", err)
	}

	return apperrors.ConnectionError(fmt.Sprintf("%s failed", operation), err)
}
