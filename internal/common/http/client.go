// Package http builds the outbound HTTP clients used to reach enrichment backends.
package http

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool
	Transport           http.RoundTripper
	CheckRedirect       func(req *http.Request, via []*http.Request) error
}

// DefaultClientConfig returns default HTTP client configuration. The timeout
// bounds every backend call; enrichment runs inside token issuance and must not
// hang it.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
		InsecureSkipVerify:  false,
		CheckRedirect:       SameHostRedirects,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithMaxIdleConns sets the maximum number of idle connections
func WithMaxIdleConns(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConns = max
	}
}

// WithIdleConnTimeout sets the idle connection timeout
func WithIdleConnTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.IdleConnTimeout = timeout
	}
}

// WithoutKeepAlives closes the connection after every request
func WithoutKeepAlives() ClientOption {
	return func(c *ClientConfig) {
		c.DisableKeepAlives = true
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// WithCheckRedirect sets a custom redirect policy
func WithCheckRedirect(checkRedirect func(req *http.Request, via []*http.Request) error) ClientOption {
	return func(c *ClientConfig) {
		c.CheckRedirect = checkRedirect
	}
}

// WithInsecureSkipVerify disables SSL certificate verification
func WithInsecureSkipVerify() ClientOption {
	return func(c *ClientConfig) {
		c.InsecureSkipVerify = true
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()

	for _, opt := range opts {
		opt(&cfg)
	}

	var transport http.RoundTripper
	if cfg.Transport != nil {
		transport = cfg.Transport
	} else {
		httpTransport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			DisableKeepAlives:   cfg.DisableKeepAlives,
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
		}
		transport = httpTransport
	}

	return &http.Client{
		Timeout:       cfg.Timeout,
		Transport:     transport,
		CheckRedirect: cfg.CheckRedirect,
	}
}

// SameHostRedirects follows at most five redirects and only within the original
// host, so credential headers are never replayed to a different server.
func SameHostRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	if req.URL.Host != via[0].URL.Host {
		return fmt.Errorf("refusing redirect from %s to %s", via[0].URL.Host, req.URL.Host)
	}
	return nil
}

// ErrBodyTooLarge is returned by ReadLimited when the body exceeds its limit
var ErrBodyTooLarge = errors.New("response body too large")

// ReadLimited reads at most limit bytes of body. It reports ErrBodyTooLarge when
// the body is longer than limit instead of silently truncating it.
func ReadLimited(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(body)
	}

	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// DrainAndClose discards what is left of body and closes it so the underlying
// connection is released on every exit path.
func DrainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
