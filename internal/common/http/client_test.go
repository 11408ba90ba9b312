package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultClientConfig()

	assert.Equal(t, 10*time.Second, config.Timeout)
	assert.Equal(t, 100, config.MaxIdleConns)
	assert.Equal(t, 10, config.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, config.IdleConnTimeout)
	assert.False(t, config.DisableKeepAlives)
	assert.Nil(t, config.Transport)
	assert.NotNil(t, config.CheckRedirect)
}

func TestClientOptions(t *testing.T) {
	config := DefaultClientConfig()

	WithTimeout(5 * time.Second)(&config)
	WithMaxIdleConns(50)(&config)
	WithIdleConnTimeout(time.Minute)(&config)
	WithoutKeepAlives()(&config)
	WithInsecureSkipVerify()(&config)

	assert.Equal(t, 5*time.Second, config.Timeout)
	assert.Equal(t, 50, config.MaxIdleConns)
	assert.Equal(t, time.Minute, config.IdleConnTimeout)
	assert.True(t, config.DisableKeepAlives)
	assert.True(t, config.InsecureSkipVerify)
	assert.Equal(t, 10, config.MaxIdleConnsPerHost)
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("default transport", func(t *testing.T) {
		client := NewHTTPClient(WithTimeout(3 * time.Second))

		assert.Equal(t, 3*time.Second, client.Timeout)
		transport, ok := client.Transport.(*http.Transport)
		require.True(t, ok)
		assert.Equal(t, 100, transport.MaxIdleConns)
		assert.NotNil(t, transport.TLSClientConfig)
	})

	t.Run("custom transport", func(t *testing.T) {
		custom := &http.Transport{}
		client := NewHTTPClient(WithTransport(custom))
		assert.Same(t, custom, client.Transport)
	})

	t.Run("timeout is enforced", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(WithTimeout(20 * time.Millisecond))
		_, err := client.Get(server.URL)
		assert.Error(t, err)
	})
}

func TestSameHostRedirects(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("redirect to a different host must not be followed")
	}))
	defer other.Close()

	var origin *httptest.Server
	origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/same":
			http.Redirect(w, r, origin.URL+"/final", http.StatusFound)
		case "/elsewhere":
			http.Redirect(w, r, other.URL+"/final", http.StatusFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer origin.Close()

	client := NewHTTPClient()

	resp, err := client.Get(origin.URL + "/same")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = client.Get(origin.URL + "/elsewhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing redirect")
}

func TestReadLimited(t *testing.T) {
	data, err := ReadLimited(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = ReadLimited(strings.NewReader("hello!"), 5)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	data, err = ReadLimited(strings.NewReader("unbounded"), 0)
	require.NoError(t, err)
	assert.Equal(t, "unbounded", string(data))
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestDrainAndClose(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("leftover")}
	DrainAndClose(body)
	assert.True(t, body.closed)

	DrainAndClose(nil)
}
