// internal/network/httpclient_test.go
package network

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/herald/internal/config"
)

func TestNewDefaultClientConfig(t *testing.T) {
	cfg := NewDefaultClientConfig()

	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultResponseHeaderTimeout, cfg.ResponseHeaderTimeout)
	assert.Equal(t, DefaultMaxIdleConns, cfg.MaxIdleConns)
	assert.Equal(t, DefaultMaxConnsPerHost, cfg.MaxConnsPerHost)
	assert.True(t, cfg.ForceHTTP2)
	assert.NotNil(t, cfg.Logger)
}

func TestClientConfigFrom(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("OverridesNonZero", func(t *testing.T) {
		cc, err := ClientConfigFrom(config.NetworkConfig{
			DialTimeout:     2 * time.Second,
			MaxConnsPerHost: 2,
			ForceHTTP2:      false,
			IgnoreTLSErrors: true,
			ProxyURL:        "http://127.0.0.1:3128",
		}, 10*time.Second, logger)
		require.NoError(t, err)

		assert.Equal(t, 10*time.Second, cc.RequestTimeout)
		assert.Equal(t, 2*time.Second, cc.DialTimeout)
		assert.Equal(t, 2, cc.MaxConnsPerHost)
		assert.Equal(t, DefaultTLSHandshakeTimeout, cc.TLSHandshakeTimeout, "zero keeps the default")
		assert.False(t, cc.ForceHTTP2)
		assert.True(t, cc.IgnoreTLSErrors)
		require.NotNil(t, cc.ProxyURL)
		assert.Equal(t, "127.0.0.1:3128", cc.ProxyURL.Host)
	})

	t.Run("InvalidProxy", func(t *testing.T) {
		_, err := ClientConfigFrom(config.NetworkConfig{ProxyURL: "not a proxy"}, 0, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "proxy_url")
	})
}

func TestConfigureTLS(t *testing.T) {
	cfg := NewDefaultClientConfig()
	tlsConfig := configureTLS(cfg)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
	assert.False(t, tlsConfig.InsecureSkipVerify)
	assert.NotNil(t, tlsConfig.ClientSessionCache)

	custom := &tls.Config{ServerName: "api.example"}
	cfg.TLSConfig = custom
	cfg.IgnoreTLSErrors = true
	tlsConfig = configureTLS(cfg)
	assert.Equal(t, "api.example", tlsConfig.ServerName)
	assert.True(t, tlsConfig.InsecureSkipVerify)
	assert.False(t, custom.InsecureSkipVerify, "caller's config must be cloned")
}

func TestNewHTTPTransport(t *testing.T) {
	t.Run("HTTP1Only", func(t *testing.T) {
		cfg := NewDefaultClientConfig()
		cfg.ForceHTTP2 = false
		tr := NewHTTPTransport(cfg)
		assert.False(t, tr.ForceAttemptHTTP2)
		assert.Equal(t, []string{"http/1.1"}, tr.TLSClientConfig.NextProtos)
	})

	t.Run("HTTP2", func(t *testing.T) {
		tr := NewHTTPTransport(nil)
		assert.True(t, tr.ForceAttemptHTTP2)
		assert.Contains(t, tr.TLSClientConfig.NextProtos, "h2")
	})
}

func TestNewClientRoundTrip(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := NewDefaultClientConfig()
	cfg.IgnoreTLSErrors = true
	cfg.RequestTimeout = 5 * time.Second
	client := NewClient(cfg)
	assert.Equal(t, 5*time.Second, client.Timeout)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNewClientRedirectPolicy(t *testing.T) {
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer plain.Close()

	t.Run("RefusesDowngrade", func(t *testing.T) {
		secure := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, plain.URL, http.StatusFound)
		}))
		defer secure.Close()

		cfg := NewDefaultClientConfig()
		cfg.IgnoreTLSErrors = true
		_, err := NewClient(cfg).Get(secure.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "refusing redirect")
	})

	t.Run("StopsLoops", func(t *testing.T) {
		var loop *httptest.Server
		loop = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, loop.URL+"/again", http.StatusFound)
		}))
		defer loop.Close()

		_, err := NewClient(nil).Get(loop.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stopped after 5 redirects")
	})
}
