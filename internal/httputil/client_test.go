package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient(nil)

	require.NotNil(t, client)
	assert.Equal(t, defaultTimeout, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, defaultMaxIdleConns, transport.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, transport.IdleConnTimeout)
}

func TestNewHTTPClient_Custom(t *testing.T) {
	client := NewHTTPClient(&HTTPClientConfig{
		Timeout:      3 * time.Second,
		MaxIdleConns: 7,
	})

	assert.Equal(t, 3*time.Second, client.Timeout)
	transport := client.Transport.(*http.Transport)
	assert.Equal(t, 7, transport.MaxIdleConns)
	// Zero fields fall back to defaults
	assert.Equal(t, defaultMaxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
}

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/tiers.yaml", r.URL.Path)
		_, _ = w.Write([]byte("tiers: []"))
	}))
	defer server.Close()

	body, err := Fetch(context.Background(), nil, server.URL+"/tiers.yaml", 0)

	require.NoError(t, err)
	assert.Equal(t, "tiers: []", string(body))
}

func TestFetch_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), nil, server.URL, 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	_, err := Fetch(context.Background(), nil, server.URL, 10)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetch_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Fetch(ctx, server.Client(), server.URL, 0)
	assert.Error(t, err)
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := Fetch(context.Background(), nil, "://bad", 0)
	assert.Error(t, err)
}
