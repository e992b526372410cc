package tokencount

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mixaill76/token_meter/internal/auth"
	"github.com/mixaill76/token_meter/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewGeminiCounter_Validation(t *testing.T) {
	_, err := NewGeminiCounter(GeminiConfig{APIKey: "k"})
	assert.ErrorIs(t, err, ErrMissingModel)

	_, err = NewGeminiCounter(GeminiConfig{Model: "gemini-2.5-flash"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewGeminiCounter(GeminiConfig{Model: "gemini-2.5-flash", ProjectID: "p"})
	assert.Error(t, err)

	c, err := NewGeminiCounter(GeminiConfig{Model: "gemini-2.5-flash", ProjectID: "p", CredentialsJSON: "{}"})
	require.NoError(t, err)
	assert.Equal(t, "vertex", c.Name())
	assert.Equal(t, "us-central1", c.cfg.Location)

	c, err = NewGeminiCounter(GeminiConfig{Model: "gemini-2.5-flash", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Name())
}

func TestGeminiCounter_APIKeyMode(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.5-flash:countTokens"), r.URL.Path)
		assert.Equal(t, "gk-test", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalTokens": 31}`))
	}))
	defer server.Close()

	c, err := NewGeminiCounter(GeminiConfig{Model: "gemini-2.5-flash", APIKey: "gk-test", BaseURL: server.URL})
	require.NoError(t, err)

	n, err := c.CountTokens(context.Background(), "Be brief.", "Hi there")
	require.NoError(t, err)
	assert.Equal(t, 31, n)

	// The system prompt travels as a leading content entry
	contents, ok := gotBody["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 2)
	_, hasSystem := gotBody["systemInstruction"]
	assert.False(t, hasSystem)
}

func TestGeminiCounter_VertexMode(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "projects/proj/locations/europe-west4/publishers/google/models/gemini-2.5-pro:countTokens")
		assert.Equal(t, "Bearer ya29.test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalTokens": 12}`))
	}))
	defer server.Close()

	tokens := auth.NewTokenManager(testhelpers.NewTestLogger())
	tokens.NewSource = func(ctx context.Context, credJSON []byte) (oauth2.TokenSource, error) {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test", Expiry: time.Now().Add(time.Hour)}), nil
	}

	c, err := NewGeminiCounter(GeminiConfig{
		Model:           "gemini-2.5-pro",
		ProjectID:       "proj",
		Location:        "europe-west4",
		CredentialsJSON: `{"type":"service_account"}`,
		BaseURL:         server.URL,
		Tokens:          tokens,
	})
	require.NoError(t, err)

	n, err := c.CountTokens(context.Background(), "", "Hello")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	contents, ok := gotBody["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 1)
	_, hasSystem := gotBody["systemInstruction"]
	assert.False(t, hasSystem)

	n, err = c.CountTokens(context.Background(), "Answer in French.", "Hello")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.NotNil(t, gotBody["systemInstruction"])
}

func TestGeminiCounter_VertexTokenError(t *testing.T) {
	tokens := auth.NewTokenManager(testhelpers.NewTestLogger())
	tokens.NewSource = func(ctx context.Context, credJSON []byte) (oauth2.TokenSource, error) {
		return nil, errors.New("bad credentials")
	}

	c, err := NewGeminiCounter(GeminiConfig{Model: "m", ProjectID: "p", CredentialsJSON: "{}", Tokens: tokens})
	require.NoError(t, err)

	_, err = c.CountTokens(context.Background(), "", "Hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestGeminiCounter_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"model not found"}}`))
	}))
	defer server.Close()

	c, err := NewGeminiCounter(GeminiConfig{Model: "m", APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = c.CountTokens(context.Background(), "", "Hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "gemini", apiErr.Provider)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "model not found")
}

func TestGeminiCounter_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	c, err := NewGeminiCounter(GeminiConfig{Model: "m", APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = c.CountTokens(context.Background(), "", "Hello")
	assert.Error(t, err)
}
