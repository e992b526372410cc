package tokencount

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnthropicCounter_Validation(t *testing.T) {
	_, err := NewAnthropicCounter(AnthropicConfig{APIKey: "sk"})
	assert.ErrorIs(t, err, ErrMissingModel)

	_, err = NewAnthropicCounter(AnthropicConfig{Model: "claude-sonnet-4-5"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := NewAnthropicCounter(AnthropicConfig{Model: "claude-sonnet-4-5", APIKey: "sk"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())
}

func TestAnthropicCounter_CountTokens(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages/count_tokens", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"input_tokens": 17}`))
	}))
	defer server.Close()

	c, err := NewAnthropicCounter(AnthropicConfig{
		Name:    "claude",
		Model:   "claude-sonnet-4-5",
		APIKey:  "sk-test",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	n, err := c.CountTokens(context.Background(), "You are terse.", "Hello")
	require.NoError(t, err)
	assert.Equal(t, 17, n)

	assert.Equal(t, "claude-sonnet-4-5", gotBody["model"])
	assert.NotNil(t, gotBody["system"])
	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 1)
}

func TestAnthropicCounter_NoSystem(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"input_tokens": 3}`))
	}))
	defer server.Close()

	c, err := NewAnthropicCounter(AnthropicConfig{Model: "m", APIKey: "sk", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = c.CountTokens(context.Background(), "", "Hello")
	require.NoError(t, err)
	_, hasSystem := gotBody["system"]
	assert.False(t, hasSystem)
}

func TestAnthropicCounter_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	c, err := NewAnthropicCounter(AnthropicConfig{Model: "m", APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = c.CountTokens(context.Background(), "", "Hello")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "anthropic", apiErr.Provider)
}
