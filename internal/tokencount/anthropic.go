package tokencount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mixaill76/token_meter/internal/httputil"
)

// AnthropicConfig configures an AnthropicCounter
type AnthropicConfig struct {
	Name       string // Registry name (default: "anthropic")
	APIKey     string
	BaseURL    string // Optional API base URL override
	Model      string
	HTTPClient *http.Client
}

// AnthropicCounter counts tokens with the Anthropic Messages count_tokens API
type AnthropicCounter struct {
	name   string
	model  string
	client anthropic.Client
}

// NewAnthropicCounter builds a counter from cfg
func NewAnthropicCounter(cfg AnthropicConfig) (*AnthropicCounter, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrMissingModel
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.NewHTTPClient(nil)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}

	return &AnthropicCounter{
		name:   name,
		model:  cfg.Model,
		client: anthropic.NewClient(opts...),
	}, nil
}

func (c *AnthropicCounter) Name() string { return c.name }

// CountTokens returns the provider's input-token count for the prompt pair
func (c *AnthropicCounter) CountTokens(ctx context.Context, system, user string) (int, error) {
	params := anthropic.MessageCountTokensParams{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{
			OfTextBlockArray: []anthropic.TextBlockParam{{Text: system}},
		}
	}

	resp, err := c.client.Messages.CountTokens(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return 0, &APIError{Provider: c.name, StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return 0, fmt.Errorf("tokencount: %s: %w", c.name, err)
	}
	return int(resp.InputTokens), nil
}
