package tokencount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gauth "cloud.google.com/go/auth"
	"github.com/mixaill76/token_meter/internal/auth"
	"github.com/mixaill76/token_meter/internal/httputil"
	"google.golang.org/genai"
)

// GeminiConfig configures a GeminiCounter.
// Setting ProjectID selects Vertex AI; otherwise APIKey is used against the Gemini API.
type GeminiConfig struct {
	Name    string // Registry name (default: "gemini" or "vertex")
	Model   string
	APIKey  string
	BaseURL string // Overrides the endpoint host for either mode

	// Vertex AI
	ProjectID       string
	Location        string // default: us-central1
	CredentialsFile string
	CredentialsJSON string
	Tokens          *auth.TokenManager

	HTTPClient *http.Client
}

// GeminiCounter counts tokens with the genai Models.CountTokens call
type GeminiCounter struct {
	name   string
	cfg    GeminiConfig
	vertex bool
	client *genai.Client
	tokens *auth.TokenManager
}

// NewGeminiCounter builds a counter from cfg
func NewGeminiCounter(cfg GeminiConfig) (*GeminiCounter, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrMissingModel
	}

	c := &GeminiCounter{cfg: cfg, vertex: cfg.ProjectID != ""}

	c.name = cfg.Name
	if c.name == "" {
		c.name = "gemini"
		if c.vertex {
			c.name = "vertex"
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.NewHTTPClient(nil)
	}

	clientCfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{BaseURL: strings.TrimSuffix(cfg.BaseURL, "/")},
	}

	if c.vertex {
		if cfg.CredentialsFile == "" && cfg.CredentialsJSON == "" {
			return nil, fmt.Errorf("tokencount: vertex counter requires credentials_file or credentials_json")
		}
		if c.cfg.Location == "" {
			c.cfg.Location = "us-central1"
		}
		c.tokens = cfg.Tokens
		if c.tokens == nil {
			c.tokens = auth.NewTokenManager(nil)
		}

		provider := &vertexTokenProvider{counter: c}
		clientCfg.Backend = genai.BackendVertexAI
		clientCfg.Project = cfg.ProjectID
		clientCfg.Location = c.cfg.Location
		clientCfg.Credentials = gauth.NewCredentials(&gauth.CredentialsOptions{TokenProvider: provider})
		clientCfg.HTTPClient = &http.Client{
			Transport: &bearerTransport{base: transportOf(httpClient), provider: provider},
			Timeout:   httpClient.Timeout,
		}
	} else {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, ErrMissingAPIKey
		}
		clientCfg.Backend = genai.BackendGeminiAPI
		clientCfg.APIKey = cfg.APIKey
		clientCfg.HTTPClient = httpClient
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("tokencount: %s: create genai client: %w", c.name, err)
	}
	c.client = client
	return c, nil
}

func (c *GeminiCounter) Name() string { return c.name }

// CountTokens returns the provider's input-token count for the prompt pair
func (c *GeminiCounter) CountTokens(ctx context.Context, system, user string) (int, error) {
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}
	var countCfg *genai.CountTokensConfig

	if system != "" {
		systemContent := genai.NewContentFromText(system, genai.RoleUser)
		if c.vertex {
			countCfg = &genai.CountTokensConfig{SystemInstruction: systemContent}
		} else {
			// The Gemini API count endpoint takes no system instruction
			contents = append([]*genai.Content{systemContent}, contents...)
		}
	}

	resp, err := c.client.Models.CountTokens(ctx, c.cfg.Model, contents, countCfg)
	if err != nil {
		return 0, c.wrapError(err)
	}
	return int(resp.TotalTokens), nil
}

// wrapError converts genai API errors into *APIError
func (c *GeminiCounter) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: c.name, StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &APIError{Provider: c.name, StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("tokencount: %s: %w", c.name, err)
}

// vertexTokenProvider serves service account tokens from the shared TokenManager
type vertexTokenProvider struct {
	counter *GeminiCounter
}

func (p *vertexTokenProvider) Token(ctx context.Context) (*gauth.Token, error) {
	c := p.counter
	token, err := c.tokens.Token(ctx, c.name, c.cfg.CredentialsFile, c.cfg.CredentialsJSON)
	if err != nil {
		return nil, err
	}
	return &gauth.Token{Value: token, Type: "Bearer"}, nil
}

// bearerTransport sets the Authorization header on every Vertex request
type bearerTransport struct {
	base     http.RoundTripper
	provider gauth.TokenProvider
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.provider.Token(req.Context())
	if err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token.Value)
	return t.base.RoundTrip(req)
}

func transportOf(client *http.Client) http.RoundTripper {
	if client.Transport != nil {
		return client.Transport
	}
	return http.DefaultTransport
}
