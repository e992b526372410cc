package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

// CloudPlatformScope is the OAuth2 scope required by Vertex AI
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenManager hands out OAuth2 access tokens for Google service accounts.
// Token sources are cached per credential name and refreshed ahead of expiry.
type TokenManager struct {
	mu           sync.Mutex
	flight       singleflight.Group
	sources      map[string]*cachedSource
	logger       *slog.Logger
	tokenRefresh time.Duration

	// NewSource builds a token source from credentials JSON.
	// Defaults to Google service account credentials.
	NewSource func(ctx context.Context, credJSON []byte) (oauth2.TokenSource, error)
}

type cachedSource struct {
	source oauth2.TokenSource
	token  *oauth2.Token
}

// NewTokenManager creates a token manager
func NewTokenManager(logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		sources:      make(map[string]*cachedSource),
		logger:       logger,
		tokenRefresh: 5 * time.Minute, // Refresh 5 minutes before expiry
		NewSource:    serviceAccountSource,
	}
}

// Token returns a valid access token for the named credential. Credentials
// come from credentialsFile or, when it is empty, from credentialsJSON.
// Concurrent refreshes of one credential share a single fetch; ctx only
// bounds how long the caller waits for it.
func (tm *TokenManager) Token(ctx context.Context, name, credentialsFile, credentialsJSON string) (string, error) {
	if token, ok := tm.cachedToken(name); ok {
		return token, nil
	}

	ch := tm.flight.DoChan(name, func() (interface{}, error) {
		return tm.refresh(name, credentialsFile, credentialsJSON)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// cachedToken returns the cached token while it is outside the refresh window
func (tm *TokenManager) cachedToken(name string) (string, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	cached, ok := tm.sources[name]
	if ok && cached.token != nil && time.Now().Before(cached.token.Expiry.Add(-tm.tokenRefresh)) {
		return cached.token.AccessToken, true
	}
	return "", false
}

// refresh fetches a new token without holding tm.mu across the network call
func (tm *TokenManager) refresh(name, credentialsFile, credentialsJSON string) (string, error) {
	if token, ok := tm.cachedToken(name); ok {
		return token, nil
	}

	tm.mu.Lock()
	cached, ok := tm.sources[name]
	tm.mu.Unlock()

	if !ok {
		credBytes, err := readCredentials(credentialsFile, credentialsJSON)
		if err != nil {
			return "", err
		}
		// The source is cached across requests, so it must not carry a request context
		source, err := tm.NewSource(context.Background(), credBytes)
		if err != nil {
			return "", err
		}
		cached = &cachedSource{source: source}
		tm.mu.Lock()
		tm.sources[name] = cached
		tm.mu.Unlock()
		tm.logger.Debug("Created service account token source", "credential", name)
	}

	token, err := cached.source.Token()

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if err != nil {
		if tm.sources[name] == cached {
			delete(tm.sources, name)
		}
		tm.logger.Error("Failed to obtain access token", "credential", name, "error", err)
		return "", fmt.Errorf("failed to obtain token: %w", err)
	}

	cached.token = token
	tm.logger.Debug("Access token refreshed", "credential", name, "expires_at", token.Expiry)
	return token.AccessToken, nil
}

// Forget drops the cached source for a credential
func (tm *TokenManager) Forget(name string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.sources, name)
}

// Expiry returns the expiry of the cached token for a credential
func (tm *TokenManager) Expiry(name string) (time.Time, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if cached, ok := tm.sources[name]; ok && cached.token != nil {
		return cached.token.Expiry, true
	}
	return time.Time{}, false
}

func readCredentials(credentialsFile, credentialsJSON string) ([]byte, error) {
	switch {
	case credentialsFile != "":
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file %s: %w", credentialsFile, err)
		}
		return b, nil
	case credentialsJSON != "":
		return []byte(credentialsJSON), nil
	default:
		return nil, fmt.Errorf("no credentials provided")
	}
}

// ValidateCredentials reads a credentials file or inline JSON and checks it
// is a service account key
func ValidateCredentials(credentialsFile, credentialsJSON string) error {
	credBytes, err := readCredentials(credentialsFile, credentialsJSON)
	if err != nil {
		return err
	}
	return ValidateServiceAccount(credBytes)
}

// ValidateServiceAccount checks that credBytes is service account JSON
func ValidateServiceAccount(credBytes []byte) error {
	var sa struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(credBytes, &sa); err != nil {
		return fmt.Errorf("invalid service account JSON: %w", err)
	}
	if sa.Type != "service_account" {
		return fmt.Errorf("credentials must be for a service account, got type: %q", sa.Type)
	}
	return nil
}

func serviceAccountSource(ctx context.Context, credBytes []byte) (oauth2.TokenSource, error) {
	if err := ValidateServiceAccount(credBytes); err != nil {
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, credBytes, CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials: %w", err)
	}
	return creds.TokenSource, nil
}
