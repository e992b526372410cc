package pricing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/mixaill76/token_meter/internal/httputil"
	"gopkg.in/yaml.v3"
)

const (
	// MaxFileSizeBytes is the maximum size of a tiers file (1MB)
	MaxFileSizeBytes = 1024 * 1024
)

// TierFile is the layout of a tiers file. JSON files parse too, as YAML is
// a superset of JSON.
type TierFile struct {
	DefaultTier string `yaml:"default_tier"`
	Tiers       []Tier `yaml:"tiers"`
}

// LoadTiers loads tiers from a link (file path, file:// or http(s)://)
func LoadTiers(ctx context.Context, link string) (*TierFile, error) {
	if link == "" {
		return nil, fmt.Errorf("empty link")
	}

	var data []byte
	var err error

	switch {
	case strings.HasPrefix(link, "file://"):
		data, err = loadFromFile(strings.TrimPrefix(link, "file://"))
	case strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://"):
		data, err = loadFromHTTP(ctx, link)
	case !strings.Contains(link, "://"):
		data, err = loadFromFile(link)
	default:
		return nil, fmt.Errorf("unsupported link format: %s", link)
	}
	if err != nil {
		return nil, err
	}

	return ParseTiers(data)
}

// ParseTiers decodes a tiers document and normalizes tier names
func ParseTiers(data []byte) (*TierFile, error) {
	var file TierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tiers: %w", err)
	}
	if len(file.Tiers) == 0 {
		return nil, ErrNoTiers
	}

	file.DefaultTier = NormalizeTierName(file.DefaultTier)
	for i := range file.Tiers {
		file.Tiers[i].Name = NormalizeTierName(file.Tiers[i].Name)
	}
	return &file, nil
}

// FilePath returns the local path for a file link, or "" for remote links
func FilePath(link string) string {
	switch {
	case strings.HasPrefix(link, "file://"):
		return strings.TrimPrefix(link, "file://")
	case link != "" && !strings.Contains(link, "://"):
		return link
	default:
		return ""
	}
}

func loadFromFile(filePath string) ([]byte, error) {
	// Relative paths are fine, directory traversal is not
	if filepath.Clean(filePath) != filePath {
		return nil, fmt.Errorf("path contains invalid patterns: %s", filePath)
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.Size() > MaxFileSizeBytes {
		return nil, fmt.Errorf("tiers file exceeds 1MB: %d bytes", stat.Size())
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func loadFromHTTP(ctx context.Context, link string) ([]byte, error) {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (must be http or https)", parsedURL.Scheme)
	}

	return httputil.Fetch(ctx, nil, link, MaxFileSizeBytes)
}
