package config

import (
	"bytes"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnvString(t *testing.T) {
	t.Setenv("TM_TEST_VALUE", "resolved")

	assert.Equal(t, "plain", resolveEnvString("plain"))
	assert.Equal(t, "resolved", resolveEnvString("os.environ/TM_TEST_VALUE"))
	assert.Equal(t, "", resolveEnvString("os.environ/TM_TEST_MISSING"))
}

func TestParseField(t *testing.T) {
	v, err := parseField("", 42, strconv.Atoi, "x")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = parseField("7", 42, strconv.Atoi, "x")
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = parseField("seven", 42, strconv.Atoi, "server.port")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server.port")

	d, err := parseField("90s", time.Second, time.ParseDuration, "d")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestValidateBaseURL(t *testing.T) {
	assert.NoError(t, validateBaseURL("c", "https://api.anthropic.com"))
	assert.NoError(t, validateBaseURL("c", "http://localhost:8080"))
	assert.Error(t, validateBaseURL("c", "ftp://host"))
	assert.Error(t, validateBaseURL("c", "https://"))
}

func TestPrintConfig_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := validConfig()
	cfg.Server.MasterKey = "sk-super-secret-master"
	cfg.Ledger.Enabled = true
	cfg.Ledger.DatabaseURL = "postgres://meter:hunter2@db:5432/usage"
	cfg.Counters.Providers = []CounterConfig{{Name: "a", Type: CounterTypeAnthropic, Model: "m", APIKey: "sk-ant-abcdefghijklmnop"}}

	PrintConfig(logger, &cfg)

	out := buf.String()
	assert.Contains(t, out, "Configuration Ready")
	assert.Contains(t, out, "REDACTED")
	assert.NotContains(t, out, "sk-super-secret-master")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "sk-ant-abcdefghijklmnop")
}
