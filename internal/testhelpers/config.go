package testhelpers

import (
	"github.com/mixaill76/token_meter/internal/config"
)

// TestMasterKey is the master key used by NewTestConfig
const TestMasterKey = "sk-test-master-key"

// NewTestConfig returns a validated default config with TestMasterKey set.
// The ledger and exact counters are disabled.
func NewTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.MasterKey = TestMasterKey
	cfg.Normalize()
	return &cfg
}

// NewTestMonitoringConfig creates a test monitoring configuration.
func NewTestMonitoringConfig(healthPath string) *config.MonitoringConfig {
	return &config.MonitoringConfig{
		PrometheusEnabled: false,
		HealthCheckPath:   healthPath,
	}
}
