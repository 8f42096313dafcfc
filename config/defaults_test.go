package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, SubstrateConfig{}, cfg.Substrate)
	assert.NotEqual(t, CoordinatorConfig{}, cfg.Coordinator)
	assert.NotEqual(t, GovernorConfig{}, cfg.Governor)
	assert.NotEqual(t, CredentialsConfig{}, cfg.Credentials)
	assert.NotEqual(t, SLOConfig{}, cfg.SLO)
	assert.NotEqual(t, SignatureConfig{}, cfg.Signature)
	assert.NotEqual(t, AuditConfig{}, cfg.Audit)
}

func TestDefaultGovernorConfig(t *testing.T) {
	cfg := DefaultGovernorConfig()
	assert.Equal(t, 0.7, cfg.MinCapabilityMatch)
	assert.Equal(t, 3, cfg.CircuitBreakerFailureThreshold)
	assert.True(t, cfg.EnableCostTracking)
	assert.True(t, cfg.EnableAuditLogging)
	assert.Zero(t, cfg.MaxCostPerTask)
}

func TestDefaultSignatureConfig(t *testing.T) {
	cfg := DefaultSignatureConfig()
	assert.True(t, cfg.Strict)
	assert.Equal(t, 5*time.Minute, cfg.ReplayWindow)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.KeyTTL)
}

func TestDefaultSLOConfig(t *testing.T) {
	cfg := DefaultSLOConfig()
	assert.Equal(t, 1000.0, cfg.P99LatencyMs)
	assert.Equal(t, 0.95, cfg.SuccessRate)
	assert.Equal(t, 0.99, cfg.Availability)
	assert.Equal(t, 100, cfg.HistorySize)
	assert.Equal(t, 30*time.Second, cfg.PublishInterval)
}

func TestDefaultCoordinatorConfig(t *testing.T) {
	cfg := DefaultCoordinatorConfig()
	assert.Zero(t, cfg.MaxAttempts, "failed tasks requeue indefinitely by default")
	assert.Equal(t, 16, cfg.IndexRetries)
}

func TestDefaultCredentialsConfig(t *testing.T) {
	cfg := DefaultCredentialsConfig()
	assert.Equal(t, BackendMemory, cfg.Store)
	assert.Equal(t, time.Hour, cfg.DefaultTTL)
	assert.Equal(t, "swarmplane:cred:", cfg.KeyPrefix)
}
