// =============================================================================
// 📦 swarmplane 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置，单进程内存模式即可运行
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
		Substrate:   DefaultSubstrateConfig(),
		Coordinator: DefaultCoordinatorConfig(),
		Governor:    DefaultGovernorConfig(),
		Credentials: DefaultCredentialsConfig(),
		SLO:         DefaultSLOConfig(),
		Signature:   DefaultSignatureConfig(),
		Audit:       DefaultAuditConfig(),
		JWT:         JWTConfig{Issuer: "swarmplane"},
		Webhook:     WebhookConfig{Timeout: 5 * time.Second},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          3,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "swarmplane",
		Name:            "swarmplane",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "swarmplane",
		SampleRate:   0.1,
	}
}

// DefaultSubstrateConfig 返回默认协调存储配置
func DefaultSubstrateConfig() SubstrateConfig {
	return SubstrateConfig{
		Backend:       BackendMemory,
		KeyPrefix:     "swarmplane:kv:",
		ChannelPrefix: "swarmplane:events:",
		WatchBuffer:   256,
	}
}

// DefaultCoordinatorConfig 返回默认协调器配置
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxAttempts:     0,
		IndexRetries:    16,
		NotifyWorkers:   4,
		NotifyQueueSize: 256,
		NotifyTimeout:   10 * time.Second,
	}
}

// DefaultGovernorConfig 返回默认治理配置
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		MaxSwarmsPerTask:               3,
		MinCapabilityMatch:             0.7,
		CircuitBreakerFailureThreshold: 3,
		EnableCostTracking:             true,
		EnableAuditLogging:             true,
		Ledger:                         BackendMemory,
	}
}

// DefaultCredentialsConfig 返回默认凭证配置
func DefaultCredentialsConfig() CredentialsConfig {
	return CredentialsConfig{
		Store:            BackendMemory,
		DefaultTTL:       time.Hour,
		KeyPrefix:        "swarmplane:cred:",
		ExpiredRetention: time.Hour,
		PurgeInterval:    5 * time.Minute,
	}
}

// DefaultSLOConfig 返回默认 SLO 配置
func DefaultSLOConfig() SLOConfig {
	return SLOConfig{
		WindowSize:       1000,
		ViolationLogSize: 1000,
		HistorySize:      100,
		PublishInterval:  30 * time.Second,
		P99LatencyMs:     1000,
		SuccessRate:      0.95,
		Availability:     0.99,
	}
}

// DefaultSignatureConfig 返回默认签名校验配置
func DefaultSignatureConfig() SignatureConfig {
	return SignatureConfig{
		Strict:          true,
		ReplayWindow:    300 * time.Second,
		CacheTTL:        60 * time.Second,
		KeyCacheTTL:     60 * time.Second,
		MaxCacheEntries: 10000,
		KeyRegistry:     BackendMemory,
		KeyTTL:          30 * 24 * time.Hour,
	}
}

// DefaultAuditConfig 返回默认审计配置
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Backend:    BackendMemory,
		QueueSize:  10000,
		Workers:    4,
		MemorySize: 10000,
	}
}
