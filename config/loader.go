// =============================================================================
// 📦 swarmplane 配置加载器
// =============================================================================
// YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("swarmplane.yaml").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（SWARMPLANE_*）
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "SWARMPLANE"

// 后端选择
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDatabase = "database"
	BackendLog      = "log"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 swarmplane 的完整配置结构
type Config struct {
	Server      ServerConfig      `yaml:"server" env:"SERVER"`
	Redis       RedisConfig       `yaml:"redis" env:"REDIS"`
	Database    DatabaseConfig    `yaml:"database" env:"DATABASE"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
	Substrate   SubstrateConfig   `yaml:"substrate" env:"SUBSTRATE"`
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`
	Governor    GovernorConfig    `yaml:"governor" env:"GOVERNOR"`
	Credentials CredentialsConfig `yaml:"credentials" env:"CREDENTIALS"`
	SLO         SLOConfig         `yaml:"slo" env:"SLO"`
	Signature   SignatureConfig   `yaml:"signature" env:"SIGNATURE"`
	Audit       AuditConfig       `yaml:"audit" env:"AUDIT"`
	JWT         JWTConfig         `yaml:"jwt" env:"JWT"`
	Webhook     WebhookConfig     `yaml:"webhook" env:"WEBHOOK"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示挂在主端口的 /metrics 上
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的限流
	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// TLS 证书，两者都设置时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// 允许跨域的来源，同时作为 WebSocket 推送的 Origin 白名单
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	MaxRetries   int    `yaml:"max_retries" env:"MAX_RETRIES"`
	TLSEnabled   bool   `yaml:"tls_enabled" env:"TLS_ENABLED"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否启用，未启用时审计和成本账本只保存在内存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// SubstrateConfig 协调存储配置
type SubstrateConfig struct {
	// Backend: memory, redis
	Backend       string `yaml:"backend" env:"BACKEND"`
	KeyPrefix     string `yaml:"key_prefix" env:"KEY_PREFIX"`
	ChannelPrefix string `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
	WatchBuffer   int    `yaml:"watch_buffer" env:"WATCH_BUFFER"`
}

// CoordinatorConfig 任务协调器配置
type CoordinatorConfig struct {
	// 0 表示失败任务无限重新排队
	MaxAttempts     int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	IndexRetries    int           `yaml:"index_retries" env:"INDEX_RETRIES"`
	NotifyWorkers   int           `yaml:"notify_workers" env:"NOTIFY_WORKERS"`
	NotifyQueueSize int           `yaml:"notify_queue_size" env:"NOTIFY_QUEUE_SIZE"`
	NotifyTimeout   time.Duration `yaml:"notify_timeout" env:"NOTIFY_TIMEOUT"`
}

// GovernorConfig 能力治理配置
type GovernorConfig struct {
	MaxSwarmsPerTask               int     `yaml:"max_swarms_per_task" env:"MAX_SWARMS_PER_TASK"`
	MaxCostPerTask                 float64 `yaml:"max_cost_per_task" env:"MAX_COST_PER_TASK"`
	MinCapabilityMatch             float64 `yaml:"min_capability_match" env:"MIN_CAPABILITY_MATCH"`
	CircuitBreakerFailureThreshold int     `yaml:"circuit_breaker_failure_threshold" env:"CIRCUIT_BREAKER_FAILURE_THRESHOLD"`
	EnableCostTracking             bool    `yaml:"enable_cost_tracking" env:"ENABLE_COST_TRACKING"`
	EnableAuditLogging             bool    `yaml:"enable_audit_logging" env:"ENABLE_AUDIT_LOGGING"`
	// Ledger: memory, database
	Ledger string `yaml:"ledger" env:"LEDGER"`
}

// CredentialsConfig 凭证管理配置
type CredentialsConfig struct {
	// Store: memory, redis
	Store            string        `yaml:"store" env:"STORE"`
	DefaultTTL       time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	KeyPrefix        string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	ExpiredRetention time.Duration `yaml:"expired_retention" env:"EXPIRED_RETENTION"`
	// 后台清理过期凭证的周期，0 表示不清理
	PurgeInterval time.Duration `yaml:"purge_interval" env:"PURGE_INTERVAL"`
}

// SLOConfig SLO 跟踪与信誉配置
type SLOConfig struct {
	WindowSize       int `yaml:"window_size" env:"WINDOW_SIZE"`
	ViolationLogSize int `yaml:"violation_log_size" env:"VIOLATION_LOG_SIZE"`
	HistorySize      int `yaml:"history_size" env:"HISTORY_SIZE"`
	// 信誉分发布到治理器的周期，0 表示不自动发布
	PublishInterval time.Duration `yaml:"publish_interval" env:"PUBLISH_INTERVAL"`
	// 未单独设置 SLO 的 swarm 使用的默认目标
	P99LatencyMs float64 `yaml:"p99_latency_ms" env:"P99_LATENCY_MS"`
	SuccessRate  float64 `yaml:"success_rate" env:"SUCCESS_RATE"`
	Availability float64 `yaml:"availability" env:"AVAILABILITY"`
}

// SignatureConfig 签名校验配置
type SignatureConfig struct {
	Strict          bool          `yaml:"strict" env:"STRICT"`
	ReplayWindow    time.Duration `yaml:"replay_window" env:"REPLAY_WINDOW"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	KeyCacheTTL     time.Duration `yaml:"key_cache_ttl" env:"KEY_CACHE_TTL"`
	MaxCacheEntries int           `yaml:"max_cache_entries" env:"MAX_CACHE_ENTRIES"`
	// KeyRegistry: memory, redis
	KeyRegistry string        `yaml:"key_registry" env:"KEY_REGISTRY"`
	KeyTTL      time.Duration `yaml:"key_ttl" env:"KEY_TTL"`
}

// AuditConfig 审计配置
type AuditConfig struct {
	// Backend: memory, database, log
	Backend    string `yaml:"backend" env:"BACKEND"`
	QueueSize  int    `yaml:"queue_size" env:"QUEUE_SIZE"`
	Workers    int    `yaml:"workers" env:"WORKERS"`
	MemorySize int    `yaml:"memory_size" env:"MEMORY_SIZE"`
}

// JWTConfig 管理 API 的 JWT 认证配置
type JWTConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// WebhookConfig 升级通知 webhook，URL 为空时不启用
type WebhookConfig struct {
	URL     string            `yaml:"url" env:"URL"`
	Timeout time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	Headers map[string]string `yaml:"headers" env:"-"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 按字段类型解析字符串
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	if !oneOf(c.Substrate.Backend, BackendMemory, BackendRedis) {
		errs = append(errs, fmt.Sprintf("unknown substrate backend %q", c.Substrate.Backend))
	}
	if !oneOf(c.Credentials.Store, BackendMemory, BackendRedis) {
		errs = append(errs, fmt.Sprintf("unknown credential store %q", c.Credentials.Store))
	}
	if !oneOf(c.Signature.KeyRegistry, BackendMemory, BackendRedis) {
		errs = append(errs, fmt.Sprintf("unknown key registry %q", c.Signature.KeyRegistry))
	}
	if !oneOf(c.Audit.Backend, BackendMemory, BackendDatabase, BackendLog) {
		errs = append(errs, fmt.Sprintf("unknown audit backend %q", c.Audit.Backend))
	}
	if !oneOf(c.Governor.Ledger, BackendMemory, BackendDatabase) {
		errs = append(errs, fmt.Sprintf("unknown ledger %q", c.Governor.Ledger))
	}
	if (c.Audit.Backend == BackendDatabase || c.Governor.Ledger == BackendDatabase) && !c.Database.Enabled {
		errs = append(errs, "database backend selected but database is disabled")
	}
	if c.Database.Enabled && !oneOf(c.Database.Driver, "postgres", "mysql", "sqlite", "sqlite3") {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if c.Governor.MinCapabilityMatch < 0 || c.Governor.MinCapabilityMatch > 1 {
		errs = append(errs, "min_capability_match must be between 0 and 1")
	}
	if c.Governor.MaxSwarmsPerTask <= 0 {
		errs = append(errs, "max_swarms_per_task must be positive")
	}
	if c.Governor.CircuitBreakerFailureThreshold <= 0 {
		errs = append(errs, "circuit_breaker_failure_threshold must be positive")
	}
	if c.Coordinator.MaxAttempts < 0 {
		errs = append(errs, "max_attempts must not be negative")
	}

	if c.SLO.SuccessRate < 0 || c.SLO.SuccessRate > 1 {
		errs = append(errs, "slo success_rate must be between 0 and 1")
	}
	if c.SLO.Availability < 0 || c.SLO.Availability > 1 {
		errs = append(errs, "slo availability must be between 0 and 1")
	}
	if c.SLO.P99LatencyMs <= 0 {
		errs = append(errs, "slo p99_latency_ms must be positive")
	}
	if c.Signature.ReplayWindow <= 0 {
		errs = append(errs, "signature replay_window must be positive")
	}

	if c.JWT.Enabled && c.JWT.Secret == "" {
		errs = append(errs, "jwt secret is required when jwt is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
