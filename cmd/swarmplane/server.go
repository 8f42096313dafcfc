package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/swarmplane/api/handlers"
	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/config"
	"github.com/BaSui01/swarmplane/coordination"
	"github.com/BaSui01/swarmplane/coordinator"
	"github.com/BaSui01/swarmplane/gateway"
	"github.com/BaSui01/swarmplane/governor"
	"github.com/BaSui01/swarmplane/internal/cache"
	"github.com/BaSui01/swarmplane/internal/database"
	"github.com/BaSui01/swarmplane/internal/metrics"
	"github.com/BaSui01/swarmplane/internal/migration"
	"github.com/BaSui01/swarmplane/internal/pool"
	"github.com/BaSui01/swarmplane/internal/server"
	"github.com/BaSui01/swarmplane/internal/telemetry"
	"github.com/BaSui01/swarmplane/ledger"
	"github.com/BaSui01/swarmplane/trust/credential"
	"github.com/BaSui01/swarmplane/trust/signature"
	"github.com/BaSui01/swarmplane/trust/slo"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Swarmplane 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 指标
	registry  *prometheus.Registry
	collector *metrics.Collector

	// 基础设施，按配置可能为空
	redis  *cache.Manager
	db     *gorm.DB
	dbPool *database.PoolManager

	// 领域组件
	store      coordination.Store
	auditLog   *audit.Logger
	sink       audit.Sink
	coord      *coordinator.Coordinator
	gov        *governor.Governor
	creds      *credential.Manager
	tracker    *slo.Tracker
	reputation *slo.ReputationSystem
	verifier   *signature.Verifier
	admission  *gateway.Admission

	health  *handlers.HealthHandler
	handler http.Handler

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 后台任务（凭证清理、连接池指标、限流器清理）
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 组装全部组件并启动服务
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, bgCtx = errgroup.WithContext(bgCtx)

	// 1. 基础设施与领域组件
	if err := s.init(ctx, bgCtx); err != nil {
		return err
	}

	// 2. 后台维护
	s.startBackground(bgCtx)

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("substrate", s.cfg.Substrate.Backend),
		zap.Bool("database", s.db != nil),
		zap.Bool("jwt", s.cfg.JWT.Enabled),
	)
	return nil
}

// init 依次初始化指标、Redis、数据库、领域组件与路由，结果保存在 s.handler
func (s *Server) init(ctx, bgCtx context.Context) error {
	s.initMetrics()

	if err := s.initRedis(); err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}
	if err := s.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}
	s.initHandlers(bgCtx)
	return nil
}

// =============================================================================
// 🔧 基础设施
// =============================================================================

// initMetrics 使用独立 registry，避免与全局默认 registry 重复注册
func (s *Server) initMetrics() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWithRegistry("swarmplane", s.registry, s.logger)
}

// needsRedis 任一后端选择 redis 时需要共享连接
func (s *Server) needsRedis() bool {
	return s.cfg.Substrate.Backend == config.BackendRedis ||
		s.cfg.Credentials.Store == config.BackendRedis ||
		s.cfg.Signature.KeyRegistry == config.BackendRedis
}

func (s *Server) initRedis() error {
	if !s.needsRedis() {
		return nil
	}
	rc := s.cfg.Redis
	mgr, err := cache.NewManager(cache.Config{
		Addr:                rc.Addr,
		Password:            rc.Password,
		DB:                  rc.DB,
		DefaultTTL:          s.cfg.Signature.KeyTTL,
		MaxRetries:          rc.MaxRetries,
		PoolSize:            rc.PoolSize,
		MinIdleConns:        rc.MinIdleConns,
		TLSEnabled:          rc.TLSEnabled,
		HealthCheckInterval: rc.HealthCheckInterval,
	}, s.logger)
	if err != nil {
		return err
	}
	s.redis = mgr
	return nil
}

func (s *Server) initDatabase(ctx context.Context) error {
	dbCfg := s.cfg.Database
	if !dbCfg.Enabled {
		s.logger.Info("Database disabled, audit and cost ledger stay in memory")
		return nil
	}

	if dbCfg.AutoMigrate {
		if err := migration.Apply(ctx, dbCfg, s.logger); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	db, err := database.Open(dbCfg, s.logger)
	if err != nil {
		return err
	}
	poolMgr, err := database.NewPoolManager(db, database.PoolConfigFrom(dbCfg), s.logger)
	if err != nil {
		return err
	}
	s.db = db
	s.dbPool = poolMgr
	s.registry.MustRegister(poolMgr.Collector(dbCfg.Name))
	return nil
}

// =============================================================================
// 🧩 领域组件
// =============================================================================

func (s *Server) initComponents() error {
	cfg := s.cfg

	// 协调存储
	switch cfg.Substrate.Backend {
	case config.BackendRedis:
		s.store = coordination.NewRedisStore(s.redis.Client(), coordination.RedisStoreConfig{
			KeyPrefix:     cfg.Substrate.KeyPrefix,
			ChannelPrefix: cfg.Substrate.ChannelPrefix,
			WatchBuffer:   cfg.Substrate.WatchBuffer,
		}, s.logger)
	default:
		s.store = coordination.NewMemoryStore(coordination.MemoryStoreConfig{
			WatchBuffer: cfg.Substrate.WatchBuffer,
		}, s.logger)
	}

	// 审计
	auditCfg := audit.Config{QueueSize: cfg.Audit.QueueSize, Workers: cfg.Audit.Workers}
	switch cfg.Audit.Backend {
	case config.BackendDatabase:
		s.auditLog = audit.NewLogger(auditCfg, s.logger, audit.NewGormBackend(s.db, s.logger))
		s.sink = s.auditLog
	case config.BackendLog:
		s.sink = audit.NewZapSink(s.logger)
	default:
		s.auditLog = audit.NewLogger(auditCfg, s.logger, audit.NewMemoryBackend(cfg.Audit.MemorySize))
		s.sink = s.auditLog
	}

	// 任务协调器
	coordOpts := []coordinator.Option{
		coordinator.WithLogger(s.logger),
		coordinator.WithAuditSink(s.sink),
		coordinator.WithMetrics(s.collector),
		coordinator.WithTracer(otel.Tracer("swarmplane/coordinator")),
	}
	if cfg.Webhook.URL != "" {
		notifier := coordinator.NewWebhookNotifier(coordinator.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Timeout: cfg.Webhook.Timeout,
			Headers: cfg.Webhook.Headers,
		}, nil, s.logger)
		coordOpts = append(coordOpts, coordinator.WithEscalationNotifier(notifier))
	}
	s.coord = coordinator.New(s.store, coordinator.Config{
		MaxAttempts:  cfg.Coordinator.MaxAttempts,
		IndexRetries: cfg.Coordinator.IndexRetries,
		Notifications: pool.Config{
			Workers:     cfg.Coordinator.NotifyWorkers,
			QueueSize:   cfg.Coordinator.NotifyQueueSize,
			TaskTimeout: cfg.Coordinator.NotifyTimeout,
		},
	}, coordOpts...)

	// 能力治理
	var costTracker ledger.CostTracker = ledger.NewMemoryLedger()
	if cfg.Governor.Ledger == config.BackendDatabase {
		costTracker = ledger.NewGormLedger(s.db, s.logger)
	}
	s.gov = governor.New(governor.ResourcePolicy{
		MaxSwarmsPerTask:               cfg.Governor.MaxSwarmsPerTask,
		MaxCostPerTask:                 cfg.Governor.MaxCostPerTask,
		MinCapabilityMatch:             cfg.Governor.MinCapabilityMatch,
		CircuitBreakerFailureThreshold: cfg.Governor.CircuitBreakerFailureThreshold,
		EnableCostTracking:             cfg.Governor.EnableCostTracking,
		EnableAuditLogging:             cfg.Governor.EnableAuditLogging,
	},
		governor.WithLogger(s.logger),
		governor.WithAuditSink(s.sink),
		governor.WithCostTracker(costTracker),
		governor.WithEscalator(s.coord),
		governor.WithMetrics(s.collector),
	)

	// 凭证
	var credStore credential.Store
	switch cfg.Credentials.Store {
	case config.BackendRedis:
		rcfg := credential.DefaultRedisStoreConfig()
		if cfg.Credentials.KeyPrefix != "" {
			rcfg.KeyPrefix = cfg.Credentials.KeyPrefix
		}
		if cfg.Credentials.ExpiredRetention > 0 {
			rcfg.ExpiredRetention = cfg.Credentials.ExpiredRetention
		}
		credStore = credential.NewRedisStore(s.redis.Client(), rcfg, s.logger)
	default:
		credStore = credential.NewMemoryStore()
	}
	s.creds = credential.NewManager(credStore, credential.Config{DefaultTTL: cfg.Credentials.DefaultTTL},
		credential.WithLogger(s.logger),
		credential.WithAuditSink(s.sink),
		credential.WithMetrics(s.collector),
	)

	// SLO 与信誉
	objective := slo.ServiceLevelObjective{
		P99LatencyMs: cfg.SLO.P99LatencyMs,
		SuccessRate:  cfg.SLO.SuccessRate,
		Availability: cfg.SLO.Availability,
	}
	s.tracker = slo.NewTracker(slo.TrackerConfig{
		WindowSize:       cfg.SLO.WindowSize,
		ViolationLogSize: cfg.SLO.ViolationLogSize,
		Default:          &objective,
	}, slo.WithLogger(s.logger), slo.WithAuditSink(s.sink))
	s.reputation = slo.NewReputationSystem(s.tracker, slo.ReputationConfig{HistorySize: cfg.SLO.HistorySize},
		slo.WithLogger(s.logger),
		slo.WithAuditSink(s.sink),
		slo.WithReputationSink(s.gov),
	)

	// 签名校验
	var registry signature.KeyRegistry
	switch cfg.Signature.KeyRegistry {
	case config.BackendRedis:
		registry = signature.NewRedisKeyRegistry(s.redis, cfg.Signature.KeyTTL, s.logger)
	default:
		registry = signature.NewMemoryKeyRegistry(cfg.Signature.KeyTTL)
	}
	s.verifier = signature.NewVerifier(signature.Config{
		Strict:          cfg.Signature.Strict,
		ReplayWindow:    cfg.Signature.ReplayWindow,
		CacheTTL:        cfg.Signature.CacheTTL,
		KeyCacheTTL:     cfg.Signature.KeyCacheTTL,
		MaxCacheEntries: cfg.Signature.MaxCacheEntries,
	},
		signature.WithLogger(s.logger),
		signature.WithAuditSink(s.sink),
		signature.WithMetrics(s.collector),
		signature.WithKeyRegistry(registry),
	)

	// 出站准入
	s.admission = gateway.NewAdmission(s.creds, s.gov, s.sink, s.logger)

	s.logger.Info("Components initialized",
		zap.String("substrate", cfg.Substrate.Backend),
		zap.String("credential_store", cfg.Credentials.Store),
		zap.String("key_registry", cfg.Signature.KeyRegistry),
		zap.String("audit", cfg.Audit.Backend),
		zap.String("ledger", cfg.Governor.Ledger),
	)
	return nil
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

// initHandlers 注册路由并构建中间件链。bgCtx 结束时限流器停止清理。
func (s *Server) initHandlers(bgCtx context.Context) {
	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewSubstrateHealthCheck(s.store.Health))
	if s.redis != nil {
		s.health.RegisterCheck(handlers.NewRedisHealthCheck(s.redis.Ping))
	}
	if s.dbPool != nil {
		s.health.RegisterCheck(handlers.NewDatabaseHealthCheck(s.dbPool.Ping))
	}

	mux := http.NewServeMux()

	// 健康检查与版本
	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealthz)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	// MetricsPort 为 0 时指标挂在主端口
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}

	outcomes := &outcomeRecorder{gov: s.gov, tracker: s.tracker, logger: s.logger}
	set := &handlers.Set{
		Tasks: handlers.NewTaskHandler(s.coord, outcomes, s.logger),
		Swarms: handlers.NewSwarmHandler(s.coord, s.gov, handlers.SwarmHandlerConfig{
			OriginPatterns: originHosts(s.cfg.Server.CORSAllowedOrigins),
		}, s.logger),
		Governor:    handlers.NewGovernorHandler(s.gov, s.logger),
		Escalations: handlers.NewEscalationHandler(s.coord, s.logger),
		Credentials: handlers.NewCredentialHandler(s.creds, s.coord, s.logger),
		SLO:         handlers.NewSLOHandler(s.tracker, s.reputation, s.logger),
		Signatures:  handlers.NewSignatureHandler(s.verifier, s.logger),
		Gateway:     handlers.NewGatewayHandler(s.admission, s.logger),
	}
	set.Register(mux)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(bgCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	if s.cfg.JWT.Enabled {
		skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	}
	s.handler = Chain(mux, middlewares...)

	s.logger.Info("Handlers initialized")
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// originHosts 把 CORS 来源转换为 WebSocket 接受的 host 模式
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(s.handler, serverConfig, s.logger)

	var err error
	if s.cfg.Server.TLSCertFile != "" {
		err = s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	} else {
		err = s.httpManager.Start()
	}
	if err != nil {
		return err
	}

	s.logger.Info("HTTP server started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
	)
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metricsHandler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// ⏱️ 后台维护
// =============================================================================

// startBackground 周期性清理过期凭证、发布信誉分并上报连接池指标
func (s *Server) startBackground(ctx context.Context) {
	if interval := s.cfg.SLO.PublishInterval; interval > 0 {
		s.group.Go(func() error {
			s.every(ctx, interval, s.publishReputation)
			return nil
		})
	}

	if interval := s.cfg.Credentials.PurgeInterval; interval > 0 {
		s.group.Go(func() error {
			s.every(ctx, interval, func() {
				n, err := s.creds.PurgeExpired(ctx)
				if err != nil {
					s.logger.Warn("credential purge failed", zap.Error(err))
					return
				}
				if n > 0 {
					s.logger.Info("expired credentials purged", zap.Int("count", n))
				}
			})
			return nil
		})
	}

	if s.dbPool != nil {
		s.group.Go(func() error {
			s.every(ctx, 15*time.Second, func() {
				stats := s.dbPool.Stats()
				s.collector.RecordDBConnections(s.cfg.Database.Name, stats.OpenConnections, stats.Idle)
			})
			return nil
		})
	}
}

// publishReputation 把每个已注册 swarm 的最新信誉分写回治理器
func (s *Server) publishReputation() {
	for _, profile := range s.gov.Swarms() {
		score, err := s.reputation.Publish(profile.SwarmID)
		if err != nil {
			// 发布期间被注销的 swarm 会落到这里
			s.logger.Debug("reputation publish skipped", zap.String("swarm_id", profile.SwarmID), zap.Error(err))
			continue
		}
		s.logger.Debug("reputation published",
			zap.String("swarm_id", profile.SwarmID),
			zap.Float64("score", score.Score),
		)
	}
}

func (s *Server) every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		if err := s.httpManager.WaitForShutdown(context.Background()); err != nil {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务，可以在部分初始化失败后调用
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. 停止后台任务
	if s.cancel != nil {
		s.cancel()
		_ = s.group.Wait()
	}

	// 2. 关闭 HTTP 与 Metrics 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭协调器与存储
	if s.coord != nil {
		if err := s.coord.Close(ctx); err != nil {
			s.logger.Error("Coordinator shutdown error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Substrate close error", zap.Error(err))
		}
	}

	// 4. 刷新审计，关闭连接
	if s.auditLog != nil {
		if err := s.auditLog.Close(); err != nil {
			s.logger.Error("Audit logger close error", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}

	// 5. 导出剩余遥测
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
