package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/llmflow"
	"github.com/BaSui01/llmflow/api/handlers"
	"github.com/BaSui01/llmflow/config"
	"github.com/BaSui01/llmflow/internal/cache"
	"github.com/BaSui01/llmflow/internal/metrics"
	"github.com/BaSui01/llmflow/internal/server"
	"github.com/BaSui01/llmflow/internal/telemetry"
	"github.com/BaSui01/llmflow/journal"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 LLMFlow 运维服务的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	otel       *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 共享对象: 客户端、缓存、流水存储、事件枢纽
	client    *llmflow.Client
	cache     *cache.ResponseCache
	journalDB *gorm.DB
	store     *journal.Store
	events    *EventHub

	// Handlers
	healthHandler  *handlers.HealthHandler
	invokeHandler  *handlers.InvokeHandler
	usageHandler   *handlers.UsageHandler
	recordsHandler *handlers.RecordsHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		otel:       otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("llmflow", s.logger)

	// 2. 初始化共享基础设施（缓存、流水存储、事件枢纽）
	s.initCache()
	s.initJournal()
	s.events = NewEventHub(s.logger, s.cfg.Server.CORSOrigin)

	// 3. 组装受管调用客户端
	if err := s.initClient(); err != nil {
		return fmt.Errorf("failed to init client: %w", err)
	}

	// 4. 初始化 Handlers
	s.initHandlers()

	// 5. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 6. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("endpoints", s.client.Endpoints()),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initCache 初始化响应缓存。缓存是纯优化, 不可达时降级为无缓存运行。
func (s *Server) initCache() {
	if !s.cfg.Cache.Enabled {
		return
	}

	c, err := cache.New(cache.Config{
		Addr:         s.cfg.Cache.Addr,
		Password:     s.cfg.Cache.Password,
		DB:           s.cfg.Cache.DB,
		TTL:          s.cfg.Cache.TTL,
		KeyPrefix:    s.cfg.Cache.KeyPrefix,
		PoolSize:     s.cfg.Cache.PoolSize,
		MinIdleConns: s.cfg.Cache.MinIdleConns,
	}, s.logger)
	if err != nil {
		s.logger.Warn("response cache unavailable, continuing without cache", zap.Error(err))
		return
	}
	s.cache = c
}

// initJournal 初始化调用流水存储。流水不可用时降级运行:
// 记录查询与端点聚合返回不可用, 调用本身不受影响。
func (s *Server) initJournal() {
	if !s.cfg.Journal.Enabled {
		return
	}

	db, err := journal.Open(journal.Options{
		Driver:          s.cfg.Journal.Driver,
		DSN:             s.cfg.Journal.EffectiveDSN(),
		MaxIdleConns:    s.cfg.Journal.MaxIdleConns,
		MaxOpenConns:    s.cfg.Journal.MaxOpenConns,
		ConnMaxLifetime: s.cfg.Journal.ConnMaxLifetime,
		ConnMaxIdleTime: s.cfg.Journal.ConnMaxIdleTime,
	}, s.logger)
	if err != nil {
		s.logger.Warn("call journal unavailable, persistence disabled", zap.Error(err))
		return
	}

	store, err := journal.NewStore(db, s.logger)
	if err == nil {
		// AutoMigrate 确保表结构最新; 版本化 DDL 走 migrate 子命令
		err = store.AutoMigrate()
	}
	if err != nil {
		s.logger.Warn("call journal unavailable, persistence disabled", zap.Error(err))
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
		return
	}

	s.journalDB = db
	s.store = store
}

// initClient 组装受管调用客户端。端点、适配器与进程预算都来自配置,
// 缓存、流水与事件流作为已构造的共享对象注入。
func (s *Server) initClient() error {
	opts := []llmflow.Option{
		llmflow.WithConfig(s.cfg),
		llmflow.WithLogger(s.logger),
		llmflow.WithMetrics(s.metricsCollector),
		llmflow.WithSink(s.events),
	}
	if s.cache != nil {
		opts = append(opts, llmflow.WithCache(s.cache))
	}
	if s.store != nil {
		opts = append(opts, llmflow.WithJournal(s.store))
	}

	client, err := llmflow.New(opts...)
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	if s.store != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("journal", s.store.Ping))
	}
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("cache", s.cache.Ping))
	}

	s.invokeHandler = handlers.NewInvokeHandler(s.client, s.logger)
	s.usageHandler = handlers.NewUsageHandler(s.store, s.client, s.logger)
	s.recordsHandler = handlers.NewRecordsHandler(s.store, s.logger)

	s.logger.Info("Handlers initialized")
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	// 注册配置变更回调
	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	// 注册配置重载回调。端点与预算是构造期配置, 重载只影响可热改字段。
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	// 启动热更新管理器
	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	// 创建配置 API 处理器
	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager, s.cfg.Server.CORSOrigin)

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion)

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("/api/v1/invoke", s.invokeHandler.HandleInvoke)
	mux.HandleFunc("/api/v1/usage", s.usageHandler.HandleUsage)
	mux.HandleFunc("/api/v1/records", s.recordsHandler.HandleRecords)

	// 终态化调用事件流
	mux.HandleFunc("/ws/events", s.events.HandleEvents)

	// MetricsPort 为 0 时不起独立监听, /metrics 挂到主端口
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// ========================================
	// 配置管理 API（需要独立认证保护）
	// 配置 API 是敏感的管理端点，必须经过认证中间件保护，
	// 不依赖全局中间件链的顺序，而是显式包装认证检查。
	// ========================================
	if s.configAPIHandler != nil {
		configAuth := config.NewConfigAPIMiddleware(s.configAPIHandler, s.cfg.Server.APIKey)
		mux.HandleFunc("/api/v1/config", configAuth.RequireAuth(s.configAPIHandler.HandleConfig))
		mux.HandleFunc("/api/v1/config/reload", configAuth.RequireAuth(s.configAPIHandler.HandleReload))
		mux.HandleFunc("/api/v1/config/fields", configAuth.RequireAuth(s.configAPIHandler.HandleFields))
		mux.HandleFunc("/api/v1/config/changes", configAuth.RequireAuth(s.configAPIHandler.HandleChanges))
		s.logger.Info("Configuration API registered with authentication")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSOrigin),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	if s.cfg.Server.AuthEnabled {
		middlewares = append(middlewares,
			BearerAuth(s.cfg.Server.JWTSecret, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动独立的 Metrics 服务器。端口为 0 时跳过,
// /metrics 已经挂在主端口上。
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 5. 断开事件订阅者
	if s.events != nil {
		s.events.Close()
	}

	// 6. 关闭客户端（结束进程级预算作用域）
	if s.client != nil {
		s.client.Close()
	}

	// 7. 释放缓存与流水连接
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}
	if s.journalDB != nil {
		if sqlDB, err := s.journalDB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				s.logger.Error("Journal database close error", zap.Error(err))
			}
		}
	}

	// 8. 冲刷遥测数据
	if s.otel != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.otel.Shutdown(flushCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
