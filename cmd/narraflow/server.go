package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/api/handlers"
	"github.com/BaSui01/narraflow/config"
	"github.com/BaSui01/narraflow/internal/metrics"
	"github.com/BaSui01/narraflow/internal/server"
	"github.com/BaSui01/narraflow/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 NarraFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// baseCtx 贯穿所有异步运行；Shutdown 取消它，流水线在
	// cancel_grace 窗口内收尾
	baseCtx    context.Context
	baseCancel context.CancelFunc

	// 流水线组件
	comps     *components
	collector *metrics.Collector

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler    *handlers.HealthHandler
	runsHandler      *handlers.RunsHandler
	eventsHandler    *handlers.EventsHandler
	providersHandler *handlers.ProvidersHandler
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		logger:     logger,
		otel:       otelProviders,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.collector = metrics.NewCollector("narraflow", s.logger)

	// 2. 装配流水线组件
	comps, err := buildComponents(s.cfg, s.collector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline components: %w", err)
	}
	s.comps = comps

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器（metrics_addr 配置时独立端口）
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 6. 终态运行的定期回收。Redis 存储有键 TTL 兜底，
	// 内存存储只能靠这里防止长期运行累积。
	go s.runStateJanitor()

	s.logger.Info("All servers started",
		zap.String("addr", s.cfg.Server.Addr),
		zap.String("metrics_addr", s.cfg.Server.MetricsAddr),
		zap.String("vision_provider", s.cfg.App.VisionLLMProvider),
		zap.String("text_provider", s.cfg.App.TextLLMProvider),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	// 健康检查 handler，逐个登记已装配的后端
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("state_store", s.comps.orchestrator.Store().Ping))
	if s.comps.history != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("run_history", s.comps.history.Ping))
	}
	if s.comps.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("cache", s.comps.cache.Ping))
	}

	// 运行 API handlers
	s.runsHandler = handlers.NewRunsHandler(s.baseCtx, s.comps.orchestrator, s.logger)
	s.eventsHandler = handlers.NewEventsHandler(s.comps.orchestrator, s.logger)
	s.providersHandler = handlers.NewProvidersHandler(s.comps.registry, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查与版本端点
	// ========================================
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 运行 API 路由
	// ========================================
	mux.HandleFunc("POST /v1/runs", s.runsHandler.HandleSubmit)
	mux.HandleFunc("GET /v1/runs", s.runsHandler.HandleList)
	mux.HandleFunc("GET /v1/runs/{id}", s.runsHandler.HandleGet)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.eventsHandler.HandleEvents)
	mux.HandleFunc("GET /v1/providers", s.providersHandler.HandleList)

	// metrics_addr 未配置时挂在主端口
	if s.cfg.Server.MetricsAddr == "" {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSOrigins),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.Server.RateLimit.RPS > 0 {
		middlewares = append(middlewares, RateLimiter(s.baseCtx, s.cfg.Server.RateLimit.RPS, s.cfg.Server.RateLimit.Burst, s.logger))
	}
	if s.cfg.Server.JWT.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            s.cfg.Server.Addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动独立端口的 Metrics 服务器
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            s.cfg.Server.MetricsAddr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🧹 运行状态回收
// =============================================================================

// runStateJanitor 周期清理 24 小时前的终态运行，baseCtx 取消后退出。
func (s *Server) runStateJanitor() {
	const (
		interval  = time.Hour
		retention = 24 * time.Hour
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			removed, err := s.comps.orchestrator.Store().Cleanup(s.baseCtx, retention)
			if err != nil {
				s.logger.Warn("run state cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("run state cleanup", zap.Int("removed", removed))
			}
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 取消在途运行
	s.baseCancel()

	// 2. 结束事件订阅，WebSocket 处理器发出关闭帧后退出
	if s.comps != nil {
		s.comps.orchestrator.Hub().Close()
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

	// 5. 释放存储连接
	if s.comps != nil {
		s.comps.Close(s.logger)
	}

	// 6. 刷新遥测导出器
	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("Graceful shutdown completed")
}
