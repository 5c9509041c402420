package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/config"
	"github.com/BaSui01/narraflow/internal/cache"
	"github.com/BaSui01/narraflow/internal/metrics"
	"github.com/BaSui01/narraflow/internal/telemetry"
	"github.com/BaSui01/narraflow/internal/transport"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/llm/retry"
	"github.com/BaSui01/narraflow/narration"
	"github.com/BaSui01/narraflow/pipeline"
	"github.com/BaSui01/narraflow/pipeline/state"
	"github.com/BaSui01/narraflow/providers"
	"github.com/BaSui01/narraflow/runstore"
	"github.com/BaSui01/narraflow/types"
	"github.com/BaSui01/narraflow/vision"
)

// =============================================================================
// 🔩 组件装配
// =============================================================================

// components 是由配置装配出的流水线组件。serve 与 run 共用同一套装配，
// 区别只在是否挂接指标采集。
type components struct {
	registry     *llm.ProviderRegistry
	orchestrator *pipeline.Orchestrator

	// 显式持有需要释放的后端；编排器默认的内存状态存储不在其列
	stateStore state.Store
	cache      *cache.Manager
	history    *runstore.Store
}

// buildComponents 按配置装配 Provider 注册表、编排器与各存储后端。
// collector 为 nil 时不采集指标。装配中途失败会释放已打开的连接。
func buildComponents(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*components, error) {
	client, err := transport.NewHTTPClient(cfg.Proxy, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	registry := llm.NewProviderRegistry(providers.NewConstructor(client, logger))
	registerProfiles(registry, cfg)

	pipeCfg := pipeline.Config{
		VisionProvider:   cfg.App.VisionLLMProvider,
		TextProvider:     cfg.App.TextLLMProvider,
		FrameInterval:    cfg.Frames.FrameInterval,
		BatchSize:        cfg.Frames.VisionBatchSize,
		MaxConcurrency:   cfg.Pipeline.MaxConcurrency,
		FailurePolicy:    pipeline.FailurePolicy(cfg.Pipeline.FailurePolicy),
		ProviderFallback: cfg.Pipeline.ProviderFallback,
		CancelGrace:      cfg.Pipeline.CancelGrace,
		RateLimitRPS:     cfg.Pipeline.RateLimitRPS,
		RateLimitBurst:   cfg.Pipeline.RateLimitBurst,
	}

	orch := pipeline.NewOrchestrator(registry, pipeCfg, logger).
		WithVision(visionConfig(cfg)).
		WithNarration(narrationConfig(cfg)).
		WithRetryPolicy(retryPolicy(cfg.Pipeline.Retry))
	if collector != nil {
		orch.WithMetrics(collector)
	}

	c := &components{registry: registry, orchestrator: orch}

	if cfg.Redis.Enabled {
		store, err := state.NewRedisStore(state.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect run state store: %w", err)
		}
		c.stateStore = store
		orch.WithStore(store)

		// 批次描述缓存依赖同一个 Redis 实例
		if cfg.Vision.CacheTTL > 0 {
			mgr, err := cache.NewManager(cache.Config{
				Addr:         cfg.Redis.Addr,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				DefaultTTL:   cfg.Vision.CacheTTL,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
			}, logger)
			if err != nil {
				c.Close(logger)
				return nil, fmt.Errorf("failed to connect description cache: %w", err)
			}
			c.cache = mgr
			orch.WithCache(mgr)
		}
	}

	if cfg.Database.Driver != "" {
		history, err := runstore.Open(runstore.Config{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN,
			Path:   cfg.Database.Path,
			Pool: runstore.PoolConfig{
				MaxIdleConns:    cfg.Database.Pool.MaxIdleConns,
				MaxOpenConns:    cfg.Database.Pool.MaxOpenConns,
				ConnMaxLifetime: cfg.Database.Pool.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.Database.Pool.ConnMaxIdleTime,
			},
		}, logger)
		if err != nil {
			c.Close(logger)
			return nil, fmt.Errorf("failed to open run history store: %w", err)
		}
		c.history = history
		orch.WithRecorder(history)
	}

	return c, nil
}

// Close 释放装配出的存储连接。
func (c *components) Close(logger *zap.Logger) {
	if c.history != nil {
		if err := c.history.Close(); err != nil {
			logger.Warn("run history store close error", zap.Error(err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Warn("description cache close error", zap.Error(err))
		}
	}
	if c.stateStore != nil {
		if err := c.stateStore.Close(); err != nil {
			logger.Warn("run state store close error", zap.Error(err))
		}
	}
}

// registerProfiles 把配置中的 Provider 档案登记进注册表。
// 未配置 Key 的档案也登记，解析时报 PROVIDER_NOT_CONFIGURED。
func registerProfiles(registry *llm.ProviderRegistry, cfg *config.Config) {
	for id, p := range cfg.Providers.Vision {
		registry.Register(llm.ProviderProfile{
			ID:      id,
			Role:    types.RoleVision,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   p.ModelName,
		})
	}
	for id, p := range cfg.Providers.Text {
		registry.Register(llm.ProviderProfile{
			ID:      id,
			Role:    types.RoleText,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   p.ModelName,
		})
	}
}

// =============================================================================
// 🧭 配置映射
// =============================================================================

func visionConfig(cfg *config.Config) vision.Config {
	return vision.Config{
		Prompt:      cfg.Vision.Prompt,
		MaxTokens:   cfg.Vision.MaxTokens,
		Temperature: cfg.Vision.Temperature,
		TopP:        cfg.Vision.TopP,
		CacheTTL:    cfg.Vision.CacheTTL,
	}
}

func narrationConfig(cfg *config.Config) narration.Config {
	return narration.Config{
		Prompt:         cfg.Narration.Prompt,
		MaxTokens:      cfg.Narration.MaxTokens,
		Temperature:    cfg.Narration.Temperature,
		TopP:           cfg.Narration.TopP,
		TargetDuration: cfg.Narration.TargetDuration,
	}
}

// retryPolicy 转换重试配置。Retryable 判定留空，由描述器与生成器
// 填入统一的 types.IsRetryable。
func retryPolicy(cfg config.RetryConfig) *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		Jitter:       cfg.Jitter,
	}
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		OTLPEndpoint: cfg.Telemetry.Endpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		SampleRate:   cfg.Telemetry.SampleRate,
		Insecure:     cfg.Telemetry.Insecure,
	}
}
