// =============================================================================
// 📦 NarraFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/narraflow/types"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		App:       DefaultAppConfig(),
		Providers: ProvidersConfig{},
		Proxy:     types.ProxyConfig{},
		Frames:    DefaultFramesConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Vision:    DefaultVisionConfig(),
		Narration: DefaultNarrationConfig(),
		Log:       DefaultLogConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Server:    DefaultServerConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultAppConfig 返回默认激活 Provider
func DefaultAppConfig() AppConfig {
	return AppConfig{
		VisionLLMProvider: "gemini",
		TextLLMProvider:   "deepseek",
	}
}

// DefaultFramesConfig 返回默认采样配置
func DefaultFramesConfig() FramesConfig {
	return FramesConfig{
		FrameInterval:   3 * time.Second,
		VisionBatchSize: 5,
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxConcurrency:   3,
		FailurePolicy:    "best_effort",
		ProviderFallback: false,
		CancelGrace:      5 * time.Second,
		RateLimitRPS:     0,
		RateLimitBurst:   0,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// DefaultVisionConfig 返回默认视觉阶段配置
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		MaxTokens:   1000,
		Temperature: 0.7,
		TopP:        0.9,
		CacheTTL:    0,
	}
}

// DefaultNarrationConfig 返回默认解说生成配置
func DefaultNarrationConfig() NarrationConfig {
	return NarrationConfig{
		MaxTokens:      500,
		Temperature:    0.7,
		TopP:           0.9,
		TargetDuration: 0,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPath:   "stdout",
		EnableCaller: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		KeyPrefix:    "narraflow:",
		TTL:          24 * time.Hour,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: "sqlite",
		Path:   "narraflow.db",
		Pool: PoolConfig{
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		MetricsAddr:     "",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimit: RateLimitConfig{
			RPS:   0,
			Burst: 0,
		},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		Endpoint:    "localhost:4317",
		ServiceName: "narraflow",
		SampleRate:  1.0,
		Insecure:    true,
	}
}
