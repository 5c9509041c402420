// =============================================================================
// 📦 NarraFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("narraflow.yaml").
//	    WithEnvPrefix("NARRAFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
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

	"github.com/BaSui01/narraflow/providers"
	"github.com/BaSui01/narraflow/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 NarraFlow 的完整配置结构
type Config struct {
	// App 激活的 Provider 选择
	App AppConfig `yaml:"app" env:"APP"`

	// Providers 按角色分组的 Provider 档案
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`

	// Proxy 出站代理策略
	Proxy types.ProxyConfig `yaml:"proxy" env:"PROXY"`

	// Frames 关键帧采样配置
	Frames FramesConfig `yaml:"frames" env:"FRAMES"`

	// Pipeline 流水线编排配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Vision 视觉描述阶段配置
	Vision VisionConfig `yaml:"vision" env:"VISION"`

	// Narration 解说生成阶段配置
	Narration NarrationConfig `yaml:"narration" env:"NARRATION"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Redis 缓存与运行状态存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 运行历史存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Server API 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// AppConfig 选择本次部署激活的 Provider
type AppConfig struct {
	// 视觉 Provider id（必须出现在 providers.vision 之下）
	VisionLLMProvider string `yaml:"vision_llm_provider" env:"VISION_LLM_PROVIDER"`
	// 文本 Provider id（必须出现在 providers.text 之下）
	TextLLMProvider string `yaml:"text_llm_provider" env:"TEXT_LLM_PROVIDER"`
}

// ProvidersConfig 按角色分组的 Provider 档案表。
// map 键是 Provider id，对应目录中的登记项。
type ProvidersConfig struct {
	Vision map[string]ProviderProfile `yaml:"vision" env:"VISION"`
	Text   map[string]ProviderProfile `yaml:"text" env:"TEXT"`
}

// ProviderProfile 单个 Provider 的接入档案。
// 留空的 base_url 与 model_name 由目录默认值补齐。
type ProviderProfile struct {
	// API Key（空串表示未配置，不可用）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	ModelName string `yaml:"model_name" env:"MODEL_NAME"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// Configured 报告档案是否可用（API Key 非空）
func (p ProviderProfile) Configured() bool { return p.APIKey != "" }

// FramesConfig 关键帧采样配置
type FramesConfig struct {
	// 相邻采样帧的时间间隔
	FrameInterval time.Duration `yaml:"frame_interval" env:"FRAME_INTERVAL"`
	// 每个视觉请求携带的帧数
	VisionBatchSize int `yaml:"vision_batch_size" env:"VISION_BATCH_SIZE"`
}

// PipelineConfig 流水线编排配置
type PipelineConfig struct {
	// 并行描述批次上限
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 失败策略: abort, best_effort
	FailurePolicy string `yaml:"failure_policy" env:"FAILURE_POLICY"`
	// 批次重试耗尽后是否换用其余已配置 Provider 补齐
	ProviderFallback bool `yaml:"provider_fallback" env:"PROVIDER_FALLBACK"`
	// 取消后给进行中请求的收尾窗口
	CancelGrace time.Duration `yaml:"cancel_grace" env:"CANCEL_GRACE"`
	// 请求节流速率（0 表示关闭）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 节流桶容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 共享重试策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	// 总尝试次数（含首次）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 初始延迟
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 延迟倍增因子
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 是否添加随机抖动
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// VisionConfig 视觉描述阶段配置
type VisionConfig struct {
	// 指令覆盖（空串使用内置提示词）
	Prompt string `yaml:"prompt" env:"PROMPT"`
	// 单批最大输出 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 温度参数
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
	// 核采样参数
	TopP float32 `yaml:"top_p" env:"TOP_P"`
	// 批次描述缓存的过期时间（0 表示不缓存）
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// NarrationConfig 解说生成阶段配置
type NarrationConfig struct {
	// 指令覆盖（空串使用内置提示词）
	Prompt string `yaml:"prompt" env:"PROMPT"`
	// 最大输出 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 温度参数
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
	// 核采样参数
	TopP float32 `yaml:"top_p" env:"TOP_P"`
	// 目标解说时长（0 表示不限定字数）
	TargetDuration time.Duration `yaml:"target_duration" env:"TARGET_DURATION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径（空串表示 stdout）
	OutputPath string `yaml:"output_path" env:"OUTPUT_PATH"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// RedisConfig Redis 配置，同时服务批次缓存与运行状态存储
type RedisConfig struct {
	// 是否启用（false 时退回内存实现）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 运行数据的过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 运行历史数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// postgres 连接串
	DSN string `yaml:"dsn" env:"DSN"`
	// sqlite 文件路径
	Path string `yaml:"path" env:"PATH"`
	// 连接池配置
	Pool PoolConfig `yaml:"pool" env:"POOL"`
}

// PoolConfig 数据库连接池配置
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// ServerConfig API 服务器配置
type ServerConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标监听地址（空串表示挂在主端口的 /metrics）
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 接受的 API Key 列表（为空表示不开启 Key 认证）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWT 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
	// 每客户端 IP 的请求限流
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 允许的 CORS 来源
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
}

// JWTConfig JWT 认证配置（HS256）
type JWTConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 签名密钥
	Secret string `yaml:"secret" env:"SECRET"`
}

// RateLimitConfig 每客户端 IP 的限流配置（0 表示关闭）
type RateLimitConfig struct {
	// 每秒请求数
	RPS float64 `yaml:"rps" env:"RPS"`
	// 突发容量
	Burst int `yaml:"burst" env:"BURST"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 是否使用明文连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath     string
	envPrefix      string
	skipValidation bool
	validators     []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "NARRAFLOW",
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

// SkipValidation 跳过内置校验，仅运行 WithValidator 注册的验证器。
// providers、health 这类只读命令用它容忍不完整的配置。
func (l *Loader) SkipValidation() *Loader {
	l.skipValidation = true
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 内置校验
	if !l.skipValidation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// 5. 运行自定义验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// Provider 档案表这类 map 字段按键名展开
		if field.Kind() == reflect.Map {
			if err := setMapFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setMapFromEnv 展开 map[string]struct 形态的字段。环境变量键形如
// PREFIX_<mapKey>_<fieldTag>；mapKey 取第一个下划线之前的片段并转为小写，
// Provider id 不含下划线，因此切分无歧义。
func setMapFromEnv(field reflect.Value, prefix string) error {
	if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.Struct {
		return nil
	}

	want := prefix + "_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, want) {
			continue
		}
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}

		rest := strings.TrimPrefix(name, want)
		mapKey, fieldTag, ok := strings.Cut(rest, "_")
		if !ok || mapKey == "" {
			continue
		}
		mapKey = strings.ToLower(mapKey)

		if field.IsNil() {
			field.Set(reflect.MakeMap(field.Type()))
		}

		elem := reflect.New(field.Type().Elem()).Elem()
		if existing := field.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			elem.Set(existing)
		}

		matched, err := setStructFieldByTag(elem, fieldTag, value)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
		if matched {
			field.SetMapIndex(reflect.ValueOf(mapKey), elem)
		}
	}

	return nil
}

// setStructFieldByTag 按 env tag 定位结构体字段并赋值
func setStructFieldByTag(v reflect.Value, tag, value string) (bool, error) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if t.Field(i).Tag.Get("env") != tag {
			continue
		}
		if err := setFieldValue(v.Field(i), value); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

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
		// 支持逗号分隔的字符串切片
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
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Profile 按角色与 id 返回 Provider 档案。
func (c *Config) Profile(role types.Role, id string) (ProviderProfile, bool) {
	var table map[string]ProviderProfile
	switch role {
	case types.RoleVision:
		table = c.Providers.Vision
	case types.RoleText:
		table = c.Providers.Text
	default:
		return ProviderProfile{}, false
	}
	p, ok := table[id]
	return p, ok
}

// Validate 验证配置，错误汇总为一个 INVALID_CONFIG
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateActiveProvider(types.RoleVision, c.App.VisionLLMProvider)...)
	errs = append(errs, c.validateActiveProvider(types.RoleText, c.App.TextLLMProvider)...)

	// 验证采样配置
	if c.Frames.FrameInterval <= 0 {
		errs = append(errs, "frames.frame_interval must be positive")
	}
	if c.Frames.VisionBatchSize <= 0 {
		errs = append(errs, "frames.vision_batch_size must be positive")
	}

	// 验证流水线配置
	if c.Pipeline.MaxConcurrency < 1 {
		errs = append(errs, "pipeline.max_concurrency must be at least 1")
	}
	switch c.Pipeline.FailurePolicy {
	case "abort", "best_effort":
	default:
		errs = append(errs, fmt.Sprintf("pipeline.failure_policy must be abort or best_effort, got %q", c.Pipeline.FailurePolicy))
	}
	if c.Pipeline.CancelGrace < 0 {
		errs = append(errs, "pipeline.cancel_grace cannot be negative")
	}
	if c.Pipeline.RateLimitRPS < 0 || c.Pipeline.RateLimitBurst < 0 {
		errs = append(errs, "pipeline rate limit values cannot be negative")
	}
	if c.Pipeline.Retry.MaxAttempts < 1 {
		errs = append(errs, "pipeline.retry.max_attempts must be at least 1")
	}

	// 验证生成参数
	if c.Narration.Temperature < 0 || c.Narration.Temperature > 2 {
		errs = append(errs, "narration.temperature must be between 0 and 2")
	}
	if c.Narration.TopP < 0 || c.Narration.TopP > 1 {
		errs = append(errs, "narration.top_p must be between 0 and 1")
	}
	if c.Narration.MaxTokens <= 0 {
		errs = append(errs, "narration.max_tokens must be positive")
	}
	if c.Narration.TargetDuration < 0 {
		errs = append(errs, "narration.target_duration cannot be negative")
	}

	// 验证日志配置
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or console, got %q", c.Log.Format))
	}

	// 验证数据库配置
	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}

	// 验证服务器配置
	if c.Server.JWT.Enabled && c.Server.JWT.Secret == "" {
		errs = append(errs, "server.jwt.secret is required when jwt auth is enabled")
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		errs = append(errs, "server rate limit values cannot be negative")
	}

	// 验证遥测配置
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("config validation errors: %s", strings.Join(errs, "; ")))
	}

	return nil
}

// validateActiveProvider 校验激活的 Provider：已命名、在目录中、承担该
// 角色且配有 API Key。
func (c *Config) validateActiveProvider(role types.Role, id string) []string {
	key := "app.vision_llm_provider"
	section := "providers.vision"
	if role == types.RoleText {
		key = "app.text_llm_provider"
		section = "providers.text"
	}

	if id == "" {
		return []string{key + " is required"}
	}

	spec, ok := providers.Lookup(id)
	if !ok {
		return []string{fmt.Sprintf("%s %q is not a known provider (known: %s)",
			key, id, strings.Join(providers.IDs(), ", "))}
	}
	if !spec.Supports(role) {
		return []string{fmt.Sprintf("%s %q does not serve the %s role", key, id, role)}
	}

	profile, ok := c.Profile(role, id)
	if !ok {
		return []string{fmt.Sprintf("%s %q is not defined under %s", key, id, section)}
	}
	if !profile.Configured() {
		return []string{fmt.Sprintf("%s.%s.api_key is empty", section, id)}
	}

	return nil
}
