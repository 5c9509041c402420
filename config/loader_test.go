package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/narraflow/types"
)

// validConfig 返回一份能通过校验的最小配置。
func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers.Vision = map[string]ProviderProfile{
		"gemini": {APIKey: "vision-key"},
	}
	cfg.Providers.Text = map[string]ProviderProfile{
		"deepseek": {APIKey: "text-key"},
	}
	return cfg
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "narraflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sampleYAML = `
app:
  vision_llm_provider: gemini
  text_llm_provider: deepseek
providers:
  vision:
    gemini:
      api_key: file-vision-key
      model_name: gemini-2.0-flash
  text:
    deepseek:
      api_key: file-text-key
frames:
  frame_interval: 5s
  vision_batch_size: 8
pipeline:
  max_concurrency: 4
  failure_policy: abort
  provider_fallback: true
  cancel_grace: 2s
narration:
  max_tokens: 400
  target_duration: 35s
server:
  addr: ":9000"
  api_keys:
    - key-one
    - key-two
`

func TestLoadFromYAML(t *testing.T) {
	path := writeConfigFile(t, sampleYAML)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.App.VisionLLMProvider)
	assert.Equal(t, "deepseek", cfg.App.TextLLMProvider)
	assert.Equal(t, "file-vision-key", cfg.Providers.Vision["gemini"].APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.Providers.Vision["gemini"].ModelName)
	assert.Equal(t, 5*time.Second, cfg.Frames.FrameInterval)
	assert.Equal(t, 8, cfg.Frames.VisionBatchSize)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, "abort", cfg.Pipeline.FailurePolicy)
	assert.True(t, cfg.Pipeline.ProviderFallback)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.CancelGrace)
	assert.Equal(t, 400, cfg.Narration.MaxTokens)
	assert.Equal(t, 35*time.Second, cfg.Narration.TargetDuration)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Server.APIKeys)

	// 文件未覆盖的键保持默认值
	assert.Equal(t, "best_effort", DefaultPipelineConfig().FailurePolicy)
	assert.Equal(t, 3, cfg.Pipeline.Retry.MaxAttempts)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, sampleYAML)

	t.Setenv("NARRAFLOW_NARRATION_MAX_TOKENS", "600")
	t.Setenv("NARRAFLOW_FRAMES_FRAME_INTERVAL", "7s")
	t.Setenv("NARRAFLOW_PIPELINE_FAILURE_POLICY", "best_effort")
	t.Setenv("NARRAFLOW_PROXY_ENABLED", "true")
	t.Setenv("NARRAFLOW_PROXY_HTTP", "http://127.0.0.1:7890")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 600, cfg.Narration.MaxTokens)
	assert.Equal(t, 7*time.Second, cfg.Frames.FrameInterval)
	assert.Equal(t, "best_effort", cfg.Pipeline.FailurePolicy)
	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, "http://127.0.0.1:7890", cfg.Proxy.HTTP)
}

func TestEnvProviderProfiles(t *testing.T) {
	t.Setenv("NARRAFLOW_PROVIDERS_VISION_GEMINI_API_KEY", "env-vision-key")
	t.Setenv("NARRAFLOW_PROVIDERS_TEXT_DEEPSEEK_API_KEY", "env-text-key")
	t.Setenv("NARRAFLOW_PROVIDERS_TEXT_DEEPSEEK_MODEL_NAME", "deepseek-reasoner")
	t.Setenv("NARRAFLOW_PROVIDERS_TEXT_DEEPSEEK_BASE_URL", "https://example.com/v1")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	vision, ok := cfg.Profile(types.RoleVision, "gemini")
	require.True(t, ok)
	assert.Equal(t, "env-vision-key", vision.APIKey)
	assert.True(t, vision.Configured())

	text, ok := cfg.Profile(types.RoleText, "deepseek")
	require.True(t, ok)
	assert.Equal(t, "env-text-key", text.APIKey)
	assert.Equal(t, "deepseek-reasoner", text.ModelName)
	assert.Equal(t, "https://example.com/v1", text.BaseURL)
}

func TestEnvProviderProfilesMergeWithYAML(t *testing.T) {
	path := writeConfigFile(t, sampleYAML)
	t.Setenv("NARRAFLOW_PROVIDERS_VISION_GEMINI_API_KEY", "rotated-key")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	// 环境变量只覆盖 api_key，文件里的 model_name 保留
	profile := cfg.Providers.Vision["gemini"]
	assert.Equal(t, "rotated-key", profile.APIKey)
	assert.Equal(t, "gemini-2.0-flash", profile.ModelName)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		SkipValidation().
		Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultFramesConfig(), cfg.Frames)
	assert.Equal(t, DefaultPipelineConfig(), cfg.Pipeline)
}

func TestMalformedYAMLFails(t *testing.T) {
	path := writeConfigFile(t, "app: [not a mapping")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestLoadRunsCustomValidators(t *testing.T) {
	path := writeConfigFile(t, sampleYAML)

	_, err := NewLoader().
		WithConfigPath(path).
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing vision provider",
			mutate:  func(c *Config) { c.App.VisionLLMProvider = "" },
			wantMsg: "app.vision_llm_provider is required",
		},
		{
			name:    "unknown provider id",
			mutate:  func(c *Config) { c.App.VisionLLMProvider = "acme" },
			wantMsg: "not a known provider",
		},
		{
			name:    "provider lacks role",
			mutate:  func(c *Config) { c.App.VisionLLMProvider = "deepseek" },
			wantMsg: "does not serve the vision role",
		},
		{
			name: "provider not defined",
			mutate: func(c *Config) {
				delete(c.Providers.Vision, "gemini")
			},
			wantMsg: "is not defined under providers.vision",
		},
		{
			name: "empty api key",
			mutate: func(c *Config) {
				c.Providers.Vision["gemini"] = ProviderProfile{}
			},
			wantMsg: "providers.vision.gemini.api_key is empty",
		},
		{
			name:    "zero frame interval",
			mutate:  func(c *Config) { c.Frames.FrameInterval = 0 },
			wantMsg: "frames.frame_interval must be positive",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Frames.VisionBatchSize = 0 },
			wantMsg: "frames.vision_batch_size must be positive",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Pipeline.MaxConcurrency = 0 },
			wantMsg: "pipeline.max_concurrency must be at least 1",
		},
		{
			name:    "bad failure policy",
			mutate:  func(c *Config) { c.Pipeline.FailurePolicy = "retry_forever" },
			wantMsg: "pipeline.failure_policy must be abort or best_effort",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Pipeline.Retry.MaxAttempts = 0 },
			wantMsg: "pipeline.retry.max_attempts must be at least 1",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Narration.Temperature = 2.5 },
			wantMsg: "narration.temperature",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantMsg: "log.level",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" },
			wantMsg: "database.dsn is required",
		},
		{
			name:    "unknown database driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantMsg: "database.driver must be sqlite or postgres",
		},
		{
			name:    "jwt without secret",
			mutate:  func(c *Config) { c.Server.JWT.Enabled = true },
			wantMsg: "server.jwt.secret is required",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantMsg: "telemetry.sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.True(t, types.IsCode(err, types.ErrInvalidConfig))
		})
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestProfileUnknownRole(t *testing.T) {
	_, ok := validConfig().Profile(types.Role("audio"), "gemini")
	assert.False(t, ok)
}
