package quick

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/pipeline"
)

func TestNewRequiresProviders(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vision provider is required")

	_, err = New(WithVision("gemini"), WithVisionKey("k"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text provider is required")
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(WithVision("no-such-backend"), WithText("deepseek"), WithTextKey("k"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown vision provider "no-such-backend"`)
}

func TestNewRejectsRoleMismatch(t *testing.T) {
	// deepseek 只支持文本角色
	_, err := New(
		WithVision("deepseek"), WithVisionKey("k"),
		WithText("deepseek"), WithTextKey("k"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `does not support vision`)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := New(WithVision("gemini"), WithText("deepseek"), WithTextKey("k"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestNewReadsKeyFromEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("DEEPSEEK_API_KEY", "env-key")

	orch, err := New(WithVision("gemini"), WithText("deepseek"))
	require.NoError(t, err)
	require.NotNil(t, orch)
	assert.NotNil(t, orch.Hub())
	assert.NotNil(t, orch.Store())
}

func TestNewWithExplicitKeys(t *testing.T) {
	orch, err := New(
		WithVision("openai"), WithVisionKey("sk-vision"),
		WithText("openai"), WithTextKey("sk-text"),
		WithVisionModel("gpt-4o-mini"),
		WithVisionPrompt("describe the scene"),
		WithNarrationPrompt("write a script"),
	)
	require.NoError(t, err)
	require.NotNil(t, orch)
}

func TestNewWithPipelineConfig(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.VisionProvider = "gemini"
	cfg.TextProvider = "deepseek"
	cfg.BatchSize = 8

	orch, err := New(
		WithPipeline(cfg),
		WithVisionKey("k1"), WithTextKey("k2"),
	)
	require.NoError(t, err)
	require.NotNil(t, orch)
}

func TestNewWithPrebuiltRegistry(t *testing.T) {
	registry := llm.NewProviderRegistry(nil)

	// 预置注册表时跳过 key 校验，但仍需指明活跃 Provider
	orch, err := New(
		WithRegistry(registry),
		WithVision("gemini"),
		WithText("deepseek"),
	)
	require.NoError(t, err)
	require.NotNil(t, orch)
}
