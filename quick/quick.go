// =============================================================================
// Package quick — One-Call Pipeline Construction
// =============================================================================
// Provides a convenience entry point for building a narration pipeline with
// minimal boilerplate. Delegates to llm.ProviderRegistry and
// pipeline.NewOrchestrator internally.
//
// The package lives under quick/ (not root) so the root package can stay a
// pure re-export surface without pulling construction logic into every import.
//
// Usage:
//
//	import "github.com/BaSui01/narraflow/quick"
//
//	orch, err := quick.New(quick.WithVision("gemini"), quick.WithText("deepseek"))
//	orch, err := quick.New(
//		quick.WithVision("openai"), quick.WithVisionKey("sk-..."),
//		quick.WithText("openai"), quick.WithTextKey("sk-..."),
//	)
//
// =============================================================================
package quick

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/internal/transport"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/narration"
	"github.com/BaSui01/narraflow/pipeline"
	"github.com/BaSui01/narraflow/providers"
	"github.com/BaSui01/narraflow/types"
	"github.com/BaSui01/narraflow/vision"
)

// Option configures the orchestrator created by New.
type Option func(*options)

type options struct {
	visionID    string
	visionKey   string
	visionModel string
	textID      string
	textKey     string
	textModel   string

	visionPrompt    string
	narrationPrompt string

	pipeline *pipeline.Config
	proxy    types.ProxyConfig
	registry *llm.ProviderRegistry
	logger   *zap.Logger
}

// WithVision selects the active vision provider by catalog id.
// API key is read from the provider's environment variable (e.g.
// GEMINI_API_KEY for "gemini") unless WithVisionKey is given.
func WithVision(id string) Option {
	return func(o *options) { o.visionID = id }
}

// WithText selects the active text provider by catalog id.
// API key is read from the provider's environment variable unless
// WithTextKey is given.
func WithText(id string) Option {
	return func(o *options) { o.textID = id }
}

// WithVisionKey overrides the vision provider API key.
func WithVisionKey(key string) Option {
	return func(o *options) { o.visionKey = key }
}

// WithTextKey overrides the text provider API key.
func WithTextKey(key string) Option {
	return func(o *options) { o.textKey = key }
}

// WithVisionModel overrides the vision model name. Defaults to the
// catalog default for the selected provider.
func WithVisionModel(model string) Option {
	return func(o *options) { o.visionModel = model }
}

// WithTextModel overrides the text model name.
func WithTextModel(model string) Option {
	return func(o *options) { o.textModel = model }
}

// WithVisionPrompt overrides the per-batch description prompt.
func WithVisionPrompt(prompt string) Option {
	return func(o *options) { o.visionPrompt = prompt }
}

// WithNarrationPrompt overrides the script generation prompt.
func WithNarrationPrompt(prompt string) Option {
	return func(o *options) { o.narrationPrompt = prompt }
}

// WithPipeline replaces the default pipeline configuration (sampling
// interval, batch size, concurrency, failure policy).
func WithPipeline(cfg pipeline.Config) Option {
	return func(o *options) { o.pipeline = &cfg }
}

// WithProxy routes provider traffic through the given proxy.
func WithProxy(proxy types.ProxyConfig) Option {
	return func(o *options) { o.proxy = proxy }
}

// WithRegistry sets a pre-built provider registry. Provider and key
// shortcuts are skipped; WithVision and WithText still select which
// registered profiles are active.
func WithRegistry(reg *llm.ProviderRegistry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a pipeline.Orchestrator with minimal configuration.
// At minimum, a vision and a text provider must be selected via
// WithVision and WithText (or named in a WithPipeline config).
func New(opts ...Option) (*pipeline.Orchestrator, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	cfg := pipeline.DefaultConfig()
	if o.pipeline != nil {
		cfg = *o.pipeline
	}
	if o.visionID != "" {
		cfg.VisionProvider = o.visionID
	}
	if o.textID != "" {
		cfg.TextProvider = o.textID
	}
	if cfg.VisionProvider == "" {
		return nil, fmt.Errorf("vision provider is required: use WithVision")
	}
	if cfg.TextProvider == "" {
		return nil, fmt.Errorf("text provider is required: use WithText")
	}

	registry := o.registry
	if registry == nil {
		client, err := transport.NewHTTPClient(o.proxy, 0)
		if err != nil {
			return nil, fmt.Errorf("create HTTP client: %w", err)
		}
		registry = llm.NewProviderRegistry(providers.NewConstructor(client, o.logger))

		if err := registerQuickProfile(registry, types.RoleVision, cfg.VisionProvider, o.visionKey, o.visionModel); err != nil {
			return nil, err
		}
		if err := registerQuickProfile(registry, types.RoleText, cfg.TextProvider, o.textKey, o.textModel); err != nil {
			return nil, err
		}
	}

	orch := pipeline.NewOrchestrator(registry, cfg, o.logger)
	if o.visionPrompt != "" {
		orch.WithVision(vision.Config{Prompt: o.visionPrompt})
	}
	if o.narrationPrompt != "" {
		orch.WithNarration(narration.Config{Prompt: o.narrationPrompt})
	}
	return orch, nil
}

// registerQuickProfile validates the catalog id and registers a profile
// for it, resolving the API key from the option or the environment.
func registerQuickProfile(registry *llm.ProviderRegistry, role types.Role, id, key, model string) error {
	spec, ok := providers.Lookup(id)
	if !ok {
		return fmt.Errorf("unknown %s provider %q: valid ids are %s", role, id, strings.Join(providers.IDs(), ", "))
	}
	if !spec.Supports(role) {
		return fmt.Errorf("provider %q does not support %s", id, role)
	}
	if key == "" {
		key = os.Getenv(apiKeyEnv(id))
	}
	if key == "" {
		return fmt.Errorf("API key is required for %s: set %s or pass it explicitly", id, apiKeyEnv(id))
	}
	registry.Register(llm.ProviderProfile{
		ID:     id,
		Role:   role,
		APIKey: key,
		Model:  model,
	})
	return nil
}

// apiKeyEnv maps a catalog id to its conventional API key variable.
func apiKeyEnv(id string) string {
	switch id {
	case "qwen", "qwenvl":
		// DashScope 系列共用一把钥匙。
		return "DASHSCOPE_API_KEY"
	}
	return strings.ToUpper(id) + "_API_KEY"
}
