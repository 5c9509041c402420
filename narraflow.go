// Package narraflow provides a top-level convenience entry point for creating
// narration pipelines with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/narraflow"
//
//	orch, err := narraflow.New(narraflow.WithVision("gemini"), narraflow.WithText("deepseek"))
//	orch, err := narraflow.New(
//		narraflow.WithVision("openai"), narraflow.WithVisionKey("sk-..."),
//		narraflow.WithText("openai"), narraflow.WithTextKey("sk-..."),
//	)
//
// This is a thin wrapper around [quick.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package narraflow

import (
	"github.com/BaSui01/narraflow/pipeline"
	"github.com/BaSui01/narraflow/quick"
)

// Option configures the orchestrator created by [New].
type Option = quick.Option

// New creates a [pipeline.Orchestrator] with minimal configuration.
// At minimum, a vision and a text provider must be selected via
// [WithVision] and [WithText] (or named in a [WithPipeline] config).
func New(opts ...Option) (*pipeline.Orchestrator, error) {
	return quick.New(opts...)
}

// Re-export option shortcuts so callers never need to import quick/.

// WithVision selects the active vision provider by catalog id.
var WithVision = quick.WithVision

// WithText selects the active text provider by catalog id.
var WithText = quick.WithText

// WithVisionKey overrides the vision provider API key.
var WithVisionKey = quick.WithVisionKey

// WithTextKey overrides the text provider API key.
var WithTextKey = quick.WithTextKey

// WithVisionModel overrides the vision model name.
var WithVisionModel = quick.WithVisionModel

// WithTextModel overrides the text model name.
var WithTextModel = quick.WithTextModel

// WithVisionPrompt overrides the per-batch description prompt.
var WithVisionPrompt = quick.WithVisionPrompt

// WithNarrationPrompt overrides the script generation prompt.
var WithNarrationPrompt = quick.WithNarrationPrompt

// WithPipeline replaces the default pipeline configuration.
var WithPipeline = quick.WithPipeline

// WithProxy routes provider traffic through the given proxy.
var WithProxy = quick.WithProxy

// WithRegistry sets a pre-built provider registry.
var WithRegistry = quick.WithRegistry

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger
