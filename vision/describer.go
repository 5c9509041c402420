// Package vision turns frame batches into textual descriptions through a
// resolved vision provider. A batch that keeps failing is reported as a
// failed description record; it never aborts sibling batches.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/internal/cache"
	"github.com/BaSui01/narraflow/internal/metrics"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/llm/retry"
	"github.com/BaSui01/narraflow/types"
)

// DefaultPrompt 是批次描述的默认提示词。调用方可以用配置覆盖。
const DefaultPrompt = "以下是一组按时间顺序排列的视频关键帧。" +
	"请按顺序描述画面中发生的事件、场景与人物动作，" +
	"合并为一段连贯的中文画面描述，不要编号，不要逐帧罗列。"

// Config 控制单个批次请求的生成参数与缓存行为。
type Config struct {
	Prompt      string        `yaml:"prompt" json:"prompt"`
	Model       string        `yaml:"model" json:"model"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature float32       `yaml:"temperature" json:"temperature"`
	TopP        float32       `yaml:"top_p" json:"top_p"`
	CacheTTL    time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// Describer 为一个已解析的视觉 Provider 描述帧批次。
// Provider 在运行开始时解析一次，之后所有批次共享。
type Describer struct {
	provider  llm.Provider
	policy    *retry.RetryPolicy
	cfg       Config
	cache     *cache.Manager
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewDescriber 创建批次描述器。policy 为 nil 时使用默认重试策略。
func NewDescriber(provider llm.Provider, policy *retry.RetryPolicy, cfg Config, logger *zap.Logger) *Describer {
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
		policy.Retryable = types.IsRetryable
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Describer{
		provider: provider,
		policy:   policy,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "vision")),
	}
}

// WithCache 启用描述缓存。
func (d *Describer) WithCache(c *cache.Manager) *Describer {
	d.cache = c
	return d
}

// WithMetrics 启用指标采集。
func (d *Describer) WithMetrics(m *metrics.Collector) *Describer {
	d.collector = m
	return d
}

// Describe 描述一个帧批次。失败被捕获进返回的记录
// （Success=false + 错误码），不向上抛出，调用方据此统计部分失败。
func (d *Describer) Describe(ctx context.Context, batch types.FrameBatch) types.BatchDescription {
	start, end := batch.Span()
	desc := types.BatchDescription{
		BatchIndex:  batch.Index,
		Provider:    d.provider.Name(),
		Model:       d.cfg.Model,
		StartOffset: start,
		EndOffset:   end,
	}

	began := time.Now()

	var key string
	if d.cache != nil {
		key = cache.DescriptionKey(d.provider.Name(), d.cfg.Model, d.cfg.Prompt, batch)
		var cached types.BatchDescription
		err := d.cache.GetJSON(ctx, key, &cached)
		switch {
		case err == nil:
			d.logger.Debug("批次描述缓存命中", zap.Int("batch_index", batch.Index))
			if d.collector != nil {
				d.collector.RecordCacheHit("description")
				d.collector.RecordBatch(d.provider.Name(), "cached", time.Since(began))
			}
			return cached
		case cache.IsCacheMiss(err):
			if d.collector != nil {
				d.collector.RecordCacheMiss("description")
			}
		default:
			d.logger.Warn("批次描述缓存读取失败", zap.Error(err))
		}
	}

	req := d.buildRequest(batch)

	attempts := 0
	retryer := retry.NewBackoffRetryer(d.policy, d.logger)
	resp, err := retry.DoWithResultTyped(retryer, ctx, func() (*llm.ChatResponse, error) {
		attempts++
		if attempts > 1 && d.collector != nil {
			d.collector.RecordLLMRetry(d.provider.Name(), string(types.RoleVision))
		}
		return d.provider.Completion(ctx, req)
	})
	desc.Attempts = attempts
	elapsed := time.Since(began)

	if err != nil {
		code := types.GetErrorCode(err)
		if errors.Is(err, context.Canceled) {
			code = types.ErrRunCancelled
		}
		if code == "" {
			code = types.ErrInternal
		}
		desc.Success = false
		desc.Error = err.Error()
		desc.ErrorCode = code

		d.logger.Warn("批次描述失败",
			zap.Int("batch_index", batch.Index),
			zap.Int("attempts", attempts),
			zap.String("error_code", string(code)),
			zap.Error(err),
		)
		if d.collector != nil {
			d.collector.RecordBatch(d.provider.Name(), "failure", elapsed)
			d.collector.RecordLLMRequest(d.provider.Name(), d.cfg.Model, string(types.RoleVision), "failure", elapsed, 0, 0)
		}
		return desc
	}

	desc.Success = true
	desc.Text = resp.Text
	if resp.Model != "" {
		desc.Model = resp.Model
	}

	d.logger.Info("批次描述完成",
		zap.Int("batch_index", batch.Index),
		zap.Int("frames", len(batch.Frames)),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
	)
	if d.collector != nil {
		d.collector.RecordBatch(d.provider.Name(), "success", elapsed)
		d.collector.RecordLLMRequest(d.provider.Name(), desc.Model, string(types.RoleVision), "success",
			elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	if d.cache != nil {
		if err := d.cache.SetJSON(ctx, key, desc, d.cfg.CacheTTL); err != nil {
			d.logger.Warn("批次描述缓存写入失败", zap.Error(err))
		}
	}

	return desc
}

// buildRequest 组装一次视觉请求：提示词 + 时间段锚点在前，帧图像按
// 原始顺序在后。
func (d *Describer) buildRequest(batch types.FrameBatch) *llm.ChatRequest {
	start, end := batch.Span()

	parts := make([]llm.Part, 0, len(batch.Frames)+1)
	parts = append(parts, llm.NewTextPart(fmt.Sprintf(
		"%s\n\n这组关键帧来自视频 %s 至 %s 的片段。",
		d.cfg.Prompt, types.FormatOffset(start), types.FormatOffset(end),
	)))
	for _, f := range batch.Frames {
		parts = append(parts, llm.NewImagePart(f.Data, f.MIME))
	}

	return &llm.ChatRequest{
		Model:       d.cfg.Model,
		Messages:    []llm.Message{llm.NewMultimodalMessage(parts...)},
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
		TopP:        d.cfg.TopP,
	}
}
