// Package narration aggregates ordered batch descriptions into a single
// narration script through a resolved text provider. Failed batches are
// skipped, not retried here; the caller decides whether a partial input
// is acceptable before calling Generate.
package narration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/internal/metrics"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/llm/retry"
	"github.com/BaSui01/narraflow/llm/tokenizer"
	"github.com/BaSui01/narraflow/types"
)

// DefaultPrompt 是解说生成的默认系统提示词。调用方可以用配置覆盖。
const DefaultPrompt = "你是一名短视频解说文案作者。根据按时间顺序给出的画面描述，" +
	"写一段连贯、口语化的中文解说词。直接输出解说正文，" +
	"不要标题，不要时间标记，不要分段编号。"

// secondsPerWord 中文口播的近似语速，用于从目标时长推导字数预算。
const secondsPerWord = 0.35

const (
	defaultMaxTokens   = 500
	defaultTemperature = 0.7
	defaultTopP        = 0.9
)

// Config 控制解说生成的提示词、生成参数与字数预算。
// TargetDuration 大于零时按语速折算严格字数要求写进提示词。
type Config struct {
	Prompt         string        `yaml:"prompt" json:"prompt"`
	Model          string        `yaml:"model" json:"model"`
	MaxTokens      int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature    float32       `yaml:"temperature" json:"temperature"`
	TopP           float32       `yaml:"top_p" json:"top_p"`
	TargetDuration time.Duration `yaml:"target_duration" json:"target_duration"`
}

// Generator 将批次描述聚合为解说词。Provider 在运行开始时解析一次。
type Generator struct {
	provider  llm.Provider
	policy    *retry.RetryPolicy
	cfg       Config
	counter   tokenizer.Tokenizer
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewGenerator 创建解说生成器。policy 为 nil 时使用默认重试策略。
func NewGenerator(provider llm.Provider, policy *retry.RetryPolicy, cfg Config, logger *zap.Logger) *Generator {
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
		policy.Retryable = types.IsRetryable
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.TopP == 0 {
		cfg.TopP = defaultTopP
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		provider: provider,
		policy:   policy,
		cfg:      cfg,
		counter:  tokenizer.ForModel(cfg.Model),
		logger:   logger.With(zap.String("component", "narration")),
	}
}

// WithMetrics 启用指标采集。
func (g *Generator) WithMetrics(m *metrics.Collector) *Generator {
	g.collector = m
	return g
}

// Generate 聚合批次描述并生成解说词。输入顺序无关紧要：描述先按
// 批次序号排序再拼装提示词。没有任何成功描述时返回 AGGREGATION 错误。
func (g *Generator) Generate(ctx context.Context, descs []types.BatchDescription) (*types.NarrationResult, error) {
	ordered, failed := partition(descs)
	if len(ordered) == 0 {
		return nil, types.NewError(types.ErrAggregation,
			fmt.Sprintf("没有可用的批次描述（%d 个批次全部失败），无法生成解说", len(failed)))
	}

	prompt := g.buildPrompt(ordered)
	promptTokens := g.countTokens(g.cfg.Prompt) + g.countTokens(prompt)

	req := &llm.ChatRequest{
		Model: g.cfg.Model,
		Messages: []llm.Message{
			llm.NewSystemMessage(g.cfg.Prompt),
			llm.NewUserMessage(prompt),
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		TopP:        g.cfg.TopP,
	}

	began := time.Now()
	attempts := 0
	retryer := retry.NewBackoffRetryer(g.policy, g.logger)
	resp, err := retry.DoWithResultTyped(retryer, ctx, func() (*llm.ChatResponse, error) {
		attempts++
		if attempts > 1 && g.collector != nil {
			g.collector.RecordLLMRetry(g.provider.Name(), string(types.RoleText))
		}
		return g.provider.Completion(ctx, req)
	})
	elapsed := time.Since(began)

	if err != nil {
		if g.collector != nil {
			g.collector.RecordLLMRequest(g.provider.Name(), g.cfg.Model, string(types.RoleText), "failure", elapsed, 0, 0)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, types.WrapError(types.ErrRunCancelled, "解说生成被取消", err).
				WithProvider(g.provider.Name())
		}
		return nil, types.WrapError(types.ErrGenerationFailed,
			fmt.Sprintf("解说生成在 %d 次尝试后失败", attempts), err).
			WithProvider(g.provider.Name())
	}

	script := strings.TrimSpace(resp.Text)
	if script == "" {
		if g.collector != nil {
			g.collector.RecordLLMRequest(g.provider.Name(), g.cfg.Model, string(types.RoleText), "failure", elapsed, 0, 0)
		}
		return nil, types.NewError(types.ErrGenerationFailed, "文本 Provider 返回了空解说").
			WithProvider(g.provider.Name())
	}

	result := &types.NarrationResult{
		Script:        script,
		Providers:     contributors(ordered, g.provider.Name()),
		FailedBatches: failed,
		PromptTokens:  resp.Usage.PromptTokens,
		OutputTokens:  resp.Usage.CompletionTokens,
	}
	// 部分兼容端点不回传用量，本地计数兜底。
	if result.PromptTokens == 0 {
		result.PromptTokens = promptTokens
	}
	if result.OutputTokens == 0 {
		result.OutputTokens = g.countTokens(script)
	}

	g.logger.Info("解说生成完成",
		zap.Int("segments", len(ordered)),
		zap.Int("failed_batches", len(failed)),
		zap.Int("script_chars", len([]rune(script))),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
	)
	if g.collector != nil {
		g.collector.RecordLLMRequest(g.provider.Name(), g.cfg.Model, string(types.RoleText), "success",
			elapsed, result.PromptTokens, result.OutputTokens)
	}

	return result, nil
}

// WordBudget 返回目标时长折算出的字数预算，未配置时长时为 0。
func (g *Generator) WordBudget() int {
	if g.cfg.TargetDuration <= 0 {
		return 0
	}
	return int(g.cfg.TargetDuration.Seconds() / secondsPerWord)
}

// buildPrompt 把已排序的描述拼装为用户提示词：每段带时间范围锚点，
// 末尾附加字数预算。同一组描述无论以什么顺序传入，产出完全一致。
func (g *Generator) buildPrompt(ordered []types.BatchDescription) string {
	var b strings.Builder
	b.WriteString("以下是视频各时间段的画面描述：\n\n")
	for _, d := range ordered {
		fmt.Fprintf(&b, "[%s - %s] %s\n",
			types.FormatOffset(d.StartOffset),
			types.FormatOffset(d.EndOffset),
			strings.TrimSpace(d.Text),
		)
	}
	if budget := g.WordBudget(); budget > 0 {
		fmt.Fprintf(&b, "\n严格字数要求：%d字，允许误差±5字。", budget)
	}
	b.WriteString("\n请输出完整的解说文案。")
	return b.String()
}

func (g *Generator) countTokens(text string) int {
	n, err := g.counter.CountTokens(text)
	if err != nil {
		g.logger.Debug("token 计数失败", zap.Error(err))
		return 0
	}
	return n
}

// partition 把描述分成按批次序号排序的成功集合和失败批次序号列表。
func partition(descs []types.BatchDescription) ([]types.BatchDescription, []int) {
	ordered := make([]types.BatchDescription, 0, len(descs))
	var failed []int
	for _, d := range descs {
		if d.Success && strings.TrimSpace(d.Text) != "" {
			ordered = append(ordered, d)
			continue
		}
		failed = append(failed, d.BatchIndex)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].BatchIndex < ordered[j].BatchIndex })
	sort.Ints(failed)
	return ordered, failed
}

// contributors 收集参与本次解说的 Provider：先是产出描述的视觉
// Provider（按首次出现顺序去重），最后是文本 Provider 自己。
func contributors(ordered []types.BatchDescription, textProvider string) []string {
	seen := make(map[string]struct{}, 2)
	out := make([]string, 0, 2)
	for _, d := range ordered {
		if d.Provider == "" {
			continue
		}
		if _, ok := seen[d.Provider]; ok {
			continue
		}
		seen[d.Provider] = struct{}{}
		out = append(out, d.Provider)
	}
	if _, ok := seen[textProvider]; !ok && textProvider != "" {
		out = append(out, textProvider)
	}
	return out
}
