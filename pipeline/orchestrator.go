// Package pipeline drives a run end to end: sample keyframes, batch
// them, describe batches through a vision provider with bounded
// concurrency, aggregate the ordered results, and generate the final
// narration script through a text provider. Run state transitions are
// persisted to the state store and published to the event hub.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/narraflow/frames"
	"github.com/BaSui01/narraflow/internal/cache"
	"github.com/BaSui01/narraflow/internal/metrics"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/llm/retry"
	"github.com/BaSui01/narraflow/narration"
	"github.com/BaSui01/narraflow/pipeline/state"
	"github.com/BaSui01/narraflow/types"
	"github.com/BaSui01/narraflow/vision"
)

// FailurePolicy 决定部分批次失败时整次运行的走向。
type FailurePolicy string

const (
	// FailAbort 任一批次失败即终止整次运行。
	FailAbort FailurePolicy = "abort"
	// FailBestEffort 仅用成功批次继续生成解说，失败批次记录在案。
	FailBestEffort FailurePolicy = "best_effort"
)

// Valid reports whether the policy is a known value.
func (p FailurePolicy) Valid() bool {
	return p == FailAbort || p == FailBestEffort
}

// Config 控制一次运行的采样、并发与失败策略。
type Config struct {
	VisionProvider   string        `yaml:"vision_provider" json:"vision_provider"`
	TextProvider     string        `yaml:"text_provider" json:"text_provider"`
	FrameInterval    time.Duration `yaml:"frame_interval" json:"frame_interval"`
	BatchSize        int           `yaml:"batch_size" json:"batch_size"`
	MaxConcurrency   int           `yaml:"max_concurrency" json:"max_concurrency"`
	FailurePolicy    FailurePolicy `yaml:"failure_policy" json:"failure_policy"`
	ProviderFallback bool          `yaml:"provider_fallback" json:"provider_fallback"`
	CancelGrace      time.Duration `yaml:"cancel_grace" json:"cancel_grace"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst   int           `yaml:"rate_limit_burst" json:"rate_limit_burst"`
}

// DefaultConfig 返回默认流水线配置。
func DefaultConfig() Config {
	return Config{
		FrameInterval:  3 * time.Second,
		BatchSize:      5,
		MaxConcurrency: 3,
		FailurePolicy:  FailBestEffort,
		CancelGrace:    5 * time.Second,
	}
}

// Input 描述一次运行的输入。Frames 优先；为空时从 FramesDir 读取。
// Provider 与失败策略字段留空则使用编排器默认值。
type Input struct {
	RunID          string
	VideoID        string
	Frames         []types.Frame
	FramesDir      string
	VisionProvider string
	TextProvider   string
	FailurePolicy  FailurePolicy
}

// Recorder 在运行进入终态时持久化历史。由 runstore 实现。
type Recorder interface {
	SaveRun(ctx context.Context, run *types.Run, result *types.NarrationResult) error
}

// 合法的状态推进关系。Failed 可以从任何非终态进入。
var transitions = map[types.RunState][]types.RunState{
	types.RunStatePending:     {types.RunStateSampling},
	types.RunStateSampling:    {types.RunStateBatching},
	types.RunStateBatching:    {types.RunStateDescribing},
	types.RunStateDescribing:  {types.RunStateAggregating},
	types.RunStateAggregating: {types.RunStateGenerating},
	types.RunStateGenerating:  {types.RunStateDone},
}

// canTransition reports whether the state machine allows from → to.
func canTransition(from, to types.RunState) bool {
	if to == types.RunStateFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// stateProgress 是进入各状态时的进度权重。Describing 阶段的进度按
// 完成批次在 20 到 60 之间插值。
var stateProgress = map[types.RunState]int{
	types.RunStatePending:     types.ProgressSampling,
	types.RunStateSampling:    types.ProgressSampling,
	types.RunStateBatching:    types.ProgressBatching,
	types.RunStateDescribing:  types.ProgressBatching,
	types.RunStateAggregating: types.ProgressDescribed,
	types.RunStateGenerating:  types.ProgressGenerated,
	types.RunStateDone:        types.ProgressDone,
}

// Orchestrator 驱动运行状态机。Provider 在每次运行开始时通过注册表
// 解析一次，解析失败的运行不会发出任何网络调用。
type Orchestrator struct {
	registry  *llm.ProviderRegistry
	cfg       Config
	visionCfg vision.Config
	narrCfg   narration.Config
	policy    *retry.RetryPolicy
	store     state.Store
	hub       *Hub
	cache     *cache.Manager
	recorder  Recorder
	collector *metrics.Collector
	limiter   *rate.Limiter
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewOrchestrator 创建编排器。未注入状态存储时使用内存实现。
func NewOrchestrator(registry *llm.ProviderRegistry, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if !cfg.FailurePolicy.Valid() {
		cfg.FailurePolicy = FailBestEffort
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		registry: registry,
		cfg:      cfg,
		store:    state.NewMemoryStore(),
		hub:      NewHub(logger),
		tracer:   otel.Tracer("narraflow/pipeline"),
		logger:   logger.With(zap.String("component", "pipeline")),
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return o
}

// WithStore 替换运行状态存储。
func (o *Orchestrator) WithStore(s state.Store) *Orchestrator {
	if s != nil {
		o.store = s
	}
	return o
}

// WithHub 替换事件中心。
func (o *Orchestrator) WithHub(h *Hub) *Orchestrator {
	if h != nil {
		o.hub = h
	}
	return o
}

// WithCache 启用批次描述缓存。
func (o *Orchestrator) WithCache(c *cache.Manager) *Orchestrator {
	o.cache = c
	return o
}

// WithRecorder 启用终态运行的历史持久化。
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// WithMetrics 启用指标采集。
func (o *Orchestrator) WithMetrics(m *metrics.Collector) *Orchestrator {
	o.collector = m
	return o
}

// WithVision 覆盖视觉描述配置。
func (o *Orchestrator) WithVision(cfg vision.Config) *Orchestrator {
	o.visionCfg = cfg
	return o
}

// WithNarration 覆盖解说生成配置。
func (o *Orchestrator) WithNarration(cfg narration.Config) *Orchestrator {
	o.narrCfg = cfg
	return o
}

// WithRetryPolicy 覆盖共享重试策略。
func (o *Orchestrator) WithRetryPolicy(p *retry.RetryPolicy) *Orchestrator {
	o.policy = p
	return o
}

// Hub 返回事件中心，供 API 层订阅。
func (o *Orchestrator) Hub() *Hub { return o.hub }

// Store 返回运行状态存储。
func (o *Orchestrator) Store() state.Store { return o.store }

// Execute 执行一次完整运行。返回的 Run 总是反映终态；err 非 nil 时
// 运行进入 Failed 且 FailureReason 已写入存储。
func (o *Orchestrator) Execute(ctx context.Context, input Input) (*types.Run, *types.NarrationResult, error) {
	run := o.newRun(input)
	ctx = types.WithRunID(ctx, run.ID)

	ctx, span := o.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.video_id", run.VideoID),
		attribute.String("run.vision_provider", run.VisionProvider),
		attribute.String("run.text_provider", run.TextProvider),
	))
	defer span.End()

	began := time.Now()
	logger := o.logger.With(zap.String("run_id", run.ID))
	logger.Info("运行开始",
		zap.String("video_id", run.VideoID),
		zap.String("vision_provider", run.VisionProvider),
		zap.String("text_provider", run.TextProvider),
	)

	// Pending 先落库，观察者立刻可见。首次写入失败直接终止。
	if err := o.store.Save(ctx, run); err != nil {
		return run, nil, types.WrapError(types.ErrInternal, "无法写入运行状态存储", err)
	}
	o.publish(run)

	result, err := o.execute(ctx, run, input, logger)
	elapsed := time.Since(began)

	if err != nil {
		o.fail(ctx, run, err, logger)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, string(types.GetErrorCode(err)))
		if o.collector != nil {
			o.collector.RecordRun(string(types.RunStateFailed), elapsed)
		}
		o.record(ctx, run, nil, logger)
		return run, nil, err
	}

	o.transition(ctx, run, types.RunStateDone, logger)
	span.SetStatus(otelcodes.Ok, "")
	if o.collector != nil {
		o.collector.RecordRun(string(types.RunStateDone), elapsed)
	}
	o.record(ctx, run, result, logger)

	logger.Info("运行完成",
		zap.Int("total_batches", run.TotalBatches),
		zap.Ints("failed_batches", run.FailedBatches),
		zap.Int("script_chars", len([]rune(run.Script))),
		zap.Duration("elapsed", elapsed),
	)
	return run, result, nil
}

// execute 驱动 Sampling 到 Generating 的各阶段，返回第一个致命错误。
func (o *Orchestrator) execute(ctx context.Context, run *types.Run, input Input, logger *zap.Logger) (*types.NarrationResult, error) {
	if err := o.transition(ctx, run, types.RunStateSampling, logger); err != nil {
		return nil, err
	}

	// Provider 解析先于一切网络调用，配置错误立刻终止运行。
	visionProv, err := o.registry.Resolve(types.RoleVision, run.VisionProvider)
	if err != nil {
		return nil, err
	}
	textProv, err := o.registry.Resolve(types.RoleText, run.TextProvider)
	if err != nil {
		return nil, err
	}

	keyframes := input.Frames
	if len(keyframes) == 0 && input.FramesDir != "" {
		keyframes, err = frames.LoadDir(input.FramesDir, o.cfg.FrameInterval)
		if err != nil {
			return nil, err
		}
	}
	if len(keyframes) == 0 {
		return nil, types.NewError(types.ErrInvalidConfig, "没有可用的关键帧输入")
	}

	if err := o.transition(ctx, run, types.RunStateBatching, logger); err != nil {
		return nil, err
	}
	batches, err := frames.Batch(keyframes, o.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	run.TotalBatches = len(batches)
	o.save(ctx, run, logger)

	if err := o.transition(ctx, run, types.RunStateDescribing, logger); err != nil {
		return nil, err
	}
	descs, err := o.describeAll(ctx, run, visionProv, batches)
	if err != nil {
		return nil, err
	}

	if o.cfg.ProviderFallback {
		o.fallbackDescribe(ctx, run, batches, descs, logger)
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrRunCancelled, "运行在描述阶段被取消", ctx.Err())
		}
	}

	if err := o.transition(ctx, run, types.RunStateAggregating, logger); err != nil {
		return nil, err
	}
	failed := failedIndices(descs)
	run.FailedBatches = failed
	o.save(ctx, run, logger)

	policy := o.cfg.FailurePolicy
	if input.FailurePolicy.Valid() {
		policy = input.FailurePolicy
	}
	switch {
	case len(failed) == len(descs):
		return nil, types.NewError(types.ErrAggregation,
			fmt.Sprintf("全部 %d 个批次描述失败", len(descs))).
			WithProvider(run.VisionProvider)
	case len(failed) > 0 && policy == FailAbort:
		return nil, types.NewError(types.ErrAggregation,
			fmt.Sprintf("abort 策略下 %d/%d 个批次失败: %v", len(failed), len(descs), failed)).
			WithProvider(run.VisionProvider)
	}

	if err := o.transition(ctx, run, types.RunStateGenerating, logger); err != nil {
		return nil, err
	}
	generator := narration.NewGenerator(textProv, o.policy, o.narrCfg, o.logger)
	if o.collector != nil {
		generator = generator.WithMetrics(o.collector)
	}
	result, err := generator.Generate(ctx, descs)
	if err != nil {
		return nil, err
	}

	run.Script = result.Script
	run.FailedBatches = result.FailedBatches
	return result, nil
}

// describeAll 以有界并发描述所有批次。结果按批次序号写入固定位置，
// 与完成顺序无关。取消后不再发起新批次，在途批次获得宽限期收尾。
func (o *Orchestrator) describeAll(ctx context.Context, run *types.Run, provider llm.Provider, batches []types.FrameBatch) ([]types.BatchDescription, error) {
	describer := o.newDescriber(provider)

	descs := make([]types.BatchDescription, len(batches))
	var done atomic.Int32

	// 进度写入串行化并保持单调，完成顺序乱序时不回退。
	var progressMu sync.Mutex
	high := 0

	dctx, stop := graceContext(ctx, o.cfg.CancelGrace)
	defer stop()

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			// 父上下文取消后不再发起新的批次。
			if ctx.Err() != nil {
				descs[i] = cancelledDescription(batch, provider.Name())
				return nil
			}
			if o.limiter != nil {
				if err := o.limiter.Wait(dctx); err != nil {
					descs[i] = cancelledDescription(batch, provider.Name())
					return nil
				}
			}
			descs[i] = describer.Describe(dctx, batch)

			n := int(done.Add(1))
			progressMu.Lock()
			if n > high {
				high = n
				o.publishDescribing(ctx, run, n)
			}
			progressMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	run.DoneBatches = int(done.Load())
	if ctx.Err() != nil {
		return descs, types.WrapError(types.ErrRunCancelled, "运行在描述阶段被取消", ctx.Err())
	}
	return descs, nil
}

// fallbackDescribe 对失败批次按 ListConfigured 顺序轮询剩余视觉
// Provider，每个 Provider 对每个失败批次只补试一次。
func (o *Orchestrator) fallbackDescribe(ctx context.Context, run *types.Run, batches []types.FrameBatch, descs []types.BatchDescription, logger *zap.Logger) {
	failed := failedIndices(descs)
	if len(failed) == 0 || ctx.Err() != nil {
		return
	}

	for _, profile := range o.registry.ListConfigured(types.RoleVision) {
		if len(failed) == 0 || ctx.Err() != nil {
			return
		}
		if profile.ID == run.VisionProvider {
			continue
		}
		provider, err := o.registry.Resolve(types.RoleVision, profile.ID)
		if err != nil {
			continue
		}

		// 每个后备 Provider 对每个批次只补试一次，不再叠加重试。
		describer := o.newFallbackDescriber(provider)
		results := make([]types.BatchDescription, len(failed))
		var g errgroup.Group
		g.SetLimit(o.cfg.MaxConcurrency)
		for k, idx := range failed {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				if o.limiter != nil {
					if err := o.limiter.Wait(ctx); err != nil {
						return nil
					}
				}
				results[k] = describer.Describe(ctx, batches[idx])
				return nil
			})
		}
		_ = g.Wait()

		recovered := 0
		remaining := failed[:0]
		for k, idx := range failed {
			if results[k].Success {
				descs[idx] = results[k]
				recovered++
				continue
			}
			remaining = append(remaining, idx)
		}
		failed = remaining

		if recovered > 0 {
			logger.Info("后备 Provider 补齐失败批次",
				zap.String("provider", profile.ID),
				zap.Int("recovered", recovered),
				zap.Int("still_failed", len(failed)),
			)
		}
	}
}

func (o *Orchestrator) newDescriber(provider llm.Provider) *vision.Describer {
	return o.decorate(vision.NewDescriber(provider, o.policy, o.visionCfg, o.logger))
}

func (o *Orchestrator) newFallbackDescriber(provider llm.Provider) *vision.Describer {
	policy := o.policy
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
		policy.Retryable = types.IsRetryable
	}
	single := *policy
	single.MaxAttempts = 1
	return o.decorate(vision.NewDescriber(provider, &single, o.visionCfg, o.logger))
}

func (o *Orchestrator) decorate(describer *vision.Describer) *vision.Describer {
	if o.cache != nil {
		describer = describer.WithCache(o.cache)
	}
	if o.collector != nil {
		describer = describer.WithMetrics(o.collector)
	}
	return describer
}

func (o *Orchestrator) newRun(input Input) *types.Run {
	id := input.RunID
	if id == "" {
		id = uuid.New().String()
	}
	visionID := input.VisionProvider
	if visionID == "" {
		visionID = o.cfg.VisionProvider
	}
	textID := input.TextProvider
	if textID == "" {
		textID = o.cfg.TextProvider
	}
	return &types.Run{
		ID:             id,
		VideoID:        input.VideoID,
		VisionProvider: visionID,
		TextProvider:   textID,
		State:          types.RunStatePending,
	}
}

// transition 推进状态机：校验合法性、写存储、发事件、记指标。
// 存储写入使用不可取消的上下文，保证取消路径上的状态仍被记录。
func (o *Orchestrator) transition(ctx context.Context, run *types.Run, to types.RunState, logger *zap.Logger) error {
	from := run.State
	if !canTransition(from, to) {
		return types.NewError(types.ErrInternal,
			fmt.Sprintf("非法状态迁移: %s → %s", from, to))
	}

	run.State = to
	if p, ok := stateProgress[to]; ok && p > run.Progress {
		run.Progress = p
	}
	o.save(ctx, run, logger)
	o.publish(run)

	if o.collector != nil {
		o.collector.RecordStateTransition(string(from), string(to))
	}
	logger.Debug("运行状态推进",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("progress", run.Progress),
	)
	return nil
}

// fail 把运行置为 Failed 并保留失败原因。
func (o *Orchestrator) fail(ctx context.Context, run *types.Run, cause error, logger *zap.Logger) {
	from := run.State
	run.State = types.RunStateFailed
	run.FailureReason = failureReason(cause)
	o.save(ctx, run, logger)
	o.publish(run)

	if o.collector != nil {
		o.collector.RecordStateTransition(string(from), string(types.RunStateFailed))
	}
	logger.Warn("运行失败",
		zap.String("from", string(from)),
		zap.String("error_code", string(types.GetErrorCode(cause))),
		zap.Error(cause),
	)
}

// failureReason 生成 "CODE: message" 形式的失败原因。
func failureReason(err error) string {
	if err == nil {
		return ""
	}
	if code := types.GetErrorCode(err); code != "" {
		if e, ok := types.AsError(err); ok {
			return fmt.Sprintf("%s: %s", code, e.Message)
		}
		return string(code)
	}
	return err.Error()
}

func (o *Orchestrator) save(ctx context.Context, run *types.Run, logger *zap.Logger) {
	if err := o.store.Save(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("运行状态写入失败", zap.Error(err))
	}
}

func (o *Orchestrator) publish(run *types.Run) {
	o.hub.Publish(Event{
		RunID:         run.ID,
		State:         run.State,
		Progress:      run.Progress,
		DoneBatches:   run.DoneBatches,
		TotalBatches:  run.TotalBatches,
		FailedBatches: run.FailedBatches,
		Reason:        run.FailureReason,
	})
}

// publishDescribing 记录第 n 个批次完成后的插值进度。
func (o *Orchestrator) publishDescribing(ctx context.Context, run *types.Run, n int) {
	progress := types.DescribingProgress(n, run.TotalBatches)
	if err := o.store.UpdateProgress(context.WithoutCancel(ctx), run.ID, progress, n); err != nil {
		o.logger.Warn("运行进度写入失败", zap.String("run_id", run.ID), zap.Error(err))
	}
	o.hub.Publish(Event{
		RunID:        run.ID,
		State:        types.RunStateDescribing,
		Progress:     progress,
		DoneBatches:  n,
		TotalBatches: run.TotalBatches,
	})
}

// record 在终态把运行写入历史存储。
func (o *Orchestrator) record(ctx context.Context, run *types.Run, result *types.NarrationResult, logger *zap.Logger) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.SaveRun(context.WithoutCancel(ctx), run, result); err != nil {
		logger.Warn("运行历史写入失败", zap.Error(err))
	}
}

// cancelledDescription 标记一个因取消而未发起的批次。
func cancelledDescription(batch types.FrameBatch, provider string) types.BatchDescription {
	start, end := batch.Span()
	return types.BatchDescription{
		BatchIndex:  batch.Index,
		Provider:    provider,
		Success:     false,
		Error:       "run cancelled before batch started",
		ErrorCode:   types.ErrRunCancelled,
		StartOffset: start,
		EndOffset:   end,
	}
}

func failedIndices(descs []types.BatchDescription) []int {
	var failed []int
	for _, d := range descs {
		if !d.Success {
			failed = append(failed, d.BatchIndex)
		}
	}
	return failed
}

// graceContext 返回描述阶段使用的上下文：父上下文取消后维持 grace
// 时长再取消，让在途请求有机会收尾。grace 为 0 时直接复用父上下文。
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	if grace <= 0 {
		return parent, func() {}
	}
	dctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(grace, cancel)
	})
	return dctx, func() {
		stop()
		cancel()
	}
}
