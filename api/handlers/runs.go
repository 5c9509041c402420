package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/api"
	"github.com/BaSui01/narraflow/pipeline"
	"github.com/BaSui01/narraflow/pipeline/state"
	"github.com/BaSui01/narraflow/types"
)

// =============================================================================
// 🎬 运行接口 Handler
// =============================================================================

// RunsHandler 运行接口处理器。提交的运行在后台异步执行，
// 生命周期由 base 上下文控制：服务器优雅退出时取消所有进行中的运行。
type RunsHandler struct {
	base   context.Context
	orch   *pipeline.Orchestrator
	logger *zap.Logger
}

// NewRunsHandler 创建运行处理器
func NewRunsHandler(base context.Context, orch *pipeline.Orchestrator, logger *zap.Logger) *RunsHandler {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		base:   base,
		orch:   orch,
		logger: logger.With(zap.String("component", "runs_handler")),
	}
}

// HandleSubmit 处理运行提交请求
// @Summary 提交运行
// @Description 提交一次视频解说运行，立即返回运行 ID，流水线异步执行
// @Tags 运行
// @Accept json
// @Produce json
// @Param request body api.SubmitRunRequest true "运行提交请求"
// @Success 202 {object} Response "已受理"
// @Failure 400 {object} Response "无效请求"
// @Security ApiKeyAuth
// @Router /v1/runs [post]
func (h *RunsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	// 验证 Content-Type
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	// 解码请求
	var req api.SubmitRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// 验证请求
	if err := h.validateSubmitRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 先落一条 pending 记录，受理后立刻可查
	runID := uuid.NewString()
	pending := &types.Run{
		ID:      runID,
		VideoID: req.VideoID,
		State:   types.RunStatePending,
	}
	if err := h.orch.Store().Save(r.Context(), pending); err != nil {
		WriteFromError(w, types.WrapError(types.ErrInternal, "无法写入运行状态存储", err), h.logger)
		return
	}

	input := pipeline.Input{
		RunID:          runID,
		VideoID:        req.VideoID,
		FramesDir:      req.FramesDir,
		VisionProvider: req.VisionProvider,
		TextProvider:   req.TextProvider,
		FailurePolicy:  pipeline.FailurePolicy(req.FailurePolicy),
	}

	// 异步执行，终态由 Execute 自己写入存储
	go func() {
		if _, _, err := h.orch.Execute(h.base, input); err != nil {
			h.logger.Warn("异步运行失败",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}()

	h.logger.Info("运行已受理",
		zap.String("run_id", runID),
		zap.String("video_id", req.VideoID),
		zap.String("frames_dir", req.FramesDir),
	)

	WriteAccepted(w, api.SubmitRunResponse{
		RunID: runID,
		State: string(types.RunStatePending),
	})
}

// validateSubmitRequest 校验提交请求
func (h *RunsHandler) validateSubmitRequest(req *api.SubmitRunRequest) *types.Error {
	if req.FramesDir == "" {
		return types.NewError(types.ErrInvalidRequest, "frames_dir is required")
	}
	if req.FailurePolicy != "" && !pipeline.FailurePolicy(req.FailurePolicy).Valid() {
		return types.NewError(types.ErrInvalidRequest,
			"failure_policy must be abort or best_effort")
	}
	return nil
}

// HandleGet 处理单个运行查询
// @Summary 查询运行
// @Description 返回运行的状态、进度与结果（或失败详情）
// @Tags 运行
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} Response "运行详情"
// @Failure 404 {object} Response "运行不存在"
// @Security ApiKeyAuth
// @Router /v1/runs/{id} [get]
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.orch.Store().Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound,
				"run "+id+" not found", h.logger)
			return
		}
		WriteFromError(w, err, h.logger)
		return
	}

	WriteSuccess(w, run)
}

// HandleList 处理运行清单查询
// @Summary 运行清单
// @Description 返回最近的运行，支持 state、video_id、limit、offset 过滤
// @Tags 运行
// @Produce json
// @Success 200 {object} Response "运行清单"
// @Security ApiKeyAuth
// @Router /v1/runs [get]
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	runs, listErr := h.orch.Store().List(r.Context(), filter)
	if listErr != nil {
		WriteFromError(w, listErr, h.logger)
		return
	}

	WriteSuccess(w, api.RunListResponse{Runs: runs})
}

// parseRunFilter 解析清单查询参数
func parseRunFilter(r *http.Request) (state.Filter, *types.Error) {
	q := r.URL.Query()
	filter := state.Filter{
		State:   types.RunState(q.Get("state")),
		VideoID: q.Get("video_id"),
		Limit:   50,
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return filter, types.NewError(types.ErrInvalidRequest, "limit must be a positive integer")
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, types.NewError(types.ErrInvalidRequest, "offset must be a non-negative integer")
		}
		filter.Offset = n
	}

	return filter, nil
}
