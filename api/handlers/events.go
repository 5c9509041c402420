package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/api"
	"github.com/BaSui01/narraflow/pipeline"
	"github.com/BaSui01/narraflow/pipeline/state"
	"github.com/BaSui01/narraflow/types"
)

// =============================================================================
// 📡 运行事件流 Handler (WebSocket)
// =============================================================================

// EventsHandler 通过 WebSocket 推送运行的状态变化。连接建立后先发送
// 一条当前快照，之后每次状态或进度变化推送一条事件，运行到达终态时
// 服务端正常关闭连接。先订阅再读快照，订阅方不会漏掉中间的状态跳变，
// 最多收到一条重复的进度事件。
type EventsHandler struct {
	orch   *pipeline.Orchestrator
	logger *zap.Logger
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(orch *pipeline.Orchestrator, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "events_handler")),
	}
}

// HandleEvents 处理运行事件订阅
// @Summary 运行事件流
// @Description 升级为 WebSocket 并推送运行的状态转移，终态后关闭
// @Tags 运行
// @Param id path string true "运行 ID"
// @Success 101 "协议切换"
// @Failure 404 {object} Response "运行不存在"
// @Security ApiKeyAuth
// @Router /v1/runs/{id}/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// 升级前确认运行存在，404 必须走普通 HTTP 响应
	events, unsubscribe := h.orch.Hub().Subscribe(id)
	defer unsubscribe()

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

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败",
			zap.String("run_id", id),
			zap.Error(err),
		)
		return
	}

	// 订阅端只写不读，CloseRead 在客户端断开时取消上下文
	ctx := conn.CloseRead(r.Context())

	if err := h.writeEvent(ctx, conn, snapshotEvent(run)); err != nil {
		conn.Close(websocket.StatusInternalError, "snapshot write failed")
		return
	}
	if run.State.Terminal() {
		conn.Close(websocket.StatusNormalClosure, "run already finished")
		return
	}

	h.logger.Debug("事件订阅已建立", zap.String("run_id", id))

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				// Hub 已关闭（服务停机）
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.writeEvent(ctx, conn, ev); err != nil {
				conn.Close(websocket.StatusInternalError, "event write failed")
				return
			}
			if ev.State.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
		}
	}
}

// writeEvent 将事件编码为 JSON 并写入连接
func (h *EventsHandler) writeEvent(ctx context.Context, conn *websocket.Conn, ev pipeline.Event) error {
	data, err := json.Marshal(eventView(ev))
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// eventView 转换为对外的事件结构
func eventView(ev pipeline.Event) api.RunEvent {
	return api.RunEvent{
		RunID:         ev.RunID,
		State:         string(ev.State),
		Progress:      ev.Progress,
		DoneBatches:   ev.DoneBatches,
		TotalBatches:  ev.TotalBatches,
		FailedBatches: ev.FailedBatches,
		Reason:        ev.Reason,
		Timestamp:     ev.Timestamp,
	}
}

// snapshotEvent 从存储中的运行合成一条快照事件
func snapshotEvent(run *types.Run) pipeline.Event {
	ts := run.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return pipeline.Event{
		RunID:         run.ID,
		State:         run.State,
		Progress:      run.Progress,
		DoneBatches:   run.DoneBatches,
		TotalBatches:  run.TotalBatches,
		FailedBatches: run.FailedBatches,
		Reason:        run.FailureReason,
		Timestamp:     ts,
	}
}
