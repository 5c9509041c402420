package api

import (
	"time"

	"github.com/BaSui01/narraflow/types"
)

// =============================================================================
// 运行类型
// =============================================================================

// SubmitRunRequest 表示提交运行的请求。
// @Description 运行提交请求结构
type SubmitRunRequest struct {
	// 视频标识（留空时服务端生成）
	VideoID string `json:"video_id,omitempty" example:"video-42"`
	// 关键帧目录（服务端可见路径）
	FramesDir string `json:"frames_dir" example:"/data/frames/video-42" binding:"required"`
	// 视觉 Provider id（留空使用服务端默认）
	VisionProvider string `json:"vision_provider,omitempty" example:"gemini"`
	// 文本 Provider id（留空使用服务端默认）
	TextProvider string `json:"text_provider,omitempty" example:"deepseek"`
	// 失败策略覆盖（abort、best_effort）
	FailurePolicy string `json:"failure_policy,omitempty" example:"best_effort"`
}

// SubmitRunResponse 表示运行已受理的响应。
// @Description 运行受理响应结构
type SubmitRunResponse struct {
	// 运行 ID，用于后续查询与事件订阅
	RunID string `json:"run_id" example:"0c1770e7-4a70-4e3e-9d3f-2a1f6f4a6c2e"`
	// 受理时的状态（恒为 pending）
	State string `json:"state" example:"pending"`
}

// RunListResponse 表示运行清单。
// @Description 运行清单响应
type RunListResponse struct {
	// 运行清单，按创建时间倒序
	Runs []*types.Run `json:"runs"`
}

// =============================================================================
// 提供者类型
// =============================================================================

// ProviderView 代表一个已配置的 Provider 档案（密钥已脱敏）。
// @Description Provider 档案视图
type ProviderView struct {
	// 提供商 id
	ID string `json:"id" example:"gemini"`
	// 承担的角色（vision、text）
	Role string `json:"role" example:"vision"`
	// 展示名称
	Label string `json:"label,omitempty" example:"Google Gemini"`
	// 生效的模型名
	Model string `json:"model" example:"gemini-2.0-flash"`
	// 生效的基础 URL
	BaseURL string `json:"base_url" example:"https://generativelanguage.googleapis.com"`
	// 是否配有 API Key
	Configured bool `json:"configured" example:"true"`
}

// ProviderListResponse 表示 Provider 清单。
// @Description Provider 清单响应
type ProviderListResponse struct {
	// Provider 清单
	Providers []ProviderView `json:"providers"`
}

// =============================================================================
// 事件类型
// =============================================================================

// RunEvent 是事件流里的一个进度事件。
// @Description 运行进度事件结构
type RunEvent struct {
	// 运行 ID
	RunID string `json:"run_id" example:"0c1770e7-4a70-4e3e-9d3f-2a1f6f4a6c2e"`
	// 当前状态
	State string `json:"state" example:"describing"`
	// 进度（0-100）
	Progress int `json:"progress" example:"40"`
	// 已完成批次数
	DoneBatches int `json:"done_batches" example:"2"`
	// 批次总数
	TotalBatches int `json:"total_batches" example:"4"`
	// 失败批次序号
	FailedBatches []int `json:"failed_batches,omitempty"`
	// 失败原因（仅 failed 状态）
	Reason string `json:"reason,omitempty"`
	// 事件时间戳
	Timestamp time.Time `json:"timestamp"`
}
