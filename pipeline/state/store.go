// Package state persists live run state so progress survives observer
// reconnects and, with the Redis backend, service restarts. Terminal
// run history belongs to the runstore package; this store only tracks
// runs while the pipeline is executing them plus a recency window after.
//
// Backends:
//   - Memory: 单机开发与测试，重启即丢。
//   - Redis: 分布式部署，带 TTL 的数据键加按时间排序的索引。
package state

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/narraflow/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("run not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Filter 限定 List 返回的运行集合。零值表示不过滤。
type Filter struct {
	State   types.RunState
	VideoID string
	Limit   int
	Offset  int
}

// Store 保存运行的实时状态。实现必须可以被多个 goroutine 并发使用。
type Store interface {
	// Save 写入一条运行记录（存在则覆盖）。ID 为空时自动生成。
	Save(ctx context.Context, run *types.Run) error

	// Get 按 ID 读取运行。未找到返回 ErrNotFound。
	Get(ctx context.Context, id string) (*types.Run, error)

	// List 返回按创建时间倒序排列的运行。
	List(ctx context.Context, filter Filter) ([]*types.Run, error)

	// UpdateState 推进运行状态，reason 仅在进入 Failed 时使用。
	UpdateState(ctx context.Context, id string, state types.RunState, reason string) error

	// UpdateProgress 更新进度百分比与已完成批次数。
	UpdateProgress(ctx context.Context, id string, progress, doneBatches int) error

	// Cleanup 删除早于 olderThan 的终态运行，返回删除数量。
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Ping 检查后端可用性。
	Ping(ctx context.Context) error

	// Close 释放后端连接。
	Close() error
}

// cloneRun returns an independent copy so callers can keep mutating
// their struct without racing against readers.
func cloneRun(run *types.Run) *types.Run {
	c := *run
	if run.FailedBatches != nil {
		c.FailedBatches = append([]int(nil), run.FailedBatches...)
	}
	return &c
}
