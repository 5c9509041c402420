package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/narraflow/types"
)

// MemoryStore is an in-memory Store for development and testing.
// Data is lost on restart.
type MemoryStore struct {
	runs   map[string]*types.Run
	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates an in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*types.Run)}
}

// Save 写入运行记录（存副本，避免与调用方的后续修改竞争）。
func (s *MemoryStore) Save(ctx context.Context, run *types.Run) error {
	if run == nil {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	s.runs[run.ID] = cloneRun(run)
	return nil
}

// Get 按 ID 读取运行。
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// List 返回按创建时间倒序排列的运行。
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*types.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.State != "" && run.State != filter.State {
			continue
		}
		if filter.VideoID != "" && run.VideoID != filter.VideoID {
			continue
		}
		result = append(result, cloneRun(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return window(result, filter.Offset, filter.Limit), nil
}

// UpdateState 推进运行状态。
func (s *MemoryStore) UpdateState(ctx context.Context, id string, st types.RunState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}

	run.State = st
	if st == types.RunStateFailed {
		run.FailureReason = reason
	}
	run.UpdatedAt = time.Now()
	return nil
}

// UpdateProgress 更新进度。
func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress, doneBatches int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}

	run.Progress = progress
	run.DoneBatches = doneBatches
	run.UpdatedAt = time.Now()
	return nil
}

// Cleanup 删除早于 olderThan 的终态运行。
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, run := range s.runs {
		if run.State.Terminal() && run.CreatedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed, nil
}

// Ping 检查存储可用性。
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close 关闭存储。
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func window(runs []*types.Run, offset, limit int) []*types.Run {
	if offset > 0 {
		if offset >= len(runs) {
			return []*types.Run{}
		}
		runs = runs[offset:]
	}
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs
}
