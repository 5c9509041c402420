package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/types"
)

// Event 是一次运行的进度快照，推送给 WebSocket 等订阅者。
type Event struct {
	RunID         string         `json:"run_id"`
	State         types.RunState `json:"state"`
	Progress      int            `json:"progress"`
	DoneBatches   int            `json:"done_batches"`
	TotalBatches  int            `json:"total_batches"`
	FailedBatches []int          `json:"failed_batches,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// subscriptionCounter 用于生成唯一订阅 ID。
var subscriptionCounter int64

// Hub 按运行分发进度事件。发布永不阻塞：订阅者缓冲满时事件被丢弃，
// 慢消费者只会错过中间进度，不会拖慢流水线。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]chan Event // run ID → 订阅 ID → 通道
	closed bool
	logger *zap.Logger
}

// NewHub 创建事件中心。
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[int64]chan Event),
		logger: logger,
	}
}

// Subscribe 订阅一次运行的事件流。返回的取消函数幂等，调用后通道
// 被关闭。终态事件送达后由订阅方自行取消。
func (h *Hub) Subscribe(runID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := atomic.AddInt64(&subscriptionCounter, 1)
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[int64]chan Event)
	}
	h.subs[runID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[runID]; ok {
				if _, ok := subs[id]; ok {
					delete(subs, id)
					close(ch)
					if len(subs) == 0 {
						delete(h.subs, runID)
					}
				}
			}
		})
	}
	return ch, cancel
}

// Publish 向运行的所有订阅者分发事件。
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, ch := range h.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
			// 缓冲满，丢弃。订阅方下一次读取会拿到更新的快照。
			h.logger.Debug("事件缓冲已满，丢弃进度事件",
				zap.String("run_id", ev.RunID),
				zap.String("state", string(ev.State)),
			)
		}
	}
}

// Close 关闭事件中心并结束所有订阅。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for runID, subs := range h.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.subs, runID)
	}
}
