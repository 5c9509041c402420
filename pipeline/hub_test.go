package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/types"
)

func TestHubPublishSubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch, cancel := hub.Subscribe("run-1")
	defer cancel()

	hub.Publish(Event{RunID: "run-1", State: types.RunStateSampling})
	hub.Publish(Event{RunID: "run-2", State: types.RunStateDone}) // 其他运行，不应送达

	select {
	case ev := <-ch:
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, types.RunStateSampling, ev.State)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("没有收到事件")
	}

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("收到了不属于本运行的事件: %+v", ev)
		}
	default:
	}
}

func TestHubMultipleSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch1, cancel1 := hub.Subscribe("run-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("run-1")
	defer cancel2()

	hub.Publish(Event{RunID: "run-1", State: types.RunStateDone})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, types.RunStateDone, ev.State)
		case <-time.After(time.Second):
			t.Fatal("订阅者没有收到事件")
		}
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch, cancel := hub.Subscribe("run-1")
	cancel()
	cancel() // 幂等

	_, ok := <-ch
	assert.False(t, ok, "取消订阅后通道应关闭")

	// 取消后发布不应 panic。
	hub.Publish(Event{RunID: "run-1", State: types.RunStateDone})
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch, cancel := hub.Subscribe("run-1")
	defer cancel()

	// 订阅者不消费，超出缓冲的事件被丢弃而不是阻塞发布方。
	for i := 0; i < 100; i++ {
		hub.Publish(Event{RunID: "run-1", State: types.RunStateDescribing, DoneBatches: i})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	require.Greater(t, received, 0)
	assert.LessOrEqual(t, received, 16)
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe("run-1")
	defer cancel()

	hub.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// 关闭后订阅立即得到已关闭的通道。
	ch2, cancel2 := hub.Subscribe("run-2")
	defer cancel2()
	_, ok = <-ch2
	assert.False(t, ok)
}
