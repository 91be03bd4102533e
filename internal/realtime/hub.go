package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/logger"
)

var ErrHubClosed = errors.New("实时推送已关闭")

const defaultBuffer = 16

type subscriber struct {
	ch   chan Event
	last int64
	once sync.Once
}

// Hub 是进程内的事件分发器。
// 发送在持有锁时完成，因此同一订阅者收到的事件顺序与发布顺序一致；
// 订阅者缓冲区满时丢弃事件而不是阻塞发布者。
type Hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Publish 将事件发给该活动当前的所有订阅者。
// 计数比订阅者已见过的更小的事件会被跳过，观察者看到的总数只增不减。
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	for sub := range h.subs[ev.ProgramID] {
		if ev.TotalScans < sub.last {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.last = ev.TotalScans
		default:
			logger.Warningf("实时推送: 活动 %s 的订阅者缓冲区已满，丢弃一条事件", ev.ProgramID)
		}
	}
	return nil
}

// Subscribe 注册一个订阅者，ctx 结束时自动取消订阅
func (h *Hub) Subscribe(ctx context.Context, programID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	sub := &subscriber{ch: make(chan Event, h.buffer)}
	if h.subs[programID] == nil {
		h.subs[programID] = make(map[*subscriber]struct{})
	}
	h.subs[programID][sub] = struct{}{}

	closeFn := func() { h.unsubscribe(programID, sub) }
	stop := context.AfterFunc(ctx, closeFn)
	return &Subscription{
		C: sub.ch,
		close: func() {
			stop()
			closeFn()
		},
		advance: func(total int64) { h.advance(sub, total) },
	}, nil
}

func (h *Hub) advance(sub *subscriber, total int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if total > sub.last {
		sub.last = total
	}
}

func (h *Hub) unsubscribe(programID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[programID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, programID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

// Close 关闭所有订阅，之后的发布和订阅都会失败
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
}
