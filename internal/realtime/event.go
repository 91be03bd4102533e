package realtime

import (
	"context"
	"time"
)

// Event 是一次计数变化的通知，只在事务提交后发布
type Event struct {
	ProgramID  string    `json:"programId"`
	TotalScans int64     `json:"totalScans"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher 尽力而为地发布事件，失败不会影响已提交的数据
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber 按活动订阅事件。没有持久化，订阅前发布的事件不会补发。
type Subscriber interface {
	Subscribe(ctx context.Context, programID string) (*Subscription, error)
}

// Subscription 是一个活动的事件流。C 在 Close 或 ctx 结束后被关闭。
type Subscription struct {
	C       <-chan Event
	close   func()
	advance func(total int64)
}

func (s *Subscription) Close() {
	s.close()
}

// Advance 告知订阅者已经看到 total，此后计数更小的事件不再发给它。
// 用于订阅后读取快照的场景。
func (s *Subscription) Advance(total int64) {
	if s.advance != nil {
		s.advance(total)
	}
}
