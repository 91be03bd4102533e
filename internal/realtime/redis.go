package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/logger"
	"github.com/ingather/ingather-backend/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "program:"
	channelSuffix  = ":updates"
	channelPattern = channelPrefix + "*" + channelSuffix
)

func channelName(programID string) string {
	return channelPrefix + programID + channelSuffix
}

func programIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) || !strings.HasSuffix(channel, channelSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(channel, channelPrefix), channelSuffix)
	return id, id != ""
}

// RedisNotifier 通过Redis Pub/Sub在多个实例之间广播事件。
// 每个实例只持有一个模式订阅，收到的消息交给本地 Hub 分发。
type RedisNotifier struct {
	rdb *redis.Client
	hub *Hub
}

func NewRedisNotifier(rdb *redis.Client, hub *Hub) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, hub: hub}
}

// Publish 将事件发布到Redis。发布失败时退化为只通知本实例的订阅者。
func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := n.rdb.Publish(ctx, channelName(ev.ProgramID), payload).Err(); err != nil {
		_ = n.hub.Publish(ctx, ev)
		return fmt.Errorf("发布到Redis失败，仅推送给本实例: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, programID string) (*Subscription, error) {
	return n.hub.Subscribe(ctx, programID)
}

// Start 建立模式订阅并在后台把消息转发给本地 Hub，直到生命周期结束。
// 返回时订阅已经确认生效。
func (n *RedisNotifier) Start(ctx context.Context, mgr *lifecycle.Manager) error {
	pubsub := n.rdb.PSubscribe(ctx, channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("订阅Redis频道失败: %w", err)
	}

	err := mgr.Go("realtime-redis-pump", func(h *lifecycle.Handle) {
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-h.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				n.dispatch(h.Ctx(), msg)
			}
		}
	})
	if err != nil {
		_ = pubsub.Close()
		return err
	}
	return nil
}

func (n *RedisNotifier) dispatch(ctx context.Context, msg *redis.Message) {
	programID, ok := programIDFromChannel(msg.Channel)
	if !ok {
		return
	}
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		logger.Warningf("实时推送: 无法解析来自 %s 的消息: %v", msg.Channel, err)
		return
	}
	ev.ProgramID = programID
	if err := n.hub.Publish(ctx, ev); err != nil {
		logger.Warningf("实时推送: 本地分发失败: %v", err)
	}
}
