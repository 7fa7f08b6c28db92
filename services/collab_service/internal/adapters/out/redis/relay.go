package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

// DefaultRelayChannel 跨节点事件频道
const DefaultRelayChannel = "hr:collab:events"

type relayEnvelope struct {
	Node   string           `json:"node"`
	Target entity.Target    `json:"target"`
	Type   entity.EventType `json:"type"`
	Data   json.RawMessage  `json:"data"`
	Ts     int64            `json:"ts"`
}

// Relay 通过 Redis pub/sub 把事件转发到其他节点，自己发布的消息不会回投
type Relay struct {
	client  redis.UniversalClient
	channel string
	nodeID  string
}

// NewRelay 创建跨节点转发
func NewRelay(client redis.UniversalClient, channel, nodeID string) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Relay{client: client, channel: channel, nodeID: nodeID}
}

var _ out.Broadcaster = (*Relay)(nil)

func (r *Relay) BroadcastToChannel(ctx context.Context, channelID uint64, event *entity.Event) error {
	return r.publish(ctx, entity.Target{Kind: entity.TargetChannel, ID: channelID}, event)
}

func (r *Relay) BroadcastToRoom(ctx context.Context, roomID uint64, event *entity.Event) error {
	return r.publish(ctx, entity.Target{Kind: entity.TargetRoom, ID: roomID}, event)
}

func (r *Relay) SendToUser(ctx context.Context, userID uint64, event *entity.Event) error {
	return r.publish(ctx, entity.Target{Kind: entity.TargetUser, ID: userID}, event)
}

func (r *Relay) publish(ctx context.Context, target entity.Target, event *entity.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(relayEnvelope{
		Node:   r.nodeID,
		Target: target,
		Type:   event.Type,
		Data:   data,
		Ts:     event.Ts,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run 订阅其他节点的事件并投递给本地，ctx 取消后返回
func (r *Relay) Run(ctx context.Context, local out.Broadcaster) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// 等订阅确认，避免启动期间丢消息
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	zap.L().Info("Redis relay subscribed", zap.String("channel", r.channel), zap.String("node", r.nodeID))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver(ctx, local, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, local out.Broadcaster, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		zap.L().Warn("Invalid relay payload", zap.Error(err))
		return
	}
	if env.Node == r.nodeID {
		return
	}

	event := &entity.Event{Type: env.Type, Data: env.Data, Ts: env.Ts}
	if err := out.BroadcastTo(ctx, local, env.Target, event); err != nil {
		zap.L().Warn("Relay local delivery failed",
			zap.String("event", string(env.Type)),
			zap.Stringer("target", env.Target),
			zap.Error(err))
	}
}
