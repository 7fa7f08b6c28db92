package ws

import (
	"encoding/json"
	"time"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

// WSMessageType WebSocket消息类型
type WSMessageType string

const (
	// 客户端消息类型
	MsgTypePing                WSMessageType = "ping"
	MsgTypeActivity            WSMessageType = "activity"
	MsgTypePresenceSubscribe   WSMessageType = "presence_subscribe"
	MsgTypePresenceUnsubscribe WSMessageType = "presence_unsubscribe"
	MsgTypeJoinChannel         WSMessageType = "join_channel"
	MsgTypeLeaveChannel        WSMessageType = "leave_channel"
	MsgTypeJoinRoom            WSMessageType = "join_room"
	MsgTypeLeaveRoom           WSMessageType = "leave_room"
	MsgTypeScreenShareSignal   WSMessageType = "screen_share_signal"
	MsgTypeRemoteInput         WSMessageType = "screen_share_remote_input"

	// 服务端消息类型，广播事件直接使用事件类型
	MsgTypePong   WSMessageType = "pong"
	MsgTypeNotify WSMessageType = "notify"
	MsgTypeError  WSMessageType = "error"
)

// WSMessage WebSocket消息
type WSMessage struct {
	Type WSMessageType   `json:"type"`
	ID   string          `json:"id,omitempty"` // 请求ID，响应原样带回
	Data json.RawMessage `json:"data,omitempty"`
	Ts   int64           `json:"ts,omitempty"`
}

// PresenceSubscribeData 订阅/取消订阅在线状态
type PresenceSubscribeData struct {
	UserIDs []uint64 `json:"userIds"`
}

// MembershipData 加入/离开频道或房间
type MembershipData struct {
	ChannelID uint64 `json:"channelId,omitempty"`
	RoomID    uint64 `json:"roomId,omitempty"`
}

// SignalData 屏幕共享信令
type SignalData struct {
	SessionID string          `json:"sessionId"`
	Signal    json.RawMessage `json:"signal"`
}

// RemoteInputData 远程控制输入
type RemoteInputData struct {
	SessionID string          `json:"sessionId"`
	Input     json.RawMessage `json:"input"`
}

// encodeEvent 广播事件编码为下行消息
func encodeEvent(event *entity.Event) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	ts := event.Ts
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return json.Marshal(WSMessage{
		Type: WSMessageType(event.Type),
		Data: data,
		Ts:   ts,
	})
}
