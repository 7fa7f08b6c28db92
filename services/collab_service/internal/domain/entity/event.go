package entity

import "time"

// EventType 推送给客户端的事件类型
type EventType string

const (
	EventPresenceChange EventType = "presence_change"

	EventScreenShareStarted        EventType = "screen_share:started"
	EventScreenShareEnded          EventType = "screen_share:ended"
	EventScreenShareViewerJoined   EventType = "screen_share:viewer_joined"
	EventScreenShareViewerLeft     EventType = "screen_share:viewer_left"
	EventScreenShareSignal         EventType = "screen_share:signal"
	EventScreenShareControlRequest EventType = "screen_share:control_requested"
	EventScreenShareControlGranted EventType = "screen_share:control_granted"
	EventScreenShareControlRevoked EventType = "screen_share:control_revoked"
	EventScreenShareRemoteInput    EventType = "screen_share:remote_input"
)

// Event 推送信封，与 WebSocket 消息格式 {type,data,ts} 一致
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
	Ts   int64     `json:"ts"`
}

// NewEvent 创建事件
func NewEvent(t EventType, data any) *Event {
	return &Event{Type: t, Data: data, Ts: time.Now().UnixMilli()}
}
