package screenshare

import (
	"encoding/json"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

// 广播负载，字段名与前端约定一致

type sessionStarted struct {
	SessionID    string             `json:"sessionId"`
	Sharer       entity.Participant `json:"sharer"`
	ChannelID    uint64             `json:"channelId,omitempty"`
	RoomID       uint64             `json:"roomId,omitempty"`
	ShareType    entity.ShareType   `json:"shareType"`
	AllowControl bool               `json:"allowControl"`
	StartedAt    int64              `json:"startedAt"`
}

type sessionEnded struct {
	SessionID       string              `json:"sessionId"`
	EndedBy         *entity.Participant `json:"endedBy,omitempty"`
	DurationSeconds *int64              `json:"durationSeconds,omitempty"`
	Reason          string              `json:"reason"`
}

type viewerChanged struct {
	SessionID   string             `json:"sessionId"`
	Viewer      entity.Participant `json:"viewer"`
	ViewerCount int                `json:"viewerCount"`
}

type signalRelayed struct {
	SessionID string             `json:"sessionId"`
	From      entity.Participant `json:"from"`
	Signal    json.RawMessage    `json:"signal"`
}

type controlChanged struct {
	SessionID string              `json:"sessionId"`
	Sharer    entity.Participant  `json:"sharer"`
	User      *entity.Participant `json:"user,omitempty"`
}

type remoteInput struct {
	SessionID string          `json:"sessionId"`
	Input     json.RawMessage `json:"input"`
}

const (
	endReasonEnded = "ended"
	endReasonStale = "stale"
)

func startedPayload(s *entity.ScreenShareSession) sessionStarted {
	return sessionStarted{
		SessionID:    s.SessionID,
		Sharer:       s.Sharer,
		ChannelID:    s.ChannelID,
		RoomID:       s.RoomID,
		ShareType:    s.ShareType,
		AllowControl: s.AllowControl,
		StartedAt:    s.StartedAt.UnixMilli(),
	}
}
