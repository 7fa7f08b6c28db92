package entity

import "time"

// SessionStatus 屏幕共享会话状态
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// ShareType 共享内容类型
type ShareType string

const (
	ShareTypeScreen  ShareType = "screen"
	ShareTypeWindow  ShareType = "window"
	ShareTypeTab     ShareType = "tab"
	ShareTypeBrowser ShareType = "browser" // 协同浏览
)

// Participant 会话参与者（共享者、观看者、控制者）
type Participant struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
	Name string `json:"name,omitempty"`
}

// Same 按身份比较，忽略显示名
func (p Participant) Same(other Participant) bool {
	return p.Type == other.Type && p.ID == other.ID
}

// ScreenShareSession 屏幕共享会话，结束后作为历史记录不再变更
type ScreenShareSession struct {
	SessionID       string        `json:"sessionId"`
	Sharer          Participant   `json:"sharer"`
	ChannelID       uint64        `json:"channelId,omitempty"`
	RoomID          uint64        `json:"roomId,omitempty"`
	ShareType       ShareType     `json:"shareType"`
	AllowControl    bool          `json:"allowControl"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"startedAt"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
	DurationSeconds *int64        `json:"durationSeconds,omitempty"`
	SiteCode        string        `json:"siteCode,omitempty"`
}

// Target 会话所属频道或房间
func (s *ScreenShareSession) Target() Target {
	t, _ := TargetOf(s.ChannelID, s.RoomID)
	return t
}

// IsActive 是否进行中
func (s *ScreenShareSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Viewer 观看记录，每次加入都会新建一条
type Viewer struct {
	SessionID  string     `json:"sessionId"`
	ViewerType string     `json:"viewerType"`
	ViewerID   uint64     `json:"viewerId"`
	ViewerName string     `json:"viewerName"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LeftAt     *time.Time `json:"leftAt,omitempty"`
}

// Participant 观看者身份
func (v Viewer) Participant() Participant {
	return Participant{Type: v.ViewerType, ID: v.ViewerID, Name: v.ViewerName}
}
