package entity

import "time"

// PresenceStatus 在线状态
type PresenceStatus string

const (
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusOffline PresenceStatus = "offline"
)

// PresenceRecord 用户在线记录，一个用户可以同时有多条连接
type PresenceRecord struct {
	UserID          uint64         `json:"userId"`
	UserType        string         `json:"userType"`
	Status          PresenceStatus `json:"status"`
	LastSeen        time.Time      `json:"lastSeen"`
	ConnectionCount int            `json:"connectionCount"`
}

// OfflineRecord 未跟踪用户的零值记录
func OfflineRecord(userID uint64) PresenceRecord {
	return PresenceRecord{UserID: userID, Status: PresenceStatusOffline}
}

// IsOnline 是否在线
func (r PresenceRecord) IsOnline() bool {
	return r.Status == PresenceStatusOnline
}

// PresenceChange presence_change 事件负载
type PresenceChange struct {
	UserID    uint64         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	LastSeen  time.Time      `json:"lastSeen"`
	UserType  string         `json:"userType,omitempty"`
	Timestamp int64          `json:"timestamp"`
}
