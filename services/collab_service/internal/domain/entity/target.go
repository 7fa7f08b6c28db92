package entity

import (
	"fmt"
	"strconv"
)

// TargetKind 广播目标类型
type TargetKind string

const (
	TargetChannel TargetKind = "channel"
	TargetRoom    TargetKind = "room"
	TargetUser    TargetKind = "user"
)

// GlobalPresenceChannel 保留的全局频道，仪表盘通过它接收所有在线状态变化
const GlobalPresenceChannel uint64 = 0

// Target 会话或事件作用的频道/房间/用户
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   uint64     `json:"id"`
}

// TargetOf 由 channelID / roomID 推导目标，两者恰好一个非零才有效
func TargetOf(channelID, roomID uint64) (Target, bool) {
	switch {
	case channelID != 0 && roomID == 0:
		return Target{Kind: TargetChannel, ID: channelID}, true
	case roomID != 0 && channelID == 0:
		return Target{Kind: TargetRoom, ID: roomID}, true
	default:
		return Target{}, false
	}
}

// Key 用作锁、分片和 Kafka 分区键
func (t Target) Key() string {
	return string(t.Kind) + ":" + strconv.FormatUint(t.ID, 10)
}

func (t Target) String() string {
	return fmt.Sprintf("%s#%d", t.Kind, t.ID)
}
