package out

import (
	"context"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

// PresenceMirror 在线状态镜像，供其他节点和网关读取
type PresenceMirror interface {
	// Save 写入在线记录
	Save(ctx context.Context, record entity.PresenceRecord) error
	// MarkOffline 删除在线记录并保留最后活跃时间
	MarkOffline(ctx context.Context, record entity.PresenceRecord) error
	// Remove 清理过期用户的所有镜像数据
	Remove(ctx context.Context, userID uint64) error
	// Get 读取镜像记录，没有在线记录时返回离线记录
	Get(ctx context.Context, userID uint64) (entity.PresenceRecord, error)
}
