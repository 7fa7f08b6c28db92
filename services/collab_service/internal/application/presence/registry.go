package presence

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

const defaultUserType = "employee"

// Registry 进程内在线状态表，按用户统计连接数
type Registry struct {
	records map[uint64]*entity.PresenceRecord
	now     func() time.Time
	mu      sync.RWMutex
}

// NewRegistry 创建在线状态表
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		records: make(map[uint64]*entity.PresenceRecord),
		now:     now,
	}
}

// Connect 连接数加一并标记在线
func (r *Registry) Connect(userID uint64, userType string) entity.PresenceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		rec = &entity.PresenceRecord{UserID: userID, UserType: defaultUserType}
		r.records[userID] = rec
	}
	if userType != "" {
		rec.UserType = userType
	}
	rec.ConnectionCount++
	rec.Status = entity.PresenceStatusOnline
	rec.LastSeen = r.now()
	return *rec
}

// Disconnect 连接数减一（不小于0），归零时标记离线；未跟踪用户返回 false
func (r *Registry) Disconnect(userID uint64) (entity.PresenceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		return entity.OfflineRecord(userID), false
	}
	if rec.ConnectionCount > 0 {
		rec.ConnectionCount--
	}
	rec.LastSeen = r.now()
	if rec.ConnectionCount == 0 {
		rec.Status = entity.PresenceStatusOffline
	}
	return *rec, true
}

// Touch 刷新最后活跃时间
func (r *Registry) Touch(userID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		return false
	}
	rec.LastSeen = r.now()
	return true
}

// Get 查询单个用户
func (r *Registry) Get(userID uint64) (entity.PresenceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[userID]
	if !ok {
		return entity.OfflineRecord(userID), false
	}
	return *rec, true
}

// Online 在线用户，按用户ID排序
func (r *Registry) Online(userType string) []entity.PresenceRecord {
	r.mu.RLock()
	online := lo.FilterMap(lo.Values(r.records), func(rec *entity.PresenceRecord, _ int) (entity.PresenceRecord, bool) {
		return *rec, rec.IsOnline() && (userType == "" || rec.UserType == userType)
	})
	r.mu.RUnlock()

	slices.SortFunc(online, func(a, b entity.PresenceRecord) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	return online
}

// OnlineCount 在线用户数
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.CountBy(lo.Values(r.records), func(rec *entity.PresenceRecord) bool {
		return rec.IsOnline()
	})
}

// Sweep 删除 cutoff 之前就已离线的记录，返回被删除的用户
func (r *Registry) Sweep(cutoff time.Time) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []uint64
	for userID, rec := range r.records {
		if rec.Status == entity.PresenceStatusOffline && rec.LastSeen.Before(cutoff) {
			delete(r.records, userID)
			removed = append(removed, userID)
		}
	}
	return removed
}
