package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

const (
	// 在线状态Key前缀
	presenceKeyPrefix = "hr:presence:"
	// 在线状态过期时间（心跳间隔的3倍）
	presenceTTL = 3 * time.Minute
	// 最后活跃时间Key前缀
	lastSeenKeyPrefix = "hr:lastseen:"
	lastSeenTTL       = 7 * 24 * time.Hour
)

// PresenceMirrorRedis 在线状态的 Redis 镜像，供网关和其他节点读取
type PresenceMirrorRedis struct {
	client redis.UniversalClient
}

func NewPresenceMirrorRedis(client redis.UniversalClient) out.PresenceMirror {
	return &PresenceMirrorRedis{client: client}
}

func (r *PresenceMirrorRedis) getKey(userID uint64) string {
	return fmt.Sprintf("%s%d", presenceKeyPrefix, userID)
}

func (r *PresenceMirrorRedis) getLastSeenKey(userID uint64) string {
	return fmt.Sprintf("%s%d", lastSeenKeyPrefix, userID)
}

func (r *PresenceMirrorRedis) Save(ctx context.Context, record entity.PresenceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.getKey(record.UserID), data, presenceTTL).Err()
}

func (r *PresenceMirrorRedis) MarkOffline(ctx context.Context, record entity.PresenceRecord) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.getLastSeenKey(record.UserID), record.LastSeen.Unix(), lastSeenTTL)
		pipe.Del(ctx, r.getKey(record.UserID))
		return nil
	})
	return err
}

func (r *PresenceMirrorRedis) Remove(ctx context.Context, userID uint64) error {
	return r.client.Del(ctx, r.getKey(userID), r.getLastSeenKey(userID)).Err()
}

func (r *PresenceMirrorRedis) Get(ctx context.Context, userID uint64) (entity.PresenceRecord, error) {
	data, err := r.client.Get(ctx, r.getKey(userID)).Bytes()
	if err == nil {
		var record entity.PresenceRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return entity.OfflineRecord(userID), err
		}
		return record, nil
	}
	if !errors.Is(err, redis.Nil) {
		return entity.OfflineRecord(userID), err
	}

	record := entity.OfflineRecord(userID)
	lastSeen, err := r.client.Get(ctx, r.getLastSeenKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return record, nil
		}
		return record, err
	}
	if ts, err := strconv.ParseInt(lastSeen, 10, 64); err == nil {
		record.LastSeen = time.Unix(ts, 0).UTC()
	}
	return record, nil
}
