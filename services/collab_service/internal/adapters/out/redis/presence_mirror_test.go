package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPresenceMirror_SaveAndMarkOffline(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	mr, client := newTestClient(t)
	mirror := NewPresenceMirrorRedis(client)
	seen := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	// Given an online record
	rec := entity.PresenceRecord{UserID: 8, UserType: "employee", Status: entity.PresenceStatusOnline, LastSeen: seen, ConnectionCount: 2}
	req.NoError(mirror.Save(ctx, rec))

	// Then it is readable with a TTL
	got, err := mirror.Get(ctx, 8)
	req.NoError(err)
	req.Equal(2, got.ConnectionCount)
	req.True(got.IsOnline())
	req.Equal(presenceTTL, mr.TTL("hr:presence:8"))

	// When the user goes offline
	rec.Status = entity.PresenceStatusOffline
	rec.ConnectionCount = 0
	req.NoError(mirror.MarkOffline(ctx, rec))

	// Then only the last-seen timestamp remains
	req.False(mr.Exists("hr:presence:8"))
	got, err = mirror.Get(ctx, 8)
	req.NoError(err)
	req.Equal(entity.PresenceStatusOffline, got.Status)
	req.True(got.LastSeen.Equal(seen))
}

func TestPresenceMirror_Remove(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	mr, client := newTestClient(t)
	mirror := NewPresenceMirrorRedis(client)

	req.NoError(mirror.MarkOffline(ctx, entity.PresenceRecord{UserID: 8, LastSeen: time.Now()}))
	req.True(mr.Exists("hr:lastseen:8"))

	req.NoError(mirror.Remove(ctx, 8))

	req.False(mr.Exists("hr:lastseen:8"))
	got, err := mirror.Get(ctx, 8)
	req.NoError(err)
	req.Equal(entity.OfflineRecord(8), got)
}
