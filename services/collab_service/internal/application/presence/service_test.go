package presence

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

type delivery struct {
	target entity.Target
	event  *entity.Event
}

type recordingBroadcaster struct {
	mu         sync.Mutex
	deliveries []delivery
	failUsers  bool
}

func (b *recordingBroadcaster) record(t entity.Target, e *entity.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveries = append(b.deliveries, delivery{target: t, event: e})
}

func (b *recordingBroadcaster) BroadcastToChannel(_ context.Context, id uint64, e *entity.Event) error {
	b.record(entity.Target{Kind: entity.TargetChannel, ID: id}, e)
	return nil
}

func (b *recordingBroadcaster) BroadcastToRoom(_ context.Context, id uint64, e *entity.Event) error {
	b.record(entity.Target{Kind: entity.TargetRoom, ID: id}, e)
	return nil
}

func (b *recordingBroadcaster) SendToUser(_ context.Context, id uint64, e *entity.Event) error {
	if b.failUsers {
		return errors.New("connection closed")
	}
	b.record(entity.Target{Kind: entity.TargetUser, ID: id}, e)
	return nil
}

func (b *recordingBroadcaster) all() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.deliveries...)
}

func (b *recordingBroadcaster) statuses(target entity.Target) []entity.PresenceStatus {
	var out []entity.PresenceStatus
	for _, d := range b.all() {
		if d.target == target {
			out = append(out, d.event.Data.(entity.PresenceChange).Status)
		}
	}
	return out
}

var global = entity.Target{Kind: entity.TargetChannel, ID: entity.GlobalPresenceChannel}

func TestService_SetOnline_TwiceKeepsCount(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := &recordingBroadcaster{}
	svc := NewService(b)

	// When a user opens two connections
	svc.SetOnline(ctx, 7, "employee")
	rec := svc.SetOnline(ctx, 7, "employee")

	// Then both connections are counted and each one broadcast online
	req.Equal(2, rec.ConnectionCount)
	req.Equal(entity.PresenceStatusOnline, rec.Status)
	req.Equal([]entity.PresenceStatus{entity.PresenceStatusOnline, entity.PresenceStatusOnline}, b.statuses(global))

	// When one connection closes
	after := svc.SetOffline(ctx, 7)

	// Then the user stays online and nothing is broadcast
	req.NotNil(after)
	req.Equal(1, after.ConnectionCount)
	req.Equal(entity.PresenceStatusOnline, svc.GetStatus(7))
	req.Len(b.statuses(global), 2)
}

func TestService_BalancedConnectDisconnect(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := &recordingBroadcaster{}
	svc := NewService(b)

	const n = 5
	for i := 0; i < n; i++ {
		svc.SetOnline(ctx, 3, "applicant")
	}
	for i := 0; i < n; i++ {
		svc.SetOffline(ctx, 3)
	}

	info := svc.GetPresenceInfo(3)
	req.Equal(entity.PresenceStatusOffline, info.Status)
	req.Equal(0, info.ConnectionCount)
	req.Equal("applicant", info.UserType)

	statuses := b.statuses(global)
	req.Len(statuses, n+1)
	req.Equal(entity.PresenceStatusOffline, statuses[n])
}

func TestService_SetOffline_Untracked(t *testing.T) {
	req := require.New(t)
	b := &recordingBroadcaster{}
	svc := NewService(b)

	req.Nil(svc.SetOffline(context.Background(), 99))
	req.Empty(b.all())
	req.Equal(entity.PresenceStatusOffline, svc.GetStatus(99))
	req.Equal(entity.OfflineRecord(99), svc.GetPresenceInfo(99))
}

func TestService_SetOffline_FloorsAtZero(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc := NewService(&recordingBroadcaster{})

	svc.SetOnline(ctx, 1, "")
	svc.SetOffline(ctx, 1)
	rec := svc.SetOffline(ctx, 1)

	req.NotNil(rec)
	req.Equal(0, rec.ConnectionCount)
	req.False(svc.IsOnline(1))
}

func TestService_UpdateActivity(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	b := &recordingBroadcaster{}
	svc := NewService(b, WithClock(func() time.Time { return now }))

	// Untracked users are ignored
	svc.UpdateActivity(ctx, 5)
	req.Equal(time.Time{}, svc.GetPresenceInfo(5).LastSeen)

	svc.SetOnline(ctx, 5, "employee")
	now = now.Add(time.Minute)
	svc.UpdateActivity(ctx, 5)

	req.Equal(now, svc.GetPresenceInfo(5).LastSeen)
	req.Len(b.all(), 1)
}

func TestService_SubscribersReceiveChanges(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := &recordingBroadcaster{}
	svc := NewService(b)

	// Given two subscribers watching user 10, one subscribed twice
	svc.SubscribeToUser(10, 20)
	svc.SubscribeToUser(10, 21)
	svc.SubscribeToUser(10, 21)

	// When user 10 comes online
	svc.SetOnline(ctx, 10, "employee")

	// Then each subscriber gets exactly one event, plus one global event
	req.Len(b.statuses(entity.Target{Kind: entity.TargetUser, ID: 20}), 1)
	req.Len(b.statuses(entity.Target{Kind: entity.TargetUser, ID: 21}), 1)
	req.Len(b.statuses(global), 1)

	event := b.all()[0].event
	req.Equal(entity.EventPresenceChange, event.Type)
	change := event.Data.(entity.PresenceChange)
	req.Equal(uint64(10), change.UserID)
	req.Equal("employee", change.UserType)

	// When subscriber 21 disconnects entirely and 20 unsubscribes a non-member target
	svc.UnsubscribeAll(21)
	svc.UnsubscribeFromUser(11, 20)
	svc.SetOffline(ctx, 10)

	req.Len(b.statuses(entity.Target{Kind: entity.TargetUser, ID: 20}), 2)
	req.Len(b.statuses(entity.Target{Kind: entity.TargetUser, ID: 21}), 1)
}

func TestService_DeliveryFailureDoesNotAffectState(t *testing.T) {
	req := require.New(t)
	b := &recordingBroadcaster{failUsers: true}
	svc := NewService(b)
	svc.SubscribeToUser(1, 2)

	rec := svc.SetOnline(context.Background(), 1, "employee")

	req.Equal(entity.PresenceStatusOnline, rec.Status)
	req.True(svc.IsOnline(1))
	req.Len(b.statuses(global), 1)
}

func TestService_OnlineQueries(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc := NewService(&recordingBroadcaster{})

	svc.SetOnline(ctx, 3, "employee")
	svc.SetOnline(ctx, 1, "applicant")
	svc.SetOnline(ctx, 2, "employee")
	svc.SetOffline(ctx, 2)

	online := svc.GetOnlineUsers()
	req.Len(online, 2)
	req.Equal(uint64(1), online[0].UserID)
	req.Equal(uint64(3), online[1].UserID)

	employees := svc.GetOnlineUsersByType("employee")
	req.Len(employees, 1)
	req.Equal(uint64(3), employees[0].UserID)

	bulk := svc.GetBulkStatus([]uint64{1, 2, 404})
	req.Len(bulk, 3)
	req.True(bulk[1].IsOnline())
	req.Equal(entity.PresenceStatusOffline, bulk[2].Status)
	req.Equal(entity.PresenceStatusOffline, bulk[404].Status)
}

func TestService_Cleanup(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(&recordingBroadcaster{}, WithClock(func() time.Time { return now }))

	// Given a user offline for 25h, one offline for 1h and one online for 30h
	svc.SetOnline(ctx, 1, "employee")
	svc.SetOffline(ctx, 1)
	svc.SubscribeToUser(1, 9)
	svc.SetOnline(ctx, 3, "employee")
	now = now.Add(24 * time.Hour)
	svc.SetOnline(ctx, 2, "employee")
	svc.SetOffline(ctx, 2)
	now = now.Add(time.Hour)

	// When cleanup runs with the default age
	removed := svc.Cleanup(ctx, 0)

	// Then only the long-offline user is removed together with its subscriptions
	req.Equal(1, removed)
	req.Equal(entity.OfflineRecord(1), svc.GetPresenceInfo(1))
	req.Empty(svc.subs.Subscribers(1))
	req.Empty(svc.subs.SubscriptionsOf(9))
	req.Equal(entity.PresenceStatusOffline, svc.GetStatus(2))
	req.NotZero(svc.GetPresenceInfo(2).LastSeen)
	req.True(svc.IsOnline(3))
}

func TestService_ConcurrentConnections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc := NewService(&recordingBroadcaster{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.SetOnline(ctx, 42, "employee")
			svc.UpdateActivity(ctx, 42)
			svc.SetOffline(ctx, 42)
		}()
	}
	wg.Wait()

	info := svc.GetPresenceInfo(42)
	req.Equal(0, info.ConnectionCount)
	req.Equal(entity.PresenceStatusOffline, info.Status)
}

// slowMirror 每次写入随机延迟，记录每个用户最终的镜像状态
type slowMirror struct {
	mu     sync.Mutex
	online map[uint64]bool
	writes int
}

func newSlowMirror() *slowMirror {
	return &slowMirror{online: make(map[uint64]bool)}
}

func (m *slowMirror) delay() {
	time.Sleep(time.Duration(rand.Intn(300)) * time.Microsecond)
}

func (m *slowMirror) set(userID uint64, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[userID] = online
	m.writes++
}

func (m *slowMirror) Save(_ context.Context, rec entity.PresenceRecord) error {
	m.delay()
	m.set(rec.UserID, rec.IsOnline())
	return nil
}

func (m *slowMirror) MarkOffline(_ context.Context, rec entity.PresenceRecord) error {
	m.delay()
	m.set(rec.UserID, false)
	return nil
}

func (m *slowMirror) Remove(_ context.Context, userID uint64) error {
	m.delay()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, userID)
	return nil
}

func (m *slowMirror) Get(_ context.Context, userID uint64) (entity.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online[userID] {
		return entity.PresenceRecord{UserID: userID, Status: entity.PresenceStatusOnline}, nil
	}
	return entity.OfflineRecord(userID), nil
}

func TestService_MirrorKeepsLastState(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	mirror := newSlowMirror()
	svc := NewService(&recordingBroadcaster{}, WithMirror(mirror))

	// Given 200 users that connect and disconnect concurrently against a slow mirror
	var wg sync.WaitGroup
	for i := 1; i <= 200; i++ {
		wg.Add(1)
		go func(userID uint64) {
			defer wg.Done()
			svc.SetOnline(ctx, userID, "employee")
			svc.SetOffline(ctx, userID)
		}(uint64(i))
	}
	wg.Wait()

	// When the pending mirror writes are flushed
	svc.Close()

	// Then every user is offline in the mirror, matching the local registry
	for i := 1; i <= 200; i++ {
		rec, err := mirror.Get(ctx, uint64(i))
		req.NoError(err)
		req.False(rec.IsOnline(), "user %d", i)
		req.False(svc.IsOnline(uint64(i)))
	}
	req.NotZero(mirror.writes)
}

func TestService_CloseDropsLateWrites(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	mirror := newSlowMirror()
	svc := NewService(&recordingBroadcaster{}, WithMirror(mirror))

	// Given a closed service
	svc.SetOnline(ctx, 1, "employee")
	svc.Close()
	svc.Close()

	// When a user connects afterwards
	svc.SetOnline(ctx, 2, "employee")

	// Then local state changes but nothing more reaches the mirror
	req.True(svc.IsOnline(2))
	rec, err := mirror.Get(ctx, 2)
	req.NoError(err)
	req.False(rec.IsOnline())
	rec, err = mirror.Get(ctx, 1)
	req.NoError(err)
	req.True(rec.IsOnline())
}

func TestService_CleanupDoesNotDropFreshSubscriptions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var hours atomic.Int64
	svc := NewService(&recordingBroadcaster{}, WithClock(func() time.Time {
		return base.Add(time.Duration(hours.Load()) * time.Hour)
	}))

	// Given a cleanup loop that keeps jumping the clock past the cleanup age
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hours.Add(48)
				svc.Cleanup(ctx, 24*time.Hour)
			}
		}
	}()

	// When a user reconnects and is subscribed to right away
	for i := 0; i < 500; i++ {
		svc.SetOffline(ctx, 7)
		svc.SetOnline(ctx, 7, "employee")
		svc.SubscribeToUser(7, 9)

		// Then an online user never loses the subscription
		req.Contains(svc.subs.Subscribers(7), uint64(9))
		svc.UnsubscribeFromUser(7, 9)
	}
	close(stop)
	wg.Wait()
}
