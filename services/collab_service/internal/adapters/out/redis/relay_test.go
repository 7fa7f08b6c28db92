package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

type captured struct {
	target entity.Target
	event  *entity.Event
}

type localHub struct {
	mu  sync.Mutex
	got []captured
}

func (h *localHub) add(t entity.Target, e *entity.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, captured{target: t, event: e})
	return nil
}

func (h *localHub) BroadcastToChannel(_ context.Context, id uint64, e *entity.Event) error {
	return h.add(entity.Target{Kind: entity.TargetChannel, ID: id}, e)
}

func (h *localHub) BroadcastToRoom(_ context.Context, id uint64, e *entity.Event) error {
	return h.add(entity.Target{Kind: entity.TargetRoom, ID: id}, e)
}

func (h *localHub) SendToUser(_ context.Context, id uint64, e *entity.Event) error {
	return h.add(entity.Target{Kind: entity.TargetUser, ID: id}, e)
}

func (h *localHub) snapshot() []captured {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]captured(nil), h.got...)
}

func TestRelay_DeliversRemoteEventsOnly(t *testing.T) {
	req := require.New(t)
	_, client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewRelay(client, "", "node-a")
	nodeB := NewRelay(client, "", "node-b")
	hubB := &localHub{}

	done := make(chan error, 1)
	go func() { done <- nodeB.Run(ctx, hubB) }()
	req.Eventually(func() bool {
		n, err := client.PubSubNumSub(ctx, DefaultRelayChannel).Result()
		return err == nil && n[DefaultRelayChannel] == 1
	}, time.Second, 10*time.Millisecond)

	// When node B publishes its own event and node A publishes one for a room
	req.NoError(nodeB.SendToUser(ctx, 1, entity.NewEvent(entity.EventPresenceChange, map[string]any{"userId": 1})))
	req.NoError(nodeA.BroadcastToRoom(ctx, 12, entity.NewEvent(entity.EventScreenShareSignal, map[string]any{"sessionId": "s-1"})))

	// Then only node A's event reaches node B's local hub
	req.Eventually(func() bool { return len(hubB.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	got := hubB.snapshot()[0]
	req.Equal(entity.Target{Kind: entity.TargetRoom, ID: 12}, got.target)
	req.Equal(entity.EventScreenShareSignal, got.event.Type)

	raw, err := json.Marshal(got.event)
	req.NoError(err)
	req.Contains(string(raw), `"sessionId":"s-1"`)

	cancel()
	req.NoError(<-done)
	req.Len(hubB.snapshot(), 1)
}
