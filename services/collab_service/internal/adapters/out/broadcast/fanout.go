package broadcast

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/metrics"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

// Sink 一个具名的下游
type Sink struct {
	Name        string
	Broadcaster out.Broadcaster
}

// Fanout 依次投递给所有下游，某个失败不影响其他下游
type Fanout struct {
	sinks []Sink
}

// NewFanout 组合多个下游，nil 会被忽略
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s.Broadcaster != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

var _ out.Broadcaster = (*Fanout)(nil)

func (f *Fanout) BroadcastToChannel(ctx context.Context, channelID uint64, event *entity.Event) error {
	return f.each(func(b out.Broadcaster) error { return b.BroadcastToChannel(ctx, channelID, event) })
}

func (f *Fanout) BroadcastToRoom(ctx context.Context, roomID uint64, event *entity.Event) error {
	return f.each(func(b out.Broadcaster) error { return b.BroadcastToRoom(ctx, roomID, event) })
}

func (f *Fanout) SendToUser(ctx context.Context, userID uint64, event *entity.Event) error {
	return f.each(func(b out.Broadcaster) error { return b.SendToUser(ctx, userID, event) })
}

func (f *Fanout) each(deliver func(out.Broadcaster) error) error {
	var errs error
	for _, s := range f.sinks {
		if err := deliver(s.Broadcaster); err != nil {
			metrics.BroadcastFailed.WithLabelValues(s.Name).Inc()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errs
}
