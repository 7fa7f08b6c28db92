package screenshare

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReaper_RunsSweepsInOrder(t *testing.T) {
	req := require.New(t)

	var order []string
	r := NewReaper(DefaultReaperConfig(),
		func(context.Context) { order = append(order, "sessions") },
		func(context.Context) { order = append(order, "presence") },
	)

	r.RunOnce(context.Background())

	req.Equal([]string{"sessions", "presence"}, order)
}

func TestReaper_StartStop(t *testing.T) {
	req := require.New(t)

	var runs atomic.Int32
	r := NewReaper(ReaperConfig{Interval: 10 * time.Millisecond}, func(context.Context) { runs.Add(1) })

	req.NoError(r.Start())
	req.Error(r.Start())
	req.Eventually(func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	r.Stop()
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	req.Equal(stopped, runs.Load())

	// Stop is safe to repeat
	r.Stop()
}

func TestReaper_SkipsWhenCancelled(t *testing.T) {
	req := require.New(t)

	var runs atomic.Int32
	r := NewReaper(DefaultReaperConfig(), func(context.Context) { runs.Add(1) })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.RunOnce(ctx)

	req.Zero(runs.Load())
}
