package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dialReporter(t *testing.T, r *HealthReporter) grpc_health_v1.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := gogrpc.NewServer()
	r.Register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := gogrpc.NewClient("passthrough:///bufnet",
		gogrpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return grpc_health_v1.NewHealthClient(conn)
}

func TestHealthReporter_FollowsProbes(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	// Given a redis probe that can be switched off
	var redisDown atomic.Bool
	r := NewHealthReporter(DefaultHealthConfig(),
		Probe{Name: "mysql", Check: func(context.Context) error { return nil }},
		Probe{Name: "redis", Check: func(context.Context) error {
			if redisDown.Load() {
				return errors.New("connection refused")
			}
			return nil
		}},
	)
	client := dialReporter(t, r)

	// Then before any probe the node is not serving
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	req.NoError(err)
	req.Equal(grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	// When all probes pass
	r.RunOnce(ctx)
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	req.NoError(err)
	req.Equal(grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
	ok, failures := r.Status()
	req.True(ok)
	req.Empty(failures)

	// When redis goes down
	redisDown.Store(true)
	r.RunOnce(ctx)
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	req.NoError(err)
	req.Equal(grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
	ok, failures = r.Status()
	req.False(ok)
	req.Equal(map[string]string{"redis": "connection refused"}, failures)
}

func TestHealthReporter_StopMarksNotServing(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	r := NewHealthReporter(HealthConfig{}, Probe{Name: "mysql", Check: func(context.Context) error { return nil }})
	client := dialReporter(t, r)
	r.Start()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	req.NoError(err)
	req.Equal(grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	r.Stop()
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	req.NoError(err)
	req.Equal(grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
