package health

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
)

// ── Helpers ──────────────────────────────────────────────────────────────

func startHealth(t *testing.T) (*health.Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return hs, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestReporter_followsLifecycle(t *testing.T) {
	hs, client := startHealth(t)
	eng := measurement.NewEngine(measurement.Config{}, nil, nil, zap.NewNop())
	eng.OnLifecycle(NewReporter(hs, zap.NewNop()).Observe)

	if got := status(t, client, ServiceName(measurement.RootID)); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("root: got %v, want SERVING", got)
	}

	ns, err := eng.CreateNamespace(measurement.RootID)
	if err != nil {
		t.Fatal(err)
	}
	if got := status(t, client, ServiceName(ns.ID())); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("created: got %v, want NOT_SERVING", got)
	}
	if err := eng.Activate(ns.ID()); err != nil {
		t.Fatal(err)
	}
	if got := status(t, client, ServiceName(ns.ID())); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("active: got %v, want SERVING", got)
	}
	if err := eng.Teardown(ns.ID()); err != nil {
		t.Fatal(err)
	}
	if got := status(t, client, ServiceName(ns.ID())); got != healthpb.HealthCheckResponse_SERVICE_UNKNOWN {
		t.Errorf("torn down: got %v, want SERVICE_UNKNOWN", got)
	}
}

func TestChecker_degradesAfterThreshold(t *testing.T) {
	hs, client := startHealth(t)
	failing := true
	probe := Probe{Name: "redis", Check: func(context.Context) error {
		if failing {
			return errors.New("connection refused")
		}
		return nil
	}}
	c := NewChecker(hs, []Probe{probe}, Config{FailThreshold: 2}, zap.NewNop())

	c.CheckAll(context.Background())
	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after 1 failure: got %v, want SERVING", got)
	}
	c.CheckAll(context.Background())
	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after 2 failures: got %v, want NOT_SERVING", got)
	}

	failing = false
	c.CheckAll(context.Background())
	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after recovery: got %v, want SERVING", got)
	}
}
