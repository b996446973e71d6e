package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, token string, h *Health) healthpb.HealthClient {
	t.Helper()
	server, err := NewServer(token, h)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	listener := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func withToken(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), serviceTokenHeader, token)
}

func TestServiceAuth(t *testing.T) {
	h := NewHealth(nil, zerolog.Nop())
	h.Check(context.Background())
	client := startServer(t, "secret", h)

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	_, err = client.Check(withToken("wrong"), &healthpb.HealthCheckRequest{})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	resp, err := client.Check(withToken("secret"), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving, got %v", resp.Status)
	}
}

func TestHealthReflectsDependencies(t *testing.T) {
	var prefsErr error
	h := NewHealth(map[string]Check{
		"prefs": func(context.Context) error { return prefsErr },
		"api":   func(context.Context) error { return nil },
	}, zerolog.Nop())
	client := startServer(t, "", h)
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected not serving before the first check, got %v", resp.Status)
	}

	h.Check(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving, got %v %v", resp, err)
	}

	prefsErr = errors.New("redis down")
	h.Check(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected not serving, got %v %v", resp, err)
	}
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "api"})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected api serving, got %v %v", resp, err)
	}
}

func TestInterceptorRequiresToken(t *testing.T) {
	if _, err := NewServiceAuthUnaryInterceptor(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := NewServiceAuthStreamInterceptor(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
