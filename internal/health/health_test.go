package health

import (
	"context"
	"errors"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func pinger(err error) Pinger {
	return PingerFunc(func(context.Context) error { return err })
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		checker     *Checker
		wantServing bool
		wantChecks  int
	}{
		{"no dependencies", &Checker{}, true, 0},
		{"storage ok", &Checker{Storage: pinger(nil)}, true, 1},
		{"storage down", &Checker{Storage: pinger(errors.New("connection refused"))}, false, 1},
		{"policy fails", &Checker{Storage: pinger(nil), Policy: &mockPolicyChecker{healthErr: errors.New("rego compile failed")}}, false, 2},
		{"tiles down is informational", &Checker{Storage: pinger(nil), Tiles: pinger(errors.New("redis down"))}, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.checker.Check(context.Background())
			if r.Serving != tt.wantServing {
				t.Errorf("Serving = %v, want %v", r.Serving, tt.wantServing)
			}
			if len(r.Checks) != tt.wantChecks {
				t.Errorf("got %d checks, want %d", len(r.Checks), tt.wantChecks)
			}
			if tt.checker.Last() == nil {
				t.Error("Last() = nil after Check")
			}
		})
	}
}

func TestCheckReportsAuthentication(t *testing.T) {
	c := &Checker{Authenticated: func() bool { return true }}
	if r := c.Check(context.Background()); !r.Authenticated {
		t.Error("Authenticated = false, want true")
	}
}

func TestGRPCUpdate(t *testing.T) {
	c := &Checker{Storage: pinger(nil)}
	g := NewGRPC(c)
	if got := g.Update(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
	resp, err := g.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("served status = %v, want SERVING", resp.GetStatus())
	}

	c.Storage = pinger(errors.New("gone"))
	if got := g.Update(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}
