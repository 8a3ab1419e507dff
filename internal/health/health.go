// Package health reports readiness of the dashboard's dependencies over HTTP
// and the standard gRPC health protocol.
package health

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "locateme.dashboard"

const checkTimeout = 3 * time.Second

// Pinger is a dependency that can be pinged (e.g. *sql.DB, the redis tile cache).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc adapts a func to Pinger.
type PingerFunc func(ctx context.Context) error

// PingContext implements Pinger.
func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// PolicyChecker verifies the polling policy evaluates (e.g. the OPA advisor).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is the outcome of one dependency check.
type Check struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Report is the overall readiness. Serving is false when any required check fails.
type Report struct {
	Serving       bool    `json:"serving"`
	Authenticated bool    `json:"authenticated"`
	Checks        []Check `json:"checks"`
}

// Checker runs the readiness checks. Nil dependencies are skipped.
type Checker struct {
	// Storage is the durable client state database.
	Storage Pinger
	// Policy is the polling policy advisor.
	Policy PolicyChecker
	// Tiles is the optional shared tile cache; a failure is reported but does not fail readiness.
	Tiles Pinger
	// Authenticated reports session presence; informational only.
	Authenticated func() bool

	mu   sync.Mutex
	last *Report
}

// Check runs every configured check.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	r := Report{Serving: true, Checks: []Check{}}
	if c.Storage != nil {
		ck := run("storage", func() error { return c.Storage.PingContext(ctx) })
		r.Serving = r.Serving && ck.OK
		r.Checks = append(r.Checks, ck)
	}
	if c.Policy != nil {
		ck := run("policy", func() error { return c.Policy.HealthCheck(ctx) })
		r.Serving = r.Serving && ck.OK
		r.Checks = append(r.Checks, ck)
	}
	if c.Tiles != nil {
		r.Checks = append(r.Checks, run("tiles", func() error { return c.Tiles.PingContext(ctx) }))
	}
	if c.Authenticated != nil {
		r.Authenticated = c.Authenticated()
	}

	c.mu.Lock()
	c.last = &r
	c.mu.Unlock()
	return r
}

// Last returns the most recent report, or nil before the first check.
func (c *Checker) Last() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func run(name string, fn func() error) Check {
	if err := fn(); err != nil {
		return Check{Name: name, Error: err.Error()}
	}
	return Check{Name: name, OK: true}
}

// GRPC publishes Checker results through the standard gRPC health service.
type GRPC struct {
	checker *Checker
	server  *grpchealth.Server
}

// NewGRPC returns a gRPC health publisher for checker.
func NewGRPC(checker *Checker) *GRPC {
	return &GRPC{checker: checker, server: grpchealth.NewServer()}
}

// Register adds the health service to s.
func (g *GRPC) Register(s grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(s, g.server)
}

// Update runs the checks and sets the serving status of "" and ServiceName.
func (g *GRPC) Update(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if g.checker.Check(ctx).Serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.server.SetServingStatus("", status)
	g.server.SetServingStatus(ServiceName, status)
	return status
}

// Shutdown marks every service NOT_SERVING; subsequent updates are ignored.
func (g *GRPC) Shutdown() {
	g.server.Shutdown()
}
