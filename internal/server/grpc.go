package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/marcelosanchez/locateme-web/internal/health"
)

// Deps holds optional gRPC service dependencies.
type Deps struct {
	// Health publishes readiness over grpc.health.v1. If nil, no service is registered.
	Health *health.GRPC
}

// RegisterServices registers the gRPC services with the given server.
//
//   - grpc.health.v1.Health → internal/health
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		deps.Health.Register(s)
	}
}

// NewGRPCServer returns a gRPC server with every available service registered.
// Calls are traced and measured through the global otel providers.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}
