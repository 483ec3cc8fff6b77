// Package health serves the standard gRPC health protocol for a credmesh
// server.
package health

import (
	"context"

	grpcauth "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"google.golang.org/grpc/codes"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// TargetService is the readiness probe of the service the checker reports on.
type TargetService interface {
	IsReady(ctx context.Context) (bool, error)
}

// Checker answers health checks for a single registered service name. Health
// probes must stay reachable when the server enforces authentication, so the
// checker overrides the auth middleware with a no-op.
type Checker struct {
	healthv1pb.UnimplementedHealthServer
	TargetService
	TargetServiceName string
}

var _ grpcauth.ServiceAuthFuncOverride = (*Checker)(nil)

// AuthFuncOverride bypasses authn middleware for health traffic.
func (c *Checker) AuthFuncOverride(ctx context.Context, fullMethodName string) (context.Context, error) {
	return ctx, nil
}

func (c *Checker) Check(ctx context.Context, req *healthv1pb.HealthCheckRequest) (*healthv1pb.HealthCheckResponse, error) {
	requestedService := req.GetService()
	if requestedService != "" && requestedService != c.TargetServiceName {
		return nil, status.Errorf(codes.NotFound, "service '%s' is not registered with the health server", requestedService)
	}

	ready, err := c.IsReady(ctx)
	if err != nil {
		return &healthv1pb.HealthCheckResponse{Status: healthv1pb.HealthCheckResponse_NOT_SERVING}, err
	}
	if !ready {
		return &healthv1pb.HealthCheckResponse{Status: healthv1pb.HealthCheckResponse_NOT_SERVING}, nil
	}

	return &healthv1pb.HealthCheckResponse{Status: healthv1pb.HealthCheckResponse_SERVING}, nil
}

func (c *Checker) Watch(req *healthv1pb.HealthCheckRequest, server healthv1pb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "unimplemented streaming endpoint")
}
