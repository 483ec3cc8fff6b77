// Package commands holds the command objects the service layer executes: one
// per RPC, each driving the resolution engine and shaping its outcome into
// transport messages.
package commands

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/credmesh/credmesh/internal/graph"
	"github.com/credmesh/credmesh/pkg/rpc"
)

// resultUpdate shapes an engine resolution into the final stream frame.
func resultUpdate(res *graph.Resolution) *rpc.ResolutionUpdate {
	return &rpc.ResolutionUpdate{
		Result: &rpc.ResultUpdate{
			Found:        res.Found,
			Chain:        res.Chain,
			Capabilities: res.Capabilities,
			Lookups:      res.Metadata.Lookups,
		},
	}
}

// toStatusError maps engine failures onto gRPC statuses.
func toStatusError(err error) error {
	switch {
	case errors.Is(err, graph.ErrResolverClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, graph.ErrNoDatastore):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
