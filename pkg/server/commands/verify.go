package commands

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/credmesh/credmesh/internal/graph"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/rpc"
)

// VerifyQuery runs one verify resolution and relays its progress and result
// onto a server stream.
type VerifyQuery struct {
	logger   logger.Logger
	resolver *graph.Resolver
}

type VerifyQueryOption func(*VerifyQuery)

func WithVerifyQueryLogger(l logger.Logger) VerifyQueryOption {
	return func(q *VerifyQuery) {
		q.logger = l
	}
}

func NewVerifyQuery(resolver *graph.Resolver, opts ...VerifyQueryOption) *VerifyQuery {
	q := &VerifyQuery{
		logger:   logger.NewNoopLogger(),
		resolver: resolver,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// ExecuteStreamed begins the resolution and forwards every progress event
// followed by exactly one result frame. The stream never carries a result
// before the progress events that preceded it.
func (q *VerifyQuery) ExecuteStreamed(ctx context.Context, req *rpc.VerifyRequest, stream grpc.ServerStreamingServer[rpc.ResolutionUpdate]) error {
	pending, err := q.resolver.BeginVerify(ctx, &graph.VerifyRequest{
		Issuer:          req.Issuer,
		IssuerAttribute: req.IssuerAttribute,
		Subject:         req.Subject,
		Capabilities:    req.Capabilities,
		Direction:       req.Direction,
	})
	if err != nil {
		return toStatusError(err)
	}

	progress := pending.Progress()
	for {
		select {
		case <-ctx.Done():
			q.resolver.Cancel(pending.ID())

			return status.FromContextError(ctx.Err()).Err()

		case p, ok := <-progress:
			if !ok {
				progress = nil

				continue
			}
			if err := q.sendProgress(stream, p); err != nil {
				q.resolver.Cancel(pending.ID())

				return err
			}

		case res, ok := <-pending.Result():
			if !ok {
				return status.Error(codes.Canceled, "resolution aborted")
			}

			// The engine stops emitting progress before it delivers the
			// result, so anything still buffered belongs ahead of it.
			if progress != nil {
				for p := range progress {
					if err := q.sendProgress(stream, p); err != nil {
						return err
					}
				}
			}

			q.logger.DebugWithContext(ctx, "verify resolution streamed",
				zap.String("request_id", pending.ID()),
				zap.Bool("found", res.Found),
				zap.Uint32("lookups", res.Metadata.Lookups),
			)

			return stream.Send(resultUpdate(res))
		}
	}
}

func (q *VerifyQuery) sendProgress(stream grpc.ServerStreamingServer[rpc.ResolutionUpdate], p graph.Progress) error {
	return stream.Send(&rpc.ResolutionUpdate{
		Progress: &rpc.ProgressUpdate{
			Direction: p.Direction,
			Edge:      p.Edge,
		},
	})
}
