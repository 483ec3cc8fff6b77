package commands

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/credmesh/credmesh/internal/graph"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/rpc"
)

// CollectQuery runs one collect resolution: the presented capabilities come
// from the subject zone's private delegate records, and only the final result
// is returned.
type CollectQuery struct {
	logger   logger.Logger
	resolver *graph.Resolver
}

type CollectQueryOption func(*CollectQuery)

func WithCollectQueryLogger(l logger.Logger) CollectQueryOption {
	return func(q *CollectQuery) {
		q.logger = l
	}
}

func NewCollectQuery(resolver *graph.Resolver, opts ...CollectQueryOption) *CollectQuery {
	q := &CollectQuery{
		logger:   logger.NewNoopLogger(),
		resolver: resolver,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *CollectQuery) Execute(ctx context.Context, req *rpc.CollectRequest) (*rpc.ResolutionUpdate, error) {
	pending, err := q.resolver.BeginCollect(ctx, &graph.CollectRequest{
		Issuer:          req.Issuer,
		IssuerAttribute: req.IssuerAttribute,
		SubjectKey:      req.SubjectKey,
		Direction:       req.Direction,
	})
	if err != nil {
		return nil, toStatusError(err)
	}

	select {
	case <-ctx.Done():
		q.resolver.Cancel(pending.ID())

		return nil, status.FromContextError(ctx.Err()).Err()

	case res, ok := <-pending.Result():
		if !ok {
			return nil, status.Error(codes.Canceled, "resolution aborted")
		}

		q.logger.DebugWithContext(ctx, "collect resolution completed",
			zap.String("request_id", pending.ID()),
			zap.Bool("found", res.Found),
			zap.Uint32("lookups", res.Metadata.Lookups),
		)

		return resultUpdate(res), nil
	}
}
