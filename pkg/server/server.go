// Package server implements the credmesh.v1.Resolver service backend on top
// of the resolution engine.
package server

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	otelattr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/credmesh/credmesh/internal/graph"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/rpc"
	"github.com/credmesh/credmesh/pkg/server/commands"
	"github.com/credmesh/credmesh/pkg/storage"
)

var tracer = otel.Tracer("credmesh/pkg/server")

// A Server answers resolution requests as a gRPC service.
type Server struct {
	logger          logger.Logger
	resolver        *graph.Resolver
	datastore       storage.ZoneDatastore
	resolveDeadline time.Duration
}

var _ rpc.ResolverServer = (*Server)(nil)

// Dependencies are the collaborators a Server is built from. Datastore may be
// nil, in which case collect requests fail and readiness always passes.
type Dependencies struct {
	Resolver  *graph.Resolver
	Datastore storage.ZoneDatastore
	Logger    logger.Logger

	// ResolveDeadline caps the wall time of a single resolution. Zero means
	// requests run until they finish or the caller goes away.
	ResolveDeadline time.Duration
}

// New creates a Server which uses the supplied backends for resolution.
func New(dependencies *Dependencies) *Server {
	s := &Server{
		logger:          dependencies.Logger,
		resolver:        dependencies.Resolver,
		datastore:       dependencies.Datastore,
		resolveDeadline: dependencies.ResolveDeadline,
	}
	if s.logger == nil {
		s.logger = logger.NewNoopLogger()
	}

	return s
}

func (s *Server) resolveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.resolveDeadline <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.resolveDeadline)
}

func (s *Server) Verify(req *rpc.VerifyRequest, stream grpc.ServerStreamingServer[rpc.ResolutionUpdate]) error {
	ctx, span := tracer.Start(stream.Context(), "Verify", trace.WithAttributes(
		otelattr.String("issuer", req.Issuer.String()),
		otelattr.String("issuer_attribute", req.IssuerAttribute.String()),
		otelattr.String("subject", req.Subject.String()),
		otelattr.String("direction", req.Direction.String()),
	))
	defer span.End()

	ctx, cancel := s.resolveContext(ctx)
	defer cancel()

	q := commands.NewVerifyQuery(s.resolver, commands.WithVerifyQueryLogger(s.logger))

	return q.ExecuteStreamed(ctx, req, stream)
}

func (s *Server) Collect(ctx context.Context, req *rpc.CollectRequest) (*rpc.ResolutionUpdate, error) {
	ctx, span := tracer.Start(ctx, "Collect", trace.WithAttributes(
		otelattr.String("issuer", req.Issuer.String()),
		otelattr.String("issuer_attribute", req.IssuerAttribute.String()),
		otelattr.String("subject", req.SubjectKey.Public().String()),
		otelattr.String("direction", req.Direction.String()),
	))
	defer span.End()

	ctx, cancel := s.resolveContext(ctx)
	defer cancel()

	q := commands.NewCollectQuery(s.resolver, commands.WithCollectQueryLogger(s.logger))

	res, err := q.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(otelattr.Bool("found", res.Result.Found))

	return res, nil
}

// Close shuts the resolution engine down, aborting in-flight requests.
func (s *Server) Close() {
	s.resolver.Close()
}

// IsReady reports whether this server instance is ready to accept traffic.
func (s *Server) IsReady(ctx context.Context) (bool, error) {
	if s.datastore == nil {
		return true, nil
	}

	status, err := s.datastore.IsReady(ctx)
	if err != nil {
		return false, err
	}
	if !status.IsReady && status.Message != "" {
		s.logger.WarnWithContext(ctx, "datastore is not ready", zap.String("status", status.Message))
	}

	return status.IsReady, nil
}
