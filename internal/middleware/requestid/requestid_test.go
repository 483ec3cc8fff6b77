package requestid

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

func TestInitIDUsesTraceID(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x01},
		SpanID:  trace.SpanID{0x01},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	require.Equal(t, sc.TraceID().String(), InitID(ctx))
}

func TestInitIDFallsBackToULID(t *testing.T) {
	id := InitID(context.Background())

	_, err := ulid.Parse(id)
	require.NoError(t, err)
}

func TestUnaryInterceptorInjectsRequestID(t *testing.T) {
	interceptor := NewUnaryInterceptor()

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		id, ok := FromContext(ctx)
		require.True(t, ok)
		seen = id

		return nil, nil
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/credmesh.v1.Resolver/Collect"}, handler)
	require.NoError(t, err)
	require.NotEmpty(t, seen)
}

type contextServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextServerStream) Context() context.Context { return s.ctx }

func TestStreamingInterceptorInjectsRequestID(t *testing.T) {
	interceptor := NewStreamingInterceptor()

	var seen string
	handler := func(srv any, ss grpc.ServerStream) error {
		id, ok := FromContext(ss.Context())
		require.True(t, ok)
		seen = id

		return nil
	}

	stream := &contextServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/credmesh.v1.Resolver/Verify", IsServerStream: true}
	require.NoError(t, interceptor(nil, stream, info, handler))
	require.NotEmpty(t, seen)
}

func TestFromContextWithoutInterceptor(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)
}
