package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/credmesh/credmesh/pkg/logger"
)

func TestUnaryLoggingInterceptor(t *testing.T) {
	t.Run("successful_call_logs_request_complete", func(t *testing.T) {
		log, logs := logger.NewObserverLogger("debug")
		interceptor := NewLoggingInterceptor(log)

		handler := func(ctx context.Context, req any) (any, error) {
			return nil, nil
		}

		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/credmesh.v1.Resolver/Collect"}, handler)
		require.NoError(t, err)

		entries := logs.All()
		require.Len(t, entries, 1)
		require.Equal(t, "grpc_req_complete", entries[0].Message)

		fields := entries[0].ContextMap()
		require.Equal(t, "credmesh.v1.Resolver", fields[grpcServiceKey])
		require.Equal(t, "Collect", fields[grpcMethodKey])
		require.EqualValues(t, codes.OK, fields[grpcCodeKey])
	})

	t.Run("internal_error_logs_at_error_level", func(t *testing.T) {
		log, logs := logger.NewObserverLogger("debug")
		interceptor := NewLoggingInterceptor(log)

		handler := func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.Internal, "resolution engine broke")
		}

		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/credmesh.v1.Resolver/Collect"}, handler)
		require.Error(t, err)

		entries := logs.All()
		require.Len(t, entries, 1)
		require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		require.EqualValues(t, codes.Internal, entries[0].ContextMap()[grpcCodeKey])
	})

	t.Run("caller_errors_log_at_info_level", func(t *testing.T) {
		log, logs := logger.NewObserverLogger("debug")
		interceptor := NewLoggingInterceptor(log)

		handler := func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(codes.FailedPrecondition, "no datastore configured")
		}

		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/credmesh.v1.Resolver/Collect"}, handler)
		require.Error(t, err)

		entries := logs.All()
		require.Len(t, entries, 1)
		require.Equal(t, zapcore.InfoLevel, entries[0].Level)
		require.EqualValues(t, codes.FailedPrecondition, entries[0].ContextMap()[grpcCodeKey])
	})
}

type sendCountingStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *sendCountingStream) Context() context.Context { return s.ctx }
func (s *sendCountingStream) SendMsg(m any) error      { return nil }
func (s *sendCountingStream) RecvMsg(m any) error      { return nil }

func TestStreamingLoggingInterceptorCountsMessages(t *testing.T) {
	log, logs := logger.NewObserverLogger("debug")
	interceptor := NewStreamingLoggingInterceptor(log)

	handler := func(srv any, ss grpc.ServerStream) error {
		require.NoError(t, ss.SendMsg(struct{}{}))
		require.NoError(t, ss.SendMsg(struct{}{}))

		return nil
	}

	stream := &sendCountingStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/credmesh.v1.Resolver/Verify", IsServerStream: true}
	require.NoError(t, interceptor(nil, stream, info, handler))

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	require.Equal(t, "Verify", fields[grpcMethodKey])
	require.EqualValues(t, 2, fields[messagesSentKey])
}
