// Package logging emits one structured log line per RPC.
package logging

import (
	"context"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/credmesh/credmesh/internal/middleware/requestid"
	"github.com/credmesh/credmesh/pkg/logger"
)

const (
	grpcServiceKey     = "grpc_service"
	grpcMethodKey      = "grpc_method"
	grpcTypeKey        = "grpc_type"
	grpcCodeKey        = "grpc_code"
	requestIDKey       = "request_id"
	traceIDKey         = "trace_id"
	peerAddressKey     = "peer_address"
	messagesSentKey    = "messages_sent"
	grpcReqCompleteKey = "grpc_req_complete"
	userAgentKey       = "user_agent"
	queryDurationKey   = "query_duration_ms"

	userAgentHeader string = "user-agent"
)

// NewLoggingInterceptor creates a new logging interceptor for gRPC unary server requests.
func NewLoggingInterceptor(logger logger.Logger) grpc.UnaryServerInterceptor {
	return interceptors.UnaryServerInterceptor(reportable(logger))
}

// NewStreamingLoggingInterceptor creates a new streaming logging interceptor for gRPC stream server requests.
func NewStreamingLoggingInterceptor(logger logger.Logger) grpc.StreamServerInterceptor {
	return interceptors.StreamServerInterceptor(reportable(logger))
}

type reporter struct {
	ctx          context.Context
	logger       logger.Logger
	fields       []zap.Field
	streaming    bool
	messagesSent int
}

// PostCall is invoked after all PostMsgSend operations.
func (r *reporter) PostCall(err error, rpcDuration time.Duration) {
	rpcDurationMs := strconv.FormatInt(rpcDuration.Milliseconds(), 10)

	r.fields = append(r.fields, zap.String(queryDurationKey, rpcDurationMs))
	if requestID, ok := requestid.FromContext(r.ctx); ok {
		r.fields = append(r.fields, zap.String(requestIDKey, requestID))
	}
	if r.streaming {
		r.fields = append(r.fields, zap.Int(messagesSentKey, r.messagesSent))
	}

	code := status.Code(err)
	r.fields = append(r.fields, zap.Int32(grpcCodeKey, int32(code)))

	if err != nil {
		r.fields = append(r.fields, zap.Error(err))
		if code == codes.Internal {
			r.logger.Error(err.Error(), r.fields...)

			return
		}
	}

	r.logger.Info(grpcReqCompleteKey, r.fields...)
}

// PostMsgSend is invoked once after a unary response or multiple times in
// streaming requests after each message has been sent.
func (r *reporter) PostMsgSend(msg interface{}, err error, _ time.Duration) {
	if err == nil {
		r.messagesSent++
	}
}

// PostMsgReceive is invoked after receiving a message in streaming requests.
func (r *reporter) PostMsgReceive(msg interface{}, _ error, _ time.Duration) {}

// userAgentFromContext retrieves the user agent field from the provided context.
// If the user agent field is not present in the context, the function returns an empty string and false.
func userAgentFromContext(ctx context.Context) (string, bool) {
	if headers, ok := metadata.FromIncomingContext(ctx); ok {
		if header := headers.Get(userAgentHeader); len(header) > 0 {
			return header[0], true
		}
	}
	return "", false
}

func reportable(l logger.Logger) interceptors.CommonReportableFunc {
	return func(ctx context.Context, c interceptors.CallMeta) (interceptors.Reporter, context.Context) {
		fields := []zap.Field{
			zap.String(grpcServiceKey, c.Service),
			zap.String(grpcMethodKey, c.Method),
			zap.String(grpcTypeKey, string(c.Typ)),
		}

		spanCtx := trace.SpanContextFromContext(ctx)
		if spanCtx.HasTraceID() {
			fields = append(fields, zap.String(traceIDKey, spanCtx.TraceID().String()))
		}

		if userAgent, ok := userAgentFromContext(ctx); ok {
			fields = append(fields, zap.String(userAgentKey, userAgent))
		}

		if p, ok := peer.FromContext(ctx); ok {
			fields = append(fields, zap.String(peerAddressKey, p.Addr.String()))
		}

		return &reporter{
			ctx:       ctx,
			logger:    l,
			fields:    fields,
			streaming: c.Typ != interceptors.Unary,
		}, ctx
	}
}
