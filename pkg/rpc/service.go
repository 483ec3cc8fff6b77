package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "credmesh.v1.Resolver"

	VerifyFullMethodName  = "/credmesh.v1.Resolver/Verify"
	CollectFullMethodName = "/credmesh.v1.Resolver/Collect"
)

// ResolverServer is the server API of the credmesh.v1.Resolver service.
type ResolverServer interface {
	// Verify streams zero or more progress updates followed by exactly one
	// result update.
	Verify(*VerifyRequest, grpc.ServerStreamingServer[ResolutionUpdate]) error

	// Collect resolves from the subject zone's stored capabilities and returns
	// the result directly. Progress is not reported.
	Collect(context.Context, *CollectRequest) (*ResolutionUpdate, error)
}

// RegisterResolverServer registers srv with the given gRPC registrar.
func RegisterResolverServer(s grpc.ServiceRegistrar, srv ResolverServer) {
	s.RegisterService(&ResolverServiceDesc, srv)
}

// ResolverServiceDesc is the service descriptor for the Resolver service. It
// is assembled by hand because the messages are not protobuf; the handlers
// below mirror what generated gRPC bindings would do.
var ResolverServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ResolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Collect",
			Handler:    collectHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Verify",
			Handler:       verifyHandler,
			ServerStreams: true,
		},
	},
}

func verifyHandler(srv any, stream grpc.ServerStream) error {
	in := new(VerifyRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(ResolverServer).Verify(in, &grpc.GenericServerStream[VerifyRequest, ResolutionUpdate]{ServerStream: stream})
}

func collectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CollectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResolverServer).Collect(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CollectFullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResolverServer).Collect(ctx, req.(*CollectRequest))
	}

	return interceptor(ctx, in, info, handler)
}
