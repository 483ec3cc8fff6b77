package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ResolverClient is the client API of the credmesh.v1.Resolver service.
type ResolverClient interface {
	// Verify opens a resolution stream. The stream yields zero or more
	// progress updates and ends with the result update.
	Verify(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ResolutionUpdate], error)

	// Collect runs a collect resolution and returns its result update.
	Collect(ctx context.Context, in *CollectRequest, opts ...grpc.CallOption) (*ResolutionUpdate, error)
}

type resolverClient struct {
	cc grpc.ClientConnInterface
}

// NewResolverClient wraps an established client connection. The connection
// must negotiate this package's content subtype; DialOptions sets that up.
func NewResolverClient(cc grpc.ClientConnInterface) ResolverClient {
	return &resolverClient{cc: cc}
}

// DialOptions prepends the call options a credmesh connection requires to any
// extra options the caller supplies.
func DialOptions(extra ...grpc.DialOption) []grpc.DialOption {
	return append([]grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)),
	}, extra...)
}

func (c *resolverClient) Verify(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ResolutionUpdate], error) {
	stream, err := c.cc.NewStream(ctx, &ResolverServiceDesc.Streams[0], VerifyFullMethodName, opts...)
	if err != nil {
		return nil, err
	}

	x := &grpc.GenericClientStream[VerifyRequest, ResolutionUpdate]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}

	return x, nil
}

func (c *resolverClient) Collect(ctx context.Context, in *CollectRequest, opts ...grpc.CallOption) (*ResolutionUpdate, error) {
	out := new(ResolutionUpdate)
	if err := c.cc.Invoke(ctx, CollectFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
