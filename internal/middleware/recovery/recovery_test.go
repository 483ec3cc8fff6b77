package recovery

import (
	"context"
	"net"
	"testing"

	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/credmesh/credmesh/internal/graph"
	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/rpc"
)

type panickingResolverServer struct{}

func (panickingResolverServer) Verify(req *rpc.VerifyRequest, stream grpc.ServerStreamingServer[rpc.ResolutionUpdate]) error {
	panic("Unexpected error!")
}

func (panickingResolverServer) Collect(context.Context, *rpc.CollectRequest) (*rpc.ResolutionUpdate, error) {
	panic("Unexpected error!")
}

func setupPanickingServer(t *testing.T) rpc.ResolverClient {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() {
		lis.Close()
		goleak.VerifyNone(t)
	})

	recoveryHandler := PanicRecoveryHandler(logger.NewNoopLogger())
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandlerContext(recoveryHandler)),
		),
		grpc.ChainStreamInterceptor(
			grpc_recovery.StreamServerInterceptor(grpc_recovery.WithRecoveryHandlerContext(recoveryHandler)),
		),
	)
	t.Cleanup(srv.Stop)

	rpc.RegisterResolverServer(srv, panickingResolverServer{})

	go func() {
		_ = srv.Serve(lis)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	}
	conn, err := grpc.NewClient("passthrough://bufnet",
		rpc.DialOptions(
			grpc.WithContextDialer(dialer),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
	})

	return rpc.NewResolverClient(conn)
}

func newTestKey(t *testing.T) crypto.PrivateKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key
}

func TestUnaryPanicInterceptor(t *testing.T) {
	client := setupPanickingServer(t)

	_, err := client.Collect(context.Background(), &rpc.CollectRequest{
		Direction:       graph.DirectionForward,
		SubjectKey:      newTestKey(t),
		Issuer:          newTestKey(t).Public(),
		IssuerAttribute: attribute.MustParse("a"),
	})

	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Internal, st.Code())
}

func TestStreamPanicInterceptor(t *testing.T) {
	client := setupPanickingServer(t)

	stream, err := client.Verify(context.Background(), &rpc.VerifyRequest{
		Direction:       graph.DirectionForward,
		Issuer:          newTestKey(t).Public(),
		Subject:         newTestKey(t).Public(),
		IssuerAttribute: attribute.MustParse("a"),
	})
	require.NoError(t, err)

	_, err = stream.Recv()
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Internal, st.Code())
}
