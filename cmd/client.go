package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/credmesh/credmesh/cmd/util"
	"github.com/credmesh/credmesh/internal/graph"
	"github.com/credmesh/credmesh/pkg/rpc"
)

const (
	serverAddrFlag = "server-addr"
	apiTokenFlag   = "api-token"
	directionFlag  = "direction"
	rpcTimeoutFlag = "rpc-timeout"
)

// registerClientFlags declares the flags shared by the commands that talk to
// a credmesh server.
func registerClientFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.String(serverAddrFlag, "localhost:8081", "the address of the credmesh server to resolve against")
	flags.String(apiTokenFlag, "", "the preshared key to authenticate with, when the server requires one")
	flags.String(directionFlag, "bidirectional", "the search direction: forward, backward or bidirectional")
	flags.Duration(rpcTimeoutFlag, 30*time.Second, "how long to wait for the resolution before giving up")
}

func bindClientFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	util.MustBindPFlag(serverAddrFlag, flags.Lookup(serverAddrFlag))
	util.MustBindPFlag(apiTokenFlag, flags.Lookup(apiTokenFlag))
	util.MustBindPFlag(directionFlag, flags.Lookup(directionFlag))
	util.MustBindPFlag(rpcTimeoutFlag, flags.Lookup(rpcTimeoutFlag))
}

func parseDirection(s string) (graph.Direction, error) {
	switch s {
	case "forward":
		return graph.DirectionForward, nil
	case "backward":
		return graph.DirectionBackward, nil
	case "bidirectional":
		return graph.DirectionBidirectional, nil
	default:
		return 0, fmt.Errorf("unknown search direction '%s': want forward, backward or bidirectional", s)
	}
}

// dialResolver connects to the server named by the client flags. The caller
// owns the returned connection.
func dialResolver() (rpc.ResolverClient, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		viper.GetString(serverAddrFlag),
		rpc.DialOptions(grpc.WithTransportCredentials(insecure.NewCredentials()))...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", viper.GetString(serverAddrFlag), err)
	}

	return rpc.NewResolverClient(conn), conn, nil
}

// resolveContext derives the deadline-bound context resolution calls run
// under, attaching the bearer token when one is configured.
func resolveContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, viper.GetDuration(rpcTimeoutFlag))
	if token := viper.GetString(apiTokenFlag); token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	return ctx, cancel
}
