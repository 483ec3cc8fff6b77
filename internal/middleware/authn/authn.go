package authn

import (
	"context"

	grpcauth "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"

	"github.com/credmesh/credmesh/internal/authn"
)

// AuthFunc adapts an Authenticator for the grpc auth interceptor, stashing
// the verified claims in the request context.
func AuthFunc(authenticator authn.Authenticator) grpcauth.AuthFunc {
	return func(ctx context.Context) (context.Context, error) {
		claims, err := authenticator.Authenticate(ctx)
		if err != nil {
			return nil, err
		}

		return authn.ContextWithAuthClaims(ctx, claims), nil
	}
}
