// Package authn defines how callers of the resolver service authenticate.
package authn

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrUnauthenticated    = status.Error(codes.Unauthenticated, "unauthenticated")
	ErrMissingBearerToken = status.Error(codes.Unauthenticated, "missing bearer token")
)

// AuthClaims carries what is known about an authenticated caller.
type AuthClaims struct {
	Subject string
	Scopes  map[string]bool
}

type Authenticator interface {
	// Authenticate returns a nil error and the AuthClaims info (if available) if the subject is
	// authenticated or a non-nil error with an appropriate error cause otherwise.
	Authenticate(requestContext context.Context) (*AuthClaims, error)

	// Close releases resources held by the authenticator.
	Close()
}

type NoopAuthenticator struct{}

var _ Authenticator = (*NoopAuthenticator)(nil)

func (n NoopAuthenticator) Authenticate(requestContext context.Context) (*AuthClaims, error) {
	return &AuthClaims{
		Subject: "",
		Scopes:  nil,
	}, nil
}

func (n NoopAuthenticator) Close() {}

type claimsContextKey struct{}

// ContextWithAuthClaims injects the provided AuthClaims into the parent context.
func ContextWithAuthClaims(parent context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(parent, claimsContextKey{}, claims)
}

// AuthClaimsFromContext extracts the AuthClaims from the provided ctx (if any).
func AuthClaimsFromContext(ctx context.Context) (*AuthClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*AuthClaims)
	if !ok {
		return nil, false
	}

	return claims, true
}
