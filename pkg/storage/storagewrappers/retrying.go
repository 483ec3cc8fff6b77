package storagewrappers

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/storage"
)

const (
	defaultLookupRetries       = 3
	defaultLookupRetryInterval = 5 * time.Millisecond
)

// RetryingResolver retries failed lookups with exponential backoff before
// surfacing the error. Context cancellation is never retried.
type RetryingResolver struct {
	delegate      storage.NameResolver
	maxRetries    uint64
	retryInterval time.Duration
}

var _ storage.NameResolver = (*RetryingResolver)(nil)

// RetryingResolverOpt defines an option that can be used to change the
// behavior of a RetryingResolver instance.
type RetryingResolverOpt func(*RetryingResolver)

// WithMaxRetries sets how many times a failed lookup is retried.
func WithMaxRetries(n uint64) RetryingResolverOpt {
	return func(r *RetryingResolver) {
		r.maxRetries = n
	}
}

// WithRetryInterval sets the initial backoff interval between retries.
func WithRetryInterval(d time.Duration) RetryingResolverOpt {
	return func(r *RetryingResolver) {
		r.retryInterval = d
	}
}

// NewRetryingResolver wraps delegate with bounded lookup retries.
func NewRetryingResolver(delegate storage.NameResolver, opts ...RetryingResolverOpt) *RetryingResolver {
	resolver := &RetryingResolver{
		delegate:      delegate,
		maxRetries:    defaultLookupRetries,
		retryInterval: defaultLookupRetryInterval,
	}

	for _, opt := range opts {
		opt(resolver)
	}

	return resolver
}

// LookupRecords see [storage.NameResolver].LookupRecords.
func (r *RetryingResolver) LookupRecords(ctx context.Context, zone crypto.PublicKey, label string, rtype storage.RecordType) ([]storage.Record, error) {
	var records []storage.Record

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryInterval

	err := backoff.Retry(func() error {
		var err error
		records, err = r.delegate.LookupRecords(ctx, zone, label, rtype)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, storage.ErrCancelled) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx))
	if err != nil {
		return nil, err
	}

	return records, nil
}
