package storagewrappers

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/storage"
)

// SingleflightResolver collapses concurrent lookups of the same
// (zone, label, type) into one call to the underlying resolver. Parallel
// branches of a resolution frequently reach the same zone at the same time;
// without deduplication each branch would issue its own datastore read.
type SingleflightResolver struct {
	delegate    storage.NameResolver
	lookupGroup singleflight.Group
}

var _ storage.NameResolver = (*SingleflightResolver)(nil)

// NewSingleflightResolver wraps delegate with lookup deduplication.
func NewSingleflightResolver(delegate storage.NameResolver) *SingleflightResolver {
	return &SingleflightResolver{delegate: delegate}
}

// LookupRecords see [storage.NameResolver].LookupRecords.
func (s *SingleflightResolver) LookupRecords(ctx context.Context, zone crypto.PublicKey, label string, rtype storage.RecordType) ([]storage.Record, error) {
	key := string(zone[:]) + "/" + label + "#" + strconv.Itoa(int(rtype))

	v, err, _ := s.lookupGroup.Do(key, func() (interface{}, error) {
		return s.delegate.LookupRecords(ctx, zone, label, rtype)
	})
	if err != nil {
		return nil, err
	}

	return v.([]storage.Record), nil
}
