// Package memory provides an in-memory, process-local implementation of the
// zone datastore. It is the default backend for tests and single-node
// deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/storage"
)

var tracer = otel.Tracer("credmesh/pkg/storage/memory")

// zone keeps one principal's records, with labels indexed both by map for
// point lookups and by sorted set for paged listing.
type zone struct {
	labels map[string][]storage.Record
	sorted storage.SortedSet
}

func newZone() *zone {
	return &zone{
		labels: make(map[string][]storage.Record),
		sorted: storage.NewSortedSet(),
	}
}

// MemoryBackend implements storage.ZoneDatastore backed by process memory.
type MemoryBackend struct {
	mutexZones sync.RWMutex
	zones      map[crypto.PublicKey]*zone
}

var _ storage.ZoneDatastore = (*MemoryBackend)(nil)

// StorageOption defines a function type used for configuring a MemoryBackend.
type StorageOption func(dataStore *MemoryBackend)

// New creates a new MemoryBackend.
func New(opts ...StorageOption) storage.ZoneDatastore {
	ds := &MemoryBackend{
		zones: make(map[crypto.PublicKey]*zone),
	}

	for _, opt := range opts {
		opt(ds)
	}

	return ds
}

// Close does not do anything for MemoryBackend.
func (s *MemoryBackend) Close() {}

// LookupRecords see [storage.NameResolver].LookupRecords.
func (s *MemoryBackend) LookupRecords(ctx context.Context, zoneKey crypto.PublicKey, label string, rtype storage.RecordType) ([]storage.Record, error) {
	_, span := tracer.Start(ctx, "memory.LookupRecords")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutexZones.RLock()
	defer s.mutexZones.RUnlock()

	z, ok := s.zones[zoneKey]
	if !ok {
		return nil, nil
	}

	now := time.Now()

	var records []storage.Record
	for _, record := range z.labels[label] {
		if record.Private || record.Type != rtype || record.Expired(now) {
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// PutRecords see [storage.ZoneDatastore].PutRecords. Storing an empty record
// set removes the label.
func (s *MemoryBackend) PutRecords(ctx context.Context, zoneKey crypto.PublicKey, label string, records []storage.Record) error {
	_, span := tracer.Start(ctx, "memory.PutRecords")
	defer span.End()

	s.mutexZones.Lock()
	defer s.mutexZones.Unlock()

	if len(records) == 0 {
		if z, ok := s.zones[zoneKey]; ok {
			delete(z.labels, label)
			z.sorted.Remove(label)
		}
		return nil
	}

	z, ok := s.zones[zoneKey]
	if !ok {
		z = newZone()
		s.zones[zoneKey] = z
	}

	stored := make([]storage.Record, len(records))
	copy(stored, records)
	z.labels[label] = stored
	z.sorted.Add(label)

	return nil
}

// GetRecords see [storage.ZoneDatastore].GetRecords.
func (s *MemoryBackend) GetRecords(ctx context.Context, zoneKey crypto.PublicKey, label string) ([]storage.Record, error) {
	_, span := tracer.Start(ctx, "memory.GetRecords")
	defer span.End()

	s.mutexZones.RLock()
	defer s.mutexZones.RUnlock()

	z, ok := s.zones[zoneKey]
	if !ok {
		return nil, storage.ErrNotFound
	}

	records, ok := z.labels[label]
	if !ok {
		return nil, storage.ErrNotFound
	}

	out := make([]storage.Record, len(records))
	copy(out, records)

	return out, nil
}

// DeleteRecords see [storage.ZoneDatastore].DeleteRecords.
func (s *MemoryBackend) DeleteRecords(ctx context.Context, zoneKey crypto.PublicKey, label string) error {
	_, span := tracer.Start(ctx, "memory.DeleteRecords")
	defer span.End()

	s.mutexZones.Lock()
	defer s.mutexZones.Unlock()

	z, ok := s.zones[zoneKey]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := z.labels[label]; !ok {
		return storage.ErrNotFound
	}

	delete(z.labels, label)
	z.sorted.Remove(label)

	return nil
}

// ListZone see [storage.ZoneDatastore].ListZone.
func (s *MemoryBackend) ListZone(ctx context.Context, zoneKey crypto.PublicKey, opts storage.PaginationOptions) ([]storage.LabelRecords, string, error) {
	_, span := tracer.Start(ctx, "memory.ListZone")
	defer span.End()

	s.mutexZones.RLock()
	defer s.mutexZones.RUnlock()

	z, ok := s.zones[zoneKey]
	if !ok {
		return nil, "", nil
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}

	// Fetch one extra label to learn whether another page exists.
	labels := z.sorted.ValuesFrom(opts.From, pageSize+1)

	var continuationToken string
	if len(labels) > pageSize {
		continuationToken = labels[pageSize]
		labels = labels[:pageSize]
	}

	out := make([]storage.LabelRecords, 0, len(labels))
	for _, label := range labels {
		records := make([]storage.Record, len(z.labels[label]))
		copy(records, z.labels[label])
		out = append(out, storage.LabelRecords{Label: label, Records: records})
	}

	return out, continuationToken, nil
}

// ListPrivateDelegates see [storage.ZoneDatastore].ListPrivateDelegates.
func (s *MemoryBackend) ListPrivateDelegates(ctx context.Context, zoneKey crypto.PublicKey) ([]storage.Record, error) {
	_, span := tracer.Start(ctx, "memory.ListPrivateDelegates")
	defer span.End()

	s.mutexZones.RLock()
	defer s.mutexZones.RUnlock()

	z, ok := s.zones[zoneKey]
	if !ok {
		return nil, nil
	}

	now := time.Now()

	var records []storage.Record
	for _, label := range z.sorted.Values() {
		for _, record := range z.labels[label] {
			if !record.Private || record.Type != storage.RecordTypeDelegate || record.Expired(now) {
				continue
			}
			records = append(records, record)
		}
	}

	return records, nil
}

// IsReady see [storage.ZoneDatastore].IsReady.
func (s *MemoryBackend) IsReady(context.Context) (storage.ReadinessStatus, error) {
	return storage.ReadinessStatus{IsReady: true}, nil
}
