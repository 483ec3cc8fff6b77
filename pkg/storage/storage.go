// Package storage contains the zone record storage interfaces and shared
// storage helpers.
//
//go:generate mockgen -source storage.go -destination ../../internal/mocks/mock_storage.go -package mocks NameResolver,ZoneDatastore
package storage

import (
	"context"
	"time"

	"github.com/credmesh/credmesh/pkg/crypto"
)

// DefaultPageSize is the page size used by ListZone when the caller does not
// specify one.
const DefaultPageSize = 50

// RecordType discriminates the two record kinds resolution understands.
type RecordType int32

const (
	// RecordTypeDelegate holds a single serialized capability. Public
	// delegate records form the forward edges of the delegation graph;
	// private ones are the subject's own collected capabilities.
	RecordTypeDelegate RecordType = 1

	// RecordTypeAttribute holds a delegation set: the OR-alternative a zone
	// publishes under an attribute label.
	RecordTypeAttribute RecordType = 2
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeDelegate:
		return "DELEGATE"
	case RecordTypeAttribute:
		return "ATTRIBUTE"
	default:
		return "UNKNOWN"
	}
}

// Record is one zone record stored under a (zone, label) pair.
type Record struct {
	Type RecordType

	// Data is the record payload in wire encoding.
	Data []byte

	// Expiry is the absolute expiration time. The zero value means the
	// record never expires.
	Expiry time.Time

	// Private records are visible to the zone owner only and are never
	// served through NameResolver.
	Private bool
}

// Expired reports whether the record expired strictly before now.
func (r *Record) Expired(now time.Time) bool {
	return !r.Expiry.IsZero() && now.After(r.Expiry)
}

// LabelRecords pairs a label with the record set stored under it.
type LabelRecords struct {
	Label   string
	Records []Record
}

type PaginationOptions struct {
	PageSize int
	From     string
}

func NewPaginationOptions(ps int32, contToken string) PaginationOptions {
	pageSize := DefaultPageSize
	if ps != 0 {
		pageSize = int(ps)
	}

	return PaginationOptions{
		PageSize: pageSize,
		From:     contToken,
	}
}

// NameResolver is the read path the resolution engine walks the delegation
// graph with. Implementations serve only public, unexpired records; the
// resolver treats every zone as untrusted input and validates payloads
// itself.
type NameResolver interface {
	// LookupRecords returns the records of the given type stored under
	// label in zone. The empty label addresses the zone apex, where
	// delegate records live. A lookup that finds nothing returns an empty
	// slice, not an error.
	LookupRecords(ctx context.Context, zone crypto.PublicKey, label string, rtype RecordType) ([]Record, error)
}

// ZoneDatastore is the full R/W interface over zone records.
type ZoneDatastore interface {
	NameResolver

	// PutRecords replaces the entire record set stored under (zone, label).
	PutRecords(ctx context.Context, zone crypto.PublicKey, label string, records []Record) error

	// GetRecords returns the raw record set under (zone, label), including
	// private and expired records. It returns ErrNotFound if the label has
	// no records.
	GetRecords(ctx context.Context, zone crypto.PublicKey, label string) ([]Record, error)

	// DeleteRecords removes all records under (zone, label). Deleting a
	// label that does not exist returns ErrNotFound.
	DeleteRecords(ctx context.Context, zone crypto.PublicKey, label string) error

	// ListZone pages through a zone's labels in lexical order. The returned
	// continuation token is empty once the zone is exhausted.
	ListZone(ctx context.Context, zone crypto.PublicKey, opts PaginationOptions) ([]LabelRecords, string, error)

	// ListPrivateDelegates returns the unexpired private delegate records
	// stored anywhere in the zone. This is the capability shoebox collect
	// mode resolves from.
	ListPrivateDelegates(ctx context.Context, zone crypto.PublicKey) ([]Record, error)

	// IsReady reports whether the datastore is ready to serve traffic.
	IsReady(ctx context.Context) (ReadinessStatus, error)

	// Close releases held resources.
	Close()
}

// ReadinessStatus reflects the result of a datastore readiness probe.
type ReadinessStatus struct {
	// Message is a human-friendly status explanation, surfaced through the
	// health endpoint.
	Message string

	IsReady bool
}
