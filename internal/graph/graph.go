// Package graph implements the delegation graph resolution engine.
//
// A resolution proves that a subject principal, presenting signed
// capabilities, is transitively authorized to an attribute controlled by an
// issuer principal. The proof is found by a bidirectional search: the forward
// engine walks stored capability records from the subject toward the issuer,
// the backward engine walks AND/OR delegation set records from the issuer's
// attribute toward the subject, and a crossing of the two frontiers at the
// same (principal, trailer) pair splices the partial chains together.
//
// Each resolution runs as a single event loop goroutine that owns all search
// state; name resolution lookups run concurrently and feed their results back
// to the loop as events, so no lock is ever held on the frontier.
package graph

import (
	"errors"

	"go.opentelemetry.io/otel"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
)

var tracer = otel.Tracer("credmesh/internal/graph")

const (
	// defaultResolveNodeLimit bounds how deep a delegation chain may be
	// before a branch is abandoned. Cyclic delegation graphs terminate
	// through this bound.
	defaultResolveNodeLimit = 25

	// defaultResolveBreadthLimit bounds how many name resolution lookups a
	// single resolution may have in flight at once.
	defaultResolveBreadthLimit = 100

	// defaultProgressBufferSize is the capacity of the progress channel.
	// Progress events beyond what the consumer drains are dropped.
	defaultProgressBufferSize = 64
)

var (
	// ErrResolverClosed is returned by Begin calls after Close.
	ErrResolverClosed = errors.New("graph: resolver is closed")

	// ErrNoDatastore is returned by BeginCollect when the resolver was built
	// without a zone datastore.
	ErrNoDatastore = errors.New("graph: collect requires a zone datastore")
)

// Direction selects which search engines a resolution dispatches. The two
// flags combine for a bidirectional search.
type Direction uint8

const (
	DirectionForward  Direction = 1 << iota // subject toward issuer, DELEGATE records
	DirectionBackward                       // issuer toward subject, ATTRIBUTE records
)

// DirectionBidirectional dispatches both engines. The forward engine is
// seeded first; when its pre-check already proves the target, the backward
// engine is skipped rather than raced.
const DirectionBidirectional = DirectionForward | DirectionBackward

func (d Direction) Has(flag Direction) bool {
	return d&flag != 0
}

func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	case DirectionBidirectional:
		return "bidirectional"
	default:
		return "none"
	}
}

// matchKind classifies how a delegation edge relates to the trailer
// accumulated at a search node. Exactly one kind applies to any
// (edge, trailer) pair.
type matchKind int

const (
	matchDiscard matchKind = iota
	matchNewSolution
	matchComplete
	matchPartial
)

// frontierKey addresses a search position. A forward and a backward node
// sharing a key is a crossing: together they form a complete chain.
type frontierKey struct {
	principal crypto.PublicKey
	trailer   attribute.Attribute
}
