package graph

import (
	"context"
	"sync"
	"time"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/storage"
)

// VerifyRequest asks whether subject, presenting the given capabilities, is
// transitively authorized to IssuerAttribute in the issuer's namespace.
type VerifyRequest struct {
	Issuer          crypto.PublicKey
	IssuerAttribute attribute.Attribute
	Subject         crypto.PublicKey
	Capabilities    []*delegation.Capability
	Direction       Direction
}

// CollectRequest is a VerifyRequest on behalf of the zone owner: the presented
// capabilities are read from the subject's own private delegate records
// instead of being supplied by the caller.
type CollectRequest struct {
	Issuer          crypto.PublicKey
	IssuerAttribute attribute.Attribute
	SubjectKey      crypto.PrivateKey
	Direction       Direction
}

// ResolutionMetadata carries bookkeeping about how a resolution was computed.
type ResolutionMetadata struct {
	// Lookups is the number of name resolution lookups the engine issued.
	Lookups uint32
}

// Resolution is the outcome of a resolution request. On success Chain holds
// the proof ordered from the issuer toward the subject and Capabilities the
// presented capabilities the chain actually relies on. On failure both are
// empty.
type Resolution struct {
	Found        bool
	Chain        []*delegation.Delegation
	Capabilities []*delegation.Capability
	Metadata     ResolutionMetadata
}

// Progress is an intermediate event: one delegation edge discovered by one of
// the search engines before the final result is known.
type Progress struct {
	Direction Direction
	Edge      *delegation.Delegation
}

// Request is the caller's handle on an in-flight resolution. Result yields
// exactly one Resolution and is then closed; a cancelled request closes
// Result without a value. Progress is closed when the resolution ends,
// whether or not it was drained.
type Request struct {
	id       string
	progress chan Progress
	result   chan *Resolution
}

func (r *Request) ID() string {
	return r.id
}

func (r *Request) Progress() <-chan Progress {
	return r.progress
}

func (r *Request) Result() <-chan *Resolution {
	return r.result
}

// completedRequest wraps an already-known outcome in a Request handle so that
// immediate results and searched results are consumed the same way.
func completedRequest(id string, res *Resolution) *Request {
	progress := make(chan Progress)
	close(progress)

	result := make(chan *Resolution, 1)
	result <- res
	close(result)

	return &Request{id: id, progress: progress, result: result}
}

// searchNode is one frontier position, stored in the request's node arena.
// Links between nodes are arena indices, never pointers, so the whole search
// state is released at once when the request is torn down. An index of -1
// means the link is absent.
type searchNode struct {
	principal crypto.PublicKey
	trailer   attribute.Attribute
	direction Direction
	depth     uint32

	// parentNode links a forward node to the node it was expanded from.
	parentNode int32

	// parentGroup links a backward node to the AND group it is a conjunct of.
	parentGroup int32

	// edge is the delegation this node was reached over. Seed nodes have none.
	edge *delegation.Delegation

	// satisfied marks a backward node whose subtree is fully resolved.
	// Exactly one of satCap, spliceTo, and satGroup records how; a node with
	// none of them was satisfied by reaching the subject principal itself.
	satisfied bool
	satCap    int32
	spliceTo  int32
	satGroup  int32
}

// andGroup is one OR-alternative of a delegation set record: required counts
// the conjunct nodes still unsatisfied, and the group as a whole is satisfied
// when it reaches zero.
type andGroup struct {
	parent   int32
	required int32
	children []int32
}

// lookupEvent is the completion of one name resolution lookup, fed back into
// the request's event loop.
type lookupEvent struct {
	node    int32
	records []storage.Record
	err     error
}

// resolutionRequest owns all mutable state of one in-flight resolution. The
// arena, frontier maps, and counters are touched only by the request's event
// loop goroutine; the channels are the sole points of contact with lookup
// goroutines and the caller.
type resolutionRequest struct {
	id        string
	issuer    crypto.PublicKey
	attr      attribute.Attribute
	subject   crypto.PublicKey
	caps      []*delegation.Capability
	direction Direction
	collect   bool
	start     time.Time

	nodes  []searchNode
	groups []andGroup

	// forwardAt holds the one forward node registered per frontier position,
	// backwardAt every backward node waiting there. visited guards forward
	// expansion against revisiting a position, which also breaks cycles.
	forwardAt  map[frontierKey]int32
	backwardAt map[frontierKey][]int32
	visited    map[frontierKey]struct{}

	backwardRoot int32

	// usedCaps marks presented capabilities referenced by the proof.
	usedCaps []bool

	// pending is the number of lookups issued whose events have not been
	// processed yet. The search has failed when it reaches zero without an
	// outcome.
	pending int
	lookups uint32

	// outcome is set at most once, by the event that completed the search.
	outcome *Resolution

	events   chan lookupEvent
	progress chan Progress
	result   chan *Resolution

	limiter  chan struct{}
	lookupWG sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// forwardPath appends the delegation edges from the given forward node back
// to its seed, which is already issuer-to-subject order: every forward node's
// edge has the node's own principal as issuer and its parent's principal as
// subject.
func (q *resolutionRequest) forwardPath(idx int32, out []*delegation.Delegation) []*delegation.Delegation {
	for i := idx; i >= 0; i = q.nodes[i].parentNode {
		if e := q.nodes[i].edge; e != nil {
			out = append(out, e)
		}
	}

	return out
}

// emitBackward appends the proof below an already-satisfied backward node:
// the forward path it was spliced with, the edge of the held capability that
// closed it, or the edges of its satisfied AND group's conjuncts followed by
// each conjunct's own proof. A node satisfied by reaching the subject
// principal contributes nothing further.
func (q *resolutionRequest) emitBackward(idx int32, out []*delegation.Delegation) []*delegation.Delegation {
	n := q.nodes[idx]
	switch {
	case n.spliceTo >= 0:
		return q.forwardPath(n.spliceTo, out)
	case n.satCap >= 0:
		return append(out, q.caps[n.satCap].Edge())
	case n.satGroup >= 0:
		g := q.groups[n.satGroup]
		for _, child := range g.children {
			out = append(out, q.nodes[child].edge)
			out = q.emitBackward(child, out)
		}

		return out
	default:
		return out
	}
}

// success builds the success resolution for the given chain, pruning the
// presented capabilities down to the ones the proof references.
func (q *resolutionRequest) success(chain []*delegation.Delegation) *Resolution {
	for i, c := range q.caps {
		if q.usedCaps[i] {
			continue
		}
		edge := c.Edge()
		for _, d := range chain {
			if *d == *edge {
				q.usedCaps[i] = true

				break
			}
		}
	}

	used := make([]*delegation.Capability, 0, len(q.caps))
	for i, c := range q.caps {
		if q.usedCaps[i] {
			used = append(used, c)
		}
	}

	return &Resolution{Found: true, Chain: chain, Capabilities: used}
}

// successFromRoot assembles the proof chain for a satisfied backward root.
func (q *resolutionRequest) successFromRoot() *Resolution {
	chain := q.emitBackward(q.backwardRoot, make([]*delegation.Delegation, 0, 8))

	return q.success(chain)
}

// successFromForward assembles the proof chain for a forward node that
// reached the target.
func (q *resolutionRequest) successFromForward(idx int32) *Resolution {
	return q.success(q.forwardPath(idx, make([]*delegation.Delegation, 0, 8)))
}
