package graph

import (
	"time"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
)

// forwardTrailer computes the trailer after following edge out of a forward
// node whose accumulated trailer is trailer. Exactly one kind applies:
//
//   - matchNewSolution: the edge delegates to the subject principal
//     wholesale, grafting its namespace under the issuer attribute, so the
//     accumulated trailer is carried over behind it.
//   - matchComplete: the edge's subject attribute consumes the whole trailer.
//   - matchPartial: the edge's subject attribute consumes a leading run of
//     trailer components; the unmatched rest is carried behind the issuer
//     attribute.
//   - matchDiscard: the edge is unrelated to this branch.
func forwardTrailer(edge *delegation.Delegation, trailer attribute.Attribute) (attribute.Attribute, matchKind) {
	if edge.SubjectAttribute.IsEmpty() {
		return edge.IssuerAttribute.Concat(trailer), matchNewSolution
	}
	if edge.SubjectAttribute == trailer {
		return edge.IssuerAttribute, matchComplete
	}
	if rest, ok := trailer.TrimComponentPrefix(edge.SubjectAttribute); ok {
		return edge.IssuerAttribute.Concat(rest), matchPartial
	}

	return "", matchDiscard
}

// capabilityIndexFor returns the index of the first unexpired presented
// capability proving that subject holds attr in issuer's namespace, or -1.
// Only capabilities granted to the subject principal directly qualify.
func capabilityIndexFor(caps []*delegation.Capability, issuer crypto.PublicKey, attr attribute.Attribute, subject crypto.PublicKey, now time.Time) int32 {
	for i, c := range caps {
		if c.Expired(now) {
			continue
		}
		if c.Issuer == issuer && c.IssuerAttribute == attr && c.Subject == subject && c.SubjectAttribute.IsEmpty() {
			return int32(i)
		}
	}

	return -1
}

// satisfy marks the node satisfied and backtracks the satisfaction up the
// AND group chain: each fully satisfied group satisfies its parent node in
// turn. It reports whether the backward root was reached, which completes
// the request.
func (q *resolutionRequest) satisfy(idx int32) bool {
	q.nodes[idx].satisfied = true

	for {
		gIdx := q.nodes[idx].parentGroup
		if gIdx < 0 {
			return idx == q.backwardRoot
		}

		q.groups[gIdx].required--
		if q.groups[gIdx].required > 0 {
			return false
		}

		parent := q.groups[gIdx].parent
		if q.nodes[parent].satisfied {
			return false
		}
		q.nodes[parent].satisfied = true
		q.nodes[parent].satGroup = gIdx
		idx = parent
	}
}

// splice joins a backward node with a forward node waiting at the same
// frontier position: the forward node's path now proves the backward node's
// subtree. A presented capability for the joint position is marked used even
// when the stored path supersedes it. Satisfaction then backtracks as usual.
func (q *resolutionRequest) splice(bIdx, fIdx int32, now time.Time) {
	if q.nodes[bIdx].satisfied {
		return
	}
	q.nodes[bIdx].spliceTo = fIdx

	n := q.nodes[bIdx]
	if capIdx := capabilityIndexFor(q.caps, n.principal, n.trailer, q.subject, now); capIdx >= 0 {
		q.usedCaps[capIdx] = true
	}

	if q.satisfy(bIdx) {
		q.outcome = q.successFromRoot()
	}
}
