package graph

import (
	"time"

	"go.uber.org/zap"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/wire"
)

// seedBackward roots the backward frontier at the target attribute in the
// issuer's zone.
func (r *Resolver) seedBackward(req *resolutionRequest) {
	rootIdx := int32(len(req.nodes))
	req.nodes = append(req.nodes, searchNode{
		principal:   req.issuer,
		trailer:     req.attr,
		direction:   DirectionBackward,
		parentNode:  -1,
		parentGroup: -1,
		satCap:      -1,
		spliceTo:    -1,
		satGroup:    -1,
	})
	req.backwardRoot = rootIdx

	key := frontierKey{principal: req.issuer, trailer: req.attr}
	req.backwardAt[key] = append(req.backwardAt[key], rootIdx)

	r.spawnLookup(req, rootIdx)
}

// expandBackward walks the delegation set records found under the first
// component of a backward node's trailer. Every record is one OR-alternative:
// an AND group whose conjuncts must all resolve. A conjunct resolves through
// a held capability, by naming the subject principal with nothing left to
// resolve, or by a forward node waiting at the same position; anything else
// pushes the frontier down into the conjunct's zone.
func (r *Resolver) expandBackward(req *resolutionRequest, nodeIdx int32, records []storage.Record) {
	now := time.Now()
	at := req.nodes[nodeIdx]
	label := at.trailer.First()
	rest := at.trailer.Rest()

	for ri := range records {
		if req.outcome != nil {
			return
		}

		entries, err := wire.UnmarshalSetRecord(records[ri].Data)
		if err != nil {
			r.logger.DebugWithContext(req.ctx, "skipping undecodable delegation set record",
				zap.String("request_id", req.id),
				zap.String("zone", at.principal.String()),
				zap.String("label", label),
				zap.Error(err),
			)

			continue
		}
		if len(entries) == 0 {
			continue
		}

		gIdx := int32(len(req.groups))
		req.groups = append(req.groups, andGroup{parent: nodeIdx, required: int32(len(entries))})

		for ei := range entries {
			entry := entries[ei]
			trailer := entry.SubjectAttribute.Concat(rest)
			edge := &delegation.Delegation{
				Issuer:           at.principal,
				IssuerAttribute:  attribute.Attribute(label),
				Subject:          entry.Subject,
				SubjectAttribute: entry.SubjectAttribute,
			}

			childIdx := int32(len(req.nodes))
			req.nodes = append(req.nodes, searchNode{
				principal:   entry.Subject,
				trailer:     trailer,
				direction:   DirectionBackward,
				depth:       at.depth + 1,
				parentNode:  -1,
				parentGroup: gIdx,
				edge:        edge,
				satCap:      -1,
				spliceTo:    -1,
				satGroup:    -1,
			})
			req.groups[gIdx].children = append(req.groups[gIdx].children, childIdx)
			r.emitProgress(req, DirectionBackward, edge)

			if capIdx := capabilityIndexFor(req.caps, entry.Subject, trailer, req.subject, now); capIdx >= 0 {
				req.nodes[childIdx].satCap = capIdx
				req.usedCaps[capIdx] = true
				if req.satisfy(childIdx) {
					req.outcome = req.successFromRoot()

					return
				}

				continue
			}

			if trailer.IsEmpty() {
				// Nothing left to resolve below this conjunct: it is proven
				// if it names the subject principal and a dead end otherwise.
				if entry.Subject == req.subject && req.satisfy(childIdx) {
					req.outcome = req.successFromRoot()

					return
				}

				continue
			}

			key := frontierKey{principal: entry.Subject, trailer: trailer}
			req.backwardAt[key] = append(req.backwardAt[key], childIdx)

			if fIdx, ok := req.forwardAt[key]; ok {
				req.splice(childIdx, fIdx, now)
				if req.outcome != nil {
					return
				}

				continue
			}

			if at.depth+1 < r.nodeLimit {
				r.spawnLookup(req, childIdx)
			}
		}
	}
}
