package graph

import (
	"time"

	"go.uber.org/zap"

	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/wire"
)

// seedForward roots the forward frontier at the subject principal. Presented
// capabilities granted to anyone else, or scoped to an attribute of the
// subject, cannot anchor a proof that ends at the subject principal and are
// skipped. Duplicate seeds collapse into one frontier position.
func (r *Resolver) seedForward(req *resolutionRequest) {
	now := time.Now()
	for _, c := range req.caps {
		if c.Expired(now) {
			continue
		}
		if c.Subject != req.subject || !c.SubjectAttribute.IsEmpty() {
			r.logger.DebugWithContext(req.ctx, "presented capability cannot seed the forward search",
				zap.String("request_id", req.id),
				zap.String("capability", c.String()),
			)

			continue
		}

		key := frontierKey{principal: c.Subject}
		if _, seen := req.visited[key]; seen {
			continue
		}

		rootIdx := int32(len(req.nodes))
		req.nodes = append(req.nodes, searchNode{
			principal:   c.Subject,
			direction:   DirectionForward,
			parentNode:  -1,
			parentGroup: -1,
			satCap:      -1,
			spliceTo:    -1,
			satGroup:    -1,
		})
		req.visited[key] = struct{}{}
		req.forwardAt[key] = rootIdx

		r.spawnLookup(req, rootIdx)
	}
}

// expandForward walks the delegate records found at a forward node's
// principal. Each stored capability whose subject is that principal moves the
// frontier to its issuer with a recomputed trailer; reaching the target
// attribute completes the request, and reaching a position a backward node is
// waiting at splices the two partial chains.
func (r *Resolver) expandForward(req *resolutionRequest, nodeIdx int32, records []storage.Record) {
	now := time.Now()
	at := req.nodes[nodeIdx]

	for i := range records {
		if req.outcome != nil {
			return
		}

		c, err := wire.CapabilityFromBytes(records[i].Data)
		if err != nil {
			r.logger.DebugWithContext(req.ctx, "skipping undecodable delegate record",
				zap.String("request_id", req.id),
				zap.String("zone", at.principal.String()),
				zap.Error(err),
			)

			continue
		}
		if c.Expired(now) || c.Subject != at.principal {
			continue
		}

		edge := c.Edge()
		trailer, kind := forwardTrailer(edge, at.trailer)
		if kind == matchDiscard {
			continue
		}
		r.emitProgress(req, DirectionForward, edge)

		if c.Issuer == req.issuer && trailer == req.attr {
			termIdx := int32(len(req.nodes))
			req.nodes = append(req.nodes, searchNode{
				principal:   c.Issuer,
				trailer:     trailer,
				direction:   DirectionForward,
				depth:       at.depth + 1,
				parentNode:  nodeIdx,
				parentGroup: -1,
				edge:        edge,
				satCap:      -1,
				spliceTo:    -1,
				satGroup:    -1,
			})
			req.outcome = req.successFromForward(termIdx)

			return
		}

		key := frontierKey{principal: c.Issuer, trailer: trailer}
		if _, seen := req.visited[key]; seen {
			continue
		}

		childIdx := int32(len(req.nodes))
		req.nodes = append(req.nodes, searchNode{
			principal:   c.Issuer,
			trailer:     trailer,
			direction:   DirectionForward,
			depth:       at.depth + 1,
			parentNode:  nodeIdx,
			parentGroup: -1,
			edge:        edge,
			satCap:      -1,
			spliceTo:    -1,
			satGroup:    -1,
		})
		req.visited[key] = struct{}{}
		req.forwardAt[key] = childIdx

		for _, bIdx := range req.backwardAt[key] {
			req.splice(bIdx, childIdx, now)
			if req.outcome != nil {
				return
			}
		}

		if at.depth+1 < r.nodeLimit {
			r.spawnLookup(req, childIdx)
		}
	}
}
