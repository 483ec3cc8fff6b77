package graph

import (
	"context"
	"sync"
	"time"

	otelattr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/credmesh/credmesh/internal/concurrency"
	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/id"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/wire"
)

// Resolver owns the registry of in-flight resolutions and runs the search
// engines against a name resolution backend. It is safe for concurrent use.
type Resolver struct {
	logger    logger.Logger
	reads     storage.NameResolver
	datastore storage.ZoneDatastore

	nodeLimit    uint32
	breadthLimit int

	mu       sync.Mutex
	requests map[string]*resolutionRequest
	closed   bool
	wg       sync.WaitGroup
}

type ResolverOpt func(*Resolver)

func WithLogger(l logger.Logger) ResolverOpt {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithResolveNodeLimit bounds how many delegation hops deep either search
// engine will go before abandoning a branch.
func WithResolveNodeLimit(limit uint32) ResolverOpt {
	return func(r *Resolver) {
		if limit > 0 {
			r.nodeLimit = limit
		}
	}
}

// WithMaxConcurrentLookups bounds how many name resolution lookups one
// resolution may have in flight at once.
func WithMaxConcurrentLookups(n int) ResolverOpt {
	return func(r *Resolver) {
		if n > 0 {
			r.breadthLimit = n
		}
	}
}

// WithZoneDatastore supplies the datastore collect mode reads the subject's
// private delegate records from. Verify mode never touches it.
func WithZoneDatastore(ds storage.ZoneDatastore) ResolverOpt {
	return func(r *Resolver) {
		r.datastore = ds
	}
}

func NewResolver(reads storage.NameResolver, opts ...ResolverOpt) *Resolver {
	r := &Resolver{
		logger:       logger.NewNoopLogger(),
		reads:        reads,
		nodeLimit:    defaultResolveNodeLimit,
		breadthLimit: defaultResolveBreadthLimit,
		requests:     map[string]*resolutionRequest{},
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// BeginVerify starts resolving whether the request's subject is authorized to
// the issuer's attribute, given the presented capabilities. The returned
// handle yields exactly one Resolution unless the request is cancelled.
//
// An empty or oversized attribute and an empty capability set fail
// immediately without issuing lookups, as does a presented capability that
// already attests the target directly, which succeeds with a one-edge chain.
func (r *Resolver) BeginVerify(ctx context.Context, in *VerifyRequest) (*Request, error) {
	rid, err := id.NewString()
	if err != nil {
		return nil, err
	}

	return r.begin(ctx, rid, in.Issuer, in.IssuerAttribute, in.Subject, in.Capabilities, in.Direction, false)
}

// BeginCollect is BeginVerify for the subject's own zone: the capability set
// is read from the subject's private delegate records instead of being
// presented by the caller. Progress events are suppressed in this mode.
func (r *Resolver) BeginCollect(ctx context.Context, in *CollectRequest) (*Request, error) {
	if r.datastore == nil {
		return nil, ErrNoDatastore
	}

	rid, err := id.NewString()
	if err != nil {
		return nil, err
	}
	subject := in.SubjectKey.Public()

	records, err := r.datastore.ListPrivateDelegates(ctx, subject)
	if err != nil {
		r.logger.WarnWithContext(ctx, "listing private delegate records failed",
			zap.String("request_id", rid),
			zap.String("zone", subject.String()),
			zap.Error(err),
		)
		records = nil
	}

	caps := make([]*delegation.Capability, 0, len(records))
	for i := range records {
		c, err := wire.CapabilityFromBytes(records[i].Data)
		if err != nil {
			r.logger.DebugWithContext(ctx, "skipping undecodable private delegate record",
				zap.String("request_id", rid),
				zap.String("zone", subject.String()),
				zap.Error(err),
			)

			continue
		}
		caps = append(caps, c)
	}

	return r.begin(ctx, rid, in.Issuer, in.IssuerAttribute, subject, caps, in.Direction, true)
}

func (r *Resolver) begin(
	ctx context.Context,
	rid string,
	issuer crypto.PublicKey,
	attr attribute.Attribute,
	subject crypto.PublicKey,
	caps []*delegation.Capability,
	direction Direction,
	collect bool,
) (*Request, error) {
	start := time.Now()

	if attr.IsEmpty() || len(attr) > attribute.MaxLength {
		return r.completeImmediately(rid, &Resolution{}, collect, start), nil
	}
	if len(caps) == 0 {
		return r.completeImmediately(rid, &Resolution{}, collect, start), nil
	}

	// 0-hop pre-check: a presented capability that attests the target itself
	// is a complete proof, no search needed.
	if capIdx := capabilityIndexFor(caps, issuer, attr, subject, start); capIdx >= 0 {
		c := caps[capIdx]
		res := &Resolution{
			Found:        true,
			Chain:        []*delegation.Delegation{c.Edge()},
			Capabilities: []*delegation.Capability{c},
		}

		return r.completeImmediately(rid, res, collect, start), nil
	}

	rctx, cancel := context.WithCancel(ctx)
	req := &resolutionRequest{
		id:           rid,
		issuer:       issuer,
		attr:         attr,
		subject:      subject,
		caps:         caps,
		direction:    direction,
		collect:      collect,
		start:        start,
		forwardAt:    map[frontierKey]int32{},
		backwardAt:   map[frontierKey][]int32{},
		visited:      map[frontierKey]struct{}{},
		backwardRoot: -1,
		usedCaps:     make([]bool, len(caps)),
		events:       make(chan lookupEvent, r.breadthLimit),
		progress:     make(chan Progress, defaultProgressBufferSize),
		result:       make(chan *Resolution, 1),
		limiter:      make(chan struct{}, r.breadthLimit),
		ctx:          rctx,
		cancel:       cancel,
	}

	if err := r.register(req); err != nil {
		cancel()

		return nil, err
	}
	go r.run(req)

	return &Request{id: rid, progress: req.progress, result: req.result}, nil
}

func (r *Resolver) completeImmediately(rid string, res *Resolution, collect bool, start time.Time) *Request {
	recordResolutionDelivered(collect, res, start)

	return completedRequest(rid, res)
}

func (r *Resolver) register(req *resolutionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrResolverClosed
	}
	r.requests[req.id] = req
	r.wg.Add(1)

	return nil
}

func (r *Resolver) unregister(rid string) {
	r.mu.Lock()
	delete(r.requests, rid)
	r.mu.Unlock()
}

// Cancel aborts an in-flight resolution. Its result channel closes without a
// value and no outstanding lookup for it survives. Cancelling an unknown or
// already-delivered id reports false.
func (r *Resolver) Cancel(rid string) bool {
	r.mu.Lock()
	req, ok := r.requests[rid]
	if ok {
		delete(r.requests, rid)
	}
	r.mu.Unlock()

	if ok {
		req.cancel()
	}

	return ok
}

// Close cancels every in-flight resolution and waits for their loops and
// lookups to finish. Begin calls after Close fail with ErrResolverClosed.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		return
	}
	r.closed = true
	pending := maps.Values(r.requests)
	r.requests = map[string]*resolutionRequest{}
	r.mu.Unlock()

	for _, req := range pending {
		req.cancel()
	}
	r.wg.Wait()
}

// run is the event loop owning one resolution: it seeds the requested
// directions, processes lookup completions one at a time, and delivers the
// outcome exactly once. All arena and frontier state is confined to this
// goroutine.
func (r *Resolver) run(req *resolutionRequest) {
	defer r.wg.Done()

	ctx, span := tracer.Start(req.ctx, "Resolve", trace.WithAttributes(
		otelattr.String("request_id", req.id),
		otelattr.String("direction", req.direction.String()),
		otelattr.Bool("collect", req.collect),
	))
	defer span.End()
	req.ctx = ctx

	defer func() {
		req.cancel()
		req.lookupWG.Wait()
		close(req.progress)
		close(req.result)
	}()

	// The forward engine is seeded ahead of the backward engine so that when
	// both directions race, forward discoveries are in place before backward
	// crossing checks begin.
	if req.direction.Has(DirectionForward) {
		r.seedForward(req)
	}
	if req.direction.Has(DirectionBackward) {
		r.seedBackward(req)
	}

	for req.outcome == nil && req.pending > 0 {
		select {
		case <-req.ctx.Done():
			r.unregister(req.id)

			return
		case ev := <-req.events:
			req.pending--
			r.processLookup(req, ev)
		}
	}

	if req.outcome == nil {
		req.outcome = &Resolution{}
	}
	span.SetAttributes(otelattr.Bool("found", req.outcome.Found))
	r.deliver(req)
}

func (r *Resolver) processLookup(req *resolutionRequest, ev lookupEvent) {
	if ev.err != nil {
		// A failed lookup contributes zero records; other branches continue.
		r.logger.DebugWithContext(req.ctx, "name resolution lookup failed",
			zap.String("request_id", req.id),
			zap.String("zone", req.nodes[ev.node].principal.String()),
			zap.Error(ev.err),
		)

		return
	}

	if req.nodes[ev.node].direction == DirectionForward {
		r.expandForward(req, ev.node, ev.records)
	} else {
		r.expandBackward(req, ev.node, ev.records)
	}
}

// spawnLookup issues the name resolution lookup a node is waiting on. The
// lookup runs on its own goroutine, gated by the request's breadth limiter,
// and reports back through the event channel. Only the event loop calls this.
func (r *Resolver) spawnLookup(req *resolutionRequest, nodeIdx int32) {
	n := req.nodes[nodeIdx]
	zone := n.principal
	label := ""
	rtype := storage.RecordTypeDelegate
	if n.direction == DirectionBackward {
		label = n.trailer.First()
		rtype = storage.RecordTypeAttribute
	}

	req.pending++
	req.lookups++
	lookupsCounter.Inc()

	req.lookupWG.Add(1)
	go func() {
		defer req.lookupWG.Done()

		select {
		case req.limiter <- struct{}{}:
		case <-req.ctx.Done():
			return
		}
		records, err := r.reads.LookupRecords(req.ctx, zone, label, rtype)
		<-req.limiter

		concurrency.TrySendThroughChannel(req.ctx, lookupEvent{node: nodeIdx, records: records, err: err}, req.events)
	}()
}

func (r *Resolver) emitProgress(req *resolutionRequest, direction Direction, edge *delegation.Delegation) {
	if req.collect {
		return
	}

	select {
	case req.progress <- Progress{Direction: direction, Edge: edge}:
	default:
		// A consumer that has fallen behind loses intermediate events, never
		// the result.
	}
}

// deliver hands the outcome to the caller. The request leaves the registry
// before the send so no cancel or later event can race a second delivery;
// if a cancel won the removal, the outcome is dropped.
func (r *Resolver) deliver(req *resolutionRequest) {
	r.mu.Lock()
	_, live := r.requests[req.id]
	delete(r.requests, req.id)
	r.mu.Unlock()

	if !live {
		return
	}

	res := req.outcome
	res.Metadata.Lookups = req.lookups
	req.result <- res

	recordResolutionDelivered(req.collect, res, req.start)
	r.logger.DebugWithContext(req.ctx, "resolution delivered",
		zap.String("request_id", req.id),
		zap.Bool("found", res.Found),
		zap.Int("chain_length", len(res.Chain)),
		zap.Uint32("lookups", req.lookups),
	)
}
