package graph

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/storage/memory"
	"github.com/credmesh/credmesh/pkg/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testExpiry = time.Date(2040, time.January, 1, 0, 0, 0, 0, time.UTC)

func newTestKey(t *testing.T) crypto.PrivateKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key
}

func issueCapability(t *testing.T, issuerKey crypto.PrivateKey, subject crypto.PublicKey, issuerAttr, subjectAttr string) *delegation.Capability {
	t.Helper()

	var subjAttr attribute.Attribute
	if subjectAttr != "" {
		subjAttr = attribute.MustParse(subjectAttr)
	}
	c, err := delegation.Issue(issuerKey, subject, attribute.MustParse(issuerAttr), subjAttr, testExpiry)
	require.NoError(t, err)

	return c
}

func putDelegates(t *testing.T, ds storage.ZoneDatastore, zone crypto.PublicKey, caps ...*delegation.Capability) {
	t.Helper()

	records := make([]storage.Record, 0, len(caps))
	for _, c := range caps {
		records = append(records, storage.Record{Type: storage.RecordTypeDelegate, Data: wire.CapabilityToBytes(c)})
	}
	require.NoError(t, ds.PutRecords(context.Background(), zone, "", records))
}

func putDelegationSets(t *testing.T, ds storage.ZoneDatastore, zone crypto.PublicKey, label string, sets ...[]delegation.SetEntry) {
	t.Helper()

	records := make([]storage.Record, 0, len(sets))
	for _, set := range sets {
		data, err := wire.MarshalSetRecord(set)
		require.NoError(t, err)
		records = append(records, storage.Record{Type: storage.RecordTypeAttribute, Data: data})
	}
	require.NoError(t, ds.PutRecords(context.Background(), zone, label, records))
}

func entry(subject crypto.PublicKey, subjectAttr string) delegation.SetEntry {
	e := delegation.SetEntry{Subject: subject}
	if subjectAttr != "" {
		e.SubjectAttribute = attribute.MustParse(subjectAttr)
	}

	return e
}

func edge(issuer crypto.PublicKey, issuerAttr string, subject crypto.PublicKey, subjectAttr string) *delegation.Delegation {
	d := &delegation.Delegation{Issuer: issuer, Subject: subject}
	if issuerAttr != "" {
		d.IssuerAttribute = attribute.MustParse(issuerAttr)
	}
	if subjectAttr != "" {
		d.SubjectAttribute = attribute.MustParse(subjectAttr)
	}

	return d
}

func awaitResult(t *testing.T, req *Request) *Resolution {
	t.Helper()

	select {
	case res, ok := <-req.Result():
		require.True(t, ok, "result channel closed without a resolution")

		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a resolution")

		return nil
	}
}

func awaitClosedWithoutResult(t *testing.T, req *Request) {
	t.Helper()

	select {
	case res, ok := <-req.Result():
		require.False(t, ok, "expected the result channel to close without a value, got %+v", res)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the result channel to close")
	}
}

func drainProgress(req *Request) []Progress {
	var events []Progress
	for p := range req.Progress() {
		events = append(events, p)
	}

	return events
}

// countingNameResolver counts lookups on their way to the wrapped backend.
type countingNameResolver struct {
	inner   storage.NameResolver
	lookups atomic.Int32
}

func (c *countingNameResolver) LookupRecords(ctx context.Context, zone crypto.PublicKey, label string, rtype storage.RecordType) ([]storage.Record, error) {
	c.lookups.Add(1)

	return c.inner.LookupRecords(ctx, zone, label, rtype)
}

// blockingNameResolver signals the first lookup it receives and then blocks
// until the lookup context is cancelled.
type blockingNameResolver struct {
	started chan struct{}
}

func newBlockingNameResolver() *blockingNameResolver {
	return &blockingNameResolver{started: make(chan struct{}, 1)}
}

func (b *blockingNameResolver) LookupRecords(ctx context.Context, _ crypto.PublicKey, _ string, _ storage.RecordType) ([]storage.Record, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()

	return nil, ctx.Err()
}

func (b *blockingNameResolver) awaitLookup(t *testing.T) {
	t.Helper()

	select {
	case <-b.started:
	case <-time.After(5 * time.Second):
		t.Fatal("no lookup was issued")
	}
}

func TestDirectCapabilityShortCircuits(t *testing.T) {
	issuerKey, subjectKey := newTestKey(t), newTestKey(t)
	issuer, subject := issuerKey.Public(), subjectKey.Public()

	counting := &countingNameResolver{inner: memory.New()}
	r := NewResolver(counting)
	defer r.Close()

	direct := issueCapability(t, issuerKey, subject, "a", "")

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subject,
		Capabilities:    []*delegation.Capability{direct},
		Direction:       DirectionForward,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.True(t, res.Found)
	require.Equal(t, []*delegation.Delegation{edge(issuer, "a", subject, "")}, res.Chain)
	require.Equal(t, []*delegation.Capability{direct}, res.Capabilities)
	require.Zero(t, res.Metadata.Lookups)
	require.Zero(t, counting.lookups.Load())

	_, open := <-req.Result()
	require.False(t, open, "result channel must close after delivery")
	require.Empty(t, drainProgress(req))
}

func TestBackwardResolvesThroughDelegationSet(t *testing.T) {
	issuerKey, middleKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, middle, subject := issuerKey.Public(), middleKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()
	putDelegationSets(t, ds, issuer, "a", []delegation.SetEntry{entry(middle, "b")})

	counting := &countingNameResolver{inner: ds}
	r := NewResolver(counting)
	defer r.Close()

	held := issueCapability(t, middleKey, subject, "b", "")

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subject,
		Capabilities:    []*delegation.Capability{held},
		Direction:       DirectionBackward,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.True(t, res.Found)
	require.Equal(t, []*delegation.Delegation{
		edge(issuer, "a", middle, "b"),
		edge(middle, "b", subject, ""),
	}, res.Chain)
	require.Equal(t, []*delegation.Capability{held}, res.Capabilities)
	require.Equal(t, uint32(1), res.Metadata.Lookups)
	require.Equal(t, int32(1), counting.lookups.Load())
}

func TestForwardWalksStoredDelegates(t *testing.T) {
	issuerKey, middleKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, middle, subject := issuerKey.Public(), middleKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()

	toSubject := issueCapability(t, middleKey, subject, "b", "")
	toMiddle := issueCapability(t, issuerKey, middle, "a", "b")
	putDelegates(t, ds, subject, toSubject)
	putDelegates(t, ds, middle, toMiddle)

	r := NewResolver(ds)
	defer r.Close()

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subject,
		Capabilities:    []*delegation.Capability{toSubject},
		Direction:       DirectionForward,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.True(t, res.Found)
	require.Equal(t, []*delegation.Delegation{
		edge(issuer, "a", middle, "b"),
		edge(middle, "b", subject, ""),
	}, res.Chain)
	require.Equal(t, []*delegation.Capability{toSubject}, res.Capabilities)
	require.Equal(t, uint32(2), res.Metadata.Lookups)
}

// A graph resolvable in either direction must produce the same proof chain
// whichever engine finds it.
func TestForwardAndBackwardAgree(t *testing.T) {
	issuerKey, middleKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, middle, subject := issuerKey.Public(), middleKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()

	toSubject := issueCapability(t, middleKey, subject, "b", "")
	toMiddle := issueCapability(t, issuerKey, middle, "a", "b")
	putDelegates(t, ds, subject, toSubject)
	putDelegates(t, ds, middle, toMiddle)
	putDelegationSets(t, ds, issuer, "a", []delegation.SetEntry{entry(middle, "b")})

	r := NewResolver(ds)
	defer r.Close()

	resolve := func(direction Direction) *Resolution {
		req, err := r.BeginVerify(context.Background(), &VerifyRequest{
			Issuer:          issuer,
			IssuerAttribute: attribute.MustParse("a"),
			Subject:         subject,
			Capabilities:    []*delegation.Capability{toSubject},
			Direction:       direction,
		})
		require.NoError(t, err)

		return awaitResult(t, req)
	}

	forward := resolve(DirectionForward)
	backward := resolve(DirectionBackward)

	require.True(t, forward.Found)
	require.True(t, backward.Found)
	require.Empty(t, cmp.Diff(forward.Chain, backward.Chain))
	require.Empty(t, cmp.Diff(forward.Capabilities, backward.Capabilities))
}

func TestConjunctionRequiresEveryEntry(t *testing.T) {
	issuerKey, leftKey, rightKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, left, right, subject := issuerKey.Public(), leftKey.Public(), rightKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()
	putDelegationSets(t, ds, issuer, "a", []delegation.SetEntry{
		entry(left, "x"),
		entry(right, "y"),
	})

	r := NewResolver(ds)
	defer r.Close()

	heldLeft := issueCapability(t, leftKey, subject, "x", "")
	heldRight := issueCapability(t, rightKey, subject, "y", "")

	begin := func(caps ...*delegation.Capability) *Resolution {
		req, err := r.BeginVerify(context.Background(), &VerifyRequest{
			Issuer:          issuer,
			IssuerAttribute: attribute.MustParse("a"),
			Subject:         subject,
			Capabilities:    caps,
			Direction:       DirectionBackward,
		})
		require.NoError(t, err)

		return awaitResult(t, req)
	}

	t.Run("succeeds_when_every_conjunct_is_held", func(t *testing.T) {
		res := begin(heldLeft, heldRight)
		require.True(t, res.Found)
		require.Equal(t, []*delegation.Delegation{
			edge(issuer, "a", left, "x"),
			edge(left, "x", subject, ""),
			edge(issuer, "a", right, "y"),
			edge(right, "y", subject, ""),
		}, res.Chain)
		require.Equal(t, []*delegation.Capability{heldLeft, heldRight}, res.Capabilities)
		require.Equal(t, uint32(1), res.Metadata.Lookups)
	})

	t.Run("fails_when_one_conjunct_is_unsatisfied", func(t *testing.T) {
		res := begin(heldLeft)
		require.False(t, res.Found)
		require.Empty(t, res.Chain)
		require.Empty(t, res.Capabilities)
		require.Equal(t, uint32(2), res.Metadata.Lookups)
	})
}

func TestAlternativesRequireOnlyOne(t *testing.T) {
	issuerKey, leftKey, rightKey, soloKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, left, right, solo, subject := issuerKey.Public(), leftKey.Public(), rightKey.Public(), soloKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()
	putDelegationSets(t, ds, issuer, "a",
		[]delegation.SetEntry{entry(left, "x"), entry(right, "y")},
		[]delegation.SetEntry{entry(solo, "z")},
	)

	r := NewResolver(ds)
	defer r.Close()

	heldSolo := issueCapability(t, soloKey, subject, "z", "")

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subject,
		Capabilities:    []*delegation.Capability{heldSolo},
		Direction:       DirectionBackward,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.True(t, res.Found)
	require.Equal(t, []*delegation.Delegation{
		edge(issuer, "a", solo, "z"),
		edge(solo, "z", subject, ""),
	}, res.Chain)
	require.Equal(t, []*delegation.Capability{heldSolo}, res.Capabilities)
}

// The subject's proof comes from a forward hop over stored delegates and the
// issuer's from a backward hop over a delegation set; neither direction can
// finish alone, so the result exists only if the frontiers are spliced where
// they meet.
func TestBidirectionalCrossingSplicesChains(t *testing.T) {
	issuerKey, meetKey, stepKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, meet, step, subject := issuerKey.Public(), meetKey.Public(), stepKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()

	toSubject := issueCapability(t, stepKey, subject, "q", "")
	toStep := issueCapability(t, meetKey, step, "mid", "q")
	putDelegates(t, ds, subject, toSubject)
	putDelegates(t, ds, step, toStep)
	putDelegationSets(t, ds, issuer, "a", []delegation.SetEntry{entry(meet, "mid")})

	r := NewResolver(ds)
	defer r.Close()

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subject,
		Capabilities:    []*delegation.Capability{toSubject},
		Direction:       DirectionBidirectional,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.True(t, res.Found)
	require.Equal(t, []*delegation.Delegation{
		edge(issuer, "a", meet, "mid"),
		edge(meet, "mid", step, "q"),
		edge(step, "q", subject, ""),
	}, res.Chain)
	require.Equal(t, []*delegation.Capability{toSubject}, res.Capabilities)
}

func TestCyclicGraphTerminates(t *testing.T) {
	issuer := newTestKey(t).Public()
	loopAKey, loopBKey := newTestKey(t), newTestKey(t)
	loopA, loopB := loopAKey.Public(), loopBKey.Public()

	ds := memory.New()
	defer ds.Close()

	// loopA and loopB delegate to each other; no path reaches the issuer.
	putDelegates(t, ds, loopA, issueCapability(t, loopBKey, loopA, "b", ""))
	putDelegates(t, ds, loopB, issueCapability(t, loopAKey, loopB, "c", ""))

	r := NewResolver(ds, WithResolveNodeLimit(4))
	defer r.Close()

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         loopA,
		Capabilities:    []*delegation.Capability{issueCapability(t, loopBKey, loopA, "b", "")},
		Direction:       DirectionForward,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.False(t, res.Found)
	require.Empty(t, res.Chain)
}

func TestExpiredCapabilityIsIgnored(t *testing.T) {
	issuerKey, subjectKey := newTestKey(t), newTestKey(t)
	issuer, subject := issuerKey.Public(), subjectKey.Public()

	r := NewResolver(memory.New())
	defer r.Close()

	expired, err := delegation.Issue(issuerKey, subject, attribute.MustParse("a"), "", time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subject,
		Capabilities:    []*delegation.Capability{expired},
		Direction:       DirectionForward,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.False(t, res.Found)
	require.Zero(t, res.Metadata.Lookups)
}

func TestRejectsUnusableRequests(t *testing.T) {
	issuerKey, subjectKey := newTestKey(t), newTestKey(t)
	issuer, subject := issuerKey.Public(), subjectKey.Public()
	held := issueCapability(t, issuerKey, subject, "a", "")

	tests := []struct {
		name string
		req  *VerifyRequest
	}{
		{
			name: "empty_attribute",
			req: &VerifyRequest{
				Issuer:       issuer,
				Subject:      subject,
				Capabilities: []*delegation.Capability{held},
				Direction:    DirectionBidirectional,
			},
		},
		{
			name: "oversized_attribute",
			req: &VerifyRequest{
				Issuer:          issuer,
				IssuerAttribute: attribute.Attribute(strings.Repeat("a", 300)),
				Subject:         subject,
				Capabilities:    []*delegation.Capability{held},
				Direction:       DirectionBidirectional,
			},
		},
		{
			name: "no_presented_capabilities",
			req: &VerifyRequest{
				Issuer:          issuer,
				IssuerAttribute: attribute.MustParse("a"),
				Subject:         subject,
				Direction:       DirectionBidirectional,
			},
		},
	}

	counting := &countingNameResolver{inner: memory.New()}
	r := NewResolver(counting)
	defer r.Close()

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req, err := r.BeginVerify(context.Background(), test.req)
			require.NoError(t, err)

			res := awaitResult(t, req)
			require.False(t, res.Found)
			require.Empty(t, res.Chain)
			require.Empty(t, res.Capabilities)
			require.Zero(t, res.Metadata.Lookups)
			require.Zero(t, counting.lookups.Load())
		})
	}
}

func TestMalformedStoredRecordsAreSkipped(t *testing.T) {
	issuerKey, otherKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, subject := issuerKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()
	require.NoError(t, ds.PutRecords(context.Background(), subject, "", []storage.Record{
		{Type: storage.RecordTypeDelegate, Data: []byte{0xde, 0xad, 0xbe, 0xef}},
	}))

	r := NewResolver(ds)
	defer r.Close()

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subject,
		Capabilities:    []*delegation.Capability{issueCapability(t, otherKey, subject, "b", "")},
		Direction:       DirectionForward,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.False(t, res.Found)
	require.Equal(t, uint32(1), res.Metadata.Lookups)
}

func TestCancelAbortsResolution(t *testing.T) {
	issuerKey, otherKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)

	blocking := newBlockingNameResolver()
	r := NewResolver(blocking)
	defer r.Close()

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuerKey.Public(),
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subjectKey.Public(),
		Capabilities:    []*delegation.Capability{issueCapability(t, otherKey, subjectKey.Public(), "b", "")},
		Direction:       DirectionBackward,
	})
	require.NoError(t, err)
	blocking.awaitLookup(t)

	require.True(t, r.Cancel(req.ID()))
	awaitClosedWithoutResult(t, req)
	require.False(t, r.Cancel(req.ID()), "cancelling a finished request must report false")
}

func TestCallerContextCancelsResolution(t *testing.T) {
	issuerKey, otherKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)

	blocking := newBlockingNameResolver()
	r := NewResolver(blocking)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := r.BeginVerify(ctx, &VerifyRequest{
		Issuer:          issuerKey.Public(),
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subjectKey.Public(),
		Capabilities:    []*delegation.Capability{issueCapability(t, otherKey, subjectKey.Public(), "b", "")},
		Direction:       DirectionBackward,
	})
	require.NoError(t, err)
	blocking.awaitLookup(t)

	cancel()
	awaitClosedWithoutResult(t, req)
}

func TestCloseShutsDownInFlightResolutions(t *testing.T) {
	issuerKey, otherKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)

	blocking := newBlockingNameResolver()
	r := NewResolver(blocking)

	req, err := r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuerKey.Public(),
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subjectKey.Public(),
		Capabilities:    []*delegation.Capability{issueCapability(t, otherKey, subjectKey.Public(), "b", "")},
		Direction:       DirectionBackward,
	})
	require.NoError(t, err)
	blocking.awaitLookup(t)

	r.Close()
	awaitClosedWithoutResult(t, req)

	_, err = r.BeginVerify(context.Background(), &VerifyRequest{
		Issuer:          issuerKey.Public(),
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subjectKey.Public(),
		Capabilities:    []*delegation.Capability{issueCapability(t, otherKey, subjectKey.Public(), "b", "")},
		Direction:       DirectionBackward,
	})
	require.ErrorIs(t, err, ErrResolverClosed)

	// Closing again is a no-op.
	r.Close()
}

func TestCollectResolvesFromStoredPrivateDelegates(t *testing.T) {
	issuerKey, middleKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, middle, subject := issuerKey.Public(), middleKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()

	held := issueCapability(t, middleKey, subject, "b", "")
	require.NoError(t, ds.PutRecords(context.Background(), subject, "", []storage.Record{
		{Type: storage.RecordTypeDelegate, Data: wire.CapabilityToBytes(held), Private: true},
	}))
	putDelegationSets(t, ds, issuer, "a", []delegation.SetEntry{entry(middle, "b")})

	r := NewResolver(ds, WithZoneDatastore(ds))
	defer r.Close()

	req, err := r.BeginCollect(context.Background(), &CollectRequest{
		Issuer:          issuer,
		IssuerAttribute: attribute.MustParse("a"),
		SubjectKey:      subjectKey,
		Direction:       DirectionBackward,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.True(t, res.Found)
	require.Equal(t, []*delegation.Delegation{
		edge(issuer, "a", middle, "b"),
		edge(middle, "b", subject, ""),
	}, res.Chain)
	require.Equal(t, []*delegation.Capability{held}, res.Capabilities)

	require.Empty(t, drainProgress(req), "collect mode must not emit progress events")
}

func TestCollectRequiresDatastore(t *testing.T) {
	r := NewResolver(memory.New())
	defer r.Close()

	_, err := r.BeginCollect(context.Background(), &CollectRequest{
		Issuer:          newTestKey(t).Public(),
		IssuerAttribute: attribute.MustParse("a"),
		SubjectKey:      newTestKey(t),
		Direction:       DirectionBackward,
	})
	require.ErrorIs(t, err, ErrNoDatastore)
}

func TestCollectFailsWithEmptyShoebox(t *testing.T) {
	ds := memory.New()
	defer ds.Close()

	r := NewResolver(ds, WithZoneDatastore(ds))
	defer r.Close()

	req, err := r.BeginCollect(context.Background(), &CollectRequest{
		Issuer:          newTestKey(t).Public(),
		IssuerAttribute: attribute.MustParse("a"),
		SubjectKey:      newTestKey(t),
		Direction:       DirectionBidirectional,
	})
	require.NoError(t, err)

	res := awaitResult(t, req)
	require.False(t, res.Found)
	require.Zero(t, res.Metadata.Lookups)
}

func TestProgressReportsDiscoveredEdges(t *testing.T) {
	issuerKey, middleKey, subjectKey := newTestKey(t), newTestKey(t), newTestKey(t)
	issuer, middle, subject := issuerKey.Public(), middleKey.Public(), subjectKey.Public()

	ds := memory.New()
	defer ds.Close()

	toSubject := issueCapability(t, middleKey, subject, "b", "")
	toMiddle := issueCapability(t, issuerKey, middle, "a", "b")
	putDelegates(t, ds, subject, toSubject)
	putDelegates(t, ds, middle, toMiddle)
	putDelegationSets(t, ds, issuer, "a", []delegation.SetEntry{entry(middle, "b")})

	r := NewResolver(ds)
	defer r.Close()

	t.Run("forward_edges", func(t *testing.T) {
		req, err := r.BeginVerify(context.Background(), &VerifyRequest{
			Issuer:          issuer,
			IssuerAttribute: attribute.MustParse("a"),
			Subject:         subject,
			Capabilities:    []*delegation.Capability{toSubject},
			Direction:       DirectionForward,
		})
		require.NoError(t, err)
		awaitResult(t, req)

		events := drainProgress(req)
		require.Len(t, events, 2)
		for _, p := range events {
			require.Equal(t, DirectionForward, p.Direction)
		}
		require.Equal(t, edge(middle, "b", subject, ""), events[0].Edge)
		require.Equal(t, edge(issuer, "a", middle, "b"), events[1].Edge)
	})

	t.Run("backward_edges", func(t *testing.T) {
		req, err := r.BeginVerify(context.Background(), &VerifyRequest{
			Issuer:          issuer,
			IssuerAttribute: attribute.MustParse("a"),
			Subject:         subject,
			Capabilities:    []*delegation.Capability{toSubject},
			Direction:       DirectionBackward,
		})
		require.NoError(t, err)
		awaitResult(t, req)

		events := drainProgress(req)
		require.Len(t, events, 1)
		require.Equal(t, DirectionBackward, events[0].Direction)
		require.Equal(t, edge(issuer, "a", middle, "b"), events[0].Edge)
	})
}
