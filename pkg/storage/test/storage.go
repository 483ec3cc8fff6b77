// Package test contains the conformance suite every ZoneDatastore
// implementation must pass. Backend packages call RunAllTests from their own
// tests with a freshly migrated datastore.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/wire"
)

func RunAllTests(t *testing.T, ds storage.ZoneDatastore) {
	t.Run("TestDatastoreIsReady", func(t *testing.T) {
		status, err := ds.IsReady(context.Background())
		require.NoError(t, err)
		require.True(t, status.IsReady)
	})

	// Records.
	t.Run("TestRecordWriteAndRead", func(t *testing.T) { RecordWritingAndReadingTest(t, ds) })
	t.Run("TestLookupRecordFiltering", func(t *testing.T) { LookupRecordFilteringTest(t, ds) })
	t.Run("TestDeleteRecords", func(t *testing.T) { DeleteRecordsTest(t, ds) })

	// Zones.
	t.Run("TestListZonePagination", func(t *testing.T) { ListZonePaginationTest(t, ds) })
	t.Run("TestPrivateDelegateShoebox", func(t *testing.T) { PrivateDelegateShoeboxTest(t, ds) })
}

func newZoneKey(t *testing.T) crypto.PublicKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key.Public()
}

// setRecordPayload builds a real attribute record payload delegating to the
// given subjects, so the suite exercises the byte shapes resolution reads.
func setRecordPayload(t *testing.T, subjects ...crypto.PublicKey) []byte {
	t.Helper()

	entries := make([]delegation.SetEntry, 0, len(subjects))
	for _, subject := range subjects {
		entries = append(entries, delegation.SetEntry{
			Subject:          subject,
			SubjectAttribute: attribute.MustParse("members"),
		})
	}

	payload, err := wire.MarshalSetRecord(entries)
	require.NoError(t, err)

	return payload
}

// capabilityPayload builds a signed capability payload for delegate records.
func capabilityPayload(t *testing.T, issuerKey crypto.PrivateKey, subject crypto.PublicKey, attr string) []byte {
	t.Helper()

	c, err := delegation.Issue(
		issuerKey,
		subject,
		attribute.MustParse(attr),
		"",
		time.Date(2040, time.January, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	return wire.CapabilityToBytes(c)
}
