package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/storage"
)

func RecordWritingAndReadingTest(t *testing.T, datastore storage.ZoneDatastore) {
	ctx := context.Background()

	t.Run("put_then_get_returns_records_in_insertion_order", func(t *testing.T) {
		zone := newZoneKey(t)
		subjectA := newZoneKey(t)
		subjectB := newZoneKey(t)

		records := []storage.Record{
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subjectA)},
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subjectB)},
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subjectA, subjectB)},
		}

		err := datastore.PutRecords(ctx, zone, "disc", records)
		require.NoError(t, err)

		got, err := datastore.GetRecords(ctx, zone, "disc")
		require.NoError(t, err)
		require.Equal(t, records, got)
	})

	t.Run("put_replaces_the_previous_record_set", func(t *testing.T) {
		zone := newZoneKey(t)
		subject := newZoneKey(t)

		err := datastore.PutRecords(ctx, zone, "disc", []storage.Record{
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subject)},
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t)},
		})
		require.NoError(t, err)

		replacement := []storage.Record{
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subject, subject)},
		}
		err = datastore.PutRecords(ctx, zone, "disc", replacement)
		require.NoError(t, err)

		got, err := datastore.GetRecords(ctx, zone, "disc")
		require.NoError(t, err)
		require.Equal(t, replacement, got)
	})

	t.Run("put_empty_set_removes_the_label", func(t *testing.T) {
		zone := newZoneKey(t)
		subject := newZoneKey(t)

		err := datastore.PutRecords(ctx, zone, "disc", []storage.Record{
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subject)},
		})
		require.NoError(t, err)

		err = datastore.PutRecords(ctx, zone, "disc", nil)
		require.NoError(t, err)

		_, err = datastore.GetRecords(ctx, zone, "disc")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("get_missing_label_returns_not_found", func(t *testing.T) {
		zone := newZoneKey(t)

		_, err := datastore.GetRecords(ctx, zone, "nothing-here")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("expiry_and_private_flag_round_trip", func(t *testing.T) {
		zone := newZoneKey(t)
		issuerKey, err := crypto.GenerateKey()
		require.NoError(t, err)

		expiry := time.Date(2033, time.June, 9, 12, 0, 0, 250000, time.UTC)
		records := []storage.Record{
			{
				Type:    storage.RecordTypeDelegate,
				Data:    capabilityPayload(t, issuerKey, zone, "admin"),
				Expiry:  expiry,
				Private: true,
			},
			{
				Type: storage.RecordTypeDelegate,
				Data: capabilityPayload(t, issuerKey, zone, "viewer"),
			},
		}

		err = datastore.PutRecords(ctx, zone, "", records)
		require.NoError(t, err)

		got, err := datastore.GetRecords(ctx, zone, "")
		require.NoError(t, err)
		require.Equal(t, records, got)
	})
}

func LookupRecordFilteringTest(t *testing.T, datastore storage.ZoneDatastore) {
	ctx := context.Background()

	t.Run("lookup_returns_only_the_requested_type", func(t *testing.T) {
		zone := newZoneKey(t)
		subject := newZoneKey(t)
		issuerKey, err := crypto.GenerateKey()
		require.NoError(t, err)

		attrRecord := storage.Record{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subject)}
		delRecord := storage.Record{Type: storage.RecordTypeDelegate, Data: capabilityPayload(t, issuerKey, subject, "disc")}

		err = datastore.PutRecords(ctx, zone, "disc", []storage.Record{attrRecord, delRecord})
		require.NoError(t, err)

		got, err := datastore.LookupRecords(ctx, zone, "disc", storage.RecordTypeAttribute)
		require.NoError(t, err)
		require.Equal(t, []storage.Record{attrRecord}, got)

		got, err = datastore.LookupRecords(ctx, zone, "disc", storage.RecordTypeDelegate)
		require.NoError(t, err)
		require.Equal(t, []storage.Record{delRecord}, got)
	})

	t.Run("lookup_never_serves_private_records", func(t *testing.T) {
		zone := newZoneKey(t)
		issuerKey, err := crypto.GenerateKey()
		require.NoError(t, err)

		public := storage.Record{Type: storage.RecordTypeDelegate, Data: capabilityPayload(t, issuerKey, zone, "admin")}
		private := storage.Record{Type: storage.RecordTypeDelegate, Data: capabilityPayload(t, issuerKey, zone, "secret"), Private: true}

		err = datastore.PutRecords(ctx, zone, "", []storage.Record{public, private})
		require.NoError(t, err)

		got, err := datastore.LookupRecords(ctx, zone, "", storage.RecordTypeDelegate)
		require.NoError(t, err)
		require.Equal(t, []storage.Record{public}, got)
	})

	t.Run("lookup_skips_expired_records", func(t *testing.T) {
		zone := newZoneKey(t)
		subject := newZoneKey(t)

		expired := storage.Record{
			Type:   storage.RecordTypeAttribute,
			Data:   setRecordPayload(t, subject),
			Expiry: time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond),
		}
		live := storage.Record{
			Type:   storage.RecordTypeAttribute,
			Data:   setRecordPayload(t, subject, subject),
			Expiry: time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond),
		}
		forever := storage.Record{
			Type: storage.RecordTypeAttribute,
			Data: setRecordPayload(t),
		}

		err := datastore.PutRecords(ctx, zone, "disc", []storage.Record{expired, live, forever})
		require.NoError(t, err)

		got, err := datastore.LookupRecords(ctx, zone, "disc", storage.RecordTypeAttribute)
		require.NoError(t, err)
		require.Equal(t, []storage.Record{live, forever}, got)

		// The raw read path still sees the expired record.
		raw, err := datastore.GetRecords(ctx, zone, "disc")
		require.NoError(t, err)
		require.Len(t, raw, 3)
	})

	t.Run("lookup_of_missing_label_is_empty_not_an_error", func(t *testing.T) {
		zone := newZoneKey(t)

		got, err := datastore.LookupRecords(ctx, zone, "nothing-here", storage.RecordTypeAttribute)
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

func DeleteRecordsTest(t *testing.T, datastore storage.ZoneDatastore) {
	ctx := context.Background()

	t.Run("delete_removes_all_records_under_the_label", func(t *testing.T) {
		zone := newZoneKey(t)
		subject := newZoneKey(t)

		err := datastore.PutRecords(ctx, zone, "disc", []storage.Record{
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subject)},
			{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t)},
		})
		require.NoError(t, err)

		err = datastore.DeleteRecords(ctx, zone, "disc")
		require.NoError(t, err)

		_, err = datastore.GetRecords(ctx, zone, "disc")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete_missing_label_returns_not_found", func(t *testing.T) {
		zone := newZoneKey(t)

		err := datastore.DeleteRecords(ctx, zone, "nothing-here")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}
