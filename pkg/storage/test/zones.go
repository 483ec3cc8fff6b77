package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/storage"
)

func ListZonePaginationTest(t *testing.T, datastore storage.ZoneDatastore) {
	ctx := context.Background()

	t.Run("list_pages_through_labels_in_lexical_order", func(t *testing.T) {
		zone := newZoneKey(t)
		subject := newZoneKey(t)

		// Inserted out of order on purpose.
		for _, label := range []string{"disc", "admin", "eve", "bikes", "cars"} {
			err := datastore.PutRecords(ctx, zone, label, []storage.Record{
				{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subject)},
			})
			require.NoError(t, err)
		}

		var seen []string
		opts := storage.PaginationOptions{PageSize: 2}
		for {
			page, token, err := datastore.ListZone(ctx, zone, opts)
			require.NoError(t, err)
			require.LessOrEqual(t, len(page), 2)

			for _, lr := range page {
				seen = append(seen, lr.Label)
				require.Len(t, lr.Records, 1)
			}

			if token == "" {
				break
			}
			opts.From = token
		}

		require.Equal(t, []string{"admin", "bikes", "cars", "disc", "eve"}, seen)
	})

	t.Run("list_empty_zone_returns_no_labels", func(t *testing.T) {
		zone := newZoneKey(t)

		page, token, err := datastore.ListZone(ctx, zone, storage.PaginationOptions{PageSize: 10})
		require.NoError(t, err)
		require.Empty(t, page)
		require.Empty(t, token)
	})

	t.Run("list_applies_default_page_size", func(t *testing.T) {
		zone := newZoneKey(t)
		subject := newZoneKey(t)

		for _, label := range []string{"one", "two", "three"} {
			err := datastore.PutRecords(ctx, zone, label, []storage.Record{
				{Type: storage.RecordTypeAttribute, Data: setRecordPayload(t, subject)},
			})
			require.NoError(t, err)
		}

		page, token, err := datastore.ListZone(ctx, zone, storage.PaginationOptions{})
		require.NoError(t, err)
		require.Len(t, page, 3)
		require.Empty(t, token)
	})
}

func PrivateDelegateShoeboxTest(t *testing.T, datastore storage.ZoneDatastore) {
	ctx := context.Background()

	t.Run("shoebox_returns_only_unexpired_private_delegates", func(t *testing.T) {
		zone := newZoneKey(t)
		issuerKey, err := crypto.GenerateKey()
		require.NoError(t, err)

		kept := storage.Record{
			Type:    storage.RecordTypeDelegate,
			Data:    capabilityPayload(t, issuerKey, zone, "admin"),
			Private: true,
		}
		public := storage.Record{
			Type: storage.RecordTypeDelegate,
			Data: capabilityPayload(t, issuerKey, zone, "viewer"),
		}
		expired := storage.Record{
			Type:    storage.RecordTypeDelegate,
			Data:    capabilityPayload(t, issuerKey, zone, "former"),
			Expiry:  time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond),
			Private: true,
		}
		attr := storage.Record{
			Type:    storage.RecordTypeAttribute,
			Data:    setRecordPayload(t, zone),
			Private: true,
		}

		err = datastore.PutRecords(ctx, zone, "caps", []storage.Record{kept, public, expired, attr})
		require.NoError(t, err)

		got, err := datastore.ListPrivateDelegates(ctx, zone)
		require.NoError(t, err)
		require.Equal(t, []storage.Record{kept}, got)
	})

	t.Run("shoebox_spans_all_labels_in_label_order", func(t *testing.T) {
		zone := newZoneKey(t)
		issuerKey, err := crypto.GenerateKey()
		require.NoError(t, err)

		second := storage.Record{
			Type:    storage.RecordTypeDelegate,
			Data:    capabilityPayload(t, issuerKey, zone, "writer"),
			Private: true,
		}
		first := storage.Record{
			Type:    storage.RecordTypeDelegate,
			Data:    capabilityPayload(t, issuerKey, zone, "reader"),
			Private: true,
		}

		err = datastore.PutRecords(ctx, zone, "later", []storage.Record{second})
		require.NoError(t, err)
		err = datastore.PutRecords(ctx, zone, "earlier", []storage.Record{first})
		require.NoError(t, err)

		got, err := datastore.ListPrivateDelegates(ctx, zone)
		require.NoError(t, err)
		require.Equal(t, []storage.Record{first, second}, got)
	})

	t.Run("shoebox_on_empty_zone_is_empty", func(t *testing.T) {
		zone := newZoneKey(t)

		got, err := datastore.ListPrivateDelegates(ctx, zone)
		require.NoError(t, err)
		require.Empty(t, got)
	})
}
