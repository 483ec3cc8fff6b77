package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/storage/sqlcommon"
	"github.com/credmesh/credmesh/pkg/storage/test"
	storagefixtures "github.com/credmesh/credmesh/pkg/testfixtures/storage"
)

func TestSQLiteDatastore(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "sqlite")

	uri := testDatastore.GetConnectionURI(true)
	cfg := sqlcommon.NewConfig()
	ds, err := New(uri, cfg)
	require.NoError(t, err)
	defer ds.Close()
	test.RunAllTests(t, ds)
}

func TestSQLiteDatastoreAfterCloseIsNotReady(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "sqlite")

	uri := testDatastore.GetConnectionURI(true)
	cfg := sqlcommon.NewConfig()
	ds, err := New(uri, cfg)
	require.NoError(t, err)
	ds.Close()
	status, err := ds.IsReady(context.Background())
	require.Error(t, err)
	require.False(t, status.IsReady)
}

// TestLookupRecordsEnsureOrder asserts that records written in one call come
// back in insertion order.
func TestLookupRecordsEnsureOrder(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "sqlite")

	uri := testDatastore.GetConnectionURI(true)
	cfg := sqlcommon.NewConfig()
	ds, err := New(uri, cfg)
	require.NoError(t, err)
	defer ds.Close()

	ctx := context.Background()

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	zone := priv.Public()

	records := []storage.Record{
		{Type: storage.RecordTypeAttribute, Data: []byte("first")},
		{Type: storage.RecordTypeAttribute, Data: []byte("second")},
		{Type: storage.RecordTypeAttribute, Data: []byte("third")},
	}
	require.NoError(t, ds.PutRecords(ctx, zone, "ordered", records))

	got, err := ds.LookupRecords(ctx, zone, "ordered", storage.RecordTypeAttribute)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []byte("first"), got[0].Data)
	require.Equal(t, []byte("second"), got[1].Data)
	require.Equal(t, []byte("third"), got[2].Data)
}

func TestLookupRecordsFiltersExpiredRows(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "sqlite")

	uri := testDatastore.GetConnectionURI(true)
	cfg := sqlcommon.NewConfig()
	ds, err := New(uri, cfg)
	require.NoError(t, err)
	defer ds.Close()

	ctx := context.Background()

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	zone := priv.Public()

	now := time.Now().UTC()
	records := []storage.Record{
		{Type: storage.RecordTypeAttribute, Data: []byte("expired"), Expiry: now.Add(-time.Hour)},
		{Type: storage.RecordTypeAttribute, Data: []byte("live"), Expiry: now.Add(time.Hour)},
		{Type: storage.RecordTypeAttribute, Data: []byte("eternal")},
	}
	require.NoError(t, ds.PutRecords(ctx, zone, "mixed", records))

	got, err := ds.LookupRecords(ctx, zone, "mixed", storage.RecordTypeAttribute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []byte("live"), got[0].Data)
	require.Equal(t, []byte("eternal"), got[1].Data)

	// The raw read still sees all three.
	raw, err := ds.GetRecords(ctx, zone, "mixed")
	require.NoError(t, err)
	require.Len(t, raw, 3)
}

func TestPrepareDSN(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			name: "no_query_params",
			uri:  "file:test.db",
			want: "file:test.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%28100%29&_txlock=immediate",
		},
		{
			name: "existing_journal_mode_preserved",
			uri:  "file:test.db?_pragma=journal_mode(DELETE)",
			want: "file:test.db?_pragma=journal_mode%28DELETE%29&_pragma=busy_timeout%28100%29&_txlock=immediate",
		},
		{
			name: "existing_txlock_preserved",
			uri:  "file:test.db?_txlock=deferred",
			want: "file:test.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%28100%29&_txlock=deferred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PrepareDSN(tt.uri)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestHandleSQLError(t *testing.T) {
	err := HandleSQLError(sql.ErrNoRows)
	require.ErrorIs(t, err, storage.ErrNotFound)
}
