package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/storage"
	storagefixtures "github.com/credmesh/credmesh/pkg/testfixtures/storage"
)

func TestPostgresMigrationProvider(t *testing.T) {
	provider := NewPostgresMigrationProvider()
	require.Equal(t, "postgres", provider.GetSupportedEngine())

	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "postgres")
	require.Equal(t, int64(1), testDatastore.GetDatabaseSchemaVersion())

	ctx := context.Background()
	cfg := storage.MigrationConfig{
		Engine:  "postgres",
		URI:     testDatastore.GetConnectionURI(true),
		Timeout: 30 * time.Second,
	}

	// The fixture already migrated the database, so this is a no-op.
	err := provider.RunMigrations(ctx, cfg)
	require.NoError(t, err)

	version, err := provider.GetCurrentVersion(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}
