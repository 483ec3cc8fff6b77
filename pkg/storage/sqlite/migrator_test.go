package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/storage/sqlcommon"
)

func TestSQLiteMigrationProvider(t *testing.T) {
	provider := NewSQLiteMigrationProvider()
	require.Equal(t, "sqlite", provider.GetSupportedEngine())

	ctx := context.Background()
	uri := "file:" + filepath.Join(t.TempDir(), "database.db")

	cfg := storage.MigrationConfig{
		Engine:  "sqlite",
		URI:     uri,
		Timeout: 5 * time.Second,
	}

	err := provider.RunMigrations(ctx, cfg)
	require.NoError(t, err)

	version, err := provider.GetCurrentVersion(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	// The migrated schema must be usable by the datastore.
	ds, err := New(uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	defer ds.Close()

	status, err := ds.IsReady(ctx)
	require.NoError(t, err)
	require.True(t, status.IsReady)
}

func TestSQLiteMigrationProviderDownTo(t *testing.T) {
	provider := NewSQLiteMigrationProvider()

	ctx := context.Background()
	uri := "file:" + filepath.Join(t.TempDir(), "database.db")

	cfg := storage.MigrationConfig{
		Engine:  "sqlite",
		URI:     uri,
		Timeout: 5 * time.Second,
	}

	require.NoError(t, provider.RunMigrations(ctx, cfg))

	// Re-running against an up-to-date database is a no-op.
	cfg.TargetVersion = 1
	require.NoError(t, provider.RunMigrations(ctx, cfg))

	version, err := provider.GetCurrentVersion(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}
