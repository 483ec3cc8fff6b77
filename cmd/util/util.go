// Package util provides common utilities for spf13/cobra CLI utilities
// that can be used for various commands within this project.
package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/storage/memory"
	"github.com/credmesh/credmesh/pkg/storage/postgres"
	"github.com/credmesh/credmesh/pkg/storage/sqlcommon"
	"github.com/credmesh/credmesh/pkg/storage/sqlite"
	storagefixtures "github.com/credmesh/credmesh/pkg/testfixtures/storage"
)

// MustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func MustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func MustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

// MustBootstrapDatastore spins up a datastore for the given engine, runs its
// migrations, and registers cleanup with the test. It returns the backing
// container, an opened datastore, and the connection URI.
func MustBootstrapDatastore(t testing.TB, engine string) (storagefixtures.DatastoreTestContainer, storage.ZoneDatastore, string) {
	container := storagefixtures.RunDatastoreTestContainer(t, engine)

	uri := container.GetConnectionURI(true)

	var ds storage.ZoneDatastore
	var err error

	switch engine {
	case "memory":
		ds = memory.New()
	case "postgres":
		ds, err = postgres.New(uri, sqlcommon.NewConfig())
	case "sqlite":
		ds, err = sqlite.New(uri, sqlcommon.NewConfig())
	default:
		t.Fatalf("'%s' is not a supported datastore engine", engine)
	}
	require.NoError(t, err)

	t.Cleanup(ds.Close)

	return container, ds, uri
}

func PrepareTempConfigDir(t *testing.T) string {
	_, err := os.Stat("/etc/credmesh/config.yaml")
	require.ErrorIs(t, err, os.ErrNotExist, "Config file at /etc/credmesh/config.yaml would disturb test result.")

	homedir := t.TempDir()
	t.Setenv("HOME", homedir)

	confdir := filepath.Join(homedir, ".credmesh")
	require.NoError(t, os.Mkdir(confdir, 0750))

	return confdir
}

func PrepareTempConfigFile(t *testing.T, config string) {
	confdir := PrepareTempConfigDir(t)
	confFile, err := os.Create(filepath.Join(confdir, "config.yaml"))
	require.NoError(t, err)
	_, err = confFile.WriteString(config)
	require.NoError(t, err)
	require.NoError(t, confFile.Close())
}
