package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/credmesh/credmesh/assets"
)

type sqliteTestDatabase struct {
	path    string
	version int64
}

// NewSqliteTestDatabase returns an implementation of the
// DatastoreTestContainer interface for SQLite.
func NewSqliteTestDatabase() *sqliteTestDatabase {
	return &sqliteTestDatabase{}
}

func (m *sqliteTestDatabase) GetDatabaseSchemaVersion() int64 {
	return m.version
}

// RunSqliteTestDatabase creates a sqlite database file, runs all migrations
// against it, and returns a bootstrapped implementation of the
// DatastoreTestContainer interface wired up for the sqlite datastore engine.
func (m *sqliteTestDatabase) RunSqliteTestDatabase(t testing.TB) DatastoreTestContainer {
	dbDir, err := os.MkdirTemp("", "credmesh-test-sqlite-*")
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dbDir)) })

	m.path = filepath.Join(dbDir, "database.db")

	uri := m.GetConnectionURI(true)

	goose.SetLogger(goose.NopLogger())

	db, err := goose.OpenDBWithDriver("sqlite", uri)
	require.NoError(t, err)
	defer db.Close()

	goose.SetBaseFS(assets.EmbedMigrations)

	err = goose.Up(db, assets.SqliteMigrationDir)
	require.NoError(t, err)
	version, err := goose.GetDBVersion(db)
	require.NoError(t, err)
	m.version = version

	err = db.Close()
	require.NoError(t, err)

	return m
}

// GetConnectionURI returns the sqlite connection uri for the test database.
func (m *sqliteTestDatabase) GetConnectionURI(includeCredentials bool) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(100)", m.path)
}

func (m *sqliteTestDatabase) GetUsername() string {
	return ""
}

func (m *sqliteTestDatabase) GetPassword() string {
	return ""
}
