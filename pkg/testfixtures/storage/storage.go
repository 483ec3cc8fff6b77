// Package storage contains test helpers that bring up disposable datastore
// instances and run their migrations.
package storage

import (
	"testing"
)

// DatastoreTestContainer represents a runnable datastore instance for testing
// specific engines.
type DatastoreTestContainer interface {
	// GetConnectionURI returns a connection string to the datastore instance.
	GetConnectionURI(includeCredentials bool) string

	// GetDatabaseSchemaVersion returns the last migration applied (e.g. 3)
	// when the instance was created.
	GetDatabaseSchemaVersion() int64

	GetUsername() string
	GetPassword() string
}

type memoryTestContainer struct{}

func (m memoryTestContainer) GetConnectionURI(includeCredentials bool) string {
	return ""
}

func (m memoryTestContainer) GetUsername() string {
	return ""
}

func (m memoryTestContainer) GetPassword() string {
	return ""
}

func (m memoryTestContainer) GetDatabaseSchemaVersion() int64 {
	return 1
}

// RunDatastoreTestContainer constructs and runs a specific
// DatastoreTestContainer for the provided datastore engine. If applicable, it
// also runs all existing database migrations. The resources used by the test
// engine will be cleaned up after the test has finished.
func RunDatastoreTestContainer(t testing.TB, engine string) DatastoreTestContainer {
	switch engine {
	case "postgres":
		return NewPostgresTestDatabase().RunPostgresTestDatabase(t)
	case "sqlite":
		return NewSqliteTestDatabase().RunSqliteTestDatabase(t)
	case "memory":
		return memoryTestContainer{}
	default:
		t.Fatalf("'%s' engine is not supported by RunDatastoreTestContainer", engine)
		return nil
	}
}
