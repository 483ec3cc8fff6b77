// Package migrate wires the per-engine migration providers behind a single
// entry point.
package migrate

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/storage/postgres"
	"github.com/credmesh/credmesh/pkg/storage/sqlite"
)

// MigrationConfig contains the configuration needed for running migrations.
type MigrationConfig = storage.MigrationConfig

var (
	// defaultRegistry is the global migration provider registry.
	defaultRegistry *storage.MigratorRegistry
	registryOnce    sync.Once
)

// initDefaultRegistry initializes the default migration registry with
// built-in providers.
func initDefaultRegistry() {
	registryOnce.Do(func() {
		defaultRegistry = storage.NewMigratorRegistry()

		defaultRegistry.RegisterProvider("postgres", postgres.NewPostgresMigrationProvider())
		defaultRegistry.RegisterProvider("sqlite", sqlite.NewSQLiteMigrationProvider())
	})
}

// GetDefaultRegistry returns the default migration provider registry.
func GetDefaultRegistry() *storage.MigratorRegistry {
	initDefaultRegistry()
	return defaultRegistry
}

// RegisterMigrationProvider allows applications embedding credmesh to
// register custom migration providers.
func RegisterMigrationProvider(engine string, provider storage.MigrationProvider) {
	initDefaultRegistry()
	defaultRegistry.RegisterProvider(engine, provider)
}

// RunMigrationsWithProvider runs migrations using a specific migration provider.
func RunMigrationsWithProvider(provider storage.MigrationProvider, cfg storage.MigrationConfig) error {
	ctx := context.Background()
	return provider.RunMigrations(ctx, cfg)
}

// RunMigrationsWithRegistry runs migrations using a specific migration registry.
func RunMigrationsWithRegistry(registry *storage.MigratorRegistry, cfg storage.MigrationConfig) error {
	if cfg.Engine == "memory" {
		log.Println("no migrations to run for `memory` datastore")
		return nil
	}

	provider, exists := registry.GetProvider(cfg.Engine)
	if !exists {
		return fmt.Errorf("no migration provider registered for engine: %s", cfg.Engine)
	}

	ctx := context.Background()
	return provider.RunMigrations(ctx, cfg)
}

// RunMigrations runs the migrations for the given config using the default
// registry. Applications embedding credmesh can register custom providers via
// RegisterMigrationProvider before calling this, or use
// RunMigrationsWithProvider and RunMigrationsWithRegistry for full control.
func RunMigrations(cfg storage.MigrationConfig) error {
	return RunMigrationsWithRegistry(GetDefaultRegistry(), cfg)
}
