package assets

import "embed"

const (
	// PostgresMigrationDir is the relative path in this Go module to the migrations for Postgres.
	PostgresMigrationDir = "migrations/postgres"
	// SqliteMigrationDir is the relative path in this Go module to the migrations for SQLite.
	SqliteMigrationDir = "migrations/sqlite"
)

//go:embed migrations/*
var EmbedMigrations embed.FS
