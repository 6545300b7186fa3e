package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644))
}

func TestLoadMigrationsOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_add_snapshots.sql", "CREATE TABLE strategy_snapshots ();")
	writeMigration(t, dir, "001_initial_schema.sql", "CREATE TABLE strategies ();")
	writeMigration(t, dir, "001_initial_schema_down.sql", "DROP TABLE strategies;")
	writeMigration(t, dir, "notes.txt", "not a migration")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	require.NoError(t, err)

	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "initial schema", migrations[0].Description)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "add snapshots", migrations[1].Description)
	assert.Contains(t, migrations[1].SQL, "strategy_snapshots")
}

func TestLoadMigrationsRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "schema.sql", "CREATE TABLE x ();")

	m := NewMigrator(nil, dir)
	_, err := m.LoadMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid migration filename")
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	m := NewMigrator(nil, filepath.Join(t.TempDir(), "absent"))
	_, err := m.LoadMigrations()
	assert.Error(t, err)
}
