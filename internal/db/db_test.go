package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrateCreatesSchema(t *testing.T) {
	database, err := OpenAndMigrate(filepath.Join(t.TempDir(), "db", "mirror.sqlite"))
	require.NoError(t, err)
	defer database.Close()

	for _, table := range []string{"tasks", "time_entries", "employees", "project_mappings", "sync_state"} {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	status, err := GetMigrationStatus(database)
	require.NoError(t, err)
	assert.False(t, status.Pending)
	assert.False(t, status.Dirty)
	assert.Equal(t, status.LatestVersion, status.CurrentVersion)
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	database, err := OpenInMemory(t.Name())
	require.NoError(t, err)
	defer database.Close()

	assert.NoError(t, RunMigrations(database))
}

func TestLatestVersionReadsEmbeddedFiles(t *testing.T) {
	v, err := latestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}
