package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateUp(t *testing.T) {
	database := setupDB(t)

	m := NewMigrator(database.DB)
	require.NoError(t, m.Initialize())

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	require.Zero(t, version)

	require.NoError(t, m.Up())

	version, err = m.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, 1, version)

	// The schema is actually in place.
	_, err = database.Exec("SELECT count(*) FROM entity_records")
	require.NoError(t, err)
	_, err = database.Exec("SELECT count(*) FROM sync_queue")
	require.NoError(t, err)

	applied, err := m.AppliedMigrations()
	require.NoError(t, err)
	require.Len(t, applied, 1)
	require.Equal(t, "sync_core", applied[0].Description)
	require.Len(t, applied[0].Checksum, 64)
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	database := setupDB(t)

	m := NewMigrator(database.DB)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())
	require.NoError(t, m.Up())

	applied, err := m.AppliedMigrations()
	require.NoError(t, err)
	require.Len(t, applied, 1)
}

func TestMigrateDown(t *testing.T) {
	database := setupDB(t)

	m := NewMigrator(database.DB)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())
	require.NoError(t, m.Down())

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	require.Zero(t, version)

	_, err = database.Exec("SELECT count(*) FROM entity_records")
	require.Error(t, err, "rolled-back tables are gone")

	// Nothing left to roll back.
	require.Error(t, m.Down())
}

func TestParseVersion(t *testing.T) {
	cases := []struct {
		name   string
		suffix string
		want   int
		ok     bool
	}{
		{"V1__sync_core.up.sql", ".up.sql", 1, true},
		{"V12__later.up.sql", ".up.sql", 12, true},
		{"V1__sync_core.down.sql", ".up.sql", 0, false},
		{"sync_core.up.sql", ".up.sql", 0, false},
		{"V0__bad.up.sql", ".up.sql", 0, false},
		{"Vx__bad.up.sql", ".up.sql", 0, false},
	}

	for _, c := range cases {
		got, ok := parseVersion(c.name, c.suffix)
		require.Equal(t, c.ok, ok, c.name)
		require.Equal(t, c.want, got, c.name)
	}
}
