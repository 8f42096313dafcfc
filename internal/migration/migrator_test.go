package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/BaSui01/swarmplane/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "swarmplane.db")
	m, err := NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  BuildDatabaseURL(DatabaseTypeSQLite, "", 0, dbPath, "", "", ""),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dbPath
}

func tableExists(t *testing.T, dbPath, table string) bool {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"POSTGRES", DatabaseTypePostgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/plane?sslmode=disable",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "plane", "u", "p", "disable"))
	assert.Equal(t, "postgres://u:p@db:5432/plane?sslmode=require",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "plane", "u", "p", ""))
	assert.Equal(t, "u:p@tcp(db:3306)/plane?parseTime=true&multiStatements=true",
		BuildDatabaseURL(DatabaseTypeMySQL, "db", 3306, "plane", "u", "p", ""))
	assert.Equal(t, "file:/tmp/plane.db?mode=rwc&_pragma=foreign_keys(1)",
		BuildDatabaseURL(DatabaseTypeSQLite, "", 0, "/tmp/plane.db", "", "", ""))
	assert.Empty(t, BuildDatabaseURL("oracle", "", 0, "", "", "", ""))
}

func TestAvailableMigrations_AllDialectsMatch(t *testing.T) {
	var reference []migrationFile
	for _, dt := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		migrations, err := availableMigrations(dt)
		require.NoError(t, err, dt)
		require.Len(t, migrations, 2, dt)
		for i := 1; i < len(migrations); i++ {
			assert.Greater(t, migrations[i].version, migrations[i-1].version)
		}
		if reference == nil {
			reference = migrations
			continue
		}
		assert.Equal(t, reference, migrations, "dialect %s diverges", dt)
	}
	assert.Equal(t, "create_audit_events", reference[0].name)
	assert.Equal(t, "create_cost_records", reference[1].name)
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestMigrator_SQLite_UpDown(t *testing.T) {
	m, dbPath := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	// 重复执行没有变化也不报错
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, 2, info.AppliedMigrations)
	assert.Zero(t, info.PendingMigrations)
	assert.True(t, tableExists(t, dbPath, "audit_events"))
	assert.True(t, tableExists(t, dbPath, "cost_records"))

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists(t, dbPath, "cost_records"))
	assert.True(t, tableExists(t, dbPath, "audit_events"))

	require.NoError(t, m.Steps(ctx, 1))
	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[1].Applied)
}

func TestCLI_Run(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	cli := NewCLI(m)
	var out bytes.Buffer
	cli.SetOutput(&out)
	ctx := context.Background()

	require.NoError(t, cli.Run(ctx, "version", nil))
	assert.Contains(t, out.String(), "No migrations applied yet")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "up", nil))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "status", nil))
	assert.Contains(t, out.String(), "create_cost_records")
	assert.Contains(t, out.String(), "Total: 2, Applied: 2, Pending: 0")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "steps", []string{"-1"}))
	assert.Contains(t, out.String(), "Rolling back 1 migration(s)")

	assert.Error(t, cli.Run(ctx, "steps", nil))
	assert.Error(t, cli.Run(ctx, "force", []string{"abc"}))
	assert.Error(t, cli.Run(ctx, "goto", nil))
}

func TestApply_FromDatabaseConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "apply.db")
	cfg := config.DatabaseConfig{Driver: "sqlite", Name: dbPath}

	require.NoError(t, Apply(context.Background(), cfg, zap.NewNop()))
	assert.True(t, tableExists(t, dbPath, "audit_events"))

	// 再次执行是幂等的
	require.NoError(t, Apply(context.Background(), cfg, nil))
}
