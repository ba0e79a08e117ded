package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeMigration(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestMigrateAppliesPendingMigrations(t *testing.T) {
	root := t.TempDir()
	migrations := filepath.Join(root, "migrations")
	require.NoError(t, os.Mkdir(migrations, 0o755))
	writeMigration(t, migrations, "1_create_programs.up.sql", "CREATE TABLE programs (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")
	writeMigration(t, migrations, "1_create_programs.down.sql", "DROP TABLE programs;")

	datasource := "sqlite:///" + filepath.Join(root, "app.db")
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, datasource, migrations, logger))
	// second run has nothing left to apply
	require.NoError(t, Migrate(ctx, datasource, migrations, logger))

	engine, err := Open(datasource, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Dispose(ctx) })

	var count int
	require.NoError(t, engine.GetContext(ctx, &count, "SELECT COUNT(*) FROM programs"))
	assert.Zero(t, count)
}

func TestMigrateRejectsUnsupportedDatasource(t *testing.T) {
	err := Migrate(context.Background(), "mysql://localhost/app", t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}
