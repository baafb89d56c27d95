package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/pkg/config"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestValidateDir(t *testing.T) {
	require.NoError(t, ValidateDir("migrations"))
	require.NoError(t, ValidateDir(""))
	require.ErrorContains(t, ValidateDir(filepath.Join(t.TempDir(), "missing")), "read dir")
}

// embeddedCopy returns the embedded migrations as a MapFS so tests can
// drop or rewrite single files.
func embeddedCopy(t *testing.T) fstest.MapFS {
	t.Helper()
	out := fstest.MapFS{}
	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)
	for _, e := range entries {
		b, err := fs.ReadFile(Migrations(), e.Name())
		require.NoError(t, err)
		out[e.Name()] = &fstest.MapFile{Data: b}
	}
	return out
}

func fileWithSuffix(t *testing.T, fsys fstest.MapFS, suffix string) string {
	t.Helper()
	for name := range fsys {
		if strings.HasSuffix(name, suffix) {
			return name
		}
	}
	t.Fatalf("no migration ending in %s", suffix)
	return ""
}

func TestValidateFSRequiresSchemaTables(t *testing.T) {
	fsys := embeddedCopy(t)
	delete(fsys, fileWithSuffix(t, fsys, "_create_support_agents.sql"))

	err := ValidateFS(fsys)
	require.ErrorContains(t, err, "support_agents, assignment_records")
}

func TestValidateFSRequiresDownDrop(t *testing.T) {
	fsys := embeddedCopy(t)
	name := fileWithSuffix(t, fsys, "_create_scope_settings.sql")
	fsys[name] = &fstest.MapFile{Data: []byte(strings.Replace(
		string(fsys[name].Data), "DROP TABLE IF EXISTS scope_settings;", "SELECT 1;", 1))}

	err := ValidateFS(fsys)
	require.ErrorContains(t, err, "creates scope_settings but does not drop it")
}

func TestValidateFSRejectsBadFiles(t *testing.T) {
	cases := map[string]struct {
		files fstest.MapFS
		want  string
	}{
		"bad name": {
			files: fstest.MapFS{"001_init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")}},
			want:  "invalid migration filename",
		},
		"duplicate version": {
			files: fstest.MapFS{
				"20260101000001_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
				"20260101000001_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			},
			want: "duplicate migration version 20260101000001",
		},
		"missing up": {
			files: fstest.MapFS{"20260101000001_a.sql": {Data: []byte("-- +goose Down\n")}},
			want:  "missing \"-- +goose Up\"",
		},
		"missing down": {
			files: fstest.MapFS{"20260101000001_a.sql": {Data: []byte("-- +goose Up\n")}},
			want:  "missing \"-- +goose Down\"",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorContains(t, ValidateFS(tc.files), tc.want)
		})
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))

	path, err := CreateSQLMigration(dir, " Add Payout Memo! ", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20260304040607_add_payout_memo.sql"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(b), "-- +goose Up"))
	require.Contains(t, string(b), "-- +goose Down")

	_, err = CreateSQLMigration(dir, "add payout memo", now)
	require.ErrorContains(t, err, "already exists")

	_, err = CreateSQLMigration(dir, "!!!", now)
	require.ErrorContains(t, err, "empty sanitized filename")
}

func TestEmbeddedMigrationsCarryConstraints(t *testing.T) {
	checks := map[string][]string{
		"create_transactions": {
			"CREATE TABLE IF NOT EXISTS transactions",
			"CHECK (status IN ('pending', 'paid', 'confirmed', 'cancelled'))",
			"CHECK (final_rate > 0)",
			"FOREIGN KEY (transaction_id) REFERENCES transactions(id)",
		},
		"create_payout_addresses": {
			"uq_payout_addresses_scope_default ON payout_addresses (scope_id) WHERE is_default",
		},
		"create_support_agents": {
			"CONSTRAINT uq_support_agents_handle UNIQUE (handle)",
			"CHECK (current_count >= 0)",
			"CHECK (weight BETWEEN 1 AND 10)",
		},
	}

	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)

	for suffix, wants := range checks {
		var content string
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), "_"+suffix+".sql") {
				b, err := fs.ReadFile(Migrations(), e.Name())
				require.NoError(t, err)
				content = string(b)
			}
		}
		require.NotEmpty(t, content, "migration %s not embedded", suffix)
		for _, want := range wants {
			require.Contains(t, content, want, suffix)
		}
	}
}

func TestUpAppliesSchemaOnSQLite(t *testing.T) {
	sqlDB := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, Up(ctx, sqlDB, config.DriverSQLite))
	// second run is a no-op
	require.NoError(t, Up(ctx, sqlDB, config.DriverSQLite))

	for _, table := range []string{
		"transactions",
		"transaction_audit_entries",
		"payout_addresses",
		"support_agents",
		"assignment_records",
		"confirmation_requests",
		"scope_settings",
		"outbox_events",
	} {
		var name string
		err := sqlDB.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestUpRejectsUnknownDriver(t *testing.T) {
	err := Up(context.Background(), openSQLite(t), "oracle")
	require.ErrorContains(t, err, "no goose dialect")
}
