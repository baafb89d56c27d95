// Package dbtest opens migrated in-memory sqlite databases for package tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/pkg/config"
	"github.com/angelmondragon/otcsettle/pkg/db"
	"github.com/angelmondragon/otcsettle/pkg/migrate"
)

var seq atomic.Uint64

// New returns a client over a private, fully migrated in-memory database.
func New(t testing.TB) *db.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, seq.Add(1))

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.Up(context.Background(), sqlDB, config.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// shared-cache sqlite fails fast on table locks; serialise all access.
	sqlDB.SetMaxOpenConns(1)
	return db.NewFromConn(conn)
}
