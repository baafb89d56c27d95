package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/otcsettle/pkg/config"
)

const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the embedded goose migrations rooted at the migrations dir.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return sub
}

func gooseDialect(driver string) (goose.Dialect, error) {
	switch driver {
	case "", config.DriverPostgres:
		return goose.DialectPostgres, nil
	case config.DriverSQLite:
		return goose.DialectSQLite3, nil
	default:
		return "", fmt.Errorf("no goose dialect for driver %q", driver)
	}
}

// Up applies every embedded migration. It does not touch goose globals, so
// tests can migrate independent databases.
func Up(ctx context.Context, db *sql.DB, driver string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	dialect, err := gooseDialect(driver)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, Migrations())
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Run executes a standard goose command that requires a DB connection. An
// empty dir runs against the embedded migrations.
func Run(ctx context.Context, db *sql.DB, driver, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if err := prepare(driver, &dir); err != nil {
		return err
	}

	// RunContext prints status output to stdout (goose internal)
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion migrates up/down to the requested version by comparing current DB version.
func MigrateToVersion(ctx context.Context, db *sql.DB, driver, dir string, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}
	if err := prepare(driver, &dir); err != nil {
		return err
	}

	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil

	case current < target:
		if err := goose.UpToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
		return nil

	default:
		if err := goose.DownToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
		return nil
	}
}

func prepare(driver string, dir *string) error {
	dialect, err := gooseDialect(driver)
	if err != nil {
		return err
	}
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if *dir == "" {
		goose.SetBaseFS(Migrations())
		*dir = "."
		return nil
	}
	goose.SetBaseFS(nil)
	return nil
}
