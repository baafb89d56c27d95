package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"slices"
	"strings"
)

var (
	sqlFileRe     = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	createTableRe = regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?([a-z_]+)`)
	dropTableRe   = regexp.MustCompile(`(?i)DROP TABLE (?:IF EXISTS )?([a-z_]+)`)
)

// SchemaTables are the tables the settlement services read and write. A
// migration set that does not create all of them breaks the repositories.
var SchemaTables = []string{
	"transactions",
	"transaction_audit_entries",
	"payout_addresses",
	"support_agents",
	"assignment_records",
	"confirmation_requests",
	"scope_settings",
	"outbox_events",
}

// ValidateDir validates the migrations on disk. An empty dir validates the
// embedded set.
func ValidateDir(dir string) error {
	if dir == "" {
		return ValidateFS(Migrations())
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks filenames and goose headers, rejects duplicate versions,
// and requires that every table created on Up is dropped on Down and that
// together the migrations create every schema table.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	created := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read file %q: %w", name, err)
		}
		up, down, ok := strings.Cut(string(b), "-- +goose Down")
		if !strings.Contains(up, "-- +goose Up") {
			return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
		}
		if !ok {
			return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
		}

		dropped := tableNames(dropTableRe, down)
		for _, table := range tableNames(createTableRe, up) {
			if !slices.Contains(dropped, table) {
				return fmt.Errorf("migration %q creates %s but does not drop it on down", name, table)
			}
			created[table] = name
		}
	}

	var missing []string
	for _, table := range SchemaTables {
		if _, ok := created[table]; !ok {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("migrations do not create schema tables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func tableNames(re *regexp.Regexp, sql string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(sql, -1) {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}
