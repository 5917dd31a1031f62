package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

// Migration is one numbered SQL file, e.g. 001_invoicing.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus pairs a migration with the time it was applied, if ever.
type MigrationStatus struct {
	Version   int
	Name      string
	AppliedAt *time.Time
}

// Applied reports whether the migration has been recorded.
func (s MigrationStatus) Applied() bool { return s.AppliedAt != nil }

// Migrator applies the SQL files in dir to a tenant schema and records each
// version in <schema>.schema_migrations.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

func NewMigrator(pool *pgxpool.Pool, dir string) *Migrator {
	return &Migrator{pool: pool, dir: dir}
}

// LoadMigrations reads *.sql files with a numeric prefix, ordered by version.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read migrations dir %s", dir)
	}

	var out []Migration
	seen := map[int]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		prefix, _, found := strings.Cut(name, "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, errors.Newf("duplicate migration version %d: %s and %s", version, prev, name)
		}
		seen[version] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %s", name)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *Migrator) ensureTable(ctx context.Context, schema string) error {
	_, err := m.pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %[1]s;
CREATE TABLE IF NOT EXISTS %[1]s.schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, schema))
	return errors.Wrapf(err, "ensure schema_migrations in %s", schema)
}

func (m *Migrator) applied(ctx context.Context, schema string) (map[int]time.Time, error) {
	rows, err := m.pool.Query(ctx, fmt.Sprintf(`SELECT version, applied_at FROM %s.schema_migrations`, schema))
	if err != nil {
		return nil, errors.Wrapf(err, "list applied migrations in %s", schema)
	}
	defer rows.Close()

	out := map[int]time.Time{}
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, errors.Wrap(err, "scan migration row")
		}
		out[v] = at
	}
	return out, errors.Wrap(rows.Err(), "iterate migrations")
}

// Up applies every pending migration. Each file runs in its own transaction.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	if err := m.ensureTable(ctx, schema); err != nil {
		return 0, err
	}
	all, err := LoadMigrations(m.dir)
	if err != nil {
		return 0, err
	}
	done, err := m.applied(ctx, schema)
	if err != nil {
		return 0, err
	}

	pending := lo.Filter(all, func(mig Migration, _ int) bool {
		_, ok := done[mig.Version]
		return !ok
	})
	for i, mig := range pending {
		if err := m.apply(ctx, schema, mig); err != nil {
			return i, errors.Wrapf(err, "migration %s", mig.Name)
		}
	}
	return len(pending), nil
}

func (m *Migrator) apply(ctx context.Context, schema string, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", schema)); err != nil {
		return errors.Wrap(err, "set search_path")
	}
	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return errors.Wrap(err, "exec")
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
		return errors.Wrap(err, "record")
	}
	return tx.Commit(ctx)
}

// Status lists every known migration with its applied time.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx, schema); err != nil {
		return nil, err
	}
	all, err := LoadMigrations(m.dir)
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, schema)
	if err != nil {
		return nil, err
	}
	return lo.Map(all, func(mig Migration, _ int) MigrationStatus {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := done[mig.Version]; ok {
			st.AppliedAt = &at
		}
		return st
	}), nil
}
