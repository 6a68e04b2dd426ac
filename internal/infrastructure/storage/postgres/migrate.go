package postgres

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"seqkeeper/pkg/logger"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// migrationLockID serializes concurrent Migrate calls from server and worker.
const migrationLockID = 734_201_117

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrations returns the embedded migrations sorted by version.
// Files are named NNNN_name_up.sql and NNNN_name_down.sql.
func Migrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		content, err := migrationFiles.ReadFile(path.Join("sql", name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		switch {
		case strings.HasSuffix(rest, "_up.sql"):
			m.Up = string(content)
			m.Name = strings.TrimSuffix(rest, "_up.sql")
		case strings.HasSuffix(rest, "_down.sql"):
			m.Down = string(content)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("incomplete migration for version %d", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies all pending migrations. It returns the versions applied.
func Migrate(ctx context.Context, pool *Pool) ([]int, error) {
	migrations, err := Migrations()
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sys_schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	var applied []int
	for _, m := range migrations {
		done, err := applyMigration(ctx, pool, m)
		if err != nil {
			return applied, fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if done {
			logger.Info(ctx, "migration applied", "version", m.Version, "name", m.Name)
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

func applyMigration(ctx context.Context, pool *Pool, m Migration) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM sys_schema_migrations WHERE version = $1)", m.Version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check migration status: %w", err)
		}
		if exists {
			return nil
		}

		if _, err := tx.Exec(ctx, m.Up); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO sys_schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name,
		); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// Rollback reverts the most recently applied migration and returns its version.
func Rollback(ctx context.Context, pool *Pool) (int, error) {
	migrations, err := Migrations()
	if err != nil {
		return 0, err
	}

	var version int
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if err := tx.QueryRow(ctx,
			"SELECT COALESCE(MAX(version), 0) FROM sys_schema_migrations",
		).Scan(&version); err != nil {
			return fmt.Errorf("read current version: %w", err)
		}
		if version == 0 {
			return fmt.Errorf("no migrations to roll back")
		}

		for _, m := range migrations {
			if m.Version != version {
				continue
			}
			if _, err := tx.Exec(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "DELETE FROM sys_schema_migrations WHERE version = $1", version)
			return err
		}
		return fmt.Errorf("migration version %d not found", version)
	})
	return version, err
}
