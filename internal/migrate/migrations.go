package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"sidequest/internal/db"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema step. Files are named NNN_name.sql.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

func loadMigrations(driver string) ([]Migration, error) {
	dir := path.Join("sql", driver)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		version, convErr := strconv.Atoi(prefix)
		if !ok || convErr != nil || version <= 0 {
			return nil, fmt.Errorf("invalid migration filename %s", e.Name())
		}
		body, err := migrationsFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: version, Name: e.Name(), UpSQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

const historyTable = `CREATE TABLE IF NOT EXISTS schema_migrations(
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`

// Migrate applies pending embedded migrations for driver.
func Migrate(conn *sql.DB, driver string) error {
	return MigrateContext(context.Background(), conn, driver)
}

// MigrateContext applies each pending migration in its own transaction and
// records it in schema_migrations.
func MigrateContext(ctx context.Context, conn *sql.DB, driver string) error {
	if driver == "" {
		driver = db.DriverSQLite
	}
	migrations, err := loadMigrations(driver)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, historyTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	current, err := VersionContext(ctx, conn)
	if err != nil {
		return err
	}
	record := db.Rebind(driver, `INSERT INTO schema_migrations(version, name, applied_at) VALUES (?, ?, ?)`)
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, conn, m, record); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, conn *sql.DB, m Migration, record string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("migration %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, record, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	return tx.Commit()
}

// Version reports the highest applied migration, 0 when none was applied.
func Version(conn *sql.DB) (int, error) {
	return VersionContext(context.Background(), conn)
}

func VersionContext(ctx context.Context, conn *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}
