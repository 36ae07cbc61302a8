package migrate

import (
	"testing"

	"sidequest/internal/db"
)

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := Migrate(conn, db.DriverSQLite); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	v, err := Version(conn)
	if err != nil || v != 1 {
		t.Fatalf("version = %d, %v", v, err)
	}
	var applied int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil || applied != 1 {
		t.Fatalf("history rows = %d, %v", applied, err)
	}
	for _, table := range []string{"quests", "user_profiles", "user_decisions", "events"} {
		var name string
		if err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestEveryDialectHasMigrations(t *testing.T) {
	for _, driver := range []string{db.DriverSQLite, db.DriverPostgres} {
		ms, err := loadMigrations(driver)
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		if len(ms) == 0 || ms[0].Version != 1 {
			t.Fatalf("%s: unexpected migrations %+v", driver, ms)
		}
	}
	if _, err := loadMigrations("mysql"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
