package db

import "testing"

func TestRebind(t *testing.T) {
	q := `SELECT id FROM quests WHERE theme=? AND price_range=? LIMIT ?`
	if got := Rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite query rewritten: %s", got)
	}
	want := `SELECT id FROM quests WHERE theme=$1 AND price_range=$2 LIMIT $3`
	if got := Rebind(DriverPostgres, q); got != want {
		t.Fatalf("Rebind = %s, want %s", got, want)
	}
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := Open(Config{Driver: DriverPostgres}); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}
