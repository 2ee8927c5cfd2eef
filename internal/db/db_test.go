package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		in     string
		want   string
	}{
		{
			name:   "sqlite unchanged",
			driver: "sqlite3",
			in:     "SELECT 1 FROM temp_max WHERE num_serie = ? AND YYYYMM BETWEEN ? AND ?",
			want:   "SELECT 1 FROM temp_max WHERE num_serie = ? AND YYYYMM BETWEEN ? AND ?",
		},
		{
			name:   "postgres numbered",
			driver: "postgres",
			in:     "SELECT 1 FROM temp_max WHERE num_serie = ? AND YYYYMM BETWEEN ? AND ?",
			want:   "SELECT 1 FROM temp_max WHERE num_serie = $1 AND YYYYMM BETWEEN $2 AND $3",
		},
		{
			name:   "postgres skips quoted literal",
			driver: "postgres",
			in:     "SELECT '?' AS q, num_serie FROM t WHERE num_serie = ?",
			want:   "SELECT '?' AS q, num_serie FROM t WHERE num_serie = $1",
		},
		{
			name:   "no placeholders",
			driver: "postgres",
			in:     "SELECT num_serie FROM stations_TX",
			want:   "SELECT num_serie FROM stations_TX",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DB{driver: tt.driver}
			if got := d.Rebind(tt.in); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{":memory:", ":memory:"},
		{"DB_Temp.sqlite", "file:DB_Temp.sqlite?_busy_timeout=5000&_query_only=true"},
		{"file:/data/meteo.db", "file:/data/meteo.db?_busy_timeout=5000&_query_only=true"},
		{"file:/data/meteo.db?mode=ro", "file:/data/meteo.db?mode=ro"},
	}
	for _, tt := range tests {
		if got := sqliteDSN(tt.in); got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpen_SQLiteMemory(t *testing.T) {
	d, err := Open(context.Background(), Options{Driver: "sqlite3", DSN: ":memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer d.Close()

	if d.Driver() != "sqlite3" {
		t.Errorf("Driver() = %q, want sqlite3", d.Driver())
	}
	var one int
	if err := d.QueryRowContext(context.Background(), d.Rebind("SELECT ?"), 1).Scan(&one); err != nil {
		t.Fatalf("query: %v", err)
	}
	if one != 1 {
		t.Errorf("SELECT ? = %d, want 1", one)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "nope", DSN: "x"})
	if err == nil {
		t.Fatal("Open() expected error for unknown driver")
	}
}

func TestOpen_MissingSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sqlite")
	_, err := Open(context.Background(), Options{Driver: "sqlite3", DSN: path})
	if !errors.Is(err, ErrDatabaseNotFound) {
		t.Fatalf("Open() error = %v, want ErrDatabaseNotFound", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("Open() must not create the missing database file")
	}
}

func TestOpen_QueryOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meteo.sqlite")
	seed, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	if _, err := seed.Exec("CREATE TABLE stations_TX (num_serie TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_ = seed.Close()

	d, err := Open(context.Background(), Options{Driver: "sqlite3", DSN: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer d.Close()

	if _, err := d.Exec("INSERT INTO stations_TX VALUES ('STX001')"); err == nil {
		t.Error("Exec(INSERT) on query-only connection succeeded, want error")
	}
	var n int
	if err := d.QueryRow("SELECT COUNT(*) FROM stations_TX").Scan(&n); err != nil {
		t.Errorf("read on query-only connection: %v", err)
	}
}
