package testhelpers

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/weather-station-service/internal/db"
)

// Schema mirrors the production station database.
const Schema = `
CREATE TABLE stations_TX (
  num_serie TEXT NOT NULL,
  nom_usuel TEXT,
  latitude  REAL,
  longitude REAL,
  altitude  REAL
);
CREATE TABLE stations_TN (
  num_serie TEXT NOT NULL,
  nom_usuel TEXT,
  latitude  REAL,
  longitude REAL,
  altitude  REAL
);
CREATE TABLE temp_max (
  num_serie TEXT NOT NULL,
  Date      TEXT NOT NULL,
  YYYYMM    INTEGER NOT NULL,
  Valeur    REAL
);
CREATE TABLE temp_min (
  num_serie TEXT NOT NULL,
  Date      TEXT NOT NULL,
  YYYYMM    INTEGER NOT NULL,
  Valeur    REAL
);
`

// Seed loads a small data set:
//
//	STX001  max rows 2024-01..04 (Feb null) and 2023-12; min rows under STN001
//	MTX002  max rows only
//	ABC004  listed in both station tables; min rows only, under its own id
//	NOP005  no temperature rows, no name, no coordinates
const Seed = `
INSERT INTO stations_TX VALUES ('STX001', 'Paris-Montsouris', 48.8217, 2.3378, 75);
INSERT INTO stations_TX VALUES ('MTX002', 'Lyon-Bron', 45.7219, 4.9436, 200);
INSERT INTO stations_TX VALUES ('ABC004', 'Brest', 48.4469, -4.4119, 94);
INSERT INTO stations_TN VALUES ('ABC004', 'Brest', 48.4469, -4.4119, 94);
INSERT INTO stations_TN VALUES ('NOP005', NULL, NULL, NULL, NULL);

INSERT INTO temp_max VALUES ('STX001', '2023-12-15', 202312, 8.0);
INSERT INTO temp_max VALUES ('STX001', '2024-03-15', 202403, 14.5);
INSERT INTO temp_max VALUES ('STX001', '2024-01-15', 202401, 7.5);
INSERT INTO temp_max VALUES ('STX001', '2024-02-15', 202402, NULL);
INSERT INTO temp_max VALUES ('STX001', '2024-04-15', 202404, 17.25);
INSERT INTO temp_max VALUES ('MTX002', '2024-01-15', 202401, 6.0);

INSERT INTO temp_min VALUES ('STN001', '2024-01-15', 202401, 1.5);
INSERT INTO temp_min VALUES ('STN001', '2024-02-15', 202402, 2.0);
INSERT INTO temp_min VALUES ('STN001', '2024-03-15', 202403, NULL);
INSERT INTO temp_min VALUES ('ABC004', '2024-01-15', 202401, 4.0);
`

// NewStationDB opens an in-memory sqlite database loaded with Schema and Seed.
// The pool is pinned to one connection so every query sees the same database.
func NewStationDB(t testing.TB) *db.DB {
	t.Helper()
	return NewStationDBWith(t, Seed)
}

// NewStationDBWith is NewStationDB with a caller-provided seed.
func NewStationDBWith(t testing.TB, seed string) *db.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if _, err := sqlDB.Exec(Schema); err != nil {
		t.Fatalf("exec schema: %v", err)
	}
	if seed != "" {
		if _, err := sqlDB.Exec(seed); err != nil {
			t.Fatalf("exec seed: %v", err)
		}
	}
	return db.Wrap(sqlDB, "sqlite3")
}
