package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Location type names seeded by InitSchema.
const (
	LocationTypeSensor = "SENSOR"
	LocationTypeWaste  = "WASTE"
)

// masterView flattens a reading with its unit, chemical and location so the
// read paths need a single FROM.
const masterView = `waterway_reading_master AS
SELECT ww.id
     , ww.value
     , um.unit_name
     , cm.display AS chemical
     , cm.name AS chemical_name
     , l.display AS location
     , l.name AS location_name
     , ww.sample_date
     , ww.chemical_id
     , ww.location_id
FROM waterway_reading ww
LEFT JOIN location l ON ww.location_id = l.id
LEFT JOIN chemical cm ON ww.chemical_id = cm.id
LEFT JOIN unit_of_measure um ON cm.unit_of_measure_id = um.id`

// InitSchema creates tables, the master view and the location types.
// Every statement is idempotent so the command can be re-run safely.
func (db *Database) InitSchema(ctx context.Context) error {
	var schema string

	switch db.Driver {
	case "pgx":
		schema = `
CREATE TABLE IF NOT EXISTS unit_of_measure (
  id        BIGSERIAL PRIMARY KEY,
  unit_name TEXT UNIQUE
);
CREATE TABLE IF NOT EXISTS chemical (
  id                 BIGSERIAL PRIMARY KEY,
  name               TEXT NOT NULL UNIQUE,
  display            TEXT NOT NULL,
  unit_of_measure_id BIGINT REFERENCES unit_of_measure (id)
);
CREATE TABLE IF NOT EXISTS location_type (
  id          BIGSERIAL PRIMARY KEY,
  name        TEXT UNIQUE,
  description TEXT
);
CREATE TABLE IF NOT EXISTS location (
  id               BIGSERIAL PRIMARY KEY,
  name             TEXT NOT NULL UNIQUE,
  display          TEXT NOT NULL,
  longitude        DOUBLE PRECISION,
  latitude         DOUBLE PRECISION,
  location_type_id BIGINT REFERENCES location_type (id)
);
CREATE TABLE IF NOT EXISTS waterway_reading (
  id          BIGINT PRIMARY KEY,
  value       DOUBLE PRECISION NOT NULL,
  chemical_id BIGINT NOT NULL REFERENCES chemical (id),
  location_id BIGINT NOT NULL REFERENCES location (id),
  sample_date BIGINT NOT NULL
);
CREATE OR REPLACE VIEW ` + masterView + `;
`

	case "sqlite", "chai":
		schema = `
CREATE TABLE IF NOT EXISTS unit_of_measure (
  id        INTEGER PRIMARY KEY,
  unit_name TEXT UNIQUE
);
CREATE TABLE IF NOT EXISTS chemical (
  id                 INTEGER PRIMARY KEY,
  name               TEXT NOT NULL UNIQUE,
  display            TEXT NOT NULL,
  unit_of_measure_id INTEGER REFERENCES unit_of_measure (id)
);
CREATE TABLE IF NOT EXISTS location_type (
  id          INTEGER PRIMARY KEY,
  name        TEXT UNIQUE,
  description TEXT
);
CREATE TABLE IF NOT EXISTS location (
  id               INTEGER PRIMARY KEY,
  name             TEXT NOT NULL UNIQUE,
  display          TEXT NOT NULL,
  longitude        REAL,
  latitude         REAL,
  location_type_id INTEGER REFERENCES location_type (id)
);
CREATE TABLE IF NOT EXISTS waterway_reading (
  id          INTEGER PRIMARY KEY,
  value       REAL NOT NULL,
  chemical_id INTEGER NOT NULL REFERENCES chemical (id),
  location_id INTEGER NOT NULL REFERENCES location (id),
  sample_date BIGINT NOT NULL
);
CREATE VIEW IF NOT EXISTS ` + masterView + `;
`

	case "duckdb":
		// DuckDB has no SERIAL; sequences feed the defaults instead.
		schema = `
CREATE SEQUENCE IF NOT EXISTS unit_of_measure_id_seq START 1;
CREATE TABLE IF NOT EXISTS unit_of_measure (
  id        BIGINT PRIMARY KEY DEFAULT nextval('unit_of_measure_id_seq'),
  unit_name TEXT UNIQUE
);
CREATE SEQUENCE IF NOT EXISTS chemical_id_seq START 1;
CREATE TABLE IF NOT EXISTS chemical (
  id                 BIGINT PRIMARY KEY DEFAULT nextval('chemical_id_seq'),
  name               TEXT NOT NULL UNIQUE,
  display            TEXT NOT NULL,
  unit_of_measure_id BIGINT
);
CREATE SEQUENCE IF NOT EXISTS location_type_id_seq START 1;
CREATE TABLE IF NOT EXISTS location_type (
  id          BIGINT PRIMARY KEY DEFAULT nextval('location_type_id_seq'),
  name        TEXT UNIQUE,
  description TEXT
);
CREATE SEQUENCE IF NOT EXISTS location_id_seq START 1;
CREATE TABLE IF NOT EXISTS location (
  id               BIGINT PRIMARY KEY DEFAULT nextval('location_id_seq'),
  name             TEXT NOT NULL UNIQUE,
  display          TEXT NOT NULL,
  longitude        DOUBLE,
  latitude         DOUBLE,
  location_type_id BIGINT
);
CREATE TABLE IF NOT EXISTS waterway_reading (
  id          BIGINT PRIMARY KEY,
  value       DOUBLE NOT NULL,
  chemical_id BIGINT NOT NULL,
  location_id BIGINT NOT NULL,
  sample_date BIGINT NOT NULL
);
CREATE OR REPLACE VIEW ` + masterView + `;
`

	default:
		return fmt.Errorf("unsupported database type: %s", db.Driver)
	}

	if err := execStatements(ctx, db.DB, strings.Split(schema, ";\n")); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	for _, lt := range []LocationType{
		{Name: LocationTypeSensor, Description: "Sensor measuring waterway chemistry"},
		{Name: LocationTypeWaste, Description: "Waste disposal site"},
	} {
		if _, err := db.EnsureLocationType(ctx, lt.Name, lt.Description); err != nil {
			return fmt.Errorf("seed location type %s: %w", lt.Name, err)
		}
	}
	return nil
}

// DropSchema removes the view and every table, children first.
func (db *Database) DropSchema(ctx context.Context) error {
	stmts := []string{
		"DROP VIEW IF EXISTS waterway_reading_master",
		"DROP TABLE IF EXISTS waterway_reading",
		"DROP TABLE IF EXISTS location",
		"DROP TABLE IF EXISTS location_type",
		"DROP TABLE IF EXISTS chemical",
		"DROP TABLE IF EXISTS unit_of_measure",
	}
	if db.Driver == "duckdb" {
		stmts = append(stmts,
			"DROP SEQUENCE IF EXISTS unit_of_measure_id_seq",
			"DROP SEQUENCE IF EXISTS chemical_id_seq",
			"DROP SEQUENCE IF EXISTS location_type_id_seq",
			"DROP SEQUENCE IF EXISTS location_id_seq",
		)
	}
	if err := execStatements(ctx, db.DB, stmts); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}

func execStatements(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, raw := range stmts {
		stmt := strings.TrimSpace(raw)
		stmt = strings.TrimSuffix(stmt, ";")
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
