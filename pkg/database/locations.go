package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const locationColumns = `l.id, l.name, l.display, l.longitude, l.latitude, COALESCE(lt.id, 0), COALESCE(lt.name, '')`

const locationFrom = `FROM location l LEFT JOIN location_type lt ON l.location_type_id = lt.id`

func scanLocation(sc interface{ Scan(...any) error }) (Location, error) {
	var (
		loc      Location
		lon, lat sql.NullFloat64
	)
	if err := sc.Scan(&loc.ID, &loc.Name, &loc.Display, &lon, &lat, &loc.TypeID, &loc.Type); err != nil {
		return Location{}, err
	}
	if lon.Valid {
		v := lon.Float64
		loc.Longitude = &v
	}
	if lat.Valid {
		v := lat.Float64
		loc.Latitude = &v
	}
	return loc, nil
}

// GetLocationByID returns ErrNotFound when no location has that id.
func (db *Database) GetLocationByID(ctx context.Context, id int64) (Location, error) {
	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf("SELECT %s %s WHERE l.id = %s", locationColumns, locationFrom, ph())
	loc, err := scanLocation(db.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("get location %d: %w", id, err)
	}
	return loc, nil
}

// GetLocationByName looks a location up by its key. Names are stored upper
// case, so the lookup ignores the caller's casing.
func (db *Database) GetLocationByName(ctx context.Context, name string) (Location, error) {
	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf("SELECT %s %s WHERE l.name = %s", locationColumns, locationFrom, ph())
	key := strings.ToUpper(strings.TrimSpace(name))
	loc, err := scanLocation(db.DB.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("get location %q: %w", key, err)
	}
	return loc, nil
}

// ListLocations returns every location ordered by name. With includeWaste
// false only SENSOR locations are returned.
func (db *Database) ListLocations(ctx context.Context, includeWaste bool) ([]Location, error) {
	query := fmt.Sprintf("SELECT %s %s", locationColumns, locationFrom)
	var args []any
	if !includeWaste {
		ph := newPlaceholderGenerator(db.Driver)
		query += " WHERE lt.name = " + ph()
		args = append(args, LocationTypeSensor)
	}
	query += " ORDER BY l.name"

	rows, err := db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return out, nil
}

// LocationTypeID resolves a type name such as SENSOR.
func (db *Database) LocationTypeID(ctx context.Context, name string) (int64, error) {
	ph := newPlaceholderGenerator(db.Driver)
	var id int64
	err := db.DB.QueryRowContext(ctx, "SELECT id FROM location_type WHERE name = "+ph(), strings.ToUpper(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("location type %s: %w", name, err)
	}
	return id, nil
}

// EnsureLocationType creates the type if missing and returns its id.
func (db *Database) EnsureLocationType(ctx context.Context, name, description string) (int64, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	sel := newPlaceholderGenerator(db.Driver)
	ins := newPlaceholderGenerator(db.Driver)
	id, _, err := db.ensureID(ctx,
		"SELECT id FROM location_type WHERE name = "+sel(), []any{name},
		"INSERT INTO location_type (name, description) VALUES ("+placeholders(ins, 2)+") RETURNING id", []any{name, description},
	)
	return id, err
}

// EnsureLocation returns the id of the location whose key is the upper-cased
// display name, creating it with the given type when it does not exist.
// Coordinates are updated when provided, so a locations file can place
// locations first seen in a readings file.
func (db *Database) EnsureLocation(ctx context.Context, display string, typeID int64, lon, lat *float64) (int64, error) {
	id, _, err := db.AddLocation(ctx, display, typeID, lon, lat)
	return id, err
}

// AddLocation is EnsureLocation that also reports whether the row was new.
func (db *Database) AddLocation(ctx context.Context, display string, typeID int64, lon, lat *float64) (int64, bool, error) {
	display = strings.TrimSpace(display)
	if display == "" {
		return 0, false, errors.New("empty location name")
	}
	name := strings.ToUpper(display)

	sel := newPlaceholderGenerator(db.Driver)
	ins := newPlaceholderGenerator(db.Driver)
	id, created, err := db.ensureID(ctx,
		"SELECT id FROM location WHERE name = "+sel(), []any{name},
		"INSERT INTO location (name, display, longitude, latitude, location_type_id) VALUES ("+placeholders(ins, 5)+") RETURNING id",
		[]any{name, display, nullableFloat(lon), nullableFloat(lat), typeID},
	)
	if err != nil {
		return 0, false, err
	}

	if lon != nil && lat != nil {
		upd := newPlaceholderGenerator(db.Driver)
		query := fmt.Sprintf("UPDATE location SET longitude = %s, latitude = %s, location_type_id = %s WHERE id = %s",
			upd(), upd(), upd(), upd())
		if _, err := db.DB.ExecContext(ctx, query, *lon, *lat, typeID, id); err != nil {
			return 0, false, fmt.Errorf("place location %s: %w", name, err)
		}
	}
	return id, created, nil
}

// ensureID runs selectQuery and falls back to insertQuery (which must
// RETURN id) when nothing matched. A unique violation on insert means a
// concurrent writer won, so the select is retried once. created is true only
// when this call inserted the row.
func (db *Database) ensureID(ctx context.Context, selectQuery string, selectArgs []any, insertQuery string, insertArgs []any) (id int64, created bool, err error) {
	err = db.DB.QueryRowContext(ctx, selectQuery, selectArgs...).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("lookup: %w", err)
	}

	err = db.DB.QueryRowContext(ctx, insertQuery, insertArgs...).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if isUniqueConstraintError(err) {
		if err := db.DB.QueryRowContext(ctx, selectQuery, selectArgs...).Scan(&id); err == nil {
			return id, false, nil
		}
	}
	return 0, false, fmt.Errorf("insert: %w", err)
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
