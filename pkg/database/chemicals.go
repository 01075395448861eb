package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// NotAvailable is the unit and chemical name used when the source data
// leaves a value blank or names an unknown measure.
const NotAvailable = "N/A"

// EnsureUnit returns the id of the named unit, creating it when missing.
// A blank name maps to N/A.
func (db *Database) EnsureUnit(ctx context.Context, name string) (int64, error) {
	id, _, err := db.AddUnit(ctx, name)
	return id, err
}

// AddUnit is EnsureUnit that also reports whether the unit was new.
func (db *Database) AddUnit(ctx context.Context, name string) (int64, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = NotAvailable
	}
	sel := newPlaceholderGenerator(db.Driver)
	ins := newPlaceholderGenerator(db.Driver)
	id, created, err := db.ensureID(ctx,
		"SELECT id FROM unit_of_measure WHERE unit_name = "+sel(), []any{name},
		"INSERT INTO unit_of_measure (unit_name) VALUES ("+ins()+") RETURNING id", []any{name},
	)
	if err != nil {
		return 0, false, fmt.Errorf("ensure unit %q: %w", name, err)
	}
	return id, created, nil
}

// EnsureChemical returns the id of the chemical keyed by the upper-cased
// display name. An existing chemical keeps its original display and unit.
func (db *Database) EnsureChemical(ctx context.Context, display string, unitID int64) (int64, error) {
	id, _, err := db.AddChemical(ctx, display, unitID)
	return id, err
}

// AddChemical is EnsureChemical that also reports whether a row was inserted.
func (db *Database) AddChemical(ctx context.Context, display string, unitID int64) (int64, bool, error) {
	display = strings.TrimSpace(display)
	if display == "" {
		display = NotAvailable
	}
	name := strings.ToUpper(display)
	sel := newPlaceholderGenerator(db.Driver)
	ins := newPlaceholderGenerator(db.Driver)
	id, created, err := db.ensureID(ctx,
		"SELECT id FROM chemical WHERE name = "+sel(), []any{name},
		"INSERT INTO chemical (name, display, unit_of_measure_id) VALUES ("+placeholders(ins, 3)+") RETURNING id",
		[]any{name, display, unitID},
	)
	if err != nil {
		return 0, false, fmt.Errorf("ensure chemical %q: %w", name, err)
	}
	return id, created, nil
}

// ListChemicals returns every chemical with its unit, ordered by name.
func (db *Database) ListChemicals(ctx context.Context) ([]Chemical, error) {
	rows, err := db.DB.QueryContext(ctx, fmt.Sprintf(`SELECT c.id, c.name, c.display, COALESCE(u.unit_name, '%s')
FROM chemical c
LEFT JOIN unit_of_measure u ON c.unit_of_measure_id = u.id
ORDER BY c.name`, NotAvailable))
	if err != nil {
		return nil, fmt.Errorf("list chemicals: %w", err)
	}
	return scanChemicals(rows)
}

// SearchChemicals returns chemicals whose name or display starts with term,
// ordered by name. An empty term yields no results.
func (db *Database) SearchChemicals(ctx context.Context, term string) ([]Chemical, error) {
	term = strings.ToUpper(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	pattern := escapeLike(term) + "%"

	ph := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT c.id, c.name, c.display, COALESCE(u.unit_name, '%s')
FROM chemical c
LEFT JOIN unit_of_measure u ON c.unit_of_measure_id = u.id
WHERE c.name LIKE %s ESCAPE '\' OR UPPER(c.display) LIKE %s ESCAPE '\'
ORDER BY c.name`, NotAvailable, ph(), ph())

	rows, err := db.DB.QueryContext(ctx, query, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search chemicals: %w", err)
	}
	return scanChemicals(rows)
}

func scanChemicals(rows *sql.Rows) ([]Chemical, error) {
	defer rows.Close()

	var out []Chemical
	for rows.Next() {
		var c Chemical
		if err := rows.Scan(&c.ID, &c.Name, &c.Display, &c.Unit); err != nil {
			return nil, fmt.Errorf("scan chemical: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chemicals: %w", err)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
