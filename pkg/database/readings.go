package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// readingBatchSize keeps multi-row INSERTs well under SQLite's bound
// parameter limit (5 columns per row).
const readingBatchSize = 500

// StreamReadings streams matching readings ordered by id.
// It avoids loading large result sets into memory and stops when the context is done.
func (db *Database) StreamReadings(ctx context.Context, f ReadingFilter) (<-chan Reading, <-chan error) {
	out := make(chan Reading)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		query, args := buildReadingQuery(db.Driver, f)
		rows, err := db.DB.QueryContext(ctx, query, args...)
		if err != nil {
			errCh <- fmt.Errorf("query readings: %w", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r                    Reading
				unit, measure, place sql.NullString
			)
			if err := rows.Scan(&r.ID, &r.Value, &unit, &measure, &place, &r.Date); err != nil {
				errCh <- fmt.Errorf("scan reading: %w", err)
				return
			}
			r.Unit = nullOr(unit, NotAvailable)
			r.Measure = nullOr(measure, NotAvailable)
			r.Location = place.String
			select {
			case out <- r:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}

		if err := rows.Err(); err != nil {
			errCh <- fmt.Errorf("iterate readings: %w", err)
		}
	}()

	return out, errCh
}

// CollectReadings drains StreamReadings into a slice.
func (db *Database) CollectReadings(ctx context.Context, f ReadingFilter) ([]Reading, error) {
	ch, errCh := db.StreamReadings(ctx, f)
	var out []Reading
	for r := range ch {
		out = append(out, r)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

func buildReadingQuery(driver string, f ReadingFilter) (string, []any) {
	ph := newPlaceholderGenerator(driver)
	var (
		where []string
		args  []any
	)

	match := func(nameCol, idCol string, names []string, ids []int64) {
		var alts []string
		if len(names) > 0 {
			alts = append(alts, fmt.Sprintf("%s IN (%s)", nameCol, placeholders(ph, len(names))))
			for _, n := range names {
				args = append(args, strings.ToUpper(strings.TrimSpace(n)))
			}
		}
		if len(ids) > 0 {
			alts = append(alts, fmt.Sprintf("%s IN (%s)", idCol, placeholders(ph, len(ids))))
			for _, id := range ids {
				args = append(args, id)
			}
		}
		if len(alts) > 0 {
			where = append(where, "("+strings.Join(alts, " OR ")+")")
		}
	}
	match("chemical_name", "chemical_id", f.Chemicals, f.ChemicalIDs)
	match("location_name", "location_id", f.Locations, f.LocationIDs)

	if f.Start != 0 {
		where = append(where, "sample_date >= "+ph())
		args = append(args, f.Start)
	}
	if f.End != 0 {
		where = append(where, "sample_date <= "+ph())
		args = append(args, f.End)
	}
	if f.AfterID > 0 {
		where = append(where, "id > "+ph())
		args = append(args, f.AfterID)
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, value, unit_name, chemical, location, sample_date FROM waterway_reading_master")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY id")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT " + ph())
		args = append(args, f.Limit)
	}
	return sb.String(), args
}

// InsertReadings stores readings in batches. Readings whose id already
// exists are skipped; the return value counts rows actually written.
func (db *Database) InsertReadings(ctx context.Context, readings []NewReading) (int, error) {
	total := 0
	for start := 0; start < len(readings); start += readingBatchSize {
		end := start + readingBatchSize
		if end > len(readings) {
			end = len(readings)
		}
		chunk := readings[start:end]

		var (
			n   int
			err error
		)
		if db.Driver == "pgx" {
			n, err = db.insertReadingsPostgreSQLCopy(ctx, chunk)
		} else {
			n, err = db.insertReadingsBatch(ctx, chunk)
		}
		if err != nil {
			return total, fmt.Errorf("insert readings %d-%d: %w", start, end, err)
		}
		total += n
	}
	return total, nil
}

func (db *Database) insertReadingsBatch(ctx context.Context, chunk []NewReading) (int, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	ph := newPlaceholderGenerator(db.Driver)
	values := make([]string, len(chunk))
	args := make([]any, 0, len(chunk)*5)
	for i, r := range chunk {
		values[i] = "(" + placeholders(ph, 5) + ")"
		args = append(args, r.ID, r.Value, r.ChemicalID, r.LocationID, r.SampleDate)
	}
	query := "INSERT INTO waterway_reading (id, value, chemical_id, location_id, sample_date) VALUES " +
		strings.Join(values, ", ") + " ON CONFLICT (id) DO NOTHING"

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report it; assume everything landed.
		return len(chunk), nil
	}
	return int(n), nil
}

// SampleDateRange reports the earliest and latest sample date. ErrNotFound
// means there are no readings yet.
func (db *Database) SampleDateRange(ctx context.Context) (DateRange, error) {
	var lo, hi sql.NullInt64
	err := db.DB.QueryRowContext(ctx, "SELECT MIN(sample_date), MAX(sample_date) FROM waterway_reading").Scan(&lo, &hi)
	if err != nil {
		return DateRange{}, fmt.Errorf("sample date range: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return DateRange{}, ErrNotFound
	}
	return DateRange{Min: lo.Int64, Max: hi.Int64}, nil
}

// ReadingIDExists is used by the importer to report duplicates.
func (db *Database) ReadingIDExists(ctx context.Context, id int64) (bool, error) {
	ph := newPlaceholderGenerator(db.Driver)
	var n int
	if err := db.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM waterway_reading WHERE id = "+ph(), id).Scan(&n); err != nil {
		return false, fmt.Errorf("reading %d: %w", id, err)
	}
	return n > 0, nil
}

func nullOr(s sql.NullString, fallback string) string {
	if s.Valid && s.String != "" {
		return s.String
	}
	return fallback
}
