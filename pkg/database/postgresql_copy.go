package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// insertReadingsPostgreSQLCopy streams a chunk of readings into PostgreSQL using COPY.
// COPY cannot express ON CONFLICT, so rows land in a temporary table first and
// are merged into waterway_reading from there.
func (db *Database) insertReadingsPostgreSQLCopy(ctx context.Context, chunk []NewReading) (int, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	if db == nil || db.DB == nil {
		return 0, fmt.Errorf("database unavailable")
	}

	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("open postgres connection: %w", err)
	}
	defer conn.Close()

	tempTable := fmt.Sprintf("temp_readings_%d", time.Now().UnixNano())
	// No ON COMMIT DROP: in autocommit mode the table would vanish before COPY.
	createTemp := fmt.Sprintf(`CREATE TEMP TABLE %s (
id BIGINT,
value DOUBLE PRECISION,
chemical_id BIGINT,
location_id BIGINT,
sample_date BIGINT
)`, tempTable)
	if _, err := conn.ExecContext(ctx, createTemp); err != nil {
		return 0, fmt.Errorf("create temp table: %w", err)
	}

	// Cleanup runs on a detached context so a cancelled import still drops it.
	dropCtx, dropCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dropCancel()
	defer conn.ExecContext(dropCtx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tempTable))

	rows := make([][]any, 0, len(chunk))
	for _, r := range chunk {
		rows = append(rows, []any{r.ID, r.Value, r.ChemicalID, r.LocationID, r.SampleDate})
	}

	copyErr := conn.Raw(func(driverConn any) error {
		direct, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected postgres driver %T", driverConn)
		}
		_, err := direct.Conn().CopyFrom(
			ctx,
			pgx.Identifier{tempTable},
			[]string{"id", "value", "chemical_id", "location_id", "sample_date"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	if copyErr != nil {
		return 0, fmt.Errorf("copy readings into temp table: %w", copyErr)
	}

	insertFromTemp := fmt.Sprintf(`INSERT INTO waterway_reading (id, value, chemical_id, location_id, sample_date)
SELECT id, value, chemical_id, location_id, sample_date FROM %s
ON CONFLICT (id) DO NOTHING`, tempTable)
	res, err := conn.ExecContext(ctx, insertFromTemp)
	if err != nil {
		return 0, fmt.Errorf("merge temp readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(chunk), nil
	}
	return int(n), nil
}
