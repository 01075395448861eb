package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"
)

// ErrNotFound is returned by single-row lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// Database wraps the SQL handle together with the normalised driver name so
// query builders can pick placeholder syntax without re-reading config.
type Database struct {
	DB     *sql.DB // The underlying SQL database connection
	Driver string  // sqlite, chai, duckdb or pgx
}

// Config holds the configuration details for initializing the database.
type Config struct {
	DBType    string // The type of the database driver (e.g., "sqlite", "chai", "duckdb" or "pgx" (PostgreSQL))
	DBPath    string // The file path to the database file (for file-based databases)
	DBConn    string // Raw DSN for pgx; overrides the host/port fields
	DBHost    string // The host for PostgreSQL
	DBPort    int    // The port for PostgreSQL
	DBUser    string // The user for PostgreSQL
	DBPass    string // The password for PostgreSQL
	DBName    string // The name of the PostgreSQL database
	PGSSLMode string // The SSL mode for PostgreSQL
}

// normalizeDBType trims and lowercases driver names so switch blocks do not
// miss a branch because of casing.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// DSN returns the connection string NewDatabase would use.
func (cfg Config) DSN() (string, error) {
	driverName := normalizeDBType(cfg.DBType)
	switch driverName {
	case "sqlite", "chai":
		if cfg.DBPath != "" {
			return cfg.DBPath, nil
		}
		return "waterways." + driverName, nil
	case "duckdb":
		if cfg.DBPath != "" {
			return cfg.DBPath, nil
		}
		return "waterways.duckdb", nil
	case "pgx":
		if strings.TrimSpace(cfg.DBConn) != "" {
			return cfg.DBConn, nil
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.PGSSLMode), nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
}

// NewDatabase opens DB and configures connection pooling.
// For SQLite/Chai and DuckDB we force single-connection mode.
func NewDatabase(config Config) (*Database, error) {
	driverName := normalizeDBType(config.DBType)
	dsn, err := config.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening the database: %w", err)
	}

	switch driverName {
	case "sqlite", "chai":
		// One physical connection; an in-memory database lives exactly as long as it.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if driverName == "sqlite" {
			tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tuneSQLiteLikeConnection(tuneCtx, db, log.Printf); err != nil {
				log.Printf("sqlite tuning skipped: %v", err)
			}
			cancel()
		} else {
			log.Printf("sqlite tuning skipped: driver %s manages pragmas itself", driverName)
		}
	case "duckdb":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tuneDuckDBConnection(tuneCtx, db, log.Printf); err != nil {
			log.Printf("duckdb tuning skipped: %v", err)
		}
		cancel()
	case "pgx":
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxIdleTime(2 * time.Minute)
	}

	// Cheap liveness probe with timeout so we don't hang at startup
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("error connecting to the database: %w", err)
		}
	}

	log.Printf("Using database driver: %s with DSN: %s", driverName, redactDSN(dsn))
	return &Database{DB: db, Driver: driverName}, nil
}

// Close releases the pool.
func (db *Database) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

// redactDSN hides the password of a postgres URL before it reaches the log.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.IndexByte(creds, ':'); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}

// tuneSQLiteLikeConnection applies WAL/synchronous/busy pragmas for SQLite-like engines.
// The steps run through a small channel pipeline so the work happens outside
// the caller goroutine and respects ctx.
func tuneSQLiteLikeConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	type pragma struct {
		label     string
		query     string
		expectRow bool
	}

	steps := []pragma{
		{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
		{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
		{label: "foreign_keys", query: "PRAGMA foreign_keys=ON;"},
		{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
	}

	jobs := make(chan pragma)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		for step := range jobs {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			if step.expectRow {
				var mode string
				if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
					errs <- fmt.Errorf("apply %s: %w", step.label, err)
					return
				}
				logf("SQLite tuning %s -> %s", step.label, mode)
				continue
			}

			if _, err := db.ExecContext(ctx, step.query); err != nil {
				errs <- fmt.Errorf("apply %s: %w", step.label, err)
				return
			}
			logf("SQLite tuning %s applied", step.label)
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for _, step := range steps {
			select {
			case jobs <- step:
			case <-ctx.Done():
				return
			}
		}
	}()

	return <-errs
}

// tuneDuckDBConnection lets DuckDB use every CPU for the vectorised scans the
// chart queries run.
func tuneDuckDBConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	query := fmt.Sprintf("PRAGMA threads=%d;", threads)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("apply threads: %w", err)
	}
	logf("DuckDB tuning threads=%d applied", threads)
	return nil
}

// EnsureIndexesAsync builds non-critical indexes in background, politely.
//   - No pinned connections (important for sqlite/chai with MaxOpenConns(1)).
//   - CREATE INDEX IF NOT EXISTS, no pre-checks.
//   - Retries with exponential backoff on "database is locked"/"SQLITE_BUSY".
func (db *Database) EnsureIndexesAsync(ctx context.Context, logf func(string, ...any)) <-chan struct{} {
	done := make(chan struct{})
	indexes := desiredIndexes()

	go func() {
		defer close(done)
		logf("⏳ background index build scheduled (engine=%s)", db.Driver)

		for _, it := range indexes {
			start := time.Now()
			backoff := 50 * time.Millisecond
			for {
				select {
				case <-ctx.Done():
					logf("⏹️  stop index builder due to context cancel: %v", ctx.Err())
					return
				default:
				}

				_, err := db.DB.ExecContext(ctx, it.sql)
				if err == nil {
					logf("✅ index %s ready in %s", it.name, time.Since(start).Truncate(time.Millisecond))
					break
				}
				if !isBusyError(err) {
					logf("⚠️  index %s failed: %v", it.name, err)
					break
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 2*time.Second {
					backoff *= 2
				}
			}
		}
		logf("🏁 index build finished")
	}()
	return done
}

type indexDef struct{ name, sql string }

func desiredIndexes() []indexDef {
	return []indexDef{
		{"idx_reading_chemical", "CREATE INDEX IF NOT EXISTS idx_reading_chemical ON waterway_reading (chemical_id)"},
		{"idx_reading_location", "CREATE INDEX IF NOT EXISTS idx_reading_location ON waterway_reading (location_id)"},
		{"idx_reading_sample_date", "CREATE INDEX IF NOT EXISTS idx_reading_sample_date ON waterway_reading (sample_date)"},
		{"idx_location_type", "CREATE INDEX IF NOT EXISTS idx_location_type ON location (location_type_id)"},
	}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "busy")
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "constraint")
}

// newPlaceholderGenerator returns a closure that produces the correct
// placeholder syntax for the configured driver.
func newPlaceholderGenerator(dbType string) func() string {
	if normalizeDBType(dbType) == "pgx" {
		counter := 0
		return func() string {
			counter++
			return fmt.Sprintf("$%d", counter)
		}
	}
	return func() string { return "?" }
}

// placeholders returns n comma-separated placeholders from next.
func placeholders(next func() string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = next()
	}
	return strings.Join(parts, ", ")
}
