package drivers

import (
	// Registers the "pgx" name for PostgreSQL.
	_ "github.com/jackc/pgx/v5/stdlib"
)

func init() {
	registered = append(registered, "pgx")
}
