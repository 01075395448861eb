//go:build cgo && duckdb && linux && (amd64 || arm64)

// DuckDB is opt-in: it needs cgo and the duckdb build tag.
//
//	CGO_ENABLED=1 go build -tags duckdb
package drivers

import (
	_ "github.com/marcboeker/go-duckdb"
)

func init() {
	registered = append(registered, "duckdb")
}
