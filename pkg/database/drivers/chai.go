//go:build dragonfly || ios || freebsd || darwin || (linux && ppc64) || (linux && ppc64le) || (linux && s390x) || (linux && amd64) || (linux && mips64) || (linux && mips64le) || (linux && arm64) || android || (windows && amd64) || (windows && arm64)

package drivers

import (
	"database/sql"
	"database/sql/driver"

	sqlite "modernc.org/sqlite"
)

// "chai" is kept as an alias of the modernc SQLite driver so deployments that
// pick it by name still open the same waterways file format.
func init() {
	sql.Register("chai", newChaiDriver())
	registered = append(registered, "chai")
}

func newChaiDriver() driver.Driver {
	return &sqlite.Driver{}
}
