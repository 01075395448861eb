// Package drivers registers the database/sql drivers the dashboard can use.
// Binaries import it once; library tests that only need SQLite import
// modernc.org/sqlite directly and stay free of the heavier engines.
package drivers

import "sort"

// Ready is a no-op that makes the registration import explicit at call sites.
func Ready() {}

// Names lists the readings-store drivers registered by this build, sorted.
// Each driver file adds itself from init, so build tags decide the list.
// Genji is registered too but only serves saved views.
func Names() []string {
	out := append([]string(nil), registered...)
	sort.Strings(out)
	return out
}

var registered []string
