package drivers

import (
	"database/sql"
	"slices"
	"testing"
)

func TestNamesMatchRegisteredDrivers(t *testing.T) {
	t.Parallel()
	names := Names()
	if !slices.IsSorted(names) {
		t.Fatalf("Names() = %v, want sorted", names)
	}
	if !slices.Contains(names, "pgx") {
		t.Fatalf("Names() = %v, want pgx in every build", names)
	}
	available := sql.Drivers()
	for _, n := range names {
		if !slices.Contains(available, n) {
			t.Errorf("Names() lists %q but database/sql has no such driver (have %v)", n, available)
		}
	}

	names[0] = "mutated"
	if Names()[0] == "mutated" {
		t.Fatal("Names() exposes the internal slice")
	}
}
