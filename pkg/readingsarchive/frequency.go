package readingsarchive

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Frequency is how often the export is rebuilt on a timer. Imports trigger
// an extra rebuild regardless.
type Frequency string

const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// ParseFrequency accepts the flag value; blank means daily.
func ParseFrequency(raw string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FrequencyDaily, nil
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported archive frequency %q", raw)
	}
}

// Interval between timed rebuilds. Unknown values fall back to daily.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// RoutePath is the URL the archive is served from.
const RoutePath = "/api/v1/archive.tgz"

// FileName derives the on-disk name from the serving domain so several
// dashboards can share one data directory.
func FileName(domain string) string {
	d := strings.TrimSpace(strings.ToLower(domain))
	d = strings.NewReplacer("/", "-", "\\", "-", string(filepath.Separator), "-", " ", "-").Replace(d)
	d = strings.Trim(d, "-._")
	if d == "" {
		return "waterway-readings.tgz"
	}
	return d + "-readings.tgz"
}
