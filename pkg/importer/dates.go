package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSampleDate reads the dates found in readings files.
//
// The usual form is DD-Mon-YY. Two-digit years 98 and 99 belong to the
// 1900s; every other two-digit year is 20YY. Four-digit years and ISO
// YYYY-MM-DD are accepted as-is. The result is UTC midnight.
func ParseSampleDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("date %q: want DD-Mon-YY", s)
	}
	year := parts[2]
	switch len(year) {
	case 2:
		if _, err := strconv.Atoi(year); err != nil {
			return time.Time{}, fmt.Errorf("date %q: bad year", s)
		}
		if year == "98" || year == "99" {
			year = "19" + year
		} else {
			year = "20" + year
		}
	case 4:
	default:
		return time.Time{}, fmt.Errorf("date %q: bad year", s)
	}

	t, err := time.Parse("2-Jan-2006", parts[0]+"-"+parts[1]+"-"+year)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return t, nil
}
