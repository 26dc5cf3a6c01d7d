package webui

import (
	"fmt"
	"time"
)

var durationUnits = []struct {
	size   time.Duration
	suffix string
}{
	{7 * 24 * time.Hour, "w"},
	{24 * time.Hour, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
}

// FormatDuration renders d with at most two units, e.g. "2h 34m" or
// "45s". Sub-second durations render as "0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	for i, u := range durationUnits {
		if d < u.size {
			continue
		}
		major := d / u.size
		if i == len(durationUnits)-1 {
			return fmt.Sprintf("%d%s", major, u.suffix)
		}
		next := durationUnits[i+1]
		minor := (d % u.size) / next.size
		return fmt.Sprintf("%d%s %d%s", major, u.suffix, minor, next.suffix)
	}
	return "0s"
}
