package helpers

import (
	"fmt"
	"time"
)

// TimestampLayout is the sortable layout used for backup directories and log file names.
const TimestampLayout = "20060102150405"

// FormatRelative renders the distance between t and now like Docker does.
func FormatRelative(t, now time.Time) string {
	elapsed := now.Sub(t)
	if elapsed < 0 {
		return formatDuration(-elapsed) + " from now"
	}
	return formatDuration(elapsed) + " ago"
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return plural(int(d.Seconds()), "second")
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 30*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	case d < 365*24*time.Hour:
		return plural(int(d.Hours()/(24*30)), "month")
	default:
		return plural(int(d.Hours()/(24*365)), "year")
	}
}

func plural(n int, unit string) string {
	if n <= 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
