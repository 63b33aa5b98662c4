package contracts

import (
	"fmt"
	"time"
)

// Schedule times are HH:MM clock strings within the planned day.

// ParseClock converts an "HH:MM" string to minutes after midnight.
func ParseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("bad clock value %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minutes after midnight to an "HH:MM" string.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
