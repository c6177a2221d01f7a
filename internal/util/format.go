package util

import (
	"fmt"
	"time"
)

// FormatDuration formats a duration as m:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	m := total / 60
	s := total % 60
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatMillis formats a millisecond position as m:ss.
func FormatMillis(ms int64) string {
	return FormatDuration(time.Duration(ms) * time.Millisecond)
}

// FormatSeconds formats a whole-second length as m:ss. Unknown lengths
// render as --:--.
func FormatSeconds(secs int) string {
	if secs <= 0 {
		return "--:--"
	}
	return FormatDuration(time.Duration(secs) * time.Second)
}
