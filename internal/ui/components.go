package ui

import (
	"fmt"
	"strings"

	"github.com/olivier-w/cloudplay/internal/queue"
)

const (
	lyricsRows = 5
	queueRows  = 6
)

func renderProgressBar(ratio float64, width int) string {
	if width < 10 {
		width = 10
	}
	barWidth := width - 2 // leave some margin

	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	filled := int(ratio * float64(barWidth))
	return strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)
}

func renderVolumePercent(vol float64) string {
	return fmt.Sprintf("vol %d%%", int(vol*100+0.5))
}

// window returns the [start, end) range of rows visible around focus.
func window(n, focus, rows int) (int, int) {
	if n <= rows {
		return 0, n
	}
	start := focus - rows/2
	if start < 0 {
		start = 0
	}
	if start+rows > n {
		start = n - rows
	}
	return start, start + rows
}

// renderLyrics shows the lines around the active one. Unsynced lyrics show
// from the top and highlight nothing.
func renderLyrics(lines []string, active int, synced bool) []string {
	if len(lines) == 0 {
		return nil
	}
	start, end := 0, min(len(lines), lyricsRows)
	if synced && active >= 0 {
		start, end = window(len(lines), active, lyricsRows)
	}

	out := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		if synced && i == active {
			out = append(out, lyricActiveStyle.Render(lines[i]))
			continue
		}
		out = append(out, lyricStyle.Render(lines[i]))
	}
	return out
}

// renderQueue lists the items around the current one and marks it.
func renderQueue(items []queue.Item, currentID string) []string {
	if len(items) == 0 {
		return nil
	}
	cur := -1
	for i, it := range items {
		if it.ID == currentID {
			cur = i
			break
		}
	}
	start, end := window(len(items), max(cur, 0), queueRows)

	out := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		it := items[i]
		label := it.Title
		if label == "" {
			label = it.DisplayID
		}
		if it.Artist != "" {
			label += " · " + it.Artist
		}
		if i == cur {
			out = append(out, queueCurrentStyle.Render("▶ "+label))
			continue
		}
		out = append(out, queueStyle.Render("  "+label))
	}
	return out
}
