// Package lyrics parses LRC-formatted lyrics and locates the line that is
// active at a given playback position.
package lyrics

import (
	"bufio"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Open is the end time of the final line.
const Open = math.MaxInt64

// Line is one lyrics line. A line is active for positions in [StartMs, EndMs).
type Line struct {
	StartMs int64
	EndMs   int64
	Text    string
}

// Lyrics holds parsed lines. Synced is false when the source had no usable
// timestamps; the lines are then plain text and never highlighted.
type Lyrics struct {
	Lines  []Line
	Synced bool
}

var (
	timeTag   = regexp.MustCompile(`^\[(\d{1,3}):(\d{1,2})(?:[.:](\d{1,3}))?\]`)
	idTag     = regexp.MustCompile(`^\[([a-zA-Z]+):([^\]]*)\]\s*$`)
	offsetTag = regexp.MustCompile(`^\[offset:\s*([+-]?\d+)\s*\]`)
)

// Parse reads LRC text. Lines may carry several timestamp tags; each tag
// produces its own line. ID tags such as [ar:...] are dropped and [offset:...]
// shifts every timestamp. Text without any timestamp falls back to plain
// unsynced lines.
func Parse(text string) Lyrics {
	var (
		timed  []Line
		plain  []string
		offset int64
	)

	scanner := bufio.NewScanner(strings.NewReader(strings.TrimPrefix(text, "\uFEFF")))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if m := offsetTag.FindStringSubmatch(raw); m != nil {
			if v, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				offset = v
			}
			continue
		}

		starts, rest := splitTimeTags(raw)
		if len(starts) == 0 {
			if idTag.MatchString(raw) {
				continue
			}
			plain = append(plain, raw)
			continue
		}
		rest = strings.TrimSpace(rest)
		for _, start := range starts {
			timed = append(timed, Line{StartMs: start, Text: rest})
		}
	}

	if len(timed) == 0 {
		lines := make([]Line, len(plain))
		for i, p := range plain {
			lines[i] = Line{StartMs: -1, EndMs: -1, Text: p}
		}
		return Lyrics{Lines: lines}
	}

	// LRC offset is positive when lyrics should appear sooner.
	for i := range timed {
		timed[i].StartMs -= offset
		if timed[i].StartMs < 0 {
			timed[i].StartMs = 0
		}
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].StartMs < timed[j].StartMs })
	for i := range timed {
		if i+1 < len(timed) {
			timed[i].EndMs = timed[i+1].StartMs
		} else {
			timed[i].EndMs = Open
		}
	}
	return Lyrics{Lines: timed, Synced: true}
}

func splitTimeTags(s string) ([]int64, string) {
	var starts []int64
	for {
		m := timeTag.FindStringSubmatch(s)
		if m == nil {
			return starts, s
		}
		starts = append(starts, tagMillis(m[1], m[2], m[3]))
		s = s[len(m[0]):]
	}
}

func tagMillis(mm, ss, frac string) int64 {
	m, _ := strconv.ParseInt(mm, 10, 64)
	s, _ := strconv.ParseInt(ss, 10, 64)
	ms := (m*60 + s) * 1000
	switch len(frac) {
	case 1:
		f, _ := strconv.ParseInt(frac, 10, 64)
		ms += f * 100
	case 2:
		f, _ := strconv.ParseInt(frac, 10, 64)
		ms += f * 10
	case 3:
		f, _ := strconv.ParseInt(frac, 10, 64)
		ms += f
	}
	return ms
}

// ActiveLine returns the index of the first line whose interval contains
// posMs, or -1. Unsynced lyrics never have an active line.
func (l Lyrics) ActiveLine(posMs int64) int {
	if !l.Synced {
		return -1
	}
	for i, line := range l.Lines {
		if posMs >= line.StartMs && posMs < line.EndMs {
			return i
		}
	}
	return -1
}

// Texts returns the text of every line in order.
func (l Lyrics) Texts() []string {
	out := make([]string, len(l.Lines))
	for i, line := range l.Lines {
		out[i] = line.Text
	}
	return out
}
