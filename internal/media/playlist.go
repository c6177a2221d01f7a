package media

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// PlaylistEntry is one song reference from a playlist file. DisplayID is the
// id the catalogue API resolves; Title is the optional label from the file.
type PlaylistEntry struct {
	DisplayID string
	Title     string
}

var playlistExts = map[string]bool{
	".m3u":  true,
	".m3u8": true,
	".pls":  true,
	".txt":  true,
}

// IsPlaylistExt returns true if the extension is a supported playlist format.
func IsPlaylistExt(ext string) bool {
	return playlistExts[strings.ToLower(ext)]
}

// ParsePlaylist reads an .m3u/.m3u8/.pls/.txt file of song references. Each
// entry is either a bare display id or a URL whose last path segment is the
// display id.
func ParsePlaylist(path string) ([]PlaylistEntry, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !IsPlaylistExt(ext) {
		return nil, fmt.Errorf("unsupported playlist format %s", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("playlist is not valid UTF-8")
	}

	text := strings.TrimPrefix(string(data), "\uFEFF")
	scanner := bufio.NewScanner(strings.NewReader(text))
	if ext == ".pls" {
		return parsePLS(scanner), nil
	}
	return parseM3U(scanner), nil
}

func parseM3U(scanner *bufio.Scanner) []PlaylistEntry {
	entries := make([]PlaylistEntry, 0)
	pendingTitle := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			if comma := strings.Index(line, ","); comma >= 0 {
				pendingTitle = strings.TrimSpace(line[comma+1:])
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		id := entryDisplayID(line)
		if id == "" {
			pendingTitle = ""
			continue
		}
		entries = append(entries, PlaylistEntry{DisplayID: id, Title: pendingTitle})
		pendingTitle = ""
	}
	return entries
}

func parsePLS(scanner *bufio.Scanner) []PlaylistEntry {
	files := make(map[int]string)
	titles := make(map[int]string)
	var order []int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if val == "" {
			continue
		}
		if n, ok := plsIndex(key, "File"); ok {
			if _, seen := files[n]; !seen {
				order = append(order, n)
			}
			files[n] = val
		} else if n, ok := plsIndex(key, "Title"); ok {
			titles[n] = val
		}
	}

	entries := make([]PlaylistEntry, 0, len(order))
	for _, n := range order {
		id := entryDisplayID(files[n])
		if id == "" {
			continue
		}
		entries = append(entries, PlaylistEntry{DisplayID: id, Title: titles[n]})
	}
	return entries
}

func plsIndex(key, prefix string) (int, bool) {
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(key[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func entryDisplayID(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), `"'`)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		return segs[len(segs)-1]
	}
	if strings.ContainsAny(raw, " \t") {
		return ""
	}
	return raw
}
