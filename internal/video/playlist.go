package video

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PlaylistEntry is one track of an M3U playlist.
type PlaylistEntry struct {
	Path     string
	Title    string
	Duration time.Duration
}

// WritePlaylist writes an extended M3U playlist. Track paths are written
// relative to the playlist when possible.
func WritePlaylist(path string, entries []PlaylistEntry) error {
	dir := filepath.Dir(path)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, e := range entries {
		seconds := -1
		if e.Duration > 0 {
			seconds = int(math.Round(e.Duration.Seconds()))
		}
		title := strings.ReplaceAll(e.Title, "\n", " ")
		fmt.Fprintf(&b, "#EXTINF:%d,%s\n", seconds, title)

		p := e.Path
		if rel, err := filepath.Rel(dir, e.Path); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
		b.WriteString(filepath.ToSlash(p))
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
