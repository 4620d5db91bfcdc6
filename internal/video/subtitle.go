package video

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
)

// DefaultSubtitleWidth is the widest subtitle line in terminal cells; wide
// (CJK) runes count as two.
const DefaultSubtitleWidth = 100

// FormatSubtitle collapses whitespace and newlines into single spaces and
// truncates to maxWidth cells.
func FormatSubtitle(text string, maxWidth int) string {
	if maxWidth <= 0 {
		maxWidth = DefaultSubtitleWidth
	}
	s := strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	return runewidth.Truncate(s, maxWidth, "...")
}

// filterQuote quotes a value for an ffmpeg filter option.
func filterQuote(s string) string {
	s = filepath.ToSlash(s)
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
