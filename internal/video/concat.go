package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// ErrConcat means the final video could not be produced.
var ErrConcat = errors.New("concatenation failed")

// Concatenator joins clips with ffmpeg's concat demuxer. Clips must share
// codec parameters; Composer guarantees that.
type Concatenator struct {
	ff       Runner
	minBytes int64
	logger   *log.Logger
}

// NewConcatenator creates a concatenator. minBytes is the smallest accepted
// output.
func NewConcatenator(ff Runner, minBytes int64, logger *log.Logger) *Concatenator {
	if minBytes <= 0 {
		minBytes = 1024
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Concatenator{ff: ff, minBytes: minBytes, logger: logger.WithPrefix("concat")}
}

// Concat writes the manifest to manifestPath and joins clips, in order,
// into output.
func (c *Concatenator) Concat(ctx context.Context, clips []string, manifestPath, output string) (string, error) {
	if len(clips) == 0 {
		return "", fmt.Errorf("%w: no clips", ErrConcat)
	}

	manifest, err := Manifest(clips)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConcat, err)
	}
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		return "", fmt.Errorf("%w: write manifest: %w", ErrConcat, err)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConcat, err)
	}

	c.logger.Info("Joining clips", "count", len(clips), "output", output)
	if err := c.ff.Run(ctx,
		"-f", "concat", "-safe", "0", "-i", manifestPath,
		"-c", "copy", "-movflags", "+faststart", output,
	); err != nil {
		_ = os.Remove(output)
		return "", fmt.Errorf("%w: %w", ErrConcat, err)
	}

	st, err := os.Stat(output)
	if err != nil {
		return "", fmt.Errorf("%w: output missing: %w", ErrConcat, err)
	}
	if st.Size() < c.minBytes {
		_ = os.Remove(output)
		return "", fmt.Errorf("%w: output only %d bytes", ErrConcat, st.Size())
	}
	return output, nil
}

// Manifest renders a concat demuxer list with absolute paths.
func Manifest(clips []string) ([]byte, error) {
	var b strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			return nil, err
		}
		abs = filepath.ToSlash(abs)
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return []byte(b.String()), nil
}
