// Package video turns slide screenshots and narration into clips and joins
// them into the final video.
package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/deckcast/internal/luma"
	"github.com/dgnsrekt/deckcast/internal/transcode"
)

var (
	// ErrSubtitle means the subtitle overlay could not be rendered. The clip
	// is recomposed without it.
	ErrSubtitle = errors.New("subtitle overlay failed")

	// ErrCompose means no clip could be produced.
	ErrCompose = errors.New("clip composition failed")
)

// Runner runs ffmpeg with the given arguments.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// FontCandidates are tried in order when no font file is configured.
var FontCandidates = []string{
	"/System/Library/Fonts/PingFang.ttc",
	"/System/Library/Fonts/STHeiti Medium.ttc",
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/truetype/wqy/wqy-microhei.ttc",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"C:/Windows/Fonts/msyh.ttc",
}

// ComposerConfig holds clip encoding settings.
type ComposerConfig struct {
	Width     int
	Height    int
	FrameRate int

	FontFile     string
	FontSize     int
	BottomMargin int
	// SubtitleWidth is the widest subtitle in terminal cells.
	SubtitleWidth int

	// DefaultDuration is used when the request has none.
	DefaultDuration time.Duration
	MinBytes        int64

	Logger *log.Logger
}

// ClipRequest describes one clip.
type ClipRequest struct {
	Screenshot string
	// Audio may be empty; a silent track is generated.
	Audio    string
	Subtitle string
	Colors   luma.Colors
	Duration time.Duration
	Output   string
}

// Clip is a composed clip.
type Clip struct {
	Path      string
	Subtitled bool
	Duration  time.Duration
}

// Composer renders clips with ffmpeg.
type Composer struct {
	cfg    ComposerConfig
	ff     Runner
	logger *log.Logger
}

// NewComposer applies defaults. An empty font file is resolved from
// FontCandidates; if none exists ffmpeg's default font is used.
func NewComposer(ff Runner, cfg ComposerConfig) *Composer {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1920, 1080
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 25
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = 36
	}
	if cfg.BottomMargin <= 0 {
		cfg.BottomMargin = 80
	}
	if cfg.SubtitleWidth <= 0 {
		cfg.SubtitleWidth = DefaultSubtitleWidth
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 5 * time.Second
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1024
	}
	if cfg.FontFile == "" {
		cfg.FontFile = findFont()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Composer{cfg: cfg, ff: ff, logger: cfg.Logger.WithPrefix("compose")}
}

// FontFile returns the font in use, if any.
func (c *Composer) FontFile() string { return c.cfg.FontFile }

// Compose renders req. A subtitle failure falls back to a clip without
// subtitles; only a failure of that fallback is an error.
func (c *Composer) Compose(ctx context.Context, req ClipRequest) (Clip, error) {
	if req.Duration <= 0 {
		req.Duration = c.cfg.DefaultDuration
	}
	clip := Clip{Path: req.Output, Duration: req.Duration}

	text := FormatSubtitle(req.Subtitle, c.cfg.SubtitleWidth)
	if text != "" {
		textFile := strings.TrimSuffix(req.Output, filepath.Ext(req.Output)) + ".subtitle.txt"
		if err := os.WriteFile(textFile, []byte(text), 0o644); err == nil {
			err = c.render(ctx, req, c.drawtext(textFile, req.Colors))
			_ = os.Remove(textFile)
			if err == nil {
				clip.Subtitled = true
				return clip, nil
			}
			if ctx.Err() != nil {
				return Clip{}, fmt.Errorf("%w: %w", ErrCompose, err)
			}
			c.logger.Warn("Subtitle overlay failed, retrying without it",
				"clip", filepath.Base(req.Output),
				"error", fmt.Errorf("%w: %w", ErrSubtitle, err))
		}
	}

	if err := c.render(ctx, req, ""); err != nil {
		return Clip{}, fmt.Errorf("%w: %w", ErrCompose, err)
	}
	return clip, nil
}

func (c *Composer) render(ctx context.Context, req ClipRequest, overlay string) error {
	_ = os.Remove(req.Output)

	args := []string{"-loop", "1", "-framerate", strconv.Itoa(c.cfg.FrameRate), "-i", req.Screenshot}
	if req.Audio != "" {
		args = append(args, "-i", req.Audio)
	} else {
		args = append(args, "-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo")
	}

	w, h := c.cfg.Width, c.cfg.Height
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1", w, h, w, h)
	if overlay != "" {
		vf += "," + overlay
	}

	args = append(args,
		"-vf", vf,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "libx264", "-preset", "veryfast", "-tune", "stillimage",
		"-r", strconv.Itoa(c.cfg.FrameRate), "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k", "-ar", "44100", "-ac", "2",
		"-t", transcode.Seconds(req.Duration),
	)
	if req.Audio != "" {
		args = append(args, "-shortest")
	}
	args = append(args, "-movflags", "+faststart", req.Output)

	if err := c.ff.Run(ctx, args...); err != nil {
		_ = os.Remove(req.Output)
		return err
	}

	st, err := os.Stat(req.Output)
	if err != nil || st.Size() < c.cfg.MinBytes {
		_ = os.Remove(req.Output)
		return fmt.Errorf("clip %s missing or too small", filepath.Base(req.Output))
	}
	return nil
}

func (c *Composer) drawtext(textFile string, colors luma.Colors) string {
	if colors.Foreground == "" || colors.Outline == "" {
		colors = luma.OnDark
	}
	opts := []string{"textfile=" + filterQuote(textFile)}
	if c.cfg.FontFile != "" {
		opts = append(opts, "fontfile="+filterQuote(c.cfg.FontFile))
	}
	opts = append(opts,
		"expansion=none",
		"fontsize="+strconv.Itoa(c.cfg.FontSize),
		"fontcolor="+colors.Foreground,
		"x=(w-text_w)/2",
		"y=h-th-"+strconv.Itoa(c.cfg.BottomMargin),
		"borderw=2",
		"bordercolor="+colors.Outline,
		"shadowcolor=black@0.5",
		"shadowx=2",
		"shadowy=2",
	)
	return "drawtext=" + strings.Join(opts, ":")
}

func findFont() string {
	for _, f := range FontCandidates {
		if _, err := os.Stat(f); err == nil {
			return f
		}
	}
	return ""
}
