// Package transcode wraps the ffmpeg and ffprobe command-line tools.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	gocache "github.com/patrickmn/go-cache"

	"github.com/dgnsrekt/deckcast/internal/proc"
)

// ErrNoDuration is returned when ffprobe reports no usable duration.
var ErrNoDuration = errors.New("no duration reported")

// Config holds tool locations and limits.
type Config struct {
	FFmpeg  string
	FFprobe string

	// Timeout for encoding commands.
	Timeout time.Duration
	// ProbeTimeout for ffprobe calls.
	ProbeTimeout time.Duration

	Runner *proc.Runner
	Logger *log.Logger
}

// FFmpeg runs ffmpeg and ffprobe.
type FFmpeg struct {
	ffmpeg       string
	ffprobe      string
	timeout      time.Duration
	probeTimeout time.Duration
	runner       *proc.Runner
	logger       *log.Logger

	// durations memoizes probes by path, size and mtime.
	durations *gocache.Cache
}

// New applies defaults and returns a transcoder.
func New(cfg Config) *FFmpeg {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FFprobe == "" {
		cfg.FFprobe = "ffprobe"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = proc.NewRunner(proc.Config{Logger: cfg.Logger})
	}
	return &FFmpeg{
		ffmpeg:       cfg.FFmpeg,
		ffprobe:      cfg.FFprobe,
		timeout:      cfg.Timeout,
		probeTimeout: cfg.ProbeTimeout,
		runner:       cfg.Runner,
		logger:       cfg.Logger,
		durations:    gocache.New(30*time.Minute, time.Hour),
	}
}

// Run executes ffmpeg with args. -y and a quiet log level are prepended.
func (f *FFmpeg) Run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	f.logger.Debug("Running ffmpeg", "args", strings.Join(args, " "))
	_, err := f.runner.Exec(ctx, proc.Command{Name: f.ffmpeg, Args: full, Timeout: f.timeout})
	return err
}

// ProbeDuration returns the container duration of path.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	key := fmt.Sprintf("%s|%d|%d", path, st.Size(), st.ModTime().UnixNano())
	if v, ok := f.durations.Get(key); ok {
		return v.(time.Duration), nil
	}

	res, err := f.runner.Exec(ctx, proc.Command{
		Name:    f.ffprobe,
		Args:    []string{"-v", "quiet", "-show_entries", "format=duration", "-of", "csv=p=0", path},
		Timeout: f.probeTimeout,
	})
	if err != nil {
		return 0, err
	}

	d, err := parseSeconds(string(res.Stdout))
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	f.durations.SetDefault(key, d)
	return d, nil
}

// ConvertAudio re-encodes in to the format implied by out's extension.
func (f *FFmpeg) ConvertAudio(ctx context.Context, in, out string) error {
	args := []string{"-i", in, "-ar", "44100", "-ac", "2"}
	if strings.HasSuffix(strings.ToLower(out), ".mp3") {
		args = append(args, "-c:a", "libmp3lame", "-b:a", "128k")
	}
	return f.Run(ctx, append(args, out)...)
}

// Silence writes a silent track of duration d to out.
func (f *FFmpeg) Silence(ctx context.Context, out string, d time.Duration) error {
	args := []string{
		"-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo",
		"-t", Seconds(d),
	}
	if strings.HasSuffix(strings.ToLower(out), ".mp3") {
		args = append(args, "-c:a", "libmp3lame", "-b:a", "128k")
	}
	return f.Run(ctx, append(args, out)...)
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	res, err := f.runner.Exec(ctx, proc.Command{Name: f.ffmpeg, Args: []string{"-version"}, Timeout: f.probeTimeout})
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(res.Stdout), "\n")
	return strings.TrimSpace(line), nil
}

// Binaries returns the configured ffmpeg and ffprobe paths.
func (f *FFmpeg) Binaries() (string, string) {
	return f.ffmpeg, f.ffprobe
}

// Seconds formats d the way ffmpeg expects, e.g. "12.345".
func Seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, ErrNoDuration
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if v <= 0 {
		return 0, ErrNoDuration
	}
	return time.Duration(v * float64(time.Second)), nil
}
