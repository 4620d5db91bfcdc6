// Package capture renders single slides of an HTML deck to PNG with a
// headless Chrome.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/deckcast/internal/proc"
)

var (
	// ErrEmptyCapture means the browser exited without a usable image.
	ErrEmptyCapture = errors.New("screenshot missing or too small")

	// ErrRetriesExhausted means every attempt failed.
	ErrRetriesExhausted = errors.New("screenshot retries exhausted")
)

// BrowserCandidates are tried in order when no binary is configured.
var BrowserCandidates = []string{
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// Size is a viewport in CSS pixels.
type Size struct {
	Width  int
	Height int
}

// Config holds capturer settings.
type Config struct {
	Binary   string
	Viewport Size

	// VirtualTimeBudget lets scripts and animations settle without real
	// waiting.
	VirtualTimeBudget time.Duration
	// SettleDelay runs inside the virtual time budget before the final
	// re-focus of the slide.
	SettleDelay    time.Duration
	AttemptTimeout time.Duration
	MaxRetries     int
	Backoff        time.Duration
	MinBytes       int64

	// Placeholder writes a blank frame when every attempt fails.
	Placeholder bool

	Runner *proc.Runner
	Logger *log.Logger
}

// DefaultConfig returns the capture defaults.
func DefaultConfig() Config {
	return Config{
		Viewport:          Size{Width: 1920, Height: 1080},
		VirtualTimeBudget: 20 * time.Second,
		SettleDelay:       1500 * time.Millisecond,
		AttemptTimeout:    45 * time.Second,
		MaxRetries:        2,
		Backoff:           500 * time.Millisecond,
		MinBytes:          1000,
	}
}

// Request asks for one slide.
type Request struct {
	HTML    []byte
	BaseDir string

	// Selector and Element pick the slide: the Element-th match of Selector.
	Selector string
	Element  int

	Output string

	// Zero values fall back to the capturer's configuration.
	Viewport       Size
	AttemptTimeout time.Duration
	// MaxRetries is the number of additional attempts; negative uses the
	// configured value.
	MaxRetries int
}

// Shot describes a produced screenshot.
type Shot struct {
	Path     string
	Attempts int
	Reused   bool
	Degraded bool
}

// Capturer drives the browser.
type Capturer struct {
	cfg    Config
	runner *proc.Runner
	logger *log.Logger
}

// New creates a capturer. An empty Binary is resolved from
// BrowserCandidates.
func New(cfg Config) (*Capturer, error) {
	def := DefaultConfig()
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		cfg.Viewport = def.Viewport
	}
	if cfg.VirtualTimeBudget <= 0 {
		cfg.VirtualTimeBudget = def.VirtualTimeBudget
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = def.MinBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = proc.NewRunner(proc.Config{Logger: cfg.Logger})
	}
	if cfg.Binary == "" {
		bin, err := proc.LookPath(BrowserCandidates...)
		if err != nil {
			return nil, fmt.Errorf("no Chrome or Chromium found: %w", err)
		}
		cfg.Binary = bin
	}
	return &Capturer{cfg: cfg, runner: cfg.Runner, logger: cfg.Logger.WithPrefix("capture")}, nil
}

// Binary returns the browser in use.
func (c *Capturer) Binary() string { return c.cfg.Binary }

// MaxRetries returns the configured retry count.
func (c *Capturer) MaxRetries() int { return c.cfg.MaxRetries }

// Capture produces exactly one screenshot at req.Output or an error. An
// existing valid screenshot is reused.
func (c *Capturer) Capture(ctx context.Context, req Request) (Shot, error) {
	if st, err := os.Stat(req.Output); err == nil && st.Size() >= c.cfg.MinBytes {
		return Shot{Path: req.Output, Reused: true}, nil
	}

	if req.Viewport.Width <= 0 || req.Viewport.Height <= 0 {
		req.Viewport = c.cfg.Viewport
	}
	if req.AttemptTimeout <= 0 {
		req.AttemptTimeout = c.cfg.AttemptTimeout
	}
	if req.MaxRetries < 0 {
		req.MaxRetries = c.cfg.MaxRetries
	}
	if req.Selector == "" {
		req.Selector = "[data-speech]"
	}

	doc, err := Derive(req.HTML, req.BaseDir, req.Selector, req.Element, c.cfg.SettleDelay.Milliseconds())
	if err != nil {
		return Shot{}, fmt.Errorf("build capture document: %w", err)
	}
	docPath := strings.TrimSuffix(req.Output, ".png") + ".capture.html"

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= req.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Shot{Attempts: attempts}, ctx.Err()
			case <-time.After(c.cfg.Backoff * time.Duration(attempt)):
			}
		}
		attempts++

		_ = os.Remove(req.Output)
		lastErr = c.attempt(ctx, doc, docPath, req)
		if lastErr == nil {
			return Shot{Path: req.Output, Attempts: attempts}, nil
		}
		_ = os.Remove(req.Output)

		c.logger.Warn("Screenshot attempt failed",
			"element", req.Element,
			"attempt", attempts,
			"of", req.MaxRetries+1,
			"error", lastErr)

		if ctx.Err() != nil {
			return Shot{Attempts: attempts}, ctx.Err()
		}
	}

	if c.cfg.Placeholder {
		if err := writePlaceholder(req.Output, req.Viewport); err == nil {
			c.logger.Warn("Using placeholder frame", "element", req.Element)
			return Shot{Path: req.Output, Attempts: attempts, Degraded: true}, nil
		}
	}
	return Shot{Attempts: attempts}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

// attempt writes the capture document, shoots it and removes it again.
func (c *Capturer) attempt(ctx context.Context, doc []byte, docPath string, req Request) error {
	if err := os.WriteFile(docPath, doc, 0o644); err != nil {
		return fmt.Errorf("write capture document: %w", err)
	}
	defer func() { _ = os.Remove(docPath) }()
	return c.shoot(ctx, docPath, req)
}

func (c *Capturer) shoot(ctx context.Context, docPath string, req Request) error {
	args := []string{
		"--headless",
		"--disable-gpu",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--hide-scrollbars",
		"--mute-audio",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-extensions",
		"--disable-background-timer-throttling",
		"--run-all-compositor-stages-before-draw",
		"--force-device-scale-factor=1",
		fmt.Sprintf("--window-size=%d,%d", req.Viewport.Width, req.Viewport.Height),
		fmt.Sprintf("--virtual-time-budget=%d", c.cfg.VirtualTimeBudget.Milliseconds()),
		"--screenshot=" + req.Output,
		fileURL(docPath),
	}
	if _, err := c.runner.Exec(ctx, proc.Command{Name: c.cfg.Binary, Args: args, Timeout: req.AttemptTimeout}); err != nil {
		return err
	}

	st, err := os.Stat(req.Output)
	if err != nil {
		return ErrEmptyCapture
	}
	if st.Size() < c.cfg.MinBytes {
		return fmt.Errorf("%w: %d bytes", ErrEmptyCapture, st.Size())
	}
	return nil
}

func writePlaceholder(path string, size Size) error {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	bg := color.RGBA{R: 0x1e, G: 0x1e, B: 0x24, A: 0xff}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = bg.R, bg.G, bg.B, bg.A
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
