package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeChrome writes a screenshot of size bytes after failing the first
// fails invocations. Failed invocations delete the capture document, so a
// later success proves it was written again. It also checks the capture
// document was injected.
func fakeChrome(t *testing.T, dir string, fails, size int) (bin, counter string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	counter = filepath.Join(dir, "calls")
	script := `#!/bin/sh
echo x >> "` + counter + `"
for a in "$@"; do
  case "$a" in
    --screenshot=*) out="${a#--screenshot=}" ;;
    file://*) doc="${a#file://}" ;;
  esac
done
n=$(wc -l < "` + counter + `")
if [ "$n" -le ` + strconv.Itoa(fails) + ` ]; then rm -f "$doc"; exit 1; fi
grep -q deckcast-capture "$doc" || exit 2
head -c ` + strconv.Itoa(size) + ` /dev/zero > "$out"
`
	bin = filepath.Join(dir, "chrome")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, counter
}

func calls(t *testing.T, counter string) int {
	t.Helper()
	data, err := os.ReadFile(counter)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "x")
}

func newTestCapturer(t *testing.T, bin string, mutate func(*Config)) *Capturer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Binary = bin
	cfg.Backoff = time.Millisecond
	cfg.AttemptTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func request(dir string) Request {
	return Request{
		HTML:       []byte(`<html><body><div class="slide" data-speech="a">A</div></body></html>`),
		BaseDir:    dir,
		Element:    0,
		Output:     filepath.Join(dir, "deck_01.png"),
		MaxRetries: -1,
	}
}

func TestCaptureSucceedsAfterRetries(t *testing.T) {
	dir := t.TempDir()
	bin, counter := fakeChrome(t, dir, 2, 4096)
	c := newTestCapturer(t, bin, nil)

	shot, err := c.Capture(context.Background(), request(dir))
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if shot.Attempts != 3 || calls(t, counter) != 3 {
		t.Errorf("attempts = %d, browser calls = %d, want 3", shot.Attempts, calls(t, counter))
	}
	if _, err := os.Stat(filepath.Join(dir, "deck_01.capture.html")); !os.IsNotExist(err) {
		t.Error("capture document left behind")
	}
}

func TestCaptureRetriesExhausted(t *testing.T) {
	dir := t.TempDir()
	bin, counter := fakeChrome(t, dir, 0, 10) // always too small
	c := newTestCapturer(t, bin, nil)

	_, err := c.Capture(context.Background(), request(dir))
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrEmptyCapture) {
		t.Fatalf("error = %v, want ErrRetriesExhausted wrapping ErrEmptyCapture", err)
	}
	if got := calls(t, counter); got != 3 {
		t.Errorf("browser calls = %d, want 3", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "deck_01.png")); !os.IsNotExist(err) {
		t.Error("undersized screenshot left behind")
	}
	if _, err := os.Stat(filepath.Join(dir, "deck_01.capture.html")); !os.IsNotExist(err) {
		t.Error("capture document left behind")
	}
}

func TestCapturePlaceholder(t *testing.T) {
	dir := t.TempDir()
	bin, _ := fakeChrome(t, dir, 100, 10)
	c := newTestCapturer(t, bin, func(cfg *Config) {
		cfg.Placeholder = true
		cfg.MaxRetries = 0
		cfg.Viewport = Size{Width: 64, Height: 36}
	})

	shot, err := c.Capture(context.Background(), request(dir))
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if !shot.Degraded {
		t.Error("placeholder not reported as degraded")
	}
	if _, err := os.Stat(shot.Path); err != nil {
		t.Errorf("placeholder missing: %v", err)
	}
}

func TestCaptureReusesExisting(t *testing.T) {
	dir := t.TempDir()
	bin, counter := fakeChrome(t, dir, 0, 4096)
	c := newTestCapturer(t, bin, nil)

	req := request(dir)
	if err := os.WriteFile(req.Output, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	shot, err := c.Capture(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !shot.Reused || calls(t, counter) != 0 {
		t.Errorf("reused = %v, browser calls = %d", shot.Reused, calls(t, counter))
	}
}

func TestCaptureCanceled(t *testing.T) {
	dir := t.TempDir()
	bin, _ := fakeChrome(t, dir, 100, 10)
	c := newTestCapturer(t, bin, func(cfg *Config) { cfg.Backoff = time.Second })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := c.Capture(ctx, request(dir)); err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Errorf("Capture() ignored cancellation for %v", time.Since(start))
	}
}
