package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/deckcast/internal/luma"
)

// fakeFFmpeg writes its last argument as a file of size bytes unless fail
// rejects the arguments.
type fakeFFmpeg struct {
	mu    sync.Mutex
	calls [][]string
	size  int
	fail  func(args []string) bool
}

func (f *fakeFFmpeg) Run(_ context.Context, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.fail != nil && f.fail(args) {
		return errors.New("ffmpeg exited 1")
	}
	return os.WriteFile(args[len(args)-1], make([]byte, f.size), 0o644)
}

func (f *fakeFFmpeg) joined(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.calls[i], " ")
}

func hasDrawtext(args []string) bool {
	for _, a := range args {
		if strings.Contains(a, "drawtext=") {
			return true
		}
	}
	return false
}

func clipRequest(dir string) ClipRequest {
	return ClipRequest{
		Screenshot: filepath.Join(dir, "deck_01.png"),
		Audio:      filepath.Join(dir, "deck_01.mp3"),
		Subtitle:   "Hello\nworld",
		Colors:     luma.OnLight,
		Duration:   3 * time.Second,
		Output:     filepath.Join(dir, "deck_01.mp4"),
	}
}

func TestComposeWithSubtitle(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFFmpeg{size: 4096}
	c := NewComposer(ff, ComposerConfig{FontFile: "/fonts/a.ttc"})

	clip, err := c.Compose(context.Background(), clipRequest(dir))
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !clip.Subtitled {
		t.Error("Subtitled = false")
	}
	args := ff.joined(0)
	for _, want := range []string{
		"-loop 1",
		"fontcolor=black",
		"bordercolor=white",
		"fontfile='/fonts/a.ttc'",
		"fontsize=36",
		"y=h-th-80",
		"-c:v libx264",
		"-pix_fmt yuv420p",
		"-t 3.000",
		"-shortest",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args lack %q:\n%s", want, args)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "deck_01.subtitle.txt")); !os.IsNotExist(err) {
		t.Error("subtitle text file left behind")
	}
}

func TestComposeFallsBackWithoutSubtitle(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFFmpeg{size: 4096, fail: hasDrawtext}
	c := NewComposer(ff, ComposerConfig{})

	clip, err := c.Compose(context.Background(), clipRequest(dir))
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if clip.Subtitled {
		t.Error("Subtitled = true after overlay failure")
	}
	if len(ff.calls) != 2 {
		t.Fatalf("ffmpeg calls = %d, want 2", len(ff.calls))
	}
	if hasDrawtext(ff.calls[1]) {
		t.Error("fallback still uses drawtext")
	}
	if _, err := os.Stat(clip.Path); err != nil {
		t.Errorf("clip missing: %v", err)
	}
}

func TestComposeFailsWhenFallbackFails(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFFmpeg{fail: func([]string) bool { return true }}
	c := NewComposer(ff, ComposerConfig{})

	_, err := c.Compose(context.Background(), clipRequest(dir))
	if !errors.Is(err, ErrCompose) {
		t.Errorf("error = %v, want ErrCompose", err)
	}
}

func TestComposeRejectsTinyOutput(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFFmpeg{size: 10}
	c := NewComposer(ff, ComposerConfig{})

	if _, err := c.Compose(context.Background(), clipRequest(dir)); !errors.Is(err, ErrCompose) {
		t.Errorf("error = %v, want ErrCompose", err)
	}
}

func TestComposeSilent(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFFmpeg{size: 4096}
	c := NewComposer(ff, ComposerConfig{DefaultDuration: 7 * time.Second})

	req := clipRequest(dir)
	req.Audio = ""
	req.Duration = 0
	req.Subtitle = ""

	clip, err := c.Compose(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if clip.Duration != 7*time.Second {
		t.Errorf("duration = %v, want 7s", clip.Duration)
	}
	args := ff.joined(0)
	if !strings.Contains(args, "anullsrc") || !strings.Contains(args, "-t 7.000") {
		t.Errorf("silent clip args wrong: %s", args)
	}
	if strings.Contains(args, "-shortest") {
		t.Error("silent clip must not use -shortest")
	}
}

func TestFormatSubtitle(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"collapses newlines", "a\nb\r\n  c", 100, "a b c"},
		{"short kept", "hello", 10, "hello"},
		{"ascii truncated", "abcdefghijkl", 6, "abc..."},
		{"wide runes counted double", "你好世界你好", 7, "你好..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSubtitle(tt.in, tt.width); got != tt.want {
				t.Errorf("FormatSubtitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterQuote(t *testing.T) {
	if got := filterQuote("/tmp/it's.txt"); got != `'/tmp/it'\''s.txt'` {
		t.Errorf("filterQuote() = %s", got)
	}
}

func TestConcat(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFFmpeg{size: 8192}
	c := NewConcatenator(ff, 0, nil)

	clips := []string{filepath.Join(dir, "a_01.mp4"), filepath.Join(dir, "a_02.mp4")}
	manifest := filepath.Join(dir, "concat.txt")
	out := filepath.Join(dir, "videos", "final.mp4")

	got, err := c.Concat(context.Background(), clips, manifest, out)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if got != out {
		t.Errorf("output = %q, want %q", got, out)
	}

	data, _ := os.ReadFile(manifest)
	want := "file '" + filepath.ToSlash(clips[0]) + "'\nfile '" + filepath.ToSlash(clips[1]) + "'\n"
	if string(data) != want {
		t.Errorf("manifest = %q, want %q", data, want)
	}
	if args := ff.joined(0); !strings.Contains(args, "-f concat -safe 0") || !strings.Contains(args, "-c copy") {
		t.Errorf("args = %s", args)
	}
}

func TestConcatFailures(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		ff    *fakeFFmpeg
		clips []string
	}{
		{"no clips", &fakeFFmpeg{size: 8192}, nil},
		{"ffmpeg error", &fakeFFmpeg{fail: func([]string) bool { return true }}, []string{"a.mp4"}},
		{"tiny output", &fakeFFmpeg{size: 3}, []string{"a.mp4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConcatenator(tt.ff, 0, nil)
			out := filepath.Join(dir, tt.name+".mp4")
			_, err := c.Concat(context.Background(), tt.clips, filepath.Join(dir, "list.txt"), out)
			if !errors.Is(err, ErrConcat) {
				t.Errorf("error = %v, want ErrConcat", err)
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Error("failed output left behind")
			}
		})
	}
}

func TestManifestEscapesQuotes(t *testing.T) {
	got, err := Manifest([]string{"/tmp/it's.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "file '/tmp/it'\\''s.mp4'\n" {
		t.Errorf("Manifest() = %q", got)
	}
}

func TestWritePlaylist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deck_playlist.m3u")

	err := WritePlaylist(path, []PlaylistEntry{
		{Path: filepath.Join(dir, "deck_01.mp3"), Title: "Slide 1", Duration: 4600 * time.Millisecond},
		{Path: filepath.Join(dir, "deck_02.mp3"), Title: "Slide 2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	want := "#EXTM3U\n#EXTINF:5,Slide 1\ndeck_01.mp3\n#EXTINF:-1,Slide 2\ndeck_02.mp3\n"
	if string(data) != want {
		t.Errorf("playlist = %q, want %q", data, want)
	}
}
