package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func fakeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"12.500000\n", 12500 * time.Millisecond, false},
		{"3", 3 * time.Second, false},
		{"N/A", 0, true},
		{"", 0, true},
		{"0.000", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseSeconds(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSeconds(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseSeconds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(1500 * time.Millisecond); got != "1.500" {
		t.Errorf("Seconds() = %q", got)
	}
}

func TestProbeDurationMemoized(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	probe := fakeTool(t, dir, "ffprobe", `echo x >> "`+counter+`"
echo 4.25
`)

	media := filepath.Join(dir, "a.mp3")
	if err := os.WriteFile(media, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := New(Config{FFprobe: probe})
	for i := 0; i < 3; i++ {
		d, err := f.ProbeDuration(context.Background(), media)
		if err != nil {
			t.Fatalf("ProbeDuration() error = %v", err)
		}
		if d != 4250*time.Millisecond {
			t.Errorf("duration = %v, want 4.25s", d)
		}
	}

	data, _ := os.ReadFile(counter)
	if n := strings.Count(string(data), "x"); n != 1 {
		t.Errorf("ffprobe ran %d times, want 1", n)
	}
}

func TestProbeDurationNoOutput(t *testing.T) {
	dir := t.TempDir()
	probe := fakeTool(t, dir, "ffprobe", "echo N/A\n")
	media := filepath.Join(dir, "a.mp3")
	_ = os.WriteFile(media, []byte("x"), 0o644)

	_, err := New(Config{FFprobe: probe}).ProbeDuration(context.Background(), media)
	if !errors.Is(err, ErrNoDuration) {
		t.Errorf("error = %v, want ErrNoDuration", err)
	}
}

func TestRunPassesArgs(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	bin := fakeTool(t, dir, "ffmpeg", `echo "$@" > "`+argsFile+`"`+"\n")

	f := New(Config{FFmpeg: bin})
	if err := f.ConvertAudio(context.Background(), "in.aiff", "out.mp3"); err != nil {
		t.Fatalf("ConvertAudio() error = %v", err)
	}
	data, _ := os.ReadFile(argsFile)
	got := strings.TrimSpace(string(data))
	for _, want := range []string{"-y", "-i in.aiff", "libmp3lame", "out.mp3"} {
		if !strings.Contains(got, want) {
			t.Errorf("args %q lack %q", got, want)
		}
	}
}
