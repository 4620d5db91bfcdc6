package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/deckcast/internal/config"
	"github.com/dgnsrekt/deckcast/internal/pipeline"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{fmt.Errorf("%w: talk.html", pipeline.ErrInputMissing), 1},
		{fmt.Errorf("%w: nothing", pipeline.ErrNoSlides), 2},
		{fmt.Errorf("%w: ffmpeg", pipeline.ErrConcatenation), 3},
		{fmt.Errorf("%w: slide 2", pipeline.ErrAborted), 4},
		{context.Canceled, 130},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRenderSummary(t *testing.T) {
	rep := &pipeline.Report{
		Outcomes: []pipeline.SlideOutcome{
			{Index: 1, Narration: "欢迎", Backend: "xunfei", Subtitled: true, Duration: 2 * time.Second},
			{Index: 2, Narration: "核心内容", Err: &pipeline.SlideError{Index: 2, Stage: pipeline.StageScreenshot, Err: errors.New("chrome hung")}},
			{Index: 3, Narration: "谢谢观看", AudioDegraded: true, Subtitled: true, Duration: 5 * time.Second},
		},
		Composed:  2,
		Failed:    1,
		FinalPath: "/out/talk_2024-05-06_07-08-09.mp4",
		FinalSize: 2 << 20,
		Duration:  7 * time.Second,
	}

	got := renderSummary(rep)
	for _, want := range []string{
		"01  xunfei 2s",
		"02  screenshot: chrome hung",
		"03  silence 5s",
		"no speech",
		"2 composed, 1 failed, 7s of video",
		"/out/talk_2024-05-06_07-08-09.mp4",
		"2.1 MB",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestRunFlagsApply(t *testing.T) {
	var f runFlags
	cmd := &cobra.Command{Use: "x"}
	f.register(cmd)
	if err := cmd.ParseFlags([]string{"--policy", "abort", "--no-playlist", "--workers", "4"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{Policy: "skip", Workers: 1, Playlist: true, AudioFormat: "mp3", KeepTemp: true}
	cfg.Cache.MaxSizeMB = 1
	if err := f.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if cfg.Policy != "abort" || cfg.Workers != 4 || cfg.Playlist {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if !cfg.KeepTemp {
		t.Error("unset flag overrode config")
	}

	opts, err := f.options(cfg)
	if err != nil {
		t.Fatalf("options() error = %v", err)
	}
	if opts.Policy != pipeline.PolicyAbort || !opts.KeepOnFailure {
		t.Errorf("options = %+v", opts)
	}
}

func TestDefaultConfigLoads(t *testing.T) {
	dir := t.TempDir()
	configFile = filepath.Join(dir, "deckcast.yml")
	t.Cleanup(func() { configFile = "" })

	if err := ensureConfigFile(); err != nil {
		t.Fatalf("ensureConfigFile() error = %v", err)
	}

	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Speech.Engines) != 3 || cfg.Speech.Engines[2].Kind != "espeak" {
		t.Errorf("engines = %+v", cfg.Speech.Engines)
	}
	if cfg.Capture.SettleDelay != 1500*time.Millisecond {
		t.Errorf("settle delay = %v", cfg.Capture.SettleDelay)
	}
}

func TestWatchFileDebounces(t *testing.T) {
	if testing.Short() {
		t.Skip("uses filesystem notifications")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "talk.html")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, 200*time.Millisecond, func() { calls.Add(1) })
	}()

	time.Sleep(200 * time.Millisecond)
	for i := range 5 {
		if err := os.WriteFile(path, []byte(fmt.Sprintf("v%d", i+1)), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(dir, "other.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchFile() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("renders = %d, want 1", got)
	}
}
