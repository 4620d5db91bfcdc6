package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# attribute that carries each slide's narration
attribute: "data-speech"
# narrate the visible text of .slide elements when no narration attribute exists
content_fallback: false
# where narration audio and the final video go (default: next to the deck)
audio_dir: ""
output_dir: ""
# parent of per-run work dirs (default: system temp dir)
work_root: ""
audio_format: "mp3"
# what a failed slide does to the run: skip or abort
policy: "skip"
# slides whose audio and screenshot are prepared concurrently
workers: 1
# keep intermediates when a run fails
keep_temp: false
# write {prefix}_playlist.m3u next to the narration audio
playlist: true

speech:
  # smallest synthesized file accepted, and smallest existing file reused
  min_bytes: 100
  reuse_min_bytes: 1000
  # backends are tried by ascending priority until one succeeds.
  # credentials may also come from XUNFEI_APP_ID, XUNFEI_API_KEY,
  # XUNFEI_API_SECRET and FISH_AUDIO_API_KEY.
  engines:
    - name: xunfei
      kind: xunfei
      priority: 10
      timeout: 8s
      voice: "xiaoyan"
    - name: fishaudio
      kind: fishaudio
      priority: 20
      timeout: 15s
      # reference_id: "your-voice-model"
    - name: local
      # say (macOS), espeak, piper, gtts or command
      kind: espeak
      priority: 30
      timeout: 20s

capture:
  width: 1920
  height: 1080
  virtual_time_budget: 20s
  settle_delay: 1500ms
  attempt_timeout: 45s
  # additional attempts after the first
  max_retries: 2
  backoff: 500ms
  min_bytes: 1000
  # render a blank frame instead of failing the slide
  placeholder: false

video:
  frame_rate: 25
  # font_file: "/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc"
  font_size: 36
  # subtitle width in terminal cells; CJK characters count double
  subtitle_width: 100

cache:
  enabled: true
  # dir: "~/.cache/deckcast/audio"
  max_size_mb: 512
  max_age: 720h
  compression_level: 3

tools:
  # chrome: "/usr/bin/chromium"
  ffmpeg: "ffmpeg"
  ffprobe: "ffprobe"
  timeout: 5m
  probe_timeout: 15s
  grace_period: 2s
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the deckcast config file",
	Long:    paragraph(fmt.Sprintf("\n%s the deckcast config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("deckcast config\ndeckcast config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("deckcast", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
