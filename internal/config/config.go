// Package config loads deckcast settings: built-in defaults, then the YAML
// config file, then environment overrides for binaries and credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/deckcast/internal/speech/engines"
)

// AppName names config, cache and log locations.
const AppName = "deckcast"

// Config is the full configuration of a run.
type Config struct {
	Attribute       string `mapstructure:"attribute"`
	ContentFallback bool   `mapstructure:"content_fallback"`
	AudioDir        string `mapstructure:"audio_dir"`
	OutputDir       string `mapstructure:"output_dir"`
	WorkRoot        string `mapstructure:"work_root"`
	AudioFormat     string `mapstructure:"audio_format"`
	Policy          string `mapstructure:"policy"`
	Workers         int    `mapstructure:"workers"`
	KeepTemp        bool   `mapstructure:"keep_temp"`
	Playlist        bool   `mapstructure:"playlist"`

	Speech  Speech  `mapstructure:"speech"`
	Capture Capture `mapstructure:"capture"`
	Video   Video   `mapstructure:"video"`
	Cache   Cache   `mapstructure:"cache"`
	Tools   Tools   `mapstructure:"tools"`
}

// Speech configures the backend list and output acceptance.
type Speech struct {
	MinBytes      int64             `mapstructure:"min_bytes"`
	ReuseMinBytes int64             `mapstructure:"reuse_min_bytes"`
	Engines       []engines.Options `mapstructure:"engines"`
}

// Capture configures the headless browser.
type Capture struct {
	Width             int           `mapstructure:"width"`
	Height            int           `mapstructure:"height"`
	VirtualTimeBudget time.Duration `mapstructure:"virtual_time_budget"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Backoff           time.Duration `mapstructure:"backoff"`
	MinBytes          int64         `mapstructure:"min_bytes"`
	Placeholder       bool          `mapstructure:"placeholder"`
}

// Video configures clip composition.
type Video struct {
	FrameRate     int    `mapstructure:"frame_rate"`
	FontFile      string `mapstructure:"font_file"`
	FontSize      int    `mapstructure:"font_size"`
	SubtitleWidth int    `mapstructure:"subtitle_width"`
	MinBytes      int64  `mapstructure:"min_bytes"`
}

// Cache configures the audio cache.
type Cache struct {
	Enabled          bool          `mapstructure:"enabled"`
	Dir              string        `mapstructure:"dir"`
	MaxSizeMB        int64         `mapstructure:"max_size_mb"`
	MaxAge           time.Duration `mapstructure:"max_age"`
	CompressionLevel int           `mapstructure:"compression_level"`
}

// Tools locates external binaries and bounds their runtime.
type Tools struct {
	Chrome       string        `mapstructure:"chrome"`
	FFmpeg       string        `mapstructure:"ffmpeg"`
	FFprobe      string        `mapstructure:"ffprobe"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
}

// Env holds overrides read from the environment.
type Env struct {
	Chrome   string `env:"DECKCAST_CHROME"`
	FFmpeg   string `env:"DECKCAST_FFMPEG"`
	FFprobe  string `env:"DECKCAST_FFPROBE"`
	FontFile string `env:"DECKCAST_FONT_FILE"`

	XunfeiAppID     string `env:"XUNFEI_APP_ID"`
	XunfeiAPIKey    string `env:"XUNFEI_API_KEY"`
	XunfeiAPISecret string `env:"XUNFEI_API_SECRET"`

	FishAudioAPIKey      string `env:"FISH_AUDIO_API_KEY"`
	FishAudioReferenceID string `env:"FISH_AUDIO_REFERENCE_ID"`
}

// SetDefaults registers every scalar default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("attribute", "data-speech")
	v.SetDefault("content_fallback", false)
	v.SetDefault("audio_dir", "")
	v.SetDefault("output_dir", "")
	v.SetDefault("work_root", "")
	v.SetDefault("audio_format", "mp3")
	v.SetDefault("policy", "skip")
	v.SetDefault("workers", 1)
	v.SetDefault("keep_temp", false)
	v.SetDefault("playlist", true)

	v.SetDefault("speech.min_bytes", 100)
	v.SetDefault("speech.reuse_min_bytes", 1000)

	v.SetDefault("capture.width", 1920)
	v.SetDefault("capture.height", 1080)
	v.SetDefault("capture.virtual_time_budget", "20s")
	v.SetDefault("capture.settle_delay", "1500ms")
	v.SetDefault("capture.attempt_timeout", "45s")
	v.SetDefault("capture.max_retries", 2)
	v.SetDefault("capture.backoff", "500ms")
	v.SetDefault("capture.min_bytes", 1000)
	v.SetDefault("capture.placeholder", false)

	v.SetDefault("video.frame_rate", 25)
	v.SetDefault("video.font_file", "")
	v.SetDefault("video.font_size", 36)
	v.SetDefault("video.subtitle_width", 100)
	v.SetDefault("video.min_bytes", 1024)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.max_size_mb", 512)
	v.SetDefault("cache.max_age", "720h")
	v.SetDefault("cache.compression_level", 3)

	v.SetDefault("tools.chrome", "")
	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.ffprobe", "ffprobe")
	v.SetDefault("tools.timeout", "5m")
	v.SetDefault("tools.probe_timeout", "15s")
	v.SetDefault("tools.grace_period", "2s")
}

// Load unmarshals v, applies environment overrides, expands paths and
// validates the result.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode configuration: %w", err)
	}

	overrides, err := env.ParseAs[Env]()
	if err != nil {
		return cfg, fmt.Errorf("unable to parse environment: %w", err)
	}
	cfg.apply(overrides)

	if len(cfg.Speech.Engines) == 0 {
		cfg.Speech.Engines = DefaultEngines()
		cfg.fillCredentials(overrides)
	}

	if cfg.Cache.Dir == "" {
		dir, err := gap.NewScope(gap.User, AppName).CacheDir()
		if err == nil {
			cfg.Cache.Dir = filepath.Join(dir, "audio")
		} else {
			cfg.Cache.Enabled = false
		}
	}

	for _, p := range []*string{
		&cfg.AudioDir, &cfg.OutputDir, &cfg.WorkRoot, &cfg.Cache.Dir,
		&cfg.Video.FontFile, &cfg.Tools.Chrome, &cfg.Tools.FFmpeg, &cfg.Tools.FFprobe,
	} {
		*p = ExpandPath(*p)
	}
	for i := range cfg.Speech.Engines {
		cfg.Speech.Engines[i].Binary = ExpandPath(cfg.Speech.Engines[i].Binary)
		cfg.Speech.Engines[i].Model = ExpandPath(cfg.Speech.Engines[i].Model)
	}

	return cfg, cfg.Validate()
}

func (c *Config) apply(e Env) {
	if e.Chrome != "" {
		c.Tools.Chrome = e.Chrome
	}
	if e.FFmpeg != "" {
		c.Tools.FFmpeg = e.FFmpeg
	}
	if e.FFprobe != "" {
		c.Tools.FFprobe = e.FFprobe
	}
	if e.FontFile != "" {
		c.Video.FontFile = e.FontFile
	}
	c.fillCredentials(e)
}

// fillCredentials sets credentials the config file left empty.
func (c *Config) fillCredentials(e Env) {
	for i := range c.Speech.Engines {
		o := &c.Speech.Engines[i]
		switch strings.ToLower(o.Kind) {
		case engines.KindXunfei:
			o.AppID = firstNonEmpty(o.AppID, e.XunfeiAppID)
			o.APIKey = firstNonEmpty(o.APIKey, e.XunfeiAPIKey)
			o.APISecret = firstNonEmpty(o.APISecret, e.XunfeiAPISecret)
		case engines.KindFishAudio:
			o.APIKey = firstNonEmpty(o.APIKey, e.FishAudioAPIKey)
			o.ReferenceID = firstNonEmpty(o.ReferenceID, e.FishAudioReferenceID)
		}
	}
}

// Validate checks ranges the rest of the program relies on.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Policy) {
	case "", "skip", "abort":
	default:
		errs = append(errs, fmt.Errorf("policy must be skip or abort, got %q", c.Policy))
	}
	if c.Workers < 1 || c.Workers > 16 {
		errs = append(errs, fmt.Errorf("workers must be between 1 and 16, got %d", c.Workers))
	}
	if f := strings.TrimPrefix(c.AudioFormat, "."); f == "" || strings.ContainsAny(f, `/\ `) {
		errs = append(errs, fmt.Errorf("invalid audio format %q", c.AudioFormat))
	}
	if c.Capture.MaxRetries < 0 || c.Capture.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("capture max_retries must be between 0 and 10, got %d", c.Capture.MaxRetries))
	}
	if c.Cache.MaxSizeMB < 1 || c.Cache.MaxSizeMB > 100000 {
		errs = append(errs, fmt.Errorf("cache max_size_mb must be between 1 and 100000, got %d", c.Cache.MaxSizeMB))
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		errs = append(errs, fmt.Errorf("cache compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel))
	}
	for i, e := range c.Speech.Engines {
		if strings.TrimSpace(e.Kind) == "" {
			errs = append(errs, fmt.Errorf("speech engine %d has no kind", i+1))
		}
		if e.Timeout < 0 {
			errs = append(errs, fmt.Errorf("speech engine %d has a negative timeout", i+1))
		}
	}
	return errors.Join(errs...)
}

// DefaultEngines is the backend list used when the config file has none:
// the cloud services first, then the platform's local synthesizer.
func DefaultEngines() []engines.Options {
	local := engines.Options{Name: "espeak", Kind: "espeak", Priority: 30, Timeout: 20 * time.Second}
	if runtime.GOOS == "darwin" {
		local = engines.Options{Name: "say", Kind: "say", Priority: 30, Timeout: 20 * time.Second}
	}
	return []engines.Options{
		{Name: "xunfei", Kind: engines.KindXunfei, Priority: 10, Timeout: 8 * time.Second},
		{Name: "fishaudio", Kind: engines.KindFishAudio, Priority: 20, Timeout: 15 * time.Second},
		local,
	}
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if expanded, err := homedir.Expand(p); err == nil {
		p = expanded
	}
	if strings.Contains(p, "$") {
		p = os.ExpandEnv(p)
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
