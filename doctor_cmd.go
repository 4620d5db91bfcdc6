package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/deckcast/internal/cache"
	"github.com/dgnsrekt/deckcast/internal/capture"
	"github.com/dgnsrekt/deckcast/internal/config"
	"github.com/dgnsrekt/deckcast/internal/proc"
	"github.com/dgnsrekt/deckcast/internal/speech/engines"
	"github.com/dgnsrekt/deckcast/internal/transcode"
	"github.com/dgnsrekt/deckcast/internal/video"
)

var errDoctor = errors.New("required dependencies are missing")

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Check external tools and speech backends",
	Long:    paragraph(fmt.Sprintf("\n%s that Chrome, ffmpeg and at least one speech backend are usable with the current configuration.", keyword("Check"))),
	Example: paragraph("deckcast doctor"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return doctor(ctx, cfg, cmd.OutOrStdout())
	},
}

type check struct {
	name   string
	detail string
	err    error
	// optional checks only warn.
	optional bool
}

func (c check) render() string {
	mark := okMark
	detail := c.detail
	if c.err != nil {
		mark = failMark
		if c.optional {
			mark = warnMark
		}
		detail = c.err.Error()
	}
	return fmt.Sprintf("  %s %-14s %s\n", mark, c.name, subtle(detail))
}

// doctor prints one line per dependency and fails if a required one is
// missing.
func doctor(ctx context.Context, cfg config.Config, w io.Writer) error {
	quiet := log.New(io.Discard)
	runner := proc.NewRunner(proc.Config{Timeout: cfg.Tools.ProbeTimeout, Logger: quiet})

	cfgPath := viper.ConfigFileUsed()
	if cfgPath == "" {
		cfgPath = "built-in defaults"
	}
	tools := []check{{name: "config", detail: cfgPath}}

	if c, err := capture.New(capture.Config{Binary: cfg.Tools.Chrome, Runner: runner, Logger: quiet}); err != nil {
		tools = append(tools, check{name: "chrome", err: err})
	} else {
		tools = append(tools, check{name: "chrome", detail: c.Binary()})
	}

	ff := transcode.New(transcode.Config{
		FFmpeg:       cfg.Tools.FFmpeg,
		FFprobe:      cfg.Tools.FFprobe,
		ProbeTimeout: cfg.Tools.ProbeTimeout,
		Runner:       runner,
		Logger:       quiet,
	})
	if v, err := ff.Version(ctx); err != nil {
		tools = append(tools, check{name: "ffmpeg", err: err})
	} else {
		tools = append(tools, check{name: "ffmpeg", detail: v})
	}
	_, probe := ff.Binaries()
	if p, err := proc.LookPath(probe); err != nil {
		tools = append(tools, check{name: "ffprobe", err: err})
	} else {
		tools = append(tools, check{name: "ffprobe", detail: p})
	}

	font := video.NewComposer(ff, video.ComposerConfig{FontFile: cfg.Video.FontFile, Logger: quiet}).FontFile()
	if font == "" {
		tools = append(tools, check{name: "font", optional: true, err: errors.New("none found, subtitles use ffmpeg's default font")})
	} else {
		tools = append(tools, check{name: "font", detail: font})
	}

	if cfg.Cache.Enabled {
		store, err := cache.Open(cache.Config{
			Dir:              cfg.Cache.Dir,
			Capacity:         cfg.Cache.MaxSizeMB << 20,
			CompressionLevel: cfg.Cache.CompressionLevel,
		})
		if err != nil {
			tools = append(tools, check{name: "cache", optional: true, err: err})
		} else {
			s := store.Stats()
			_ = store.Close()
			tools = append(tools, check{name: "cache", detail: fmt.Sprintf("%s (%d items, %s of %s)",
				cfg.Cache.Dir, s.ItemCount, humanize.Bytes(uint64(s.Size)), humanize.Bytes(uint64(s.Capacity)))}) //nolint:gosec
		}
	}

	deps := engines.Deps{Runner: runner, Converter: ff, Logger: quiet}
	var backends []check
	usable := 0
	for _, o := range cfg.Speech.Engines {
		name := o.Name
		if name == "" {
			name = o.Kind
		}
		c := check{name: name, optional: true, detail: fmt.Sprintf("%s, priority %d", o.Kind, o.Priority)}
		switch {
		case o.Disabled:
			c.err = errors.New("disabled")
		default:
			c.err = engines.Check(ctx, o, deps)
		}
		if c.err == nil {
			usable++
		}
		backends = append(backends, c)
	}

	var b strings.Builder
	b.WriteString(heading("Tools") + "\n")
	for _, c := range tools {
		b.WriteString(c.render())
	}
	b.WriteString(heading("Speech backends") + "\n")
	for _, c := range backends {
		b.WriteString(c.render())
	}
	b.WriteString("\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	var missing []string
	for _, c := range tools {
		if c.err != nil && !c.optional {
			missing = append(missing, c.name)
		}
	}
	if usable == 0 {
		missing = append(missing, "speech backend")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errDoctor, strings.Join(missing, ", "))
	}
	return nil
}
