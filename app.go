package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/deckcast/internal/cache"
	"github.com/dgnsrekt/deckcast/internal/capture"
	"github.com/dgnsrekt/deckcast/internal/config"
	"github.com/dgnsrekt/deckcast/internal/luma"
	"github.com/dgnsrekt/deckcast/internal/pipeline"
	"github.com/dgnsrekt/deckcast/internal/proc"
	"github.com/dgnsrekt/deckcast/internal/speech"
	"github.com/dgnsrekt/deckcast/internal/speech/engines"
	"github.com/dgnsrekt/deckcast/internal/transcode"
	"github.com/dgnsrekt/deckcast/internal/video"
)

// app holds the long-lived components built from one configuration. A
// watch session reuses it across runs.
type app struct {
	cfg      config.Config
	logger   *log.Logger
	runner   *proc.Runner
	ff       *transcode.FFmpeg
	store    *cache.Store
	facade   *speech.Facade
	capturer *capture.Capturer
	composer *video.Composer
	concat   *video.Concatenator
}

func newApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.runner = proc.NewRunner(proc.Config{
		Timeout:     cfg.Tools.Timeout,
		GracePeriod: cfg.Tools.GracePeriod,
		Logger:      logger,
	})
	a.ff = transcode.New(transcode.Config{
		FFmpeg:       cfg.Tools.FFmpeg,
		FFprobe:      cfg.Tools.FFprobe,
		Timeout:      cfg.Tools.Timeout,
		ProbeTimeout: cfg.Tools.ProbeTimeout,
		Runner:       a.runner,
		Logger:       logger,
	})

	descs, err := engines.Build(ctx, cfg.Speech.Engines, engines.Deps{
		Runner:    a.runner,
		Converter: a.ff,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("speech backends: %w", err)
	}

	speechCfg := speech.Config{
		MinBytes:      cfg.Speech.MinBytes,
		ReuseMinBytes: cfg.Speech.ReuseMinBytes,
		Logger:        logger,
	}
	if cfg.Cache.Enabled {
		store, err := cache.Open(cache.Config{
			Dir:              cfg.Cache.Dir,
			Capacity:         cfg.Cache.MaxSizeMB << 20,
			CompressionLevel: cfg.Cache.CompressionLevel,
			MaxAge:           cfg.Cache.MaxAge,
		})
		if err != nil {
			logger.Warn("Audio cache unavailable", "dir", cfg.Cache.Dir, "error", err)
		} else {
			a.store = store
			speechCfg.Cache = store
		}
	}
	a.facade, err = speech.NewFacade(descs, speechCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.capturer, err = capture.New(capture.Config{
		Binary:            cfg.Tools.Chrome,
		Viewport:          capture.Size{Width: cfg.Capture.Width, Height: cfg.Capture.Height},
		VirtualTimeBudget: cfg.Capture.VirtualTimeBudget,
		SettleDelay:       cfg.Capture.SettleDelay,
		AttemptTimeout:    cfg.Capture.AttemptTimeout,
		MaxRetries:        cfg.Capture.MaxRetries,
		Backoff:           cfg.Capture.Backoff,
		MinBytes:          cfg.Capture.MinBytes,
		Placeholder:       cfg.Capture.Placeholder,
		Runner:            a.runner,
		Logger:            logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.composer = video.NewComposer(a.ff, video.ComposerConfig{
		Width:         cfg.Capture.Width,
		Height:        cfg.Capture.Height,
		FrameRate:     cfg.Video.FrameRate,
		FontFile:      cfg.Video.FontFile,
		FontSize:      cfg.Video.FontSize,
		SubtitleWidth: cfg.Video.SubtitleWidth,
		MinBytes:      cfg.Video.MinBytes,
		Logger:        logger,
	})
	a.concat = video.NewConcatenator(a.ff, cfg.Video.MinBytes, logger)
	return a, nil
}

// pipeline assembles a pipeline over the app's components.
func (a *app) pipeline(opts pipeline.Options) (*pipeline.Pipeline, error) {
	opts.Attribute = a.cfg.Attribute
	opts.AudioExt = strings.TrimPrefix(a.cfg.AudioFormat, ".")
	return pipeline.New(pipeline.Deps{
		Speech:       a.facade,
		Capturer:     a.capturer,
		Colors:       luma.Analyzer{},
		Composer:     a.composer,
		Concatenator: a.concat,
		Media:        a.ff,
		Logger:       a.logger,
	}, opts)
}

// Close persists the audio cache index.
func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	if s := a.store.Stats(); s.Hits+s.Misses > 0 {
		a.logger.Debug("Audio cache", "hits", s.Hits, "misses", s.Misses, "items", s.ItemCount)
	}
	return a.store.Close()
}
