package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const watchDebounce = 500 * time.Millisecond

var (
	watchFlags runFlags

	watchCmd = &cobra.Command{
		Use:   "watch HTML_FILE AUDIO_PREFIX",
		Short: "Re-render the video whenever the deck changes",
		Long: paragraph(fmt.Sprintf("\n%s HTML_FILE and render it again after every save. "+
			"Unchanged narration is reused, so only edited slides are synthesized again.", keyword("Watch"))),
		Example: paragraph("deckcast watch talk.html talk"),
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := watchFlags.apply(cmd, &cfg); err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("unable to watch: %w", err)
			}

			a, err := newApp(cmd.Context(), cfg, log.Default())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()
			render := func() {
				rep, err := generate(ctx, a, &watchFlags, args[0], args[1], os.Stderr)
				switch {
				case errors.Is(err, context.Canceled):
				case err != nil:
					log.Error("Render failed", "error", err)
				default:
					log.Info("Rendered", "path", rep.FinalPath)
				}
			}

			render()
			log.Info("Watching for changes", "file", args[0])
			return watchFile(ctx, args[0], watchDebounce, render)
		},
	}
)

// watchFile calls fn once per burst of writes to path, after delay of
// quiet. The parent directory is watched so editors that replace the file
// on save are handled. It returns when ctx is done.
func watchFile(ctx context.Context, path string, delay time.Duration, fn func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("unable to watch %s: %w", filepath.Dir(abs), err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				pending = time.After(delay)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watcher error", "error", err)

		case <-pending:
			pending = nil
			fn()
		}
	}
}

func init() {
	watchFlags.register(watchCmd)
}
