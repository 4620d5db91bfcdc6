package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/deckcast/internal/config"
	"github.com/dgnsrekt/deckcast/internal/pipeline"
)

// runFlags are the per-run flags shared by generate and watch. They
// override the config file only when given.
type runFlags struct {
	policy          string
	workers         int
	audioDir        string
	outputDir       string
	workDir         string
	keepTemp        bool
	noPlaylist      bool
	contentFallback bool
	copyPath        bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.policy, "policy", "", "slide failure policy: skip or abort")
	fs.IntVar(&f.workers, "workers", 0, "slides prepared concurrently")
	fs.StringVar(&f.audioDir, "audio-dir", "", "directory for narration audio (default: next to the deck)")
	fs.StringVarP(&f.outputDir, "output-dir", "o", "", "directory for the final video (default: next to the deck)")
	fs.StringVar(&f.workDir, "work-dir", "", "reuse this work dir so an interrupted run can resume")
	fs.BoolVar(&f.keepTemp, "keep-temp", false, "keep intermediates when the run fails")
	fs.BoolVar(&f.noPlaylist, "no-playlist", false, "do not write an M3U playlist of the narration")
	fs.BoolVar(&f.contentFallback, "content-fallback", false, "narrate .slide text when no narration attribute exists")
	fs.BoolVar(&f.copyPath, "copy", false, "copy the final video path to the clipboard")
}

// apply folds explicitly given flags into cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	if fs.Changed("policy") {
		cfg.Policy = f.policy
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("audio-dir") {
		cfg.AudioDir = config.ExpandPath(f.audioDir)
	}
	if fs.Changed("output-dir") {
		cfg.OutputDir = config.ExpandPath(f.outputDir)
	}
	if fs.Changed("keep-temp") {
		cfg.KeepTemp = f.keepTemp
	}
	if fs.Changed("no-playlist") {
		cfg.Playlist = !f.noPlaylist
	}
	if fs.Changed("content-fallback") {
		cfg.ContentFallback = f.contentFallback
	}
	return cfg.Validate()
}

func (f *runFlags) options(cfg config.Config) (pipeline.Options, error) {
	policy, err := pipeline.ParsePolicy(cfg.Policy)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		ContentFallback: cfg.ContentFallback,
		AudioDir:        cfg.AudioDir,
		OutputDir:       cfg.OutputDir,
		WorkRoot:        cfg.WorkRoot,
		WorkDir:         config.ExpandPath(f.workDir),
		KeepOnFailure:   cfg.KeepTemp,
		Policy:          policy,
		Workers:         cfg.Workers,
		Playlist:        cfg.Playlist,
	}, nil
}

var (
	generateFlags runFlags

	generateCmd = &cobra.Command{
		Use:   "generate HTML_FILE AUDIO_PREFIX",
		Short: "Render a narrated deck to a video",
		Long: paragraph(fmt.Sprintf("\n%s every narrated slide of HTML_FILE, capture it, and join the clips into one video. "+
			"Narration audio is written as AUDIO_PREFIX_NN next to the deck or into --audio-dir.", keyword("Synthesize"))),
		Example: paragraph("deckcast generate talk.html talk\ndeckcast generate talk.html talk --policy abort --workers 3"),
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := generateFlags.apply(cmd, &cfg); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, log.Default())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			rep, err := generate(cmd.Context(), a, &generateFlags, args[0], args[1], os.Stderr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.FinalPath)
			return nil
		},
	}
)

// generate runs the pipeline once and prints a summary to w.
func generate(ctx context.Context, a *app, flags *runFlags, htmlPath, prefix string, w io.Writer) (*pipeline.Report, error) {
	opts, err := flags.options(a.cfg)
	if err != nil {
		return nil, err
	}

	opts.OnSlide = func(o pipeline.SlideOutcome) {
		if o.OK() {
			a.logger.Info("Slide done", "slide", o.Index, "backend", backendLabel(o), "duration", o.Duration.Round(time.Millisecond))
		}
	}

	p, err := a.pipeline(opts)
	if err != nil {
		return nil, err
	}
	rep, err := p.Run(ctx, htmlPath, prefix)
	if rep != nil && len(rep.Outcomes) > 0 {
		fmt.Fprint(w, renderSummary(rep))
	}
	if err != nil {
		return rep, err
	}

	if flags.copyPath {
		if cerr := clipboard.WriteAll(rep.FinalPath); cerr != nil {
			a.logger.Warn("Could not copy path to clipboard", "error", cerr)
		}
	}
	return rep, nil
}

func backendLabel(o pipeline.SlideOutcome) string {
	switch {
	case o.AudioDegraded:
		return "silence"
	case o.Backend != "":
		return o.Backend
	case o.AudioReused:
		return "existing"
	default:
		return "unknown"
	}
}

// renderSummary lists every slide and the run totals.
func renderSummary(rep *pipeline.Report) string {
	var b strings.Builder
	b.WriteString(heading("Slides") + "\n")
	for _, o := range rep.Outcomes {
		mark := okMark
		detail := backendLabel(o)
		if o.Duration > 0 {
			detail += " " + o.Duration.Round(100*time.Millisecond).String()
		}
		var notes []string
		if o.AudioDegraded {
			notes = append(notes, "no speech")
		}
		if o.ScreenshotDegraded {
			notes = append(notes, "placeholder frame")
		}
		if o.OK() && !o.Subtitled {
			notes = append(notes, "no subtitles")
		}
		if len(notes) > 0 {
			mark = warnMark
		}
		if !o.OK() {
			mark = failMark
			detail = fmt.Sprintf("%s: %v", o.Err.Stage, o.Err.Err)
			notes = nil
		}

		line := fmt.Sprintf("  %s %02d  %s", mark, o.Index, detail)
		if len(notes) > 0 {
			line += subtle(" (" + strings.Join(notes, ", ") + ")")
		}
		b.WriteString(line + "\n")
		b.WriteString("       " + subtle(truncate.StringWithTail(o.Narration, 60, "...")) + "\n")
	}

	b.WriteString(heading("Result") + "\n")
	fmt.Fprintf(&b, "  %d composed, %d failed, %s of video\n",
		rep.Composed, rep.Failed, rep.Duration.Round(time.Second))
	if rep.FinalPath != "" {
		fmt.Fprintf(&b, "  %s %s\n", keyword(rep.FinalPath), subtle(humanize.Bytes(uint64(rep.FinalSize)))) //nolint:gosec
	}
	if rep.PlaylistPath != "" {
		fmt.Fprintf(&b, "  %s\n", subtle(rep.PlaylistPath))
	}
	fmt.Fprintf(&b, "  %s\n\n", subtle("took "+rep.Elapsed.Round(time.Second).String()))
	return b.String()
}

func init() {
	generateFlags.register(generateCmd)
}
