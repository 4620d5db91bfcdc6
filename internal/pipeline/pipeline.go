// Package pipeline turns a narrated HTML deck into one video: narration is
// synthesized, each slide is captured and composed into a clip, and the
// clips are joined in document order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/deckcast/internal/capture"
	"github.com/dgnsrekt/deckcast/internal/deck"
	"github.com/dgnsrekt/deckcast/internal/luma"
	"github.com/dgnsrekt/deckcast/internal/runstore"
	"github.com/dgnsrekt/deckcast/internal/speech"
	"github.com/dgnsrekt/deckcast/internal/video"
)

// Policy decides what a slide failure does to the run.
type Policy string

const (
	// PolicySkip leaves failed slides out of the final video.
	PolicySkip Policy = "skip"
	// PolicyAbort stops the run at the first failed slide.
	PolicyAbort Policy = "abort"
)

// ParsePolicy accepts "skip" or "abort"; empty means skip.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyAbort:
		return PolicyAbort, nil
	default:
		return "", fmt.Errorf("unknown policy %q (want skip or abort)", s)
	}
}

// Synthesizer produces narration audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outputPath string) speech.Result
}

// Capturer renders one slide.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request) (capture.Shot, error)
}

// ColorPicker chooses subtitle colors for a screenshot.
type ColorPicker interface {
	PickColors(path string) luma.Colors
}

// Composer renders one clip.
type Composer interface {
	Compose(ctx context.Context, req video.ClipRequest) (video.Clip, error)
}

// Concatenator joins clips.
type Concatenator interface {
	Concat(ctx context.Context, clips []string, manifestPath, output string) (string, error)
}

// Media measures and fabricates audio.
type Media interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	Silence(ctx context.Context, out string, d time.Duration) error
}

// Deps are the collaborators of a run. All are required except Logger.
type Deps struct {
	Speech       Synthesizer
	Capturer     Capturer
	Colors       ColorPicker
	Composer     Composer
	Concatenator Concatenator
	Media        Media
	Logger       *log.Logger
}

// Options control a run.
type Options struct {
	// Attribute carries narration; defaults to data-speech.
	Attribute       string
	ContentFallback bool

	// AudioDir and OutputDir default to the directory of the HTML file.
	AudioDir  string
	OutputDir string
	// AudioExt is the narration container, without dot. Defaults to mp3.
	AudioExt string

	// WorkRoot holds fresh work dirs; WorkDir resumes a specific one.
	WorkRoot      string
	WorkDir       string
	KeepOnFailure bool

	Policy   Policy
	Workers  int
	Playlist bool

	// OnSlide is called after each slide is resolved, in slide order.
	OnSlide func(SlideOutcome)
	// Now stamps the output name. Defaults to time.Now.
	Now func() time.Time
}

// RunContext is the state of one run.
type RunContext struct {
	WorkDir        string
	AudioPrefix    string
	Slides         []*deck.Slide
	FinalVideoPath string
}

// SlideOutcome is what happened to one slide.
type SlideOutcome struct {
	Index              int
	Narration          string
	Backend            string
	AudioReused        bool
	AudioDegraded      bool
	ScreenshotDegraded bool
	Subtitled          bool
	Duration           time.Duration
	Err                *SlideError
}

// OK reports whether the slide produced a clip.
func (o SlideOutcome) OK() bool { return o.Err == nil }

// Report summarizes a run. It is returned, partially filled, even when the
// run fails.
type Report struct {
	Run          RunContext
	Outcomes     []SlideOutcome
	Composed     int
	Failed       int
	Errors       []*SlideError
	FinalPath    string
	FinalSize    int64
	PlaylistPath string
	// Duration is the sum of the composed clip durations.
	Duration time.Duration
	Elapsed  time.Duration
}

// Pipeline runs decks through its collaborators.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger *log.Logger
}

// New validates deps and applies option defaults.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Speech == nil:
		return nil, errors.New("pipeline: speech synthesizer is required")
	case deps.Capturer == nil:
		return nil, errors.New("pipeline: capturer is required")
	case deps.Colors == nil:
		return nil, errors.New("pipeline: color picker is required")
	case deps.Composer == nil:
		return nil, errors.New("pipeline: composer is required")
	case deps.Concatenator == nil:
		return nil, errors.New("pipeline: concatenator is required")
	case deps.Media == nil:
		return nil, errors.New("pipeline: media prober is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}

	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	if opts.AudioExt == "" {
		opts.AudioExt = "mp3"
	}
	opts.AudioExt = strings.TrimPrefix(opts.AudioExt, ".")
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{deps: deps, opts: opts, logger: deps.Logger.WithPrefix("pipeline")}, nil
}

// Run renders htmlPath into a video. Per-slide failures are collected in
// the report; input, extraction and concatenation failures and the abort
// policy end the run with an error. The work dir is cleaned up on every
// path.
func (p *Pipeline) Run(ctx context.Context, htmlPath, audioPrefix string) (*Report, error) {
	started := time.Now()
	rep := &Report{Run: RunContext{AudioPrefix: audioPrefix}}
	defer func() { rep.Elapsed = time.Since(started) }()

	if strings.TrimSpace(audioPrefix) == "" || strings.ContainsAny(audioPrefix, `/\`) {
		return rep, fmt.Errorf("%w: invalid audio prefix %q", ErrInputMissing, audioPrefix)
	}

	src, err := os.ReadFile(htmlPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rep, fmt.Errorf("%w: %s", ErrInputMissing, htmlPath)
		}
		return rep, fmt.Errorf("read %s: %w", htmlPath, err)
	}

	ex := deck.Extractor{Attribute: p.opts.Attribute, ContentFallback: p.opts.ContentFallback}
	slides, err := ex.Extract(src)
	if err != nil {
		return rep, fmt.Errorf("extract narration: %w", err)
	}
	if len(slides) == 0 {
		return rep, fmt.Errorf("%w: no narration found in %s", ErrNoSlides, htmlPath)
	}
	rep.Run.Slides = slides
	p.logger.Info("Extracted narration", "slides", len(slides), "file", filepath.Base(htmlPath))

	absHTML, err := filepath.Abs(htmlPath)
	if err != nil {
		return rep, err
	}
	baseDir := filepath.Dir(absHTML)
	audioDir := firstNonEmpty(p.opts.AudioDir, baseDir)
	outputDir := firstNonEmpty(p.opts.OutputDir, baseDir)
	for _, dir := range []string{audioDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return rep, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	prefixLock, err := runstore.AcquireNamedLock(audioDir, "."+audioPrefix+".lock")
	if err != nil {
		return rep, fmt.Errorf("audio prefix %q: %w", audioPrefix, err)
	}
	defer func() { _ = prefixLock.Release() }()

	ws, err := runstore.Open(runstore.Options{
		Root:          p.opts.WorkRoot,
		Prefix:        "deckcast-" + audioPrefix,
		Dir:           p.opts.WorkDir,
		KeepOnFailure: p.opts.KeepOnFailure,
		Logger:        p.deps.Logger,
	})
	if err != nil {
		return rep, fmt.Errorf("open work dir: %w", err)
	}
	rep.Run.WorkDir = ws.Dir

	succeeded := false
	defer func() {
		if cerr := ws.Close(succeeded); cerr != nil {
			p.logger.Warn("Work dir cleanup incomplete", "dir", ws.Dir, "error", cerr)
		}
	}()

	r := &run{
		p:        p,
		ws:       ws,
		src:      src,
		baseDir:  baseDir,
		audioDir: audioDir,
		prefix:   audioPrefix,
		rep:      rep,

		durations: make(map[int]time.Duration, len(slides)),
	}
	if err := r.slides(ctx); err != nil {
		return rep, err
	}

	var clips []string
	for _, s := range slides {
		if s.ClipPath != "" {
			clips = append(clips, s.ClipPath)
		}
	}
	if len(clips) == 0 {
		return rep, fmt.Errorf("%w: every slide failed", ErrNoSlides)
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	stem := strings.TrimSuffix(filepath.Base(htmlPath), filepath.Ext(htmlPath))
	final := filepath.Join(outputDir, fmt.Sprintf("%s_%s.mp4", stem, p.opts.Now().Format("2006-01-02_15-04-05")))
	manifest := ws.Path(audioPrefix + "_concat.txt")
	out, err := p.deps.Concatenator.Concat(ctx, clips, manifest, final)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		return rep, fmt.Errorf("%w: %w", ErrConcatenation, err)
	}
	rep.FinalPath = out
	rep.Run.FinalVideoPath = out
	if st, err := os.Stat(out); err == nil {
		rep.FinalSize = st.Size()
	}

	if p.opts.Playlist {
		r.playlist(ctx)
	}

	succeeded = true
	return rep, nil
}

// run carries the state of one Pipeline.Run.
type run struct {
	p        *Pipeline
	ws       *runstore.Workspace
	src      []byte
	baseDir  string
	audioDir string
	prefix   string
	rep      *Report

	durations map[int]time.Duration
}

// slides resolves and composes every slide in order. With more than one
// worker, audio and screenshots are prepared ahead concurrently; each
// worker touches only its own slide.
func (r *run) slides(ctx context.Context) error {
	slides := r.rep.Run.Slides
	prepared := make([]*SlideError, len(slides))
	reused := make([]bool, len(slides))

	if r.p.opts.Workers > 1 {
		var g errgroup.Group
		g.SetLimit(r.p.opts.Workers)
		for i, s := range slides {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				prepared[i], reused[i] = r.prepare(ctx, s)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, s := range slides {
		if err := ctx.Err(); err != nil {
			return err
		}

		serr := prepared[i]
		if r.p.opts.Workers <= 1 {
			serr, reused[i] = r.prepare(ctx, s)
		}
		if serr == nil {
			serr = r.compose(ctx, s)
		}
		if serr != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		outcome := SlideOutcome{
			Index:              s.Index,
			Narration:          s.Narration,
			Backend:            s.Backend,
			AudioReused:        reused[i],
			AudioDegraded:      s.AudioDegraded,
			ScreenshotDegraded: s.ScreenshotDegraded,
			Subtitled:          s.Subtitled,
			Err:                serr,
		}
		if serr == nil {
			outcome.Duration = r.durations[s.Index]
			r.rep.Composed++
			r.rep.Duration += outcome.Duration
		} else {
			r.rep.Failed++
			r.rep.Errors = append(r.rep.Errors, serr)
			r.p.logger.Error("Slide failed", "slide", s.Index, "stage", serr.Stage, "error", serr.Err)
		}
		r.rep.Outcomes = append(r.rep.Outcomes, outcome)
		if r.p.opts.OnSlide != nil {
			r.p.opts.OnSlide(outcome)
		}

		if serr != nil && r.p.opts.Policy == PolicyAbort {
			return fmt.Errorf("%w: %w", ErrAborted, serr)
		}
	}
	return nil
}

// prepare resolves audio then the screenshot of s.
func (r *run) prepare(ctx context.Context, s *deck.Slide) (*SlideError, bool) {
	reused, err := r.audio(ctx, s)
	if err != nil {
		return &SlideError{Index: s.Index, Stage: StageAudio, Err: err}, false
	}
	if err := r.screenshot(ctx, s); err != nil {
		return &SlideError{Index: s.Index, Stage: StageScreenshot, Err: err}, reused
	}
	return nil, reused
}

func (r *run) audio(ctx context.Context, s *deck.Slide) (bool, error) {
	out := filepath.Join(r.audioDir, s.Name(r.prefix, r.p.opts.AudioExt))
	res := r.p.deps.Speech.Synthesize(ctx, s.Narration, out)
	if res.OK() {
		s.AudioPath = res.Path
		s.Backend = res.Backend
		r.p.logger.Info("Narration ready",
			"slide", s.Index,
			"backend", firstNonEmpty(res.Backend, "existing"),
			"cached", res.Cached)
		return res.Reused, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	// Every backend failed: keep the slide with a silent track of the
	// estimated length.
	r.p.logger.Warn("Speech synthesis exhausted, using silence",
		"slide", s.Index,
		"reason", res.Reason,
		"error", res.Err)
	silent := r.ws.Path(s.Name(r.prefix, "silence."+r.p.opts.AudioExt))
	if err := r.p.deps.Media.Silence(ctx, silent, s.EstimatedDuration); err != nil {
		return false, errors.Join(res.Err, fmt.Errorf("silence fallback: %w", err))
	}
	s.AudioPath = silent
	s.AudioDegraded = true
	return false, nil
}

func (r *run) screenshot(ctx context.Context, s *deck.Slide) error {
	out := filepath.Join(r.ws.Dir, s.Name(r.prefix, "png"))
	// A resumed work dir keeps screenshots for the next attempt.
	if !r.ws.Resumable() {
		r.ws.Track(out)
	}
	r.ws.Track(strings.TrimSuffix(out, ".png") + ".capture.html")

	shot, err := r.p.deps.Capturer.Capture(ctx, capture.Request{
		HTML:       r.src,
		BaseDir:    r.baseDir,
		Selector:   s.Selector,
		Element:    s.Element,
		Output:     out,
		MaxRetries: -1,
	})
	if err != nil {
		return err
	}
	s.ScreenshotPath = shot.Path
	s.ScreenshotDegraded = shot.Degraded
	return nil
}

func (r *run) compose(ctx context.Context, s *deck.Slide) *SlideError {
	duration := s.EstimatedDuration
	if d, err := r.p.deps.Media.ProbeDuration(ctx, s.AudioPath); err == nil {
		duration = d
	} else {
		r.p.logger.Debug("Audio duration unknown, using estimate", "slide", s.Index, "error", err)
	}

	out := r.ws.Path(s.Name(r.prefix, "mp4"))
	r.ws.Track(strings.TrimSuffix(out, ".mp4") + ".subtitle.txt")

	clip, err := r.p.deps.Composer.Compose(ctx, video.ClipRequest{
		Screenshot: s.ScreenshotPath,
		Audio:      s.AudioPath,
		Subtitle:   s.Narration,
		Colors:     r.p.deps.Colors.PickColors(s.ScreenshotPath),
		Duration:   duration,
		Output:     out,
	})
	if err != nil {
		return &SlideError{Index: s.Index, Stage: StageCompose, Err: err}
	}
	if err := s.SetClip(clip.Path); err != nil {
		return &SlideError{Index: s.Index, Stage: StageCompose, Err: err}
	}
	s.Subtitled = clip.Subtitled
	r.durations[s.Index] = clip.Duration
	return nil
}

func (r *run) playlist(ctx context.Context) {
	var entries []video.PlaylistEntry
	for _, s := range r.rep.Run.Slides {
		if s.AudioPath == "" || s.AudioDegraded {
			continue
		}
		d, _ := r.p.deps.Media.ProbeDuration(ctx, s.AudioPath)
		entries = append(entries, video.PlaylistEntry{
			Path:     s.AudioPath,
			Title:    fmt.Sprintf("Slide %d", s.Index),
			Duration: d,
		})
	}
	if len(entries) == 0 {
		return
	}

	path := filepath.Join(r.audioDir, r.prefix+"_playlist.m3u")
	if err := video.WritePlaylist(path, entries); err != nil {
		r.p.logger.Warn("Could not write playlist", "path", path, "error", err)
		return
	}
	r.rep.PlaylistPath = path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
