package engines

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgnsrekt/deckcast/internal/proc"
	"github.com/dgnsrekt/deckcast/internal/speech"
)

// Converter transcodes an audio file into the format implied by out's
// extension.
type Converter interface {
	ConvertAudio(ctx context.Context, in, out string) error
}

// CommandConfig describes a local synthesizer invocation. Args may contain
// the placeholders {text}, {out}, {voice}, {model} and {lang}.
type CommandConfig struct {
	Name   string
	Binary string
	Args   []string

	// Stdin sends the text on standard input instead of as an argument.
	Stdin bool

	// Ext is the format the tool writes, e.g. ".aiff". When it differs from
	// the output extension the result is converted.
	Ext string

	Voice    string
	Model    string
	Language string

	// RequestsPerMinute limits tools that call a remote service. Zero means
	// unlimited.
	RequestsPerMinute int
}

// CommandEngine runs a local synthesizer binary.
type CommandEngine struct {
	cfg       CommandConfig
	runner    *proc.Runner
	converter Converter
	limiter   *rate.Limiter
}

// Preset returns the built-in configuration for a known synthesizer.
func Preset(name string) (CommandConfig, bool) {
	switch name {
	case "say":
		return CommandConfig{
			Name:   "say",
			Binary: "say",
			Args:   []string{"-v", "{voice}", "-o", "{out}", "-f", "-"},
			Stdin:  true,
			Ext:    ".aiff",
			Voice:  "Tingting",
		}, true
	case "espeak":
		return CommandConfig{
			Name:   "espeak",
			Binary: "espeak-ng",
			Args:   []string{"-v", "{voice}", "-w", "{out}", "--stdin"},
			Stdin:  true,
			Ext:    ".wav",
			Voice:  "cmn",
		}, true
	case "piper":
		return CommandConfig{
			Name:   "piper",
			Binary: "piper",
			Args:   []string{"--model", "{model}", "--output_file", "{out}"},
			Stdin:  true,
			Ext:    ".wav",
			Model:  "zh_CN-huayan-medium",
		}, true
	case "gtts":
		return CommandConfig{
			Name:              "gtts",
			Binary:            "gtts-cli",
			Args:              []string{"-", "--lang", "{lang}", "--output", "{out}"},
			Stdin:             true,
			Ext:               ".mp3",
			Language:          "zh-CN",
			RequestsPerMinute: 50,
		}, true
	}
	return CommandConfig{}, false
}

// PresetNames lists the built-in synthesizers.
func PresetNames() []string {
	return []string{"say", "espeak", "piper", "gtts"}
}

// NewCommandEngine creates an engine. conv may be nil when the tool already
// writes the output format.
func NewCommandEngine(cfg CommandConfig, runner *proc.Runner, conv Converter) (*CommandEngine, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("command engine %q: binary is required", cfg.Name)
	}
	if runner == nil {
		runner = proc.NewRunner(proc.Config{})
	}
	e := &CommandEngine{cfg: cfg, runner: runner, converter: conv}
	if cfg.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return e, nil
}

// Synthesize implements speech.Backend.
func (e *CommandEngine) Synthesize(ctx context.Context, text, outputPath string) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit wait: %w", e.cfg.Name, err)
		}
	}

	target := outputPath
	convert := e.cfg.Ext != "" && !strings.EqualFold(e.cfg.Ext, filepath.Ext(outputPath))
	if convert {
		if e.converter == nil {
			return fmt.Errorf("%s: writes %s but no converter is configured", e.cfg.Name, e.cfg.Ext)
		}
		target = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".src" + e.cfg.Ext
		defer func() { _ = os.Remove(target) }()
	}

	c := proc.Command{Name: e.cfg.Binary, Args: e.expand(text, target)}
	if e.cfg.Stdin {
		c.Stdin = strings.NewReader(text)
	}
	if _, err := e.runner.Exec(ctx, c); err != nil {
		return fmt.Errorf("%s: %w", e.cfg.Name, err)
	}

	if convert {
		if err := e.converter.ConvertAudio(ctx, target, outputPath); err != nil {
			return fmt.Errorf("%s: convert %s: %w", e.cfg.Name, e.cfg.Ext, err)
		}
	}
	return nil
}

// Validate implements speech.Validator.
func (e *CommandEngine) Validate(context.Context) error {
	if _, err := exec.LookPath(e.cfg.Binary); err != nil {
		return fmt.Errorf("%s not found: %w", e.cfg.Binary, speech.ErrUnavailable)
	}
	return nil
}

func (e *CommandEngine) expand(text, out string) []string {
	r := strings.NewReplacer(
		"{text}", text,
		"{out}", out,
		"{voice}", e.cfg.Voice,
		"{model}", e.cfg.Model,
		"{lang}", e.cfg.Language,
	)
	args := make([]string, len(e.cfg.Args))
	for i, a := range e.cfg.Args {
		args[i] = r.Replace(a)
	}
	return args
}

var (
	_ speech.Backend   = (*CommandEngine)(nil)
	_ speech.Validator = (*CommandEngine)(nil)
)
