package engines

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/deckcast/internal/proc"
	"github.com/dgnsrekt/deckcast/internal/speech"
)

// Backend kinds accepted in configuration. Preset names are accepted as
// kinds too.
const (
	KindXunfei    = "xunfei"
	KindFishAudio = "fishaudio"
	KindCommand   = "command"
)

// Default per-call timeouts by kind.
var defaultTimeouts = map[string]time.Duration{
	KindXunfei:    8 * time.Second,
	KindFishAudio: 15 * time.Second,
	KindCommand:   20 * time.Second,
}

// Options configures one backend entry.
type Options struct {
	Name     string        `mapstructure:"name"`
	Kind     string        `mapstructure:"kind"`
	Priority int           `mapstructure:"priority"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Disabled bool          `mapstructure:"disabled"`

	// Remote services.
	Endpoint          string `mapstructure:"endpoint"`
	AppID             string `mapstructure:"app_id"`
	APIKey            string `mapstructure:"api_key"`
	APISecret         string `mapstructure:"api_secret"`
	ReferenceID       string `mapstructure:"reference_id"`
	Speed             int    `mapstructure:"speed"`
	Volume            int    `mapstructure:"volume"`
	Pitch             int    `mapstructure:"pitch"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`

	// Local synthesizers.
	Preset   string   `mapstructure:"preset"`
	Binary   string   `mapstructure:"binary"`
	Args     []string `mapstructure:"args"`
	Stdin    bool     `mapstructure:"stdin"`
	Ext      string   `mapstructure:"ext"`
	Model    string   `mapstructure:"model"`
	Language string   `mapstructure:"language"`

	Voice string `mapstructure:"voice"`
}

// Deps are shared by the backends Build creates.
type Deps struct {
	Runner    *proc.Runner
	Converter Converter
	Logger    *log.Logger
}

// Kinds lists every accepted kind.
func Kinds() []string {
	return append([]string{KindXunfei, KindFishAudio, KindCommand}, PresetNames()...)
}

// Build creates descriptors for every enabled entry. Entries that cannot run
// here (missing credentials or binary) are skipped with a warning; an unknown
// kind is an error.
func Build(ctx context.Context, opts []Options, deps Deps) ([]speech.EngineDescriptor, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	var out []speech.EngineDescriptor
	for i, o := range opts {
		if o.Disabled {
			continue
		}
		if o.Name == "" {
			o.Name = o.Kind
		}

		backend, kind, err := newBackend(o, deps)
		if err != nil {
			if errors.Is(err, speech.ErrUnavailable) {
				logger.Warn("Skipping speech backend", "backend", o.Name, "reason", err)
				continue
			}
			return nil, fmt.Errorf("speech backend %d (%s): %w", i, o.Name, err)
		}

		if v, ok := backend.(speech.Validator); ok {
			if err := v.Validate(ctx); err != nil {
				logger.Warn("Skipping speech backend", "backend", o.Name, "reason", err)
				continue
			}
		}

		timeout := o.Timeout
		if timeout <= 0 {
			timeout = defaultTimeouts[kind]
		}
		priority := o.Priority
		if priority == 0 {
			priority = (i + 1) * 10
		}
		out = append(out, speech.EngineDescriptor{
			Name:     o.Name,
			Priority: priority,
			Timeout:  timeout,
			Backend:  backend,
		})
	}

	if len(out) == 0 {
		return nil, speech.ErrNoEngines
	}
	return out, nil
}

// Check reports whether o could run here, without synthesizing anything.
func Check(ctx context.Context, o Options, deps Deps) error {
	backend, _, err := newBackend(o, deps)
	if err != nil {
		return err
	}
	if v, ok := backend.(speech.Validator); ok {
		return v.Validate(ctx)
	}
	return nil
}

func newBackend(o Options, deps Deps) (speech.Backend, string, error) {
	switch o.Kind {
	case "":
		return nil, "", errors.New("kind is required")
	case KindXunfei:
		e, err := NewXunfeiEngine(XunfeiConfig{
			Endpoint:          o.Endpoint,
			AppID:             o.AppID,
			APIKey:            o.APIKey,
			APISecret:         o.APISecret,
			Voice:             o.Voice,
			Speed:             o.Speed,
			Volume:            o.Volume,
			Pitch:             o.Pitch,
			RequestsPerMinute: o.RequestsPerMinute,
		})
		return e, KindXunfei, err

	case KindFishAudio:
		e, err := NewFishAudioEngine(FishAudioConfig{
			Endpoint:          o.Endpoint,
			APIKey:            o.APIKey,
			ReferenceID:       o.ReferenceID,
			RequestsPerMinute: o.RequestsPerMinute,
		})
		return e, KindFishAudio, err
	}

	preset := o.Preset
	if o.Kind != KindCommand {
		preset = o.Kind
	}

	var cfg CommandConfig
	if preset != "" {
		p, ok := Preset(preset)
		if !ok {
			return nil, "", unknownKind(preset)
		}
		cfg = p
	} else if o.Kind != KindCommand {
		return nil, "", unknownKind(o.Kind)
	}

	cfg.Name = o.Name
	if o.Binary != "" {
		cfg.Binary = o.Binary
	}
	if len(o.Args) > 0 {
		cfg.Args = o.Args
		cfg.Stdin = o.Stdin
	}
	if o.Ext != "" {
		cfg.Ext = o.Ext
	}
	if o.Voice != "" {
		cfg.Voice = o.Voice
	}
	if o.Model != "" {
		cfg.Model = o.Model
	}
	if o.Language != "" {
		cfg.Language = o.Language
	}
	if o.RequestsPerMinute > 0 {
		cfg.RequestsPerMinute = o.RequestsPerMinute
	}

	e, err := NewCommandEngine(cfg, deps.Runner, deps.Converter)
	return e, KindCommand, err
}

// unknownKind reports an unknown kind with the closest known one, if any.
func unknownKind(kind string) error {
	if matches := fuzzy.Find(kind, Kinds()); len(matches) > 0 {
		return fmt.Errorf("unknown backend kind %q (did you mean %q?)", kind, matches[0].Str)
	}
	return fmt.Errorf("unknown backend kind %q, expected one of %v", kind, Kinds())
}
