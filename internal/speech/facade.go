package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"
)

const (
	// DefaultMinBytes is the smallest file accepted as synthesized audio.
	DefaultMinBytes = 100
	// DefaultReuseMinBytes is the smallest existing file reused without
	// synthesizing again.
	DefaultReuseMinBytes = 1000
)

// AudioCache stores accepted audio by content key.
type AudioCache interface {
	Get(key string) (audio []byte, backend string, ok bool)
	Put(key string, audio []byte, backend string) error
}

// Config holds facade settings.
type Config struct {
	// MinBytes an output must reach to be accepted.
	MinBytes int64
	// ReuseMinBytes an existing output without a narration key must reach
	// to skip synthesis. Negative disables reuse.
	ReuseMinBytes int64
	// Cache is optional.
	Cache  AudioCache
	Logger *log.Logger
}

// Facade tries backends in priority order and returns the first accepted
// audio. It is safe for concurrent use with distinct output paths.
type Facade struct {
	engines  []EngineDescriptor
	minBytes int64
	reuseMin int64
	cache    AudioCache
	logger   *log.Logger
	keySalt  string
}

// NewFacade builds a facade over engines. The order is fixed here.
func NewFacade(engines []EngineDescriptor, cfg Config) (*Facade, error) {
	if len(engines) == 0 {
		return nil, ErrNoEngines
	}
	seen := make(map[string]bool, len(engines))
	names := make([]string, 0, len(engines))
	for _, e := range engines {
		if e.Name == "" || e.Backend == nil {
			return nil, fmt.Errorf("invalid engine descriptor %q", e.Name)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate engine name %q", e.Name)
		}
		seen[e.Name] = true
	}

	sorted := SortEngines(engines)
	for _, e := range sorted {
		names = append(names, e.Name)
	}

	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	if cfg.ReuseMinBytes == 0 {
		cfg.ReuseMinBytes = DefaultReuseMinBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Facade{
		engines:  sorted,
		minBytes: cfg.MinBytes,
		reuseMin: cfg.ReuseMinBytes,
		cache:    cfg.Cache,
		logger:   cfg.Logger.WithPrefix("speech"),
		keySalt:  strings.Join(names, ","),
	}, nil
}

// Engines returns the descriptors in the order they are tried.
func (f *Facade) Engines() []EngineDescriptor {
	out := make([]EngineDescriptor, len(f.engines))
	copy(out, f.engines)
	return out
}

// Synthesize writes audio for text to outputPath using the first backend
// whose output is accepted. Later backends are never called once one
// succeeds.
func (f *Facade) Synthesize(ctx context.Context, text, outputPath string) Result {
	if size, ok := f.reusable(text, outputPath); ok {
		f.logger.Debug("Reusing existing audio", "path", outputPath, "bytes", size)
		res := Success("", outputPath, size)
		res.Reused = true
		return res
	}

	key := f.cacheKey(text, outputPath)
	if f.cache != nil {
		if audio, backend, ok := f.cache.Get(key); ok && int64(len(audio)) >= f.minBytes {
			if err := writeAtomic(outputPath, audio); err == nil {
				f.writeKey(text, outputPath)
				f.logger.Debug("Audio cache hit", "backend", backend, "path", outputPath)
				res := Success(backend, outputPath, int64(len(audio)))
				res.Cached = true
				return res
			}
		}
	}

	var attempts []Attempt
	var errs []error
	for _, e := range f.engines {
		if err := ctx.Err(); err != nil {
			res := Failure("", ReasonCanceled, err)
			res.Attempts = attempts
			return res
		}

		start := time.Now()
		res := f.attempt(ctx, e, text, outputPath)
		if res.OK() {
			res.Attempts = attempts
			f.logger.Info("Synthesized",
				"backend", e.Name,
				"bytes", res.Bytes,
				"elapsed", time.Since(start).Round(time.Millisecond),
				"text", truncate.StringWithTail(text, 40, "..."))
			f.writeKey(text, outputPath)
			f.store(key, res)
			return res
		}

		f.logger.Warn("Backend rejected",
			"backend", e.Name,
			"reason", res.Reason,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", res.Err)
		attempts = append(attempts, Attempt{
			Backend: e.Name,
			Reason:  res.Reason,
			Err:     res.Err,
			Elapsed: time.Since(start),
		})
		errs = append(errs, res.Err)

		if res.Reason == ReasonCanceled {
			res.Attempts = attempts
			return res
		}
	}

	res := Failure("", ReasonExhausted, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...)))
	res.Attempts = attempts
	return res
}

// attempt runs one backend into a private partial file and promotes it to
// outputPath only if it is accepted.
func (f *Facade) attempt(ctx context.Context, e EngineDescriptor, text, outputPath string) Result {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	partial := partialPath(outputPath, e.Name)
	_ = os.Remove(partial)

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Backend.Synthesize(actx, text, partial) }()

	var err error
	select {
	case err = <-done:
	case <-actx.Done():
		// The backend may still be writing; clean up once it gives up.
		go func() {
			<-done
			_ = os.Remove(partial)
		}()
		_ = os.Remove(partial)
		return f.fail(ctx, e.Name, actx.Err())
	}

	if err != nil {
		_ = os.Remove(partial)
		if actx.Err() != nil {
			return f.fail(ctx, e.Name, fmt.Errorf("%w: %w", actx.Err(), err))
		}
		return Failure(e.Name, ReasonError, &AttemptError{Backend: e.Name, Reason: ReasonError, Cause: err})
	}

	st, err := os.Stat(partial)
	if err != nil || st.Size() < f.minBytes {
		_ = os.Remove(partial)
		cause := ErrUndersized
		if err == nil {
			cause = fmt.Errorf("%w: %d bytes", ErrUndersized, st.Size())
		}
		return Failure(e.Name, ReasonUndersized, &AttemptError{Backend: e.Name, Reason: ReasonUndersized, Cause: cause})
	}

	if err := os.Rename(partial, outputPath); err != nil {
		_ = os.Remove(partial)
		return Failure(e.Name, ReasonError, &AttemptError{Backend: e.Name, Reason: ReasonError, Cause: err})
	}
	return Success(e.Name, outputPath, st.Size())
}

func (f *Facade) fail(parent context.Context, backend string, cause error) Result {
	reason := ReasonTimeout
	if parent.Err() != nil {
		reason = ReasonCanceled
	}
	return Failure(backend, reason, &AttemptError{Backend: backend, Reason: reason, Cause: cause})
}

func (f *Facade) store(key string, res Result) {
	if f.cache == nil || res.Cached {
		return
	}
	audio, err := os.ReadFile(res.Path)
	if err != nil {
		return
	}
	if err := f.cache.Put(key, audio, res.Backend); err != nil {
		f.logger.Debug("Audio cache write failed", "error", err)
	}
}

// reusable reports whether outputPath already holds audio for text. Audio
// written here carries a narration key and only needs MinBytes; audio
// without a key came from elsewhere and must reach ReuseMinBytes.
func (f *Facade) reusable(text, outputPath string) (int64, bool) {
	if f.reuseMin < 0 {
		return 0, false
	}
	st, err := os.Stat(outputPath)
	if err != nil || !st.Mode().IsRegular() {
		return 0, false
	}

	recorded, err := os.ReadFile(KeyPath(outputPath))
	switch {
	case err == nil:
		if strings.TrimSpace(string(recorded)) != narrationKey(text) {
			f.logger.Debug("Narration changed", "path", outputPath)
			return st.Size(), false
		}
		return st.Size(), st.Size() >= f.minBytes
	case errors.Is(err, os.ErrNotExist):
		return st.Size(), st.Size() >= f.reuseMin
	default:
		return st.Size(), false
	}
}

func (f *Facade) writeKey(text, outputPath string) {
	if err := writeAtomic(KeyPath(outputPath), []byte(narrationKey(text)+"\n")); err != nil {
		f.logger.Debug("Narration key write failed", "path", outputPath, "error", err)
	}
}

// KeyPath is the hidden file recording which narration produced outputPath.
func KeyPath(outputPath string) string {
	dir, base := filepath.Split(outputPath)
	return filepath.Join(dir, "."+base+".key")
}

func narrationKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (f *Facade) cacheKey(text, outputPath string) string {
	h := sha256.New()
	h.Write([]byte(f.keySalt))
	h.Write([]byte{0})
	h.Write([]byte(filepath.Ext(outputPath)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// partialPath keeps the extension so format-sniffing tools still work.
func partialPath(outputPath, backend string) string {
	dir, base := filepath.Split(outputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, backend)
	return filepath.Join(dir, "."+stem+"."+safe+".partial"+ext)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
