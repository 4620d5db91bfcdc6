package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Workspace is a locked scratch directory for one run. Every intermediate
// created through it is removed by Close.
type Workspace struct {
	Dir string

	fresh         bool
	keepOnFailure bool
	lock          RunLock
	logger        *log.Logger

	mu      sync.Mutex
	tracked []string
	closed  bool
}

// Options configure Open.
type Options struct {
	// Root holds fresh work dirs. Defaults to the system temp dir.
	Root string
	// Prefix names fresh work dirs.
	Prefix string
	// Dir reuses an existing work dir instead of creating one. Only tracked
	// files are removed from it.
	Dir string
	// KeepOnFailure leaves everything in place when the run fails.
	KeepOnFailure bool

	Logger *log.Logger
}

// Open creates (or reuses) and locks a work dir.
func Open(opts Options) (*Workspace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	w := &Workspace{keepOnFailure: opts.KeepOnFailure, logger: logger}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		w.Dir = opts.Dir
	} else {
		root := opts.Root
		if root == "" {
			root = os.TempDir()
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create work root: %w", err)
		}
		prefix := opts.Prefix
		if prefix == "" {
			prefix = "deckcast"
		}
		dir, err := os.MkdirTemp(root, prefix+"-*")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		w.Dir = dir
		w.fresh = true
	}

	abs, err := filepath.Abs(w.Dir)
	if err == nil {
		w.Dir = abs
	}

	lock, err := AcquireRunLock(w.Dir)
	if err != nil {
		if w.fresh {
			_ = os.RemoveAll(w.Dir)
		}
		return nil, err
	}
	w.lock = lock
	return w, nil
}

// Path returns name inside the work dir and tracks it for cleanup.
func (w *Workspace) Path(name string) string {
	p := filepath.Join(w.Dir, name)
	w.Track(p)
	return p
}

// Resumable reports whether the dir outlives the run, i.e. it was given
// explicitly rather than created fresh.
func (w *Workspace) Resumable() bool { return !w.fresh }

// Track registers files for removal. Paths outside the work dir are ignored.
func (w *Workspace) Track(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		if w.contains(p) {
			w.tracked = append(w.tracked, p)
		}
	}
}

// Close releases the lock and removes intermediates. After a failed run
// with KeepOnFailure set, everything is left for inspection. Close is
// idempotent.
func (w *Workspace) Close(success bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if err := w.lock.Release(); err != nil {
		errs = append(errs, err)
	}

	if !success && w.keepOnFailure {
		w.logger.Info("Keeping work dir after failure", "dir", w.Dir)
		return errors.Join(errs...)
	}

	if w.fresh {
		if err := os.RemoveAll(w.Dir); err != nil {
			errs = append(errs, fmt.Errorf("remove work dir: %w", err))
		}
		return errors.Join(errs...)
	}

	for _, p := range w.tracked {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Workspace) contains(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(w.Dir, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
