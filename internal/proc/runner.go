// Package proc runs external programs under a hard deadline. A program that
// outlives its deadline is interrupted, given a grace period, and then killed
// together with every child it spawned.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrTimeout is returned (wrapped) when a program exceeds its deadline.
var ErrTimeout = errors.New("process timed out")

const (
	defaultTimeout     = 30 * time.Second
	defaultGracePeriod = 500 * time.Millisecond

	// stderrTail bounds how much stderr is kept in errors.
	stderrTail = 2048
)

// Config holds runner settings.
type Config struct {
	// Timeout applied when the caller passes a zero timeout.
	Timeout time.Duration

	// Time to wait after SIGINT before sending SIGKILL.
	GracePeriod time.Duration

	// Extra environment entries appended to the inherited environment.
	Env []string

	Logger *log.Logger
}

// Runner executes commands with timeout protection.
type Runner struct {
	timeout time.Duration
	grace   time.Duration
	env     []string
	logger  *log.Logger
}

// Command describes one invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Stdin   io.Reader
	Timeout time.Duration
}

// Result carries the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Error describes a failed invocation.
type Error struct {
	Name     string
	Args     []string
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Name, e.Err)
	if e.Stderr != "" {
		msg += ", stderr: " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewRunner creates a runner, applying defaults for unset fields.
func NewRunner(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Runner{
		timeout: cfg.Timeout,
		grace:   cfg.GracePeriod,
		env:     cfg.Env,
		logger:  cfg.Logger,
	}
}

// Run executes name with args using the runner's default timeout.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return r.Exec(ctx, Command{Name: name, Args: args})
}

// Exec executes c. The returned error is a *Error; errors.Is(err, ErrTimeout)
// reports whether the deadline was hit.
func (r *Runner) Exec(ctx context.Context, c Command) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}

	// stdin must be wired before start; an empty reader keeps tools from
	// waiting on the terminal.
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	} else {
		cmd.Stdin = strings.NewReader("")
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setProcessGroup(cmd)
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = r.grace

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}

	if cmd.Process != nil && ctx.Err() != nil {
		// Reap anything the program left behind in its group.
		killGroup(cmd.Process)
	}

	r.logger.Debug("Subprocess finished",
		"command", c.Name,
		"duration", res.Duration.Round(time.Millisecond),
		"error", err)

	if err == nil && ctx.Err() == nil {
		return res, nil
	}

	perr := &Error{Name: c.Name, Args: c.Args, Stderr: tail(stderr.String()), Err: err}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.logger.Warn("Command timed out", "command", c.Name, "timeout", timeout)
		perr.TimedOut = true
		perr.Err = fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case ctx.Err() != nil:
		perr.Err = ctx.Err()
	}
	return res, perr
}

// LookPath resolves the first candidate found on PATH or as an existing file.
func LookPath(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("none of %s found: %w", strings.Join(candidates, ", "), exec.ErrNotFound)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTail {
		return s
	}
	return "..." + s[len(s)-stderrTail:]
}
