// Package runstore owns per-run scratch state: the lock that keeps two runs
// out of the same directory, and the workspace whose intermediates are
// removed when the run ends.
package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrLocked is returned when another live run holds the lock.
var ErrLocked = errors.New("directory is locked by another run")

const (
	runLockDirName   = ".run.lock"
	runLockOwnerFile = "owner.json"
)

// RunLock is an exclusive lock directory.
type RunLock struct {
	lockDir string
}

type runLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireRunLock locks dir for this process.
func AcquireRunLock(dir string) (RunLock, error) {
	return AcquireNamedLock(dir, runLockDirName)
}

// AcquireNamedLock locks a namespace inside dir; name is the lock directory.
// A lock left by a dead process on this host is taken over.
func AcquireNamedLock(dir, name string) (RunLock, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		return RunLock{}, errors.New("lock directory is required")
	}

	lockDir := filepath.Join(target, name)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if !os.IsExist(err) {
			return RunLock{}, fmt.Errorf("acquire lock for %s: %w", target, err)
		}
		owner, readErr := readOwner(lockDir)
		if readErr == nil && owner.stale() {
			_ = os.RemoveAll(lockDir)
			return AcquireNamedLock(dir, name)
		}
		if readErr == nil && owner.PID > 0 {
			return RunLock{}, fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s)",
				ErrLocked, lockDir, owner.PID, owner.CreatedAt, owner.Hostname)
		}
		return RunLock{}, fmt.Errorf("%w: %s", ErrLocked, lockDir)
	}

	owner := runLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	data, _ := json.Marshal(owner)
	if err := os.WriteFile(filepath.Join(lockDir, runLockOwnerFile), data, 0o644); err != nil {
		_ = os.Remove(lockDir)
		return RunLock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}
	return RunLock{lockDir: lockDir}, nil
}

// Release removes the lock. Releasing a zero lock is a no-op.
func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, runLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.lockDir, err)
	}
	return nil
}

func readOwner(lockDir string) (runLockOwner, error) {
	var owner runLockOwner
	data, err := os.ReadFile(filepath.Join(lockDir, runLockOwnerFile))
	if err != nil {
		return owner, err
	}
	err = json.Unmarshal(data, &owner)
	return owner, err
}

// stale reports whether the owner was a process on this host that no
// longer exists.
func (o runLockOwner) stale() bool {
	if o.PID <= 0 || o.Hostname != hostnameOrUnknown() || o.PID == os.Getpid() {
		return false
	}
	return !processAlive(o.PID)
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
