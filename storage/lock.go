package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = "run.lock"

// RunLock is a PID lock file in a run directory. It keeps two processes from
// driving the same file-backed run.
type RunLock struct {
	path string
}

// NewRunLock returns the lock for the run stored in runDir.
func NewRunLock(runDir string) *RunLock {
	return &RunLock{path: filepath.Join(runDir, lockFileName)}
}

// Acquire takes the lock. A lock left behind by a dead process is reclaimed.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	err := l.create()
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrExist) {
		return err
	}

	pid, ok, err := l.holder()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if ok && processExists(pid) {
		return fmt.Errorf("%w (PID %d)", ErrLocked, pid)
	}

	// Stale or unreadable: remove and try exactly once more.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale lock file: %w", err)
	}
	if err := l.create(); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: acquired during retry", ErrLocked)
		}
		return err
	}
	return nil
}

// Release removes the lock file. Releasing twice is not an error.
func (l *RunLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live process holds the lock.
func (l *RunLock) IsLocked() (bool, error) {
	pid, ok, err := l.holder()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return ok && processExists(pid), nil
}

func (l *RunLock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return err
		}
		return fmt.Errorf("create lock file: %w", err)
	}
	_, writeErr := fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()
	if writeErr != nil {
		os.Remove(l.path)
		return fmt.Errorf("write lock file: %w", writeErr)
	}
	return nil
}

// holder returns the PID recorded in the lock file. ok is false when the file
// does not hold a valid PID.
func (l *RunLock) holder() (pid int, ok bool, err error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("read lock file: %w", err)
	}
	pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr != nil || pid <= 0 {
		return 0, false, nil
	}
	return pid, true, nil
}

// processExists uses signal 0, which checks for a process without signalling it.
func processExists(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
