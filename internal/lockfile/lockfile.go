// Package lockfile keeps two IntakePipe instances from sharing one state
// directory. The flock is held for the life of the process and dropped by the
// kernel if the process dies.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "intakepipe.lock"

// ErrAlreadyLocked is matched by a LockError.
var ErrAlreadyLocked = errors.New("state directory is locked by another instance")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Holder is the information an instance writes into its lock file.
type Holder struct {
	PID       int
	StartedAt time.Time
}

func (h Holder) encode() string {
	return fmt.Sprintf("pid=%d\nstarted_at=%s\n", h.PID, h.StartedAt.UTC().Format(time.RFC3339))
}

// parseHolder reads the fields it recognizes and ignores the rest.
func parseHolder(content string) Holder {
	var h Holder
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started_at":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				h.StartedAt = t
			}
		}
	}
	return h
}

// AcquireLock takes an exclusive lock on stateDir, creating the directory if
// needed. It fails immediately with a *LockError if another process holds it.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's record before we know we own the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Holder: readHolder(lockPath), Cause: err}
		slog.Error("lockfile.AcquireLock: state directory in use", "lock_path", lockPath, "holder_pid", lockErr.Holder.PID)
		return nil, lockErr
	}

	holder := Holder{PID: os.Getpid(), StartedAt: time.Now()}
	if err := writeHolder(file, holder); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: state directory locked", "lock_path", lockPath, "pid", holder.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeHolder(file *os.File, h Holder) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(h.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeHolder: sync failed", "error", err, "lock_path", file.Name())
	}
	return nil
}

func readHolder(lockPath string) Holder {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}
	}
	return parseHolder(string(data))
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the lock file. Safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	slog.Info("lockfile.Release: state directory unlocked", "lock_path", l.path)
	return errors.Join(errs...)
}

// LockError reports a state directory held by another process.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another IntakePipe instance is using this state directory (lock file %s)", e.LockPath)
	switch {
	case e.Holder.PID == 0:
		b.WriteString("; holder unknown")
	case isProcessRunning(e.Holder.PID):
		fmt.Fprintf(&b, "; held by running PID %d", e.Holder.PID)
	default:
		fmt.Fprintf(&b, "; PID %d is not running, remove the lock file if no instance uses this directory", e.Holder.PID)
	}
	if !e.Holder.StartedAt.IsZero() {
		fmt.Fprintf(&b, " (started %s)", e.Holder.StartedAt.Format(time.RFC3339))
	}
	return b.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

func (e *LockError) Is(target error) bool { return target == ErrAlreadyLocked }

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
