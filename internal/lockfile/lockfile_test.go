package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLock_WritesHolder(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	content, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	h := parseHolder(string(content))
	if h.PID != os.Getpid() {
		t.Errorf("expected pid %d in lock file, got %q", os.Getpid(), content)
	}
	if time.Since(h.StartedAt) > time.Minute {
		t.Errorf("unexpected started_at %v", h.StartedAt)
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("second acquisition should fail")
	}
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("expected ErrAlreadyLocked, got %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("expected the holder pid to be read back, got %d", lockErr.Holder.PID)
	}
	// The failed attempt must not clobber the holder's record.
	content, _ := os.ReadFile(first.Path())
	if parseHolder(string(content)).PID != os.Getpid() {
		t.Errorf("lock file was overwritten: %q", content)
	}
	if msg := err.Error(); !strings.Contains(msg, "IntakePipe") || !strings.Contains(msg, "running PID") {
		t.Errorf("unhelpful error message: %s", msg)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second release should be a no-op: %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	again.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory missing: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		started bool
	}{
		{"full", "pid=12345\nstarted_at=2025-01-02T03:04:05Z\n", 12345, true},
		{"pid only", "pid=67890\n", 67890, false},
		{"extra keys", "host=x\npid=42\n", 42, false},
		{"invalid pid", "pid=abc", 0, false},
		{"empty", "", 0, false},
		{"no equals", "pid12345", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHolder(tt.content)
			if h.PID != tt.pid || h.StartedAt.IsZero() == tt.started {
				t.Errorf("parseHolder(%q) = %+v", tt.content, h)
			}
		})
	}
}

func TestLockError_StaleHolder(t *testing.T) {
	err := &LockError{LockPath: "/tmp/x/" + LockFileName, Holder: Holder{PID: 999999999}}
	if !strings.Contains(err.Error(), "not running") {
		t.Errorf("expected stale hint, got %s", err.Error())
	}
	unknown := &LockError{LockPath: "/tmp/x/" + LockFileName}
	if !strings.Contains(unknown.Error(), "holder unknown") {
		t.Errorf("expected unknown holder, got %s", unknown.Error())
	}
}
