package solclash

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestFileLockAcquireAndRelease(t *testing.T) {
	t.Parallel()

	lock := &FileLock{Path: filepath.Join(t.TempDir(), "update.lock")}

	acquired, err := lock.Acquire()
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire lock")
	}

	data, err := os.ReadFile(lock.Path)
	if err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	if pid, err := strconv.Atoi(string(data)); err != nil || pid != os.Getpid() {
		t.Fatalf("lock file does not carry holder pid: %q", data)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if _, err := os.Stat(lock.Path); !os.IsNotExist(err) {
		t.Fatalf("lock file still present after release")
	}
}

func TestFileLockFreshLockBlocksSecondAcquire(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.lock")

	first := &FileLock{Path: path}
	if acquired, err := first.Acquire(); err != nil || !acquired {
		t.Fatalf("first acquire failed: %v %v", acquired, err)
	}

	second := &FileLock{Path: path}
	acquired, err := second.Acquire()
	if err != nil {
		t.Fatalf("second acquire returned error: %v", err)
	}
	if acquired {
		t.Fatal("second acquire must not succeed against a fresh lock")
	}
}

func TestFileLockReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "update.lock")
	if err := os.WriteFile(path, []byte("12345"), 0o644); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("age lock: %v", err)
	}

	lock := &FileLock{Path: path, StaleAfter: 5 * time.Minute, Logger: NewDiscardLogger()}
	acquired, err := lock.Acquire()
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !acquired {
		t.Fatal("expected stale lock to be reclaimed")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	if string(data) == "12345" {
		t.Fatal("lock file not rewritten by new holder")
	}
}

func TestFileLockReleaseMissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	lock := &FileLock{Path: filepath.Join(t.TempDir(), "never-created.lock")}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
}
