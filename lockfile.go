package solclash

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const defaultLockStaleAfter = 5 * time.Minute

// FileLock is an advisory lock for refresh runs that execute as independent
// processes (cron). The lock file carries the holder PID; a lock older than
// StaleAfter is presumed abandoned and reclaimed.
type FileLock struct {
	Path       string
	StaleAfter time.Duration
	Logger     Logger
}

func (l *FileLock) staleAfter() time.Duration {
	if l.StaleAfter > 0 {
		return l.StaleAfter
	}
	return defaultLockStaleAfter
}

// Acquire attempts to take the lock. It returns false when another run holds
// a fresh lock; overlapping invocations are expected to no-op in that case.
func (l *FileLock) Acquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := file.WriteString(strconv.Itoa(os.Getpid()))
			cerr := file.Close()
			if werr != nil || cerr != nil {
				os.Remove(l.Path)
				return false, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			return true, nil
		}
		if !os.IsExist(err) {
			return false, fmt.Errorf("create lock file: %w", err)
		}

		info, statErr := os.Stat(l.Path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue // released between create and stat, retry
			}
			return false, fmt.Errorf("stat lock file: %w", statErr)
		}

		if time.Since(info.ModTime()) <= l.staleAfter() {
			return false, nil
		}

		if l.Logger != nil {
			l.Logger.Printf("reclaiming stale lock file %s (age %s)", l.Path, time.Since(info.ModTime()).Round(time.Second))
		}
		if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("remove stale lock file: %w", err)
		}
	}

	return false, nil
}

// Release removes the lock file. Missing file is not an error.
func (l *FileLock) Release() error {
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
