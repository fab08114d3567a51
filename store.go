package solclash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoDocument indicates that no leaderboard document has been produced yet.
var ErrNoDocument = errors.New("no leaderboard document")

// RefreshFunc runs one aggregation cycle. prior is the last persisted
// document, nil when none exists or it is unreadable.
type RefreshFunc func(ctx context.Context, prior *Document) (*Document, error)

// ResultStore persists the leaderboard document with atomic, validated
// writes and serves it as a timed cache. Concurrent refresh attempts are
// coalesced: at most one aggregation cycle runs and writes at a time.
type ResultStore struct {
	path    string
	refresh RefreshFunc
	logger  Logger
	now     func() time.Time
	group   singleflight.Group
}

func NewResultStore(path string, refresh RefreshFunc, logger Logger) *ResultStore {
	return &ResultStore{
		path:    path,
		refresh: refresh,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *ResultStore) backupPath() string {
	return s.path + ".bak"
}

// Read returns the persisted document and its age. ErrNoDocument when the
// file is absent; a decode error means the stored document is corrupt.
func (s *ResultStore) Read() (*Document, time.Duration, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNoDocument
		}
		return nil, 0, fmt.Errorf("stat leaderboard document: %w", err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, 0, fmt.Errorf("read leaderboard document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode leaderboard document: %w", err)
	}

	age := s.now().Sub(info.ModTime())
	if age < 0 {
		age = 0
	}
	return &doc, age, nil
}

// Write persists the document atomically: marshal to a temp file in the same
// directory, validate that the temp file round-trips as a parseable document,
// back up the current canonical file, then rename into place. A validation
// failure leaves the canonical file untouched; a failed rename restores it
// from the backup.
func (s *ResultStore) Write(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("nil document")
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode leaderboard document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "leaderboard-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := validateDocumentFile(tmpName); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("validate written document: %w", err)
	}

	backedUp := false
	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("back up current document: %w", err)
		}
		backedUp = true
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		if backedUp {
			if rerr := copyFile(s.backupPath(), s.path); rerr != nil {
				s.logf("restore from backup failed: %v", rerr)
			}
		}
		return fmt.Errorf("replace leaderboard document: %w", err)
	}

	return nil
}

// validateDocumentFile re-reads the freshly written file and checks that it
// decodes to a document with a set timestamp.
func validateDocumentFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty file")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Updated.IsZero() {
		return fmt.Errorf("document missing updated timestamp")
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// GetOrRefresh returns the persisted document when younger than ttl,
// otherwise runs a refresh. When the refresh fails but a prior document
// exists, the stale document is served instead of an error.
func (s *ResultStore) GetOrRefresh(ctx context.Context, ttl time.Duration) (*Document, error) {
	doc, age, err := s.Read()
	if err == nil && age < ttl {
		return doc, nil
	}

	var prior *Document
	if err == nil {
		prior = doc
	}

	fresh, rerr := s.doRefresh(ctx, ttl, false)
	if rerr != nil {
		if prior != nil {
			s.logf("refresh failed, serving stale document: %v", rerr)
			return prior, nil
		}
		return nil, rerr
	}
	return fresh, nil
}

// ForceRefresh bypasses the cache unconditionally. Errors are surfaced
// rather than masked with stale data; the manual trigger wants to know.
func (s *ResultStore) ForceRefresh(ctx context.Context) (*Document, error) {
	return s.doRefresh(ctx, 0, true)
}

func (s *ResultStore) doRefresh(ctx context.Context, ttl time.Duration, force bool) (*Document, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		if !force {
			// A concurrent refresh may have completed while waiting.
			if doc, age, err := s.Read(); err == nil && age < ttl {
				return doc, nil
			}
		}

		var prior *Document
		if doc, _, err := s.Read(); err == nil {
			prior = doc
		}

		start := s.now()
		fresh, err := s.refresh(ctx, prior)
		if err != nil {
			recordRefresh(start, 0, err)
			return nil, fmt.Errorf("aggregation cycle: %w", err)
		}
		recordRefresh(start, len(fresh.Data), nil)

		if err := s.Write(fresh); err != nil {
			return nil, fmt.Errorf("persist leaderboard: %w", err)
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

func (s *ResultStore) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
