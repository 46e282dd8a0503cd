// Package store persists schedules and run history to a single JSON document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"dbvault/internal/logging"
	"dbvault/internal/schedule"
)

const (
	// CurrentVersion is written to every state document
	CurrentVersion = 1
	// MaxHistory is the number of history entries kept
	MaxHistory = 200
)

// ErrNotFound is returned when a schedule id or name is unknown
var ErrNotFound = errors.New("schedule not found")

type document struct {
	Version   int                     `json:"version"`
	Schedules []*schedule.Schedule    `json:"schedules"`
	History   []schedule.HistoryEntry `json:"history"`
}

// Store guards the state document with one mutex and caches it in memory.
// Every read returns a deep copy; only the Save/Update methods change the cache.
//
// Several processes may share one state file. The cache is dropped whenever
// the file on disk is no longer the one it was read from, and every
// read-modify-write holds an advisory lock on path+".lock" so that writers
// in other processes cannot interleave with it.
type Store struct {
	mu         sync.Mutex
	path       string
	legacyPath string
	cache      *document
	cachedStat os.FileInfo
	fileLock   *flock.Flock
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithLegacyConfig names an older configuration document whose
// backup_schedules and backup_history are imported when the state file is missing
func WithLegacyConfig(path string) Option {
	return func(s *Store) { s.legacyPath = path }
}

// WithLogger sets the store's logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store backed by path; nothing is read until first use
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, fileLock: flock.New(path + ".lock"), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	return s
}

// Path returns the state file location
func (s *Store) Path() string {
	return s.path
}

// Invalidate drops the cache so the next read goes to disk
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.cachedStat = nil
}

// LoadSchedules returns copies of all schedules
func (s *Store) LoadSchedules() ([]*schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	return cloneSchedules(doc.Schedules), nil
}

// EnabledSchedules returns copies of the enabled schedules
func (s *Store) EnabledSchedules() ([]*schedule.Schedule, error) {
	all, err := s.LoadSchedules()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sc := range all {
		if sc.Enabled {
			out = append(out, sc)
		}
	}
	return out, nil
}

// SaveSchedules replaces the full schedule list
func (s *Store) SaveSchedules(schedules []*schedule.Schedule) error {
	return s.update(func(doc *document) (*document, error) {
		next := *doc
		next.Schedules = cloneSchedules(schedules)
		return &next, nil
	})
}

// GetSchedule finds a schedule by id, falling back to an exact name match
func (s *Store) GetSchedule(idOrName string) (*schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if i := indexOf(doc.Schedules, idOrName); i >= 0 {
		return doc.Schedules[i].Clone(), nil
	}
	for _, sc := range doc.Schedules {
		if sc.Name == idOrName {
			return sc.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrName)
}

// UpsertSchedule validates sc and inserts or replaces it by id
func (s *Store) UpsertSchedule(sc *schedule.Schedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	return s.update(func(doc *document) (*document, error) {
		c := sc.Clone()
		c.UpdatedAt = s.now()
		if c.CreatedAt.IsZero() {
			c.CreatedAt = c.UpdatedAt
		}

		next := *doc
		next.Schedules = cloneSchedules(doc.Schedules)
		if i := indexOf(next.Schedules, c.ID); i >= 0 {
			next.Schedules[i] = c
		} else {
			next.Schedules = append(next.Schedules, c)
		}
		return &next, nil
	})
}

// DeleteSchedule removes a schedule by id
func (s *Store) DeleteSchedule(id string) error {
	return s.update(func(doc *document) (*document, error) {
		i := indexOf(doc.Schedules, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		next := *doc
		next.Schedules = append(cloneSchedules(doc.Schedules[:i]), cloneSchedules(doc.Schedules[i+1:])...)
		return &next, nil
	})
}

// UpdateRunTimes sets only LastRun and NextRun on the stored copy of a schedule,
// so edits made while a run was in flight are kept. A disabled schedule keeps
// a nil NextRun.
func (s *Store) UpdateRunTimes(id string, lastRun, nextRun *time.Time) error {
	return s.update(func(doc *document) (*document, error) {
		i := indexOf(doc.Schedules, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		next := *doc
		next.Schedules = cloneSchedules(doc.Schedules)
		sc := next.Schedules[i]
		if lastRun != nil {
			v := *lastRun
			sc.LastRun = &v
		}
		sc.NextRun = nil
		if nextRun != nil && sc.Enabled {
			v := *nextRun
			sc.NextRun = &v
		}
		return &next, nil
	})
}

// AppendHistory records a finished run, pruning the oldest entries beyond MaxHistory
func (s *Store) AppendHistory(entry schedule.HistoryEntry) error {
	return s.update(func(doc *document) (*document, error) {
		next := *doc
		next.History = append(append([]schedule.HistoryEntry(nil), doc.History...), entry)
		next.History = capHistory(next.History)
		return &next, nil
	})
}

// History returns up to limit entries, newest first, optionally for one schedule.
// A limit of 0 or less returns everything.
func (s *Store) History(scheduleID string, limit int) ([]schedule.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	out := make([]schedule.HistoryEntry, 0, len(doc.History))
	for i := len(doc.History) - 1; i >= 0; i-- {
		h := doc.History[i]
		if scheduleID != "" && h.ScheduleID != scheduleID {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// update applies fn to the current document and commits the result while
// holding both the in-process mutex and the state file lock
func (s *Store) update(fn func(doc *document) (*document, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file %s: %w", s.path, err)
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.WithField("path", s.path).Debugf("Failed to unlock state file: %v", err)
		}
	}()

	// another process may have committed since the cache was filled
	s.cache, s.cachedStat = nil, nil
	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	next, err := fn(doc)
	if err != nil {
		return err
	}
	return s.commitLocked(next)
}

// cacheCurrentLocked reports whether the state file is still the one the
// cache was read from. A cache built from a missing file stays valid while
// the file is missing.
func (s *Store) cacheCurrentLocked() bool {
	if s.cache == nil {
		return false
	}
	info, err := os.Stat(s.path)
	if s.cachedStat == nil {
		return errors.Is(err, os.ErrNotExist)
	}
	return err == nil &&
		os.SameFile(info, s.cachedStat) &&
		info.Size() == s.cachedStat.Size() &&
		info.ModTime().Equal(s.cachedStat.ModTime())
}

func (s *Store) loadLocked() (*document, error) {
	if s.cacheCurrentLocked() {
		return s.cache, nil
	}
	s.cache, s.cachedStat = nil, nil

	info, statErr := os.Stat(s.path)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		doc := &document{Version: CurrentVersion}
		if s.legacyPath != "" {
			s.migrateLegacyLocked(doc)
		}
		s.cache = doc
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}
	if statErr == nil {
		s.cachedStat = info
	}

	doc := &document{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
		}
	}
	if doc.Version == 0 {
		doc.Version = CurrentVersion
	}
	doc.History = capHistory(doc.History)
	s.cache = doc
	return doc, nil
}

// migrateLegacyLocked fills doc from the legacy document and writes the state file.
// Failures are logged and otherwise ignored.
func (s *Store) migrateLegacyLocked(doc *document) {
	schedules, history, err := readLegacy(s.legacyPath)
	if err != nil {
		s.logger.WithField("path", s.legacyPath).Debugf("Legacy schedule migration skipped: %v", err)
		return
	}
	if len(schedules) == 0 && len(history) == 0 {
		return
	}

	doc.Schedules = schedules
	doc.History = capHistory(history)
	if err := writeAtomic(s.path, doc); err != nil {
		s.logger.WithField("path", s.path).Debugf("Failed to persist migrated state: %v", err)
		return
	}
	if info, err := os.Stat(s.path); err == nil {
		s.cachedStat = info
	}
	s.logger.WithFields(map[string]interface{}{
		"schedules": len(schedules),
		"history":   len(history),
		"source":    s.legacyPath,
	}).Info("Imported legacy backup schedules")
}

func (s *Store) commitLocked(doc *document) error {
	doc.Version = CurrentVersion
	if err := writeAtomic(s.path, doc); err != nil {
		return err
	}
	s.cache = doc
	s.cachedStat = nil
	if info, err := os.Stat(s.path); err == nil {
		s.cachedStat = info
	}
	return nil
}

// writeAtomic writes doc to a temp file in the same directory, syncs it and renames it over path
func writeAtomic(path string, doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func capHistory(h []schedule.HistoryEntry) []schedule.HistoryEntry {
	if over := len(h) - MaxHistory; over > 0 {
		return append([]schedule.HistoryEntry(nil), h[over:]...)
	}
	return h
}

func cloneSchedules(in []*schedule.Schedule) []*schedule.Schedule {
	out := make([]*schedule.Schedule, 0, len(in))
	for _, sc := range in {
		if sc != nil {
			out = append(out, sc.Clone())
		}
	}
	return out
}

func indexOf(schedules []*schedule.Schedule, id string) int {
	for i, sc := range schedules {
		if sc.ID == id {
			return i
		}
	}
	return -1
}

// SortByNextRun orders schedules by next run, unscheduled last
func SortByNextRun(schedules []*schedule.Schedule) {
	sort.SliceStable(schedules, func(i, j int) bool {
		a, b := schedules[i].NextRun, schedules[j].NextRun
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
}
