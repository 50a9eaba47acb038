package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/zjrosen/rostersync/internal/clock"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/metrics"
)

// DefaultSettleDelay is the pause before a coalesced follow-up write.
const DefaultSettleDelay = 25 * time.Millisecond

// Config holds registry configuration options.
type Config struct {
	// Path is the backing snapshot file. Required.
	Path string
	// Fs is the filesystem the snapshot lives on. Defaults to the OS.
	Fs afero.Fs
	// Clock drives the settle delay. Defaults to the real clock.
	Clock clock.Clock
	// SettleDelay is waited before a coalesced follow-up write.
	// Defaults to DefaultSettleDelay if zero.
	SettleDelay time.Duration
	// Metrics records persistence outcomes. Optional.
	Metrics *metrics.Metrics
}

// Store is the in-memory registry. It is the single source of truth; the
// backing file is a derived snapshot refreshed by Persist.
type Store struct {
	path    string
	fs      afero.Fs
	metrics *metrics.Metrics

	mu      sync.RWMutex
	records map[string]Record
	order   []string

	writer *coalescingWriter
}

// New creates an empty store backed by cfg.Path. Nothing is read from disk.
func New(cfg Config) *Store {
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	settle := cfg.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}

	s := &Store{
		path:    cfg.Path,
		fs:      fs,
		metrics: cfg.Metrics,
		records: make(map[string]Record),
	}
	s.writer = newCoalescingWriter(clock.OrReal(cfg.Clock), settle, s.save)
	return s
}

// Open creates a store and loads the snapshot at cfg.Path. A missing file
// yields an empty store.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("registry path is required")
	}
	s := New(cfg)

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info(log.CatRegistry, "no snapshot yet, starting empty", "path", s.path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", s.path, err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("loading registry %s: %w", s.path, err)
	}
	s.records = snap.records
	s.order = snap.order

	for _, key := range s.order {
		if s.records[key].OwnerRef == "" {
			log.Warn(log.CatRegistry, "record without owner reference", "key", key)
		}
	}
	s.metrics.SetMembers(len(s.order))
	log.Info(log.CatRegistry, "registry loaded", "path", s.path, "members", len(s.order))
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get returns the record for key.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Put inserts or replaces the record for key. New keys are appended to the
// iteration order; replaced keys keep their position.
func (s *Store) Put(key string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; !exists {
		s.order = append(s.order, key)
	}
	s.records[key] = rec
	s.metrics.SetMembers(len(s.order))
}

// Insert adds rec under key only if key is absent. Returns false when the
// key already exists.
func (s *Store) Insert(key string, rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return false
	}
	s.order = append(s.order, key)
	s.records[key] = rec
	s.metrics.SetMembers(len(s.order))
	return true
}

// UpdateDisplayName rewrites only the display name of an existing record.
// Returns false if key is not present.
func (s *Store) UpdateDisplayName(key, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return false
	}
	rec.DisplayName = name
	s.records[key] = rec
	return true
}

// Delete removes key. Returns true if it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return false
	}
	delete(s.records, key)
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	s.metrics.SetMembers(len(s.order))
	return true
}

// Reset removes every record.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	s.order = nil
	s.metrics.SetMembers(0)
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Keys returns all keys in iteration order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Members returns every key with its record, in iteration order.
func (s *Store) Members() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, Member{Key: key, Record: s.records[key]})
	}
	return out
}

// Persist writes the current state to disk. If a write is already in
// flight the request is coalesced into a single follow-up write and Persist
// returns immediately. Failures are logged, never returned.
func (s *Store) Persist(ctx context.Context) {
	s.writer.request(ctx)
}

func (s *Store) snapshotBytes() ([]byte, int, error) {
	s.mu.RLock()
	snap := snapshot{order: slices.Clone(s.order), records: maps.Clone(s.records)}
	s.mu.RUnlock()

	data, err := encodeSnapshot(snap)
	return data, len(snap.order), err
}

// save performs one physical write of the current state.
func (s *Store) save(_ context.Context) {
	data, count, err := s.snapshotBytes()
	if err != nil {
		log.ErrorErr(log.CatRegistry, "failed to serialize registry", err)
		s.metrics.ObservePersist("error")
		return
	}

	res, err := writeSnapshot(s.fs, s.path, data)
	switch {
	case err != nil:
		log.ErrorErr(log.CatRegistry, "failed to save registry", err, "path", s.path)
		s.metrics.ObservePersist("error")
	case res.Degraded:
		s.metrics.ObservePersist("degraded")
	default:
		log.Debug(log.CatRegistry, "registry saved", "path", s.path, "members", count, "strategy", res.Strategy)
		s.metrics.ObservePersist(res.Strategy)
	}
}

// Snapshot returns a copy of all records keyed by username.
func (s *Store) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.records)
}

// Load opens the snapshot at path on the OS filesystem with defaults.
func Load(path string) (*Store, error) {
	return Open(Config{Path: path})
}
