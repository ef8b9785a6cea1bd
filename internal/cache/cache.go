// Package cache implements the descriptor-keyed payload cache shared by the
// Dataroma scraper and the market-data provider. Each entry is a JSON
// envelope persisted as one file per key, with an in-memory LRU tier in
// front. Reads never fail: absent, corrupt, and expired entries all report a
// miss, and expired files are removed on the way out.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Payload is the envelope persisted for every cache entry. The embedded
// descriptor is authoritative for expiry; CreatedAt records the write time.
type Payload[T any] struct {
	Descriptor Descriptor `json:"descriptor"`
	Payload    T          `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// MetricsRecorder receives the outcome of every cache read, keyed by scope.
// Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	RecordCacheHit(scope string)
	RecordCacheMiss(scope string)
}

// Store is a two-tier cache: raw JSON envelopes in an in-memory LRU backed
// by one file per entry under the store root.
type Store struct {
	root    string
	memory  *lru.Cache[string, []byte]
	metrics MetricsRecorder
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
// maxMemoryEntries bounds the in-memory tier; values <= 0 select a default.
func NewStore(dir string, maxMemoryEntries int) (*Store, error) {
	if maxMemoryEntries <= 0 {
		maxMemoryEntries = 256
	}

	memory, err := lru.New[string, []byte](maxMemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating root %s: %w", dir, err)
	}

	return &Store{root: dir, memory: memory}, nil
}

// Root returns the directory entries are persisted under.
func (s *Store) Root() string {
	return s.root
}

// SetMetrics installs rec as the recorder for read outcomes. Call before the
// store is shared between goroutines; a nil recorder disables recording.
func (s *Store) SetMetrics(rec MetricsRecorder) {
	s.metrics = rec
}

// Read loads the entry for desc. It reports a miss for entries that are
// absent, unreadable, corrupt, or expired. Expired entries are deleted so
// the next write starts clean.
func Read[T any](s *Store, desc Descriptor) (*Payload[T], bool) {
	rel := relPath(desc)

	raw, ok := s.memory.Get(rel)
	if !ok {
		data, err := os.ReadFile(filepath.Join(s.root, rel))
		if err != nil {
			s.recordMiss(desc.Scope)
			return nil, false
		}
		raw = data
	}

	var envelope Payload[T]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.memory.Remove(rel)
		s.recordMiss(desc.Scope)
		return nil, false
	}

	if exp := envelope.Descriptor.ExpiresAt; exp != nil && time.Now().After(*exp) {
		s.memory.Remove(rel)
		_ = os.Remove(filepath.Join(s.root, rel))
		s.recordMiss(desc.Scope)
		return nil, false
	}

	s.memory.Add(rel, raw)
	s.recordHit(desc.Scope)
	return &envelope, true
}

func (s *Store) recordHit(scope string) {
	if s.metrics != nil {
		s.metrics.RecordCacheHit(scope)
	}
}

func (s *Store) recordMiss(scope string) {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(scope)
	}
}

// Write persists payload under desc and returns the stored envelope. The
// file is written to a temp name and renamed into place so a concurrent
// reader never observes a partial entry.
func Write[T any](s *Store, desc Descriptor, payload T) (*Payload[T], error) {
	envelope := &Payload[T]{
		Descriptor: desc,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("cache: encoding %s/%s/%s: %w", desc.Provider, desc.Scope, desc.Key, err)
	}

	rel := relPath(desc)
	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating entry dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".entry-*")
	if err != nil {
		return nil, fmt.Errorf("cache: creating temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("cache: writing entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("cache: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("cache: publishing entry: %w", err)
	}

	s.memory.Add(rel, raw)
	return envelope, nil
}

// Clear removes the entry for desc from both tiers. Clearing an absent
// entry is not an error.
func (s *Store) Clear(desc Descriptor) {
	rel := relPath(desc)
	s.memory.Remove(rel)
	_ = os.Remove(filepath.Join(s.root, rel))
}
