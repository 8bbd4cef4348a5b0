package session

import (
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DrayChou/gaccode-statusline/internal/storage"
)

// DefaultMaxMappings bounds the mapping table to the most recently
// created entries; oldest are evicted on overflow.
const DefaultMaxMappings = 50

// ConfigSnapshot is the launch-time copy of a platform's connection
// parameters. Immutable once written.
type ConfigSnapshot struct {
	APIBaseURL string `json:"api_base_url,omitempty"`
	Model      string `json:"model,omitempty"`
	SmallModel string `json:"small_model,omitempty"`
}

// Mapping records which platform a session was launched with.
type Mapping struct {
	Platform     string         `json:"platform"`
	Created      time.Time      `json:"created"`
	LaunchConfig ConfigSnapshot `json:"launch_config"`
}

// Store maps session ids to the platform they were launched with.
// It is a convenience layer, never a correctness-critical source of
// truth: lookups degrade to "not found" on any underlying failure.
type Store interface {
	// Register records a mapping. Re-registering the same id overwrites
	// the prior entry (last-write-wins).
	Register(sessionID, platformID string, snapshot ConfigSnapshot) error
	// Lookup performs an exact match on the session id.
	Lookup(sessionID string) (Mapping, bool)
}

// Options selects and configures a Store backend.
type Options struct {
	// Path of the shared JSON mapping file. Empty selects the in-memory
	// backend (used by tests).
	Path       string
	MaxEntries int
}

// New builds a Store from options.
func New(opts Options) Store {
	max := opts.MaxEntries
	if max <= 0 {
		max = DefaultMaxMappings
	}
	if opts.Path == "" {
		return &memStore{max: max, entries: make(map[string]Mapping)}
	}
	return &fileStore{path: opts.Path, max: max, lockTimeout: storage.DefaultLockTimeout}
}

// fileStore persists the table as one JSON object keyed by session id.
// The file is shared by every concurrently running invocation; writes
// are full read-modify-write-replace sequences under an advisory lock.
type fileStore struct {
	path        string
	max         int
	lockTimeout time.Duration
}

func (s *fileStore) Register(sessionID, platformID string, snapshot ConfigSnapshot) error {
	err := storage.WithLock(s.path, s.lockTimeout, func() error {
		mappings := s.load()
		mappings[sessionID] = Mapping{
			Platform:     platformID,
			Created:      time.Now(),
			LaunchConfig: snapshot,
		}
		trim(mappings, s.max)
		return storage.WriteJSON(s.path, mappings)
	})
	if err != nil {
		// The store is an optimization; a lost write degrades the next
		// lookup to the slower detection signals, nothing more.
		log.WithFields(log.Fields{
			"session_id": sessionID,
			"platform":   platformID,
			"error":      err,
		}).Warn("Failed to register session mapping")
		return err
	}

	log.WithFields(log.Fields{
		"session_id": sessionID,
		"platform":   platformID,
	}).Debug("Session mapping registered")
	return nil
}

func (s *fileStore) Lookup(sessionID string) (Mapping, bool) {
	// Lock-free read against the last atomically renamed snapshot.
	m, ok := s.load()[sessionID]
	return m, ok
}

// load reads the mapping file, treating every failure mode as an empty
// table.
func (s *fileStore) load() map[string]Mapping {
	mappings := make(map[string]Mapping)
	if err := storage.ReadJSON(s.path, &mappings); err != nil {
		if !os.IsNotExist(err) {
			log.WithFields(log.Fields{
				"file":  s.path,
				"error": err,
			}).Warn("Session mapping file unreadable, treating as empty")
		}
		return make(map[string]Mapping)
	}
	return mappings
}

// trim evicts the oldest-created entries until the table is back at max.
func trim(mappings map[string]Mapping, max int) {
	if len(mappings) <= max {
		return
	}
	ids := make([]string, 0, len(mappings))
	for id := range mappings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := mappings[ids[i]].Created, mappings[ids[j]].Created
		if ci.Equal(cj) {
			// Deterministic eviction when timestamps collide.
			return ids[i] < ids[j]
		}
		return ci.Before(cj)
	})
	for _, id := range ids[:len(ids)-max] {
		delete(mappings, id)
	}
}

// memStore backs tests and keeps the same trimming semantics.
type memStore struct {
	mu      sync.Mutex
	max     int
	entries map[string]Mapping
}

func (s *memStore) Register(sessionID, platformID string, snapshot ConfigSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = Mapping{
		Platform:     platformID,
		Created:      time.Now(),
		LaunchConfig: snapshot,
	}
	trim(s.entries, s.max)
	return nil
}

func (s *memStore) Lookup(sessionID string) (Mapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[sessionID]
	return m, ok
}
