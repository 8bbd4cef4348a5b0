package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/DrayChou/gaccode-statusline/internal/storage"
)

// Class partitions cache entries by data kind; each class carries its
// own TTL tier.
type Class string

const (
	ClassUIState      Class = "uistate"
	ClassBalance      Class = "balance"
	ClassSubscription Class = "subscription"
)

// TTL tiers. UI state is recomputed nearly every invocation, balance
// trades freshness against upstream rate limits, subscription data
// rarely changes.
const (
	TTLUIState      = time.Second
	TTLBalance      = 5 * time.Minute
	TTLSubscription = time.Hour
)

// ErrUnavailable is returned when a fetch fails and no entry, fresh or
// stale, has ever existed for the key.
var ErrUnavailable = errors.New("cache: data unavailable")

// Key identifies a cache entry. Platform keys are independent, so one
// platform's refresh never touches another's file.
type Key struct {
	Class    Class
	Platform string
	Sub      string // optional sub-key, e.g. session id for UI state
}

func (k Key) String() string {
	if k.Sub != "" {
		return string(k.Class) + ":" + k.Platform + ":" + k.Sub
	}
	return string(k.Class) + ":" + k.Platform
}

func (k Key) filename() string {
	name := "cache_" + string(k.Class) + "_" + k.Platform
	if k.Sub != "" {
		name += "_" + k.Sub
	}
	return name + ".json"
}

// entry is the on-disk document: one JSON file per class+platform.
type entry struct {
	Payload     json.RawMessage `json:"payload"`
	FetchedAt   time.Time       `json:"fetched_at"`
	TTLSeconds  int             `json:"ttl_seconds"`
	LastAttempt time.Time       `json:"last_attempt,omitempty"`
}

func (e *entry) validAt(now time.Time) bool {
	return now.Sub(e.FetchedAt) < time.Duration(e.TTLSeconds)*time.Second
}

// Result carries a payload plus its staleness.
type Result struct {
	Payload json.RawMessage
	Stale   bool
	Age     time.Duration
}

// FetchFunc is the provider-owned network call guarded by the manager.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Manager is a layered key-value cache: an in-process hot tier for the
// lifetime of one invocation in front of JSON files shared by all
// concurrently running invocations. Invalid entries are treated as
// absent, not deleted eagerly.
type Manager struct {
	dir          string
	minInterval  time.Duration
	fetchTimeout time.Duration
	lockTimeout  time.Duration

	mu     sync.Mutex
	memory map[string]*entry

	group singleflight.Group

	now func() time.Time
}

// NewManager creates a cache manager rooted at dir. Zero durations get
// the defaults: 30s minimum interval between network calls per key,
// 5s fetch timeout.
func NewManager(dir string, minInterval, fetchTimeout time.Duration) *Manager {
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	return &Manager{
		dir:          dir,
		minInterval:  minInterval,
		fetchTimeout: fetchTimeout,
		lockTimeout:  storage.DefaultLockTimeout,
		memory:       make(map[string]*entry),
		now:          time.Now,
	}
}

// GetOrFetch returns the cached payload for key if still valid,
// otherwise runs fetch. On fetch failure the last known entry is
// returned even when past its TTL; ErrUnavailable surfaces only when
// nothing was ever cached.
func (m *Manager) GetOrFetch(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc) (Result, error) {
	now := m.now()
	ks := key.String()

	m.mu.Lock()
	ent := m.memory[ks]
	m.mu.Unlock()

	if ent == nil {
		ent = m.readDisk(key)
	}

	if ent != nil && ent.validAt(now) {
		m.remember(ks, ent)
		return Result{Payload: ent.Payload, Age: now.Sub(ent.FetchedAt)}, nil
	}

	// Rate-limiting gate: the manager is the sole path to the network,
	// so an attempt inside the minimum interval is served like a hit.
	// Tiers that refresh faster than the interval are exempt; gating
	// them would pin their entries far past the intended TTL.
	if ttl >= m.minInterval && ent != nil && !ent.LastAttempt.IsZero() && now.Sub(ent.LastAttempt) < m.minInterval {
		log.WithFields(log.Fields{
			"key":          ks,
			"last_attempt": ent.LastAttempt,
		}).Debug("Fetch suppressed by minimum interval, serving cached entry")
		return m.staleResult(ent, now), nil
	}

	fresh, err, _ := m.group.Do(ks, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
		defer cancel()

		payload, err := fetch(fctx)
		if err != nil {
			m.recordAttempt(key, ent)
			return nil, err
		}

		stored := &entry{
			Payload:     payload,
			FetchedAt:   m.now(),
			TTLSeconds:  jitteredTTL(ttl),
			LastAttempt: m.now(),
		}
		m.writeDisk(key, stored)
		m.remember(ks, stored)
		return stored, nil
	})

	if err == nil {
		stored := fresh.(*entry)
		return Result{Payload: stored.Payload, Age: m.now().Sub(stored.FetchedAt)}, nil
	}

	if ent != nil {
		log.WithFields(log.Fields{
			"key":   ks,
			"error": err,
		}).Warn("Fetch failed, serving stale cache entry")
		return m.staleResult(ent, now), nil
	}
	return Result{}, fmt.Errorf("fetch for %s failed with no cached fallback: %v: %w", ks, err, ErrUnavailable)
}

func (m *Manager) staleResult(ent *entry, now time.Time) Result {
	return Result{Payload: ent.Payload, Stale: true, Age: now.Sub(ent.FetchedAt)}
}

func (m *Manager) remember(ks string, ent *entry) {
	m.mu.Lock()
	m.memory[ks] = ent
	m.mu.Unlock()
}

func (m *Manager) path(key Key) string {
	return filepath.Join(m.dir, key.filename())
}

// readDisk is lock-free: it sees the last atomically renamed snapshot.
// Unreadable or unparseable files are treated as empty cache.
func (m *Manager) readDisk(key Key) *entry {
	var ent entry
	if err := storage.ReadJSON(m.path(key), &ent); err != nil {
		if !os.IsNotExist(err) {
			log.WithFields(log.Fields{
				"key":   key.String(),
				"error": err,
			}).Warn("Cache file unreadable, treating as empty")
		}
		return nil
	}
	return &ent
}

func (m *Manager) writeDisk(key Key, ent *entry) {
	path := m.path(key)
	err := storage.WithLock(path, m.lockTimeout, func() error {
		return storage.WriteJSON(path, ent)
	})
	if err != nil {
		// A lost cache write only costs the next invocation a re-fetch.
		log.WithFields(log.Fields{
			"key":   key.String(),
			"error": err,
		}).Warn("Failed to persist cache entry")
	}
}

// recordAttempt stamps a failed fetch so concurrent and subsequent
// invocations back off for the minimum interval. The stamp goes onto a
// copy: published entries are immutable, concurrent callers may still
// be reading the old pointer outside the mutex. Only entries that
// already hold data are stamped; without data there is nothing to
// serve during the backoff anyway.
func (m *Manager) recordAttempt(key Key, ent *entry) {
	if ent == nil {
		return
	}
	stamped := *ent
	stamped.LastAttempt = m.now()
	m.remember(key.String(), &stamped)
	m.writeDisk(key, &stamped)
}

// jitteredTTL spreads expiry by ±10% for the minute-and-up tiers so
// many invocations do not refresh in the same instant.
func jitteredTTL(ttl time.Duration) int {
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	if ttl < time.Minute {
		return secs
	}
	jitter := secs / 10
	if jitter > 0 {
		secs += rand.Intn(2*jitter+1) - jitter
	}
	return secs
}
