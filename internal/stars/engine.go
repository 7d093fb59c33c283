// Package stars owns the local star cache: per-child, per-day, per-area star
// counts, the running totals derived from them, and the queue of writes that
// still have to reach the remote store.
//
// All reads and writes go through Engine. Every mutation is applied to a copy
// of the cache and queue, persisted in a single storage transaction, and only
// then made visible, so a failed write never leaves half-applied state behind.
package stars

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/model"
)

const (
	cacheKey      = "star_cache"
	queueKey      = "pending_mutations"
	deadLetterKey = "dead_letter_mutations"
)

// Storage is the durable string-keyed store behind the engine.
type Storage interface {
	Get(key string) (string, bool, error)
	SetMany(pairs map[string]string) error
}

// Config holds engine configuration.
type Config struct {
	// Children is the roster of known child IDs. Empty accepts any child.
	Children []string
	Calendar *day.Calendar
	Logger   *slog.Logger
	// NewID generates mutation IDs. Defaults to random UUIDs.
	NewID func() string
}

// Engine is the star accounting engine and the sole owner of the local cache.
type Engine struct {
	mu       sync.Mutex
	storage  Storage
	cal      *day.Calendar
	logger   *slog.Logger
	newID    func() string
	children map[string]struct{}

	cache *model.StarCache
	queue mutationQueue
	dead  mutationQueue
}

// Open loads the cache and queue from storage, creating an empty cache on
// first use. Totals that drifted from their entries are repaired on load.
func Open(storage Storage, cfg Config) (*Engine, error) {
	if cfg.Calendar == nil {
		cal, err := day.New("")
		if err != nil {
			return nil, err
		}
		cfg.Calendar = cal
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	e := &Engine{
		storage:  storage,
		cal:      cfg.Calendar,
		logger:   cfg.Logger,
		newID:    cfg.NewID,
		children: make(map[string]struct{}, len(cfg.Children)),
	}
	for _, id := range cfg.Children {
		e.children[id] = struct{}{}
	}

	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	raw, ok, err := e.storage.Get(cacheKey)
	if err != nil {
		return fmt.Errorf("load star cache: %w", err)
	}

	created := false
	var cache *model.StarCache
	if !ok {
		cache = model.NewStarCache(CurrentSchemaVersion)
		created = true
	} else {
		cache = &model.StarCache{}
		if err := json.Unmarshal([]byte(raw), cache); err != nil {
			return fmt.Errorf("decode star cache: %w", err)
		}
		if err := upgradeCache(cache); err != nil {
			return err
		}
		cache.Normalize()
	}

	queue, err := e.loadQueue(queueKey)
	if err != nil {
		return err
	}
	dead, err := e.loadQueue(deadLetterKey)
	if err != nil {
		return err
	}

	repaired := false
	for child := range cache.DailyStars {
		sum := cache.SumStars(child)
		if cache.Totals[child] != sum {
			e.logger.Warn("repairing star total drift", "child_id", child, "stored", cache.Totals[child], "computed", sum)
			cache.Totals[child] = sum
			repaired = true
		}
	}

	e.cache = cache
	e.queue = queue
	e.dead = dead

	if created || repaired {
		if err := e.persist(cache, queue, dead); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) loadQueue(key string) (mutationQueue, error) {
	raw, ok, err := e.storage.Get(key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return mutationQueue{}, nil
	}
	var q mutationQueue
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if q == nil {
		q = mutationQueue{}
	}
	return q, nil
}

func (e *Engine) persist(cache *model.StarCache, queue, dead mutationQueue) error {
	cacheJSON, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("encode star cache: %w", err)
	}
	queueJSON, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encode pending mutations: %w", err)
	}
	deadJSON, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("encode dead letters: %w", err)
	}

	if err := e.storage.SetMany(map[string]string{
		cacheKey:      string(cacheJSON),
		queueKey:      string(queueJSON),
		deadLetterKey: string(deadJSON),
	}); err != nil {
		return fmt.Errorf("persist star cache: %w", err)
	}
	return nil
}

// txn is the working copy handed to a mutation.
type txn struct {
	cache *model.StarCache
	queue mutationQueue
	dead  mutationQueue
}

// mutate runs fn against copies of the cache and queues, persists the result
// and swaps it in. If fn or the write fails, nothing changes. Callers must
// hold e.mu.
func (e *Engine) mutate(fn func(tx *txn) error) error {
	tx := &txn{
		cache: e.cache.Clone(),
		queue: e.queue.clone(),
		dead:  e.dead.clone(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := e.persist(tx.cache, tx.queue, tx.dead); err != nil {
		return err
	}
	e.cache = tx.cache
	e.queue = tx.queue
	e.dead = tx.dead
	return nil
}

func (e *Engine) now() time.Time {
	return e.cal.Now().UTC()
}

// resolveDay defaults an empty day to today and validates the rest.
func (e *Engine) resolveDay(dayDate string) (string, error) {
	if dayDate == "" {
		return e.cal.Today(), nil
	}
	if !day.Valid(dayDate) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDay, dayDate)
	}
	return dayDate, nil
}

// KnownChild reports whether childID is on the roster or already has data.
func (e *Engine) KnownChild(childID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.knownChild(childID)
}

func (e *Engine) knownChild(childID string) bool {
	if childID == "" {
		return false
	}
	if len(e.children) == 0 {
		return true
	}
	if _, ok := e.children[childID]; ok {
		return true
	}
	_, ok := e.cache.DailyStars[childID]
	return ok
}

// Children returns the roster plus every child present in the cache.
func (e *Engine) Children() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]struct{})
	var ids []string
	for id := range e.children {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for id := range e.cache.DailyStars {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Calendar returns the day partitioner the engine uses.
func (e *Engine) Calendar() *day.Calendar {
	return e.cal
}

// Snapshot returns a deep copy of the cache.
func (e *Engine) Snapshot() *model.StarCache {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Clone()
}

// Restore replaces the cache with c, recomputing every total. The pending
// queue is left untouched.
func (e *Engine) Restore(c *model.StarCache) error {
	restored := c.Clone()
	if err := upgradeCache(restored); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mutate(func(tx *txn) error {
		restored.Totals = make(map[string]int)
		for child := range restored.DailyStars {
			restored.Totals[child] = restored.SumStars(child)
		}
		tx.cache = restored
		return nil
	})
}

// LastSyncedAt returns the time of the last successful full sync.
func (e *Engine) LastSyncedAt() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache.LastSyncedAt == nil {
		return nil
	}
	t := *e.cache.LastSyncedAt
	return &t
}

// MarkSynced records a successful full sync.
func (e *Engine) MarkSynced(at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mutate(func(tx *txn) error {
		t := at.UTC()
		tx.cache.LastSyncedAt = &t
		return nil
	})
}
