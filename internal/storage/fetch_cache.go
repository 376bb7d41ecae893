// Package storage holds the in-memory gallery cache. Entries live for the
// lifetime of the process; the key space is bounded by the filter, sort and
// page-size combinations visitors can produce.
package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tag-gallery/internal/logging"
	"github.com/tag-gallery/internal/query"
	"github.com/tag-gallery/internal/types"
)

// EntryState is the lifecycle state of a cache entry
type EntryState string

const (
	StateEmpty          EntryState = "empty"
	StateFetching       EntryState = "fetching"
	StateReady          EntryState = "ready"
	StateRevalidating   EntryState = "revalidating"
	StateReadyWithError EntryState = "ready_with_error"
	StateFailed         EntryState = "failed"
)

// Fetcher executes one aggregated gallery request upstream
type Fetcher interface {
	FetchTokens(ctx context.Context, req *query.Request) (*types.TokensResult, error)
}

// Recorder receives cache events. Lookup results are "hit", "miss" or "shared".
type Recorder interface {
	CacheLookup(result string)
	UpstreamFetch(outcome string, duration time.Duration)
	StaleDiscarded()
	EntriesChanged(n int)
}

type nopRecorder struct{}

func (nopRecorder) CacheLookup(string)                  {}
func (nopRecorder) UpstreamFetch(string, time.Duration) {}
func (nopRecorder) StaleDiscarded()                     {}
func (nopRecorder) EntriesChanged(int)                  {}

// Entry is a point-in-time copy of a cache entry
type Entry struct {
	Key        string
	Descriptor query.Descriptor
	State      EntryState
	Data       *types.TokensResult
	Err        error
	UpdatedAt  time.Time
}

// HasData reports whether the entry carries a last-known-good payload
func (e *Entry) HasData() bool {
	return e != nil && e.Data != nil
}

type entry struct {
	descriptor  query.Descriptor
	state       EntryState
	data        *types.TokensResult
	err         error
	updatedAt   time.Time
	invalidated bool
}

// FetchCache is the only owner of gallery cache entries. Identical
// descriptors share one in-flight upstream call.
type FetchCache struct {
	fetcher  Fetcher
	logger   *logging.Logger
	recorder Recorder
	now      func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry

	hits   atomic.Int64
	misses atomic.Int64
	shared atomic.Int64
}

// CacheOption customizes a FetchCache
type CacheOption func(*FetchCache)

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) CacheOption {
	return func(c *FetchCache) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithCacheLogger sets the cache logger
func WithCacheLogger(l *logging.Logger) CacheOption {
	return func(c *FetchCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewFetchCache creates an empty cache in front of fetcher
func NewFetchCache(fetcher Fetcher, opts ...CacheOption) *FetchCache {
	c := &FetchCache{
		fetcher:  fetcher,
		logger:   logging.GetGlobalLogger(),
		recorder: nopRecorder{},
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("fetch_cache")
	return c
}

// Peek returns the entry for d without fetching. The state is StateEmpty for
// a descriptor never seen.
func (c *FetchCache) Peek(d query.Descriptor) *Entry {
	key := d.Key()

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return &Entry{Key: key, Descriptor: d, State: StateEmpty}
	}
	return e.snapshot(key)
}

// Fetch returns the entry for d, going upstream unless the entry is READY and
// has not been invalidated. Failed and errored entries are fetched again, so
// the next visitor action doubles as a retry. The upstream call is detached
// from ctx cancellation because other callers may share it; ctx only bounds
// how long this caller waits.
func (c *FetchCache) Fetch(ctx context.Context, d query.Descriptor) (*Entry, error) {
	key := d.Key()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.state == StateReady && !e.invalidated {
		snap := e.snapshot(key)
		c.mu.Unlock()
		c.hits.Add(1)
		c.recorder.CacheLookup("hit")
		return snap, nil
	}
	if !ok {
		e = &entry{descriptor: d, state: StateEmpty}
		c.entries[key] = e
		c.recorder.EntriesChanged(len(c.entries))
	}
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.populate(context.WithoutCancel(ctx), key, d)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
			c.recorder.CacheLookup("shared")
		} else {
			c.misses.Add(1)
			c.recorder.CacheLookup("miss")
		}
		snap := res.Val.(*Entry)
		return snap, snap.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// populate runs inside the singleflight group, so at most one call per key is
// active at a time
func (c *FetchCache) populate(ctx context.Context, key string, d query.Descriptor) (interface{}, error) {
	c.mu.Lock()
	e := c.entries[key]
	if e.state == StateReady && !e.invalidated {
		// filled by a call that finished after our lookup
		snap := e.snapshot(key)
		c.mu.Unlock()
		return snap, nil
	}
	if e.data != nil {
		e.state = StateRevalidating
	} else {
		e.state = StateFetching
	}
	c.mu.Unlock()

	log := c.logger.WithFields(d.Fields())
	log.Debug("fetching gallery page")

	start := c.now()
	result, err := c.fetcher.FetchTokens(ctx, query.Build(d))
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	e.updatedAt = c.now()
	if err != nil {
		e.err = err
		if e.data != nil {
			e.state = StateReadyWithError
		} else {
			e.state = StateFailed
		}
		c.recorder.UpstreamFetch("error", elapsed)
		log.WithError(err).WithField("state", e.state).Warn("gallery fetch failed")
		return e.snapshot(key), nil
	}

	e.data = result
	e.err = nil
	e.state = StateReady
	e.invalidated = false
	c.recorder.UpstreamFetch("success", elapsed)
	log.WithField("tokens", len(result.Tokens)).Debug("gallery page cached")
	return e.snapshot(key), nil
}

// Invalidate marks the entry for d so the next Fetch goes upstream. The
// payload stays available until the re-fetch replaces it.
func (c *FetchCache) Invalidate(d query.Descriptor) {
	key := d.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.invalidated = true
	}
}

// Len returns the number of cached descriptors
func (c *FetchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStats holds cache counters
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Shared  int64 `json:"shared"`
}

// Stats returns the cache counters
func (c *FetchCache) Stats() CacheStats {
	return CacheStats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Shared:  c.shared.Load(),
	}
}

// snapshot must be called with c.mu held
func (e *entry) snapshot(key string) *Entry {
	return &Entry{
		Key:        key,
		Descriptor: e.descriptor,
		State:      e.state,
		Data:       e.data,
		Err:        e.err,
		UpdatedAt:  e.updatedAt,
	}
}
