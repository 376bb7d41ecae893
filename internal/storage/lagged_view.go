package storage

import (
	"context"
	"sync"

	"github.com/tag-gallery/internal/logging"
	"github.com/tag-gallery/internal/query"
	"github.com/tag-gallery/internal/types"
)

// Snapshot is what one consumer sees at a point in time. Data may belong to
// an earlier descriptor (DataKey != Key) while the current one loads.
type Snapshot struct {
	Descriptor     query.Descriptor
	Key            string
	Data           *types.TokensResult
	DataDescriptor query.Descriptor
	DataKey        string
	Error          error
	IsLoading      bool
	EverLoaded     bool
	Version        uint64
}

// Lagging reports whether the displayed data belongs to a previous descriptor
func (s Snapshot) Lagging() bool {
	return s.Data != nil && s.DataKey != s.Key
}

// LaggedView tracks the current descriptor of one consumer on top of a shared
// FetchCache. Switching descriptors never clears the displayed data, and
// responses for a superseded descriptor are never applied.
type LaggedView struct {
	cache  *FetchCache
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	current    query.Descriptor
	key        string
	data       *types.TokensResult
	dataDesc   query.Descriptor
	dataKey    string
	err        error
	loading    bool
	everLoaded bool
	version    uint64
	closed     bool

	nextSub int
	subs    map[int]chan Snapshot
}

// NewLaggedView creates a view. Fetches it starts run under ctx until Close.
func NewLaggedView(ctx context.Context, cache *FetchCache, logger *logging.Logger) *LaggedView {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &LaggedView{
		cache:  cache,
		logger: logger.WithComponent("lagged_view"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]chan Snapshot),
	}
}

// Select makes d the current descriptor. A READY entry is shown immediately;
// otherwise the previous data stays visible with IsLoading set until the
// fetch completes. The returned channel closes once the fetch started here
// has been applied or discarded.
func (v *LaggedView) Select(d query.Descriptor) <-chan struct{} {
	return v.load(d, false)
}

// Refetch re-fetches the current descriptor, keeping its data on screen
func (v *LaggedView) Refetch() <-chan struct{} {
	v.mu.Lock()
	d, ok := v.current, v.key != "" && !v.closed
	v.mu.Unlock()

	if !ok {
		return closedDone()
	}
	v.cache.Invalidate(d)
	return v.load(d, true)
}

func closedDone() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (v *LaggedView) load(d query.Descriptor, force bool) <-chan struct{} {
	done := make(chan struct{})
	key := d.Key()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(done)
		return done
	}
	v.current = d
	v.key = key
	v.err = nil

	entry := v.cache.Peek(d)
	if !force && entry.State == StateReady {
		v.data = entry.Data
		v.dataDesc = d
		v.dataKey = key
		v.loading = false
		v.everLoaded = true
		v.publishLocked()
		v.mu.Unlock()
		close(done)
		return done
	}

	// a revalidating entry already holds data for d, prefer it over lagged data
	if !force && entry.HasData() {
		v.data = entry.Data
		v.dataDesc = d
		v.dataKey = key
		v.everLoaded = true
	}
	v.loading = true
	v.publishLocked()
	v.mu.Unlock()

	go func() {
		defer close(done)
		entry, err := v.cache.Fetch(v.ctx, d)
		v.apply(key, entry, err)
	}()
	return done
}

// apply installs a fetch result if key is still current
func (v *LaggedView) apply(key string, entry *Entry, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key != v.key {
		v.cache.recorder.StaleDiscarded()
		v.logger.WithFields(map[string]interface{}{
			"staleKey":   key,
			"currentKey": v.key,
		}).Debug("discarding response for superseded descriptor")
		return
	}
	if v.ctx.Err() != nil {
		return
	}

	v.loading = false
	if entry.HasData() {
		v.data = entry.Data
		v.dataDesc = entry.Descriptor
		v.dataKey = key
		v.everLoaded = true
	}
	v.err = err
	v.publishLocked()
}

// Snapshot returns the current state
func (v *LaggedView) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *LaggedView) snapshotLocked() Snapshot {
	return Snapshot{
		Descriptor:     v.current,
		Key:            v.key,
		Data:           v.data,
		DataDescriptor: v.dataDesc,
		DataKey:        v.dataKey,
		Error:          v.err,
		IsLoading:      v.loading,
		EverLoaded:     v.everLoaded,
		Version:        v.version,
	}
}

// Subscribe returns a channel receiving every later snapshot. A slow reader
// only ever misses intermediate snapshots, never the latest one. On a closed
// view the channel is already closed.
func (v *LaggedView) Subscribe() (<-chan Snapshot, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		ch := make(chan Snapshot)
		close(ch)
		return ch, func() {}
	}

	id := v.nextSub
	v.nextSub++
	ch := make(chan Snapshot, 1)
	v.subs[id] = ch

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if sub, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(sub)
		}
	}
}

func (v *LaggedView) publishLocked() {
	v.version++
	snap := v.snapshotLocked()
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Closed reports whether Close has been called
func (v *LaggedView) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Close stops delivering results and closes all subscriptions. Later Select
// and Refetch calls are no-ops.
func (v *LaggedView) Close() {
	v.cancel()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
}
