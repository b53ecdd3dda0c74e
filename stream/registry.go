package stream

import (
	"sync"
	"sync/atomic"
)

// Registry maps delivery handles to feeds. The handle is the only value
// that crosses the boundary during the register_callback handshake; the
// engine treats it as opaque and hands it back with every deliver push.
//
// Handle zero is never issued and never resolves.
type Registry struct {
	mu        sync.RWMutex
	feeds     map[int64]*Feed
	next      int64
	discarded atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[int64]*Feed)}
}

// Register assigns f the next handle and returns it.
func (r *Registry) Register(f *Feed) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.feeds[r.next] = f
	return r.next
}

// Deregister removes the handle. The feed itself is not closed; the owner
// closes it. Returns false if the handle was not registered.
func (r *Registry) Deregister(handle int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.feeds[handle]; !ok {
		return false
	}
	delete(r.feeds, handle)
	return true
}

// Get returns the feed registered under handle.
func (r *Registry) Get(handle int64) (*Feed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.feeds[handle]
	return f, ok
}

// Deliver pushes one fragment to the feed registered under handle. Pushes
// for unknown handles or closed feeds are dropped and counted; the engine
// call that produced them proceeds untouched.
func (r *Registry) Deliver(handle int64, text string) bool {
	f, ok := r.Get(handle)
	if !ok {
		r.discarded.Add(1)
		return false
	}
	// Push outside the registry lock: a full feed blocks until the reader
	// catches up, and that must not stall Register or Deregister.
	if err := f.Push(text); err != nil {
		r.discarded.Add(1)
		return false
	}
	return true
}

// Discarded reports how many pushes were dropped for unknown handles or
// closed feeds.
func (r *Registry) Discarded() uint64 {
	return r.discarded.Load()
}

// Len reports the number of registered feeds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}
