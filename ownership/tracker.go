package ownership

import (
	"sort"
	"sync"

	voiceruntime "github.com/auricleai/voice-runtime"
	"github.com/auricleai/voice-runtime/errors"
)

// Tracker wraps an engine allocator and records every live allocation made
// through it. Releasing a pointer the tracker does not hold is a double
// free and panics; the pairing invariant is a bug class, not a runtime
// condition to recover from.
//
// The runtime wraps the engine allocator in a Tracker when allocation
// debugging is enabled, and tests use it to assert that a dispatch sequence
// frees exactly what it allocated.
type Tracker struct {
	mu     sync.Mutex
	inner  voiceruntime.Allocator
	live   map[uint32]uint32
	allocs uint64
	frees  uint64
}

// NewTracker returns a tracker delegating to inner.
func NewTracker(inner voiceruntime.Allocator) *Tracker {
	return &Tracker{
		inner: inner,
		live:  make(map[uint32]uint32),
	}
}

// Alloc delegates to the wrapped allocator and records the result. A null
// pointer for a zero-size request is the no-op allocator behavior; nothing
// is recorded because nothing will be freed.
func (t *Tracker) Alloc(size uint32) (uint32, error) {
	ptr, err := t.inner.Alloc(size)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return ptr, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, exists := t.live[ptr]; exists {
		// The engine handed out a pointer that is still live. That is an
		// allocator fault, reported the same way as a double free.
		panic(errors.New(errors.PhaseDispatch, errors.KindAllocation).
			Value(ptr).
			Detail("allocator returned live pointer %d (len %d, previously %d)", ptr, size, prev).
			Build())
	}
	t.live[ptr] = size
	t.allocs++
	return ptr, nil
}

// Free releases ptr through the wrapped allocator. Freeing a pointer that
// is not live panics with a double-free error; freeing with a length other
// than the one allocated panics as an invalid release, since the engine's
// deallocator needs the original size to locate the block.
func (t *Tracker) Free(ptr, size uint32) error {
	t.mu.Lock()
	recorded, exists := t.live[ptr]
	if !exists {
		t.mu.Unlock()
		panic(errors.DoubleFree(ptr, size))
	}
	if recorded != size {
		t.mu.Unlock()
		panic(errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Value(ptr).
			Detail("free length %d does not match allocated length %d for ptr %d", size, recorded, ptr).
			Build())
	}
	delete(t.live, ptr)
	t.frees++
	t.mu.Unlock()

	return t.inner.Free(ptr, size)
}

// Counts returns the totals of successful allocations and releases.
func (t *Tracker) Counts() (allocs, frees uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocs, t.frees
}

// LiveCount reports how many allocations have not been released.
func (t *Tracker) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Outstanding returns the live allocations ordered by pointer. An empty
// result after a session closes means every allocation was paired with
// exactly one release.
func (t *Tracker) Outstanding() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.live) == 0 {
		return nil
	}
	out := make([]Record, 0, len(t.live))
	for ptr, length := range t.live {
		out = append(out, Record{Ptr: ptr, Len: length, Origin: OwnedByCaller})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ptr < out[j].Ptr })
	return out
}
