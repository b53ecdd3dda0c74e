package ownership

import (
	"context"
	"sync"
)

// Origin identifies which side's allocator produced a buffer, and therefore
// which entry point releases it.
type Origin uint8

const (
	// OwnedByCaller marks a buffer the host allocated through the engine's
	// exported allocator. It is released with the allocator's free.
	OwnedByCaller Origin = iota

	// OwnedByCallee marks a buffer the engine allocated internally and
	// handed to the host. It is released only through free_buffer.
	OwnedByCallee
)

func (o Origin) String() string {
	switch o {
	case OwnedByCaller:
		return "caller"
	case OwnedByCallee:
		return "callee"
	default:
		return "unknown"
	}
}

// Record is one live cross-boundary allocation.
type Record struct {
	Ptr    uint32
	Len    uint32
	Origin Origin
}

// ReleaseFunc frees one buffer. Implementations wrap either the engine's
// exported allocator (caller-owned buffers) or free_buffer (callee-owned).
type ReleaseFunc func(ctx context.Context, ptr, length uint32) error

// maxPooledRecords bounds the capacity of record slices returned to the
// pool. A dispatch tracks at most a handful of buffers; anything larger
// came from an abnormal path and is left for the GC.
const maxPooledRecords = 128

var scopePool = sync.Pool{
	New: func() any {
		return &Scope{records: make([]Record, 0, 8)}
	},
}

// Scope tracks the buffers of one boundary exchange and releases each of
// them exactly once when closed. The dispatcher opens a scope per call and
// closes it on every exit path, so decode failures and engine faults cannot
// leak engine memory.
//
// A Scope is not safe for concurrent use. The runtime confines each scope
// to the session worker that created it.
type Scope struct {
	records []Record
	caller  ReleaseFunc
	callee  ReleaseFunc
	closed  bool
}

// NewScope returns a pooled scope that releases caller-owned records with
// caller and callee-owned records with callee.
func NewScope(caller, callee ReleaseFunc) *Scope {
	s := scopePool.Get().(*Scope)
	s.caller = caller
	s.callee = callee
	s.closed = false
	return s
}

// TrackCaller records a buffer allocated through the engine's exported
// allocator. Null pointers are ignored.
func (s *Scope) TrackCaller(ptr, length uint32) {
	s.Track(Record{Ptr: ptr, Len: length, Origin: OwnedByCaller})
}

// TrackCallee records a buffer the engine handed back. Null pointers are
// ignored.
func (s *Scope) TrackCallee(ptr, length uint32) {
	s.Track(Record{Ptr: ptr, Len: length, Origin: OwnedByCallee})
}

// Track records one allocation for release at Close. Records with a null
// pointer are dropped; null never names a real allocation, even when the
// paired length is nonzero.
func (s *Scope) Track(rec Record) {
	if rec.Ptr == 0 {
		return
	}
	s.records = append(s.records, rec)
}

// Len reports the number of tracked records.
func (s *Scope) Len() int {
	return len(s.records)
}

// Close releases every tracked record through the release function for its
// origin. All records are released even when one fails; the first failure
// is returned. A second Close is a no-op.
func (s *Scope) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var first error
	for _, rec := range s.records {
		release := s.caller
		if rec.Origin == OwnedByCallee {
			release = s.callee
		}
		if release == nil {
			continue
		}
		if err := release(ctx, rec.Ptr, rec.Len); err != nil && first == nil {
			first = err
		}
	}
	s.records = s.records[:0]
	return first
}

// Release returns the scope to the pool. The scope must already be closed;
// releasing an open scope would silently drop its records, so Release
// closes with a background context first as a backstop.
func (s *Scope) Release() {
	if !s.closed {
		_ = s.Close(context.Background())
	}
	s.caller = nil
	s.callee = nil
	if cap(s.records) <= maxPooledRecords {
		scopePool.Put(s)
	}
}

// CloseAndRelease closes the scope and returns it to the pool in one step.
// The scope must not be used afterwards.
func (s *Scope) CloseAndRelease(ctx context.Context) error {
	err := s.Close(ctx)
	s.Release()
	return err
}
