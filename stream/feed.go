package stream

import (
	"context"
	"sync"

	"github.com/auricleai/voice-runtime/errors"
)

// DefaultCapacity is the feed buffer size used when no capacity is given.
// Fragments are short (a few words each); 64 absorbs several seconds of
// engine output ahead of a slow reader.
const DefaultCapacity = 64

// ErrClosed is returned by Push and Recv once the feed is closed.
var ErrClosed = errors.Closed("delivery feed")

// Fragment is one incremental piece of transcribed text. Seq increases by
// one per push on a feed, starting at 1.
type Fragment struct {
	Seq  uint64
	Text string
}

// Feed is a bounded FIFO delivery channel with at most one reader.
//
// Push blocks while the feed is open and full; fragments are never dropped
// while the feed is open. Close discards anything still buffered and
// unblocks both sides. Feed methods are safe for concurrent use, but the
// FIFO contract assumes a single reader.
type Feed struct {
	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond
	buf      []Fragment
	head     int
	count    int
	seq      uint64
	closed   bool
}

// NewFeed returns an open feed buffering up to capacity fragments.
// A capacity less than one selects DefaultCapacity.
func NewFeed(capacity int) *Feed {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	f := &Feed{buf: make([]Fragment, capacity)}
	f.notFull.L = &f.mu
	f.notEmpty.L = &f.mu
	return f
}

// Push appends one fragment, blocking while the buffer is full. It returns
// ErrClosed if the feed is closed before the fragment is buffered.
//
// Push takes no context: it runs inside a boundary call that cannot be
// cancelled, and the only way to abandon a blocked push is closing the
// feed from the reader side.
func (f *Feed) Push(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.count == len(f.buf) {
		if f.closed {
			return ErrClosed
		}
		f.notFull.Wait()
	}
	if f.closed {
		return ErrClosed
	}

	f.seq++
	f.buf[(f.head+f.count)%len(f.buf)] = Fragment{Seq: f.seq, Text: text}
	f.count++
	f.notEmpty.Signal()
	return nil
}

// Recv blocks until a fragment is available, the feed closes, or ctx is
// done. After Close it returns ErrClosed immediately; fragments buffered
// at close time are never delivered.
func (f *Feed) Recv(ctx context.Context) (Fragment, error) {
	if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.notEmpty.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if f.closed {
			return Fragment{}, ErrClosed
		}
		if f.count > 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return Fragment{}, err
		}
		f.notEmpty.Wait()
	}

	frag := f.buf[f.head]
	f.buf[f.head] = Fragment{}
	f.head = (f.head + 1) % len(f.buf)
	f.count--
	f.notFull.Signal()
	return frag, nil
}

// Len reports how many fragments are buffered and undelivered.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Closed reports whether Close has been called.
func (f *Feed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close makes the feed terminal and returns the number of buffered
// fragments it discarded. Blocked pushers and receivers are released with
// ErrClosed. Closing an already closed feed returns zero.
func (f *Feed) Close() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0
	}
	f.closed = true
	discarded := f.count
	for i := range f.buf {
		f.buf[i] = Fragment{}
	}
	f.head = 0
	f.count = 0
	f.notFull.Broadcast()
	f.notEmpty.Broadcast()
	return discarded
}
