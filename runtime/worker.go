package runtime

import (
	"context"
	"sync"

	"github.com/auricleai/voice-runtime/errors"
)

// errWorkerClosed is returned by submit once the worker has shut down.
var errWorkerClosed = errors.Closed("session worker")

// call is one unit of work queued to a session worker. run executes on
// the worker goroutine; done closes when the call has either run or been
// abandoned, with err carrying the reason in the latter case.
type call struct {
	ctx  context.Context
	run  func(context.Context)
	done chan struct{}
	err  error
}

// worker serializes boundary calls for one session. It is the execution
// context the interactive thread never enters: encode, crossing, and
// decode all happen on this goroutine, and two calls against the same
// session are strictly ordered by the queue.
type worker struct {
	queue    chan *call
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

func newWorker(depth int) *worker {
	if depth < 1 {
		depth = 16
	}
	w := &worker{
		queue: make(chan *call, depth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.done)
	for {
		select {
		case c := <-w.queue:
			c.complete()
		case <-w.quit:
			// Fail whatever is still queued; nothing new can arrive.
			for {
				select {
				case c := <-w.queue:
					c.err = errWorkerClosed
					close(c.done)
				default:
					return
				}
			}
		}
	}
}

// complete runs the call unless its context expired while it waited in
// the queue. Cancellation is honored only up to this point: once run
// starts, the boundary call goes to completion.
func (c *call) complete() {
	if err := c.ctx.Err(); err != nil {
		c.err = err
		close(c.done)
		return
	}
	c.run(c.ctx)
	close(c.done)
}

// submit queues run and waits for it to finish. It returns the context
// error if ctx expires before the call starts, and errWorkerClosed if
// the worker shuts down first. Once the call starts, submit waits for it
// unconditionally.
func (w *worker) submit(ctx context.Context, run func(context.Context)) error {
	c := &call{ctx: ctx, run: run, done: make(chan struct{})}
	select {
	case w.queue <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return errWorkerClosed
	}

	select {
	case <-c.done:
		return c.err
	case <-w.done:
		// The loop exited. It may have completed or failed this call
		// during its drain; if not, the call never left the queue. No
		// further completions happen once done is closed, so this check
		// is final.
		select {
		case <-c.done:
			return c.err
		default:
			return errWorkerClosed
		}
	}
}

// close stops the worker and waits for the goroutine to drain. Calls
// already running complete; queued calls fail with errWorkerClosed.
func (w *worker) close() {
	w.quitOnce.Do(func() { close(w.quit) })
	<-w.done
}
