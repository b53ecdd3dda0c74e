package runtime

import (
	"context"
	"sync"
	"testing"
)

func TestWorkerRunsInSubmissionOrder(t *testing.T) {
	w := newWorker(8)
	defer w.close()

	var order []int
	var mu sync.Mutex

	// One submitter: queue order equals submission order, and the worker
	// must preserve it.
	for i := 0; i < 10; i++ {
		i := i
		if err := w.submit(context.Background(), func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestWorkerNeverRunsConcurrently(t *testing.T) {
	w := newWorker(4)
	defer w.close()

	var inside, violations int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.submit(context.Background(), func(context.Context) {
				mu.Lock()
				inside++
				if inside > 1 {
					violations++
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if violations != 0 {
		t.Fatalf("worker ran %d calls concurrently", violations)
	}
}

func TestWorkerCancelledBeforeStart(t *testing.T) {
	w := newWorker(4)
	defer w.close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := w.submit(ctx, func(context.Context) { ran = true })
	if err != context.Canceled {
		t.Fatalf("submit error = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("cancelled call still ran")
	}
}

func TestWorkerCloseFailsQueuedCalls(t *testing.T) {
	w := newWorker(4)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = w.submit(context.Background(), func(context.Context) {
			close(started)
			<-release
		})
	}()
	<-started

	type outcome struct {
		ran bool
		err error
	}
	queued := make(chan outcome, 1)
	go func() {
		ran := false
		err := w.submit(context.Background(), func(context.Context) { ran = true })
		queued <- outcome{ran: ran, err: err}
	}()

	// Close while one call runs and another waits. The running call must
	// complete; the queued one either runs to completion (it won the
	// race) or fails closed; it must never hang or half-run.
	go close(release)
	w.close()

	got := <-queued
	if got.err == nil && !got.ran {
		t.Error("queued call neither ran nor failed")
	}
	if got.err != nil && got.ran {
		t.Error("queued call ran but reported an error")
	}

	if err := w.submit(context.Background(), func(context.Context) {}); err != errWorkerClosed {
		t.Errorf("submit after close = %v, want errWorkerClosed", err)
	}
}
