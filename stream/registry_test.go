package stream

import (
	"context"
	"testing"
)

func TestRegistry_RoutesByHandle(t *testing.T) {
	r := NewRegistry()
	a := NewFeed(4)
	b := NewFeed(4)

	ha := r.Register(a)
	hb := r.Register(b)
	if ha == 0 || hb == 0 {
		t.Fatal("Register returned the reserved zero handle")
	}
	if ha == hb {
		t.Fatalf("Register returned duplicate handle %d", ha)
	}
	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	if !r.Deliver(ha, "for a") {
		t.Error("Deliver to handle a = false, want true")
	}
	if !r.Deliver(hb, "for b") {
		t.Error("Deliver to handle b = false, want true")
	}

	frag, err := a.Recv(context.Background())
	if err != nil || frag.Text != "for a" {
		t.Errorf("feed a received (%q, %v), want (\"for a\", nil)", frag.Text, err)
	}
	frag, err = b.Recv(context.Background())
	if err != nil || frag.Text != "for b" {
		t.Errorf("feed b received (%q, %v), want (\"for b\", nil)", frag.Text, err)
	}
}

func TestRegistry_UnknownHandleDropsAndCounts(t *testing.T) {
	r := NewRegistry()

	if r.Deliver(42, "nobody home") {
		t.Error("Deliver to unregistered handle = true, want false")
	}
	if r.Deliver(0, "zero is reserved") {
		t.Error("Deliver to handle 0 = true, want false")
	}
	if got := r.Discarded(); got != 2 {
		t.Errorf("Discarded() = %d, want 2", got)
	}
}

func TestRegistry_ClosedFeedDropsAndCounts(t *testing.T) {
	r := NewRegistry()
	f := NewFeed(4)
	h := r.Register(f)
	f.Close()

	if r.Deliver(h, "too late") {
		t.Error("Deliver to closed feed = true, want false")
	}
	if got := r.Discarded(); got != 1 {
		t.Errorf("Discarded() = %d, want 1", got)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := NewRegistry()
	f := NewFeed(4)
	h := r.Register(f)

	if !r.Deregister(h) {
		t.Fatal("Deregister() = false for a registered handle")
	}
	if r.Deregister(h) {
		t.Error("second Deregister() = true, want false")
	}
	if _, ok := r.Get(h); ok {
		t.Error("Get() found a deregistered handle")
	}

	// Deregistering does not close the feed; the owner still can use it.
	if f.Closed() {
		t.Error("Deregister closed the feed")
	}
	if r.Deliver(h, "gone") {
		t.Error("Deliver to deregistered handle = true, want false")
	}
	if got := r.Discarded(); got != 1 {
		t.Errorf("Discarded() = %d, want 1", got)
	}
}

func TestRegistry_HandlesAreNotReused(t *testing.T) {
	r := NewRegistry()
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		f := NewFeed(1)
		h := r.Register(f)
		if seen[h] {
			t.Fatalf("handle %d issued twice", h)
		}
		seen[h] = true
		r.Deregister(h)
	}
}
