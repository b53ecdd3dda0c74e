// Package ownership pairs every cross-boundary allocation with exactly one
// release.
//
// Two allocators exist on either side of the engine boundary and they never
// mix: request buffers are caller-owned (the host drives the engine's
// exported alloc/dealloc pair), response buffers are callee-owned (created
// inside the engine, released only through free_buffer). Freeing a buffer
// with the wrong side's entry point, or twice, or never, is undefined
// behavior in the engine, so the pairing is enforced structurally rather
// than detected at runtime.
//
// Scope is the structural guard: the dispatcher tracks each allocation it
// makes or receives in a Scope and closes it on every exit path. Close
// releases each record exactly once through the release function for its
// origin; a second Close is a no-op.
//
// Tracker is the instrumented allocator used by tests: it counts live
// allocations, panics on a double free, and reports outstanding records at
// teardown so leak checks are one assertion.
package ownership
