// Package runtime is the high-level API for hosting a speech engine:
// a Runtime creates Sessions, and a Session threads a value-typed
// Context through strictly ordered boundary calls.
//
// Each Session owns a worker goroutine. The caller's goroutine never
// encodes, crosses, or decodes; it queues work and awaits completion,
// so a boundary call that blocks for the length of a listening window
// cannot stall an interactive loop. Incremental transcription arrives
// independently through the session's delivery feed.
//
// Cancellation is honored while a call waits in the queue. Once a call
// has crossed the boundary it runs to completion; there is no protocol-
// level cancellation.
package runtime
