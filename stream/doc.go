// Package stream carries the engine's asynchronous transcription output to
// the application without blocking either side on the other's pace.
//
// A Feed is a one-directional FIFO with at most one reader. The engine
// pushes text fragments into it from inside a boundary call; the reader
// pulls them whenever it is ready. A bounded buffer absorbs bursts, and a
// full buffer blocks the pusher rather than dropping items: while the feed
// is open, everything pushed is eventually observed. Close is the terminal
// state and deliberately best-effort: buffered-but-undelivered fragments
// are discarded without error, because stale fragments of a live
// transcription feed have no value once the listener is gone.
//
// A Registry gives each feed an int64 handle for the delivery handshake.
// The session registers its feed, passes the handle across the boundary
// with register_callback, and the engine's deliver import routes pushes
// back through the registry. Pushes against unknown or closed handles are
// counted and dropped rather than failing the engine call.
package stream
