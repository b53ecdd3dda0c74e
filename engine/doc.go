// Package engine hosts speech engine modules and adapts them to the
// boundary interfaces the runtime dispatches against.
//
// Two implementations live here. The wazero-backed Engine compiles a
// wasm32 engine module once and instantiates an isolated Instance per
// session: each instance owns its linear memory, its alloc/dealloc pair,
// and its send_message entry point. The Stub is a deterministic
// in-process stand-in that speaks the same wire format out of its own
// arena, used when no engine module is available and by tests that need
// scripted recognition results.
//
// Both are reached through a Provider, and Open picks between them: a
// configured module path selects the wazero engine, anything else falls
// back to the stub alongside ErrEngineUnavailable so callers can decide
// whether running degraded is acceptable.
//
// Streaming results flow the other way. The host instantiates an env
// module whose deliver function copies a pushed text fragment out of the
// calling engine's memory and routes it through the provider's
// stream.Registry to whichever feed registered the handle. The fragment
// bytes are only a view into guest memory for the duration of the call,
// so deliver copies before returning and never frees them.
package engine
